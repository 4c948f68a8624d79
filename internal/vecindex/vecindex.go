// Package vecindex provides the similarity-search indexes used by the
// duplicate finder and the search pipeline: an exhaustive flat index, an
// inverted-file index over a k-means coarse quantizer, and an HNSW graph.
package vecindex

import (
	"bufio"
	"cmp"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/gonum/blas/blas32"

	"filesift/internal/errs"
)

// Kind names an index variant.
type Kind string

const (
	KindFlat    Kind = "flat"
	KindIVF     Kind = "ivf"
	KindHNSW    Kind = "hnsw"
	KindGeneric Kind = "generic"
)

// ParseKind accepts the names used in configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFlat, KindIVF, KindHNSW:
		return k, nil
	case "", "indexflat":
		return KindFlat, nil
	}
	return "", errs.Newf(errs.UnsupportedHyperparameter, "", "unknown index type %q", s)
}

// Metric is the distance used for search.
type Metric int

const (
	// L2 ranks by ascending squared euclidean distance.
	L2 Metric = iota
	// InnerProduct ranks by descending dot product.
	InnerProduct
)

func (m Metric) String() string {
	if m == InnerProduct {
		return "ip"
	}
	return "l2"
}

// ParseMetric accepts "l2" and "ip".
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "l2":
		return L2, nil
	case "ip", "inner_product", "cosine":
		return InnerProduct, nil
	}
	return L2, errs.Newf(errs.UnsupportedHyperparameter, "", "unknown metric %q", s)
}

func (m Metric) distance(a, b []float32) float32 {
	if m == InnerProduct {
		return dot(a, b)
	}
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// better reports whether distance a ranks ahead of b.
func (m Metric) better(a, b float32) bool {
	if m == InnerProduct {
		return a > b
	}
	return a < b
}

// worst is the padding distance for missing results.
func (m Metric) worst() float32 {
	if m == InnerProduct {
		return float32(math.Inf(-1))
	}
	return float32(math.Inf(1))
}

func dot(a, b []float32) float32 {
	return blas32.Dot(
		blas32.Vector{N: len(a), Inc: 1, Data: a},
		blas32.Vector{N: len(b), Inc: 1, Data: b},
	)
}

// Params are the variant hyperparameters. Zero values select defaults.
type Params struct {
	NList          int   `mapstructure:"nlist" json:"nlist,omitempty" yaml:"nlist"`
	NProbe         int   `mapstructure:"nprobe" json:"nprobe,omitempty" yaml:"nprobe"`
	M              int   `mapstructure:"m" json:"m,omitempty" yaml:"m"`
	EfConstruction int   `mapstructure:"ef_construction" json:"ef_construction,omitempty" yaml:"ef_construction"`
	EfSearch       int   `mapstructure:"ef_search" json:"ef_search,omitempty" yaml:"ef_search"`
	Seed           int64 `mapstructure:"seed" json:"seed,omitempty" yaml:"seed"`
}

// Index is the contract shared by every variant. Search returns, per query,
// k distances and ids ranked best first; missing results have id -1.
type Index interface {
	Kind() Kind
	Dim() int
	Metric() Metric
	Len() int
	Add(vectors [][]float32) error
	Search(xq [][]float32, k int) ([][]float32, [][]int64, error)
	Save(path string) error
}

// Build creates an index of the given kind over vectors. IVF indexes are
// trained on the same vectors.
func Build(kind Kind, vectors [][]float32, metric Metric, p Params) (Index, error) {
	if len(vectors) == 0 {
		return nil, errs.New(errs.EmptySelection, "", "no vectors to index")
	}
	dim := len(vectors[0])
	var (
		idx Index
		err error
	)
	switch kind {
	case KindFlat, "":
		idx = NewFlat(dim, metric)
	case KindIVF:
		if p.NList == 0 {
			p.NList = max(1, int(math.Sqrt(float64(len(vectors)))))
		}
		var ivf *IVF
		ivf, err = NewIVF(dim, metric, p)
		if err == nil {
			err = ivf.Train(vectors)
		}
		idx = ivf
	case KindHNSW:
		idx, err = NewHNSW(dim, metric, p)
	default:
		return nil, errs.Newf(errs.UnsupportedHyperparameter, "", "cannot build a %q index", kind)
	}
	if err != nil {
		return nil, err
	}
	if err := idx.Add(vectors); err != nil {
		return nil, err
	}
	return idx, nil
}

func checkK(k int) error {
	if k < 1 {
		return errs.Newf(errs.UnsupportedHyperparameter, "", "k must be at least 1, got %d", k)
	}
	return nil
}

func checkDims(dim int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}

type hit struct {
	dist float32
	id   int64
}

// topK ranks hits best first, breaking ties by id, and pads to k.
func topK(m Metric, hits []hit, k int) ([]float32, []int64) {
	slices.SortFunc(hits, func(a, b hit) int {
		switch {
		case m.better(a.dist, b.dist):
			return -1
		case m.better(b.dist, a.dist):
			return 1
		}
		return cmp.Compare(a.id, b.id)
	})
	dists := make([]float32, k)
	ids := make([]int64, k)
	for i := range k {
		if i < len(hits) {
			dists[i], ids[i] = hits[i].dist, hits[i].id
		} else {
			dists[i], ids[i] = m.worst(), -1
		}
	}
	return dists, ids
}

// Persisted indexes start with a 4-byte tag followed by a gob stream.
var (
	tagFlat = [4]byte{'I', 'x', 'F', 'L'}
	tagIVF  = [4]byte{'I', 'w', 'F', 'L'}
	tagHNSW = [4]byte{'I', 'H', 'N', 'f'}
)

// state is what every variant persists; variant fields are optional.
type state struct {
	Dim     int
	Metric  Metric
	Vectors [][]float32
	Params  Params

	Centroids [][]float32
	Lists     [][]int64

	Levels     []int
	Neighbours [][][]int32
	Entry      int32
	MaxLevel   int
}

func save(path string, tag [4]byte, st state) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	defer os.Remove(f.Name())
	w := bufio.NewWriter(f)
	_, _ = w.Write(tag[:])
	if err := gob.NewEncoder(w).Encode(st); err != nil {
		f.Close()
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	return nil
}

// Load reads an index saved by any variant. The variant is sniffed from the
// tag; an unrecognised tag yields a read-only Generic index.
func Load(path string) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var tag [4]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, errs.Wrap(errs.FileCorruption, path, err)
	}
	var st state
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return nil, errs.Wrap(errs.FileCorruption, path, err)
	}
	if err := checkDims(st.Dim, st.Vectors); err != nil {
		return nil, errs.Wrap(errs.FileCorruption, path, err)
	}

	switch tag {
	case tagFlat:
		return &Flat{dim: st.Dim, metric: st.Metric, vectors: st.Vectors}, nil
	case tagIVF:
		return ivfFromState(st), nil
	case tagHNSW:
		return hnswFromState(st), nil
	}
	return &Generic{Tag: string(tag[:]), flat: Flat{dim: st.Dim, metric: st.Metric, vectors: st.Vectors}}, nil
}

// Normalize scales each vector to unit L2 norm in place. Zero vectors are
// left untouched.
func Normalize(vectors [][]float32) {
	for _, v := range vectors {
		n := blas32.Nrm2(blas32.Vector{N: len(v), Inc: 1, Data: v})
		if n > 0 {
			blas32.Scal(1/n, blas32.Vector{N: len(v), Inc: 1, Data: v})
		}
	}
}
