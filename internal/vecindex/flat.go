package vecindex

import (
	"slices"

	"filesift/internal/errs"
)

// Flat scans every stored vector.
type Flat struct {
	dim     int
	metric  Metric
	vectors [][]float32
}

func NewFlat(dim int, metric Metric) *Flat {
	return &Flat{dim: dim, metric: metric}
}

func (f *Flat) Kind() Kind     { return KindFlat }
func (f *Flat) Dim() int       { return f.dim }
func (f *Flat) Metric() Metric { return f.metric }
func (f *Flat) Len() int       { return len(f.vectors) }

// Add appends copies of vectors; ids continue from Len.
func (f *Flat) Add(vectors [][]float32) error {
	if err := checkDims(f.dim, vectors); err != nil {
		return err
	}
	for _, v := range vectors {
		f.vectors = append(f.vectors, slices.Clone(v))
	}
	return nil
}

func (f *Flat) Search(xq [][]float32, k int) ([][]float32, [][]int64, error) {
	if err := checkK(k); err != nil {
		return nil, nil, err
	}
	if err := checkDims(f.dim, xq); err != nil {
		return nil, nil, errs.Wrap(errs.UnsupportedHyperparameter, "", err)
	}
	dists := make([][]float32, len(xq))
	ids := make([][]int64, len(xq))
	for qi, q := range xq {
		hits := make([]hit, len(f.vectors))
		for i, v := range f.vectors {
			hits[i] = hit{dist: f.metric.distance(q, v), id: int64(i)}
		}
		dists[qi], ids[qi] = topK(f.metric, hits, k)
	}
	return dists, ids, nil
}

func (f *Flat) Save(path string) error {
	return save(path, tagFlat, state{Dim: f.dim, Metric: f.metric, Vectors: f.vectors})
}

// Vector returns the stored vector with the given id.
func (f *Flat) Vector(id int64) []float32 { return f.vectors[id] }

// Generic wraps a persisted index of an unrecognised variant. It answers
// exhaustive queries over the stored vectors but cannot be modified.
type Generic struct {
	Tag  string
	flat Flat
}

func (g *Generic) Kind() Kind     { return KindGeneric }
func (g *Generic) Dim() int       { return g.flat.dim }
func (g *Generic) Metric() Metric { return g.flat.metric }
func (g *Generic) Len() int       { return g.flat.Len() }

func (g *Generic) Add([][]float32) error {
	return errs.Newf(errs.FileProcessingFailed, "", "index variant %q is read-only", g.Tag)
}

func (g *Generic) Search(xq [][]float32, k int) ([][]float32, [][]int64, error) {
	return g.flat.Search(xq, k)
}

func (g *Generic) Save(string) error {
	return errs.Newf(errs.FileProcessingFailed, "", "index variant %q is read-only", g.Tag)
}
