package vecindex

import (
	"math/rand/v2"
	"slices"

	"filesift/internal/errs"
)

const kmeansIterations = 20

// IVF partitions vectors into NList cells around k-means centroids and scans
// the NProbe cells nearest to each query.
type IVF struct {
	dim    int
	metric Metric
	params Params

	centroids [][]float32
	lists     [][]int64
	vectors   [][]float32
}

// NewIVF validates the parameters; the index must be trained before Add.
func NewIVF(dim int, metric Metric, p Params) (*IVF, error) {
	if p.NList < 1 {
		return nil, errs.Newf(errs.UnsupportedHyperparameter, "", "nlist must be at least 1, got %d", p.NList)
	}
	if p.NProbe == 0 {
		p.NProbe = 1
	}
	if err := checkNProbe(p.NProbe, p.NList); err != nil {
		return nil, err
	}
	return &IVF{dim: dim, metric: metric, params: p}, nil
}

func checkNProbe(nprobe, nlist int) error {
	if nprobe < 1 || nprobe > nlist {
		return errs.Newf(errs.UnsupportedHyperparameter, "", "nprobe must be in [1, %d], got %d", nlist, nprobe)
	}
	return nil
}

func (x *IVF) Kind() Kind     { return KindIVF }
func (x *IVF) Dim() int       { return x.dim }
func (x *IVF) Metric() Metric { return x.metric }
func (x *IVF) Len() int       { return len(x.vectors) }
func (x *IVF) NList() int     { return x.params.NList }
func (x *IVF) NProbe() int    { return x.params.NProbe }
func (x *IVF) Trained() bool  { return len(x.centroids) > 0 }

// SetNprobe changes how many cells a query scans.
func (x *IVF) SetNprobe(n int) error {
	if err := checkNProbe(n, x.params.NList); err != nil {
		return err
	}
	x.params.NProbe = n
	return nil
}

// Train runs Lloyd's k-means over sample to place the NList centroids.
func (x *IVF) Train(sample [][]float32) error {
	if err := checkDims(x.dim, sample); err != nil {
		return err
	}
	nlist := x.params.NList
	if len(sample) < nlist {
		return errs.Newf(errs.UnsupportedHyperparameter, "", "nlist %d exceeds the %d training vectors", nlist, len(sample))
	}

	rng := rand.New(rand.NewPCG(uint64(x.params.Seed), 0x9e3779b97f4a7c15))
	centroids := make([][]float32, nlist)
	for i, j := range rng.Perm(len(sample))[:nlist] {
		centroids[i] = slices.Clone(sample[j])
	}

	assign := make([]int, len(sample))
	for range kmeansIterations {
		changed := false
		for i, v := range sample {
			c := nearest(centroids, v)
			if c != assign[i] {
				assign[i], changed = c, true
			}
		}

		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for i, v := range sample {
			c := assign[i]
			if sums[c] == nil {
				sums[c] = make([]float64, x.dim)
			}
			for d, f := range v {
				sums[c][d] += float64(f)
			}
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
		if !changed {
			break
		}
	}

	x.centroids = centroids
	x.lists = make([][]int64, nlist)
	for id, v := range x.vectors {
		c := nearest(x.centroids, v)
		x.lists[c] = append(x.lists[c], int64(id))
	}
	return nil
}

// nearest returns the centroid closest to v in L2.
func nearest(centroids [][]float32, v []float32) int {
	best, bestDist := 0, L2.distance(centroids[0], v)
	for c := 1; c < len(centroids); c++ {
		if d := L2.distance(centroids[c], v); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func (x *IVF) Add(vectors [][]float32) error {
	if !x.Trained() {
		return errs.New(errs.FileProcessingFailed, "", "IVF index must be trained before adding vectors")
	}
	if err := checkDims(x.dim, vectors); err != nil {
		return err
	}
	for _, v := range vectors {
		id := int64(len(x.vectors))
		x.vectors = append(x.vectors, slices.Clone(v))
		c := nearest(x.centroids, v)
		x.lists[c] = append(x.lists[c], id)
	}
	return nil
}

func (x *IVF) Search(xq [][]float32, k int) ([][]float32, [][]int64, error) {
	if err := checkK(k); err != nil {
		return nil, nil, err
	}
	if err := checkDims(x.dim, xq); err != nil {
		return nil, nil, errs.Wrap(errs.UnsupportedHyperparameter, "", err)
	}
	dists := make([][]float32, len(xq))
	ids := make([][]int64, len(xq))
	for qi, q := range xq {
		var hits []hit
		for _, c := range x.nearestCells(q) {
			for _, id := range x.lists[c] {
				hits = append(hits, hit{dist: x.metric.distance(q, x.vectors[id]), id: id})
			}
		}
		dists[qi], ids[qi] = topK(x.metric, hits, k)
	}
	return dists, ids, nil
}

// nearestCells returns the NProbe cells closest to q.
func (x *IVF) nearestCells(q []float32) []int {
	cells := make([]hit, len(x.centroids))
	for c, centroid := range x.centroids {
		cells[c] = hit{dist: L2.distance(centroid, q), id: int64(c)}
	}
	_, ids := topK(L2, cells, x.params.NProbe)
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id >= 0 {
			out = append(out, int(id))
		}
	}
	return out
}

func (x *IVF) Save(path string) error {
	return save(path, tagIVF, state{
		Dim:       x.dim,
		Metric:    x.metric,
		Vectors:   x.vectors,
		Params:    x.params,
		Centroids: x.centroids,
		Lists:     x.lists,
	})
}

func ivfFromState(st state) *IVF {
	return &IVF{
		dim:       st.Dim,
		metric:    st.Metric,
		params:    st.Params,
		centroids: st.Centroids,
		lists:     st.Lists,
		vectors:   st.Vectors,
	}
}
