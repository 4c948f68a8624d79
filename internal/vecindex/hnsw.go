package vecindex

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"

	"filesift/internal/errs"
)

// HNSW is a hierarchical navigable small-world graph.
type HNSW struct {
	dim    int
	metric Metric
	params Params

	vectors    [][]float32
	levels     []int
	neighbours [][][]int32
	entry      int32
	maxLevel   int

	rng *rand.Rand
}

// NewHNSW validates M (graph degree, at least 2), EfConstruction and
// EfSearch (both at least 1).
func NewHNSW(dim int, metric Metric, p Params) (*HNSW, error) {
	if p.M == 0 {
		p.M = 32
	}
	if p.EfConstruction == 0 {
		p.EfConstruction = 40
	}
	if p.EfSearch == 0 {
		p.EfSearch = 16
	}
	if p.M < 2 {
		return nil, errs.Newf(errs.UnsupportedHyperparameter, "", "M must be at least 2, got %d", p.M)
	}
	if p.EfConstruction < 1 {
		return nil, errs.Newf(errs.UnsupportedHyperparameter, "", "efConstruction must be at least 1, got %d", p.EfConstruction)
	}
	if p.EfSearch < 1 {
		return nil, errs.Newf(errs.UnsupportedHyperparameter, "", "efSearch must be at least 1, got %d", p.EfSearch)
	}
	return &HNSW{dim: dim, metric: metric, params: p, entry: -1, rng: newRand(p.Seed)}, nil
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x853c49e6748fea9b))
}

func (h *HNSW) Kind() Kind     { return KindHNSW }
func (h *HNSW) Dim() int       { return h.dim }
func (h *HNSW) Metric() Metric { return h.metric }
func (h *HNSW) Len() int       { return len(h.vectors) }
func (h *HNSW) EfSearch() int  { return h.params.EfSearch }

// SetEfSearch changes the query-time beam width.
func (h *HNSW) SetEfSearch(ef int) error {
	if ef < 1 {
		return errs.Newf(errs.UnsupportedHyperparameter, "", "efSearch must be at least 1, got %d", ef)
	}
	h.params.EfSearch = ef
	return nil
}

// node is a graph vertex with its cost to the current query; lower is closer.
type node struct {
	cost float32
	id   int32
}

func compareNodes(a, b node) int {
	if c := cmp.Compare(a.cost, b.cost); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

func (h *HNSW) cost(q []float32, id int32) float32 {
	d := h.metric.distance(q, h.vectors[id])
	if h.metric == InnerProduct {
		return -d
	}
	return d
}

func (h *HNSW) randomLevel() int {
	mult := 1 / math.Log(float64(h.params.M))
	return int(-math.Log(1-h.rng.Float64()) * mult)
}

func (h *HNSW) Add(vectors [][]float32) error {
	if err := checkDims(h.dim, vectors); err != nil {
		return err
	}
	for _, v := range vectors {
		h.insert(slices.Clone(v))
	}
	return nil
}

func (h *HNSW) insert(v []float32) {
	id := int32(len(h.vectors))
	level := h.randomLevel()
	h.vectors = append(h.vectors, v)
	h.levels = append(h.levels, level)
	h.neighbours = append(h.neighbours, make([][]int32, level+1))

	if h.entry < 0 {
		h.entry, h.maxLevel = id, level
		return
	}

	ep := h.entry
	for l := h.maxLevel; l > level; l-- {
		ep = h.searchLayer(v, ep, 1, l)[0].id
	}
	for l := min(level, h.maxLevel); l >= 0; l-- {
		cands := h.searchLayer(v, ep, h.params.EfConstruction, l)
		selected := cands[:min(h.params.M, len(cands))]
		for _, n := range selected {
			h.neighbours[id][l] = append(h.neighbours[id][l], n.id)
			h.link(n.id, id, l)
		}
		ep = cands[0].id
	}
	if level > h.maxLevel {
		h.entry, h.maxLevel = id, level
	}
}

// link adds to as a neighbour of from on layer l, pruning to the closest
// connections when the layer's degree limit is exceeded.
func (h *HNSW) link(from, to int32, l int) {
	limit := h.params.M
	if l == 0 {
		limit *= 2
	}
	list := append(h.neighbours[from][l], to)
	if len(list) > limit {
		base := h.vectors[from]
		ranked := make([]node, len(list))
		for i, n := range list {
			ranked[i] = node{cost: h.cost(base, n), id: n}
		}
		slices.SortFunc(ranked, compareNodes)
		list = list[:0]
		for _, n := range ranked[:limit] {
			list = append(list, n.id)
		}
	}
	h.neighbours[from][l] = list
}

// searchLayer is the beam search of width ef on layer l, returning nodes
// closest first.
func (h *HNSW) searchLayer(q []float32, ep int32, ef, l int) []node {
	start := node{cost: h.cost(q, ep), id: ep}
	visited := map[int32]bool{ep: true}
	candidates := []node{start}
	results := []node{start}

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]
		if len(results) >= ef && c.cost > results[len(results)-1].cost {
			break
		}
		for _, n := range h.neighbours[c.id][l] {
			if visited[n] {
				continue
			}
			visited[n] = true
			nn := node{cost: h.cost(q, n), id: n}
			if len(results) < ef || nn.cost < results[len(results)-1].cost {
				candidates = insertSorted(candidates, nn)
				results = insertSorted(results, nn)
				if len(results) > ef {
					results = results[:ef]
				}
			}
		}
	}
	return results
}

func insertSorted(list []node, n node) []node {
	i, _ := slices.BinarySearchFunc(list, n, compareNodes)
	return slices.Insert(list, i, n)
}

func (h *HNSW) Search(xq [][]float32, k int) ([][]float32, [][]int64, error) {
	if err := checkK(k); err != nil {
		return nil, nil, err
	}
	if err := checkDims(h.dim, xq); err != nil {
		return nil, nil, errs.Wrap(errs.UnsupportedHyperparameter, "", err)
	}
	dists := make([][]float32, len(xq))
	ids := make([][]int64, len(xq))
	for qi, q := range xq {
		var hits []hit
		if h.entry >= 0 {
			ep := h.entry
			for l := h.maxLevel; l > 0; l-- {
				ep = h.searchLayer(q, ep, 1, l)[0].id
			}
			for _, n := range h.searchLayer(q, ep, max(h.params.EfSearch, k), 0) {
				hits = append(hits, hit{dist: h.metric.distance(q, h.vectors[n.id]), id: int64(n.id)})
			}
		}
		dists[qi], ids[qi] = topK(h.metric, hits, k)
	}
	return dists, ids, nil
}

func (h *HNSW) Save(path string) error {
	return save(path, tagHNSW, state{
		Dim:        h.dim,
		Metric:     h.metric,
		Vectors:    h.vectors,
		Params:     h.params,
		Levels:     h.levels,
		Neighbours: h.neighbours,
		Entry:      h.entry,
		MaxLevel:   h.maxLevel,
	})
}

func hnswFromState(st state) *HNSW {
	entry := st.Entry
	if len(st.Vectors) == 0 {
		entry = -1
	}
	return &HNSW{
		dim:        st.Dim,
		metric:     st.Metric,
		params:     st.Params,
		vectors:    st.Vectors,
		levels:     st.Levels,
		neighbours: st.Neighbours,
		entry:      entry,
		maxLevel:   st.MaxLevel,
		rng:        newRand(st.Params.Seed),
	}
}
