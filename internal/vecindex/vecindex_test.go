package vecindex

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesift/internal/errs"
)

func randomVectors(n, dim int, seed uint64) [][]float32 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		for d := range out[i] {
			out[i][d] = rng.Float32()*2 - 1
		}
	}
	return out
}

func TestFlatSearch(t *testing.T) {
	idx := NewFlat(2, L2)
	require.NoError(t, idx.Add([][]float32{{0, 0}, {1, 0}, {5, 5}}))

	dists, ids, err := idx.Search([][]float32{{0.9, 0}}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, ids[0])
	assert.InDelta(t, 0.01, dists[0][0], 1e-6)

	_, ids, err = idx.Search([][]float32{{0, 0}}, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, -1, -1}, ids[0])
}

func TestInnerProductRanksDescending(t *testing.T) {
	idx := NewFlat(2, InnerProduct)
	require.NoError(t, idx.Add([][]float32{{1, 0}, {0, 1}, {0.7, 0.7}}))

	dists, ids, err := idx.Search([][]float32{{1, 0}}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2, 1}, ids[0])
	assert.InDelta(t, 1.0, dists[0][0], 1e-6)
}

func TestInvalidK(t *testing.T) {
	idx := NewFlat(2, L2)
	_, _, err := idx.Search([][]float32{{0, 0}}, 0)
	assert.Equal(t, errs.UnsupportedHyperparameter, errs.KindOf(err))
}

func TestIVFFullProbeMatchesFlat(t *testing.T) {
	data := randomVectors(200, 8, 1)
	queries := randomVectors(10, 8, 2)

	for _, metric := range []Metric{L2, InnerProduct} {
		flat, err := Build(KindFlat, data, metric, Params{})
		require.NoError(t, err)
		ivf, err := Build(KindIVF, data, metric, Params{NList: 8, NProbe: 8})
		require.NoError(t, err)

		fd, fi, err := flat.Search(queries, 5)
		require.NoError(t, err)
		vd, vi, err := ivf.Search(queries, 5)
		require.NoError(t, err)
		assert.Equal(t, fi, vi, metric.String())
		assert.Equal(t, fd, vd, metric.String())
	}
}

func TestIVFHyperparameters(t *testing.T) {
	_, err := NewIVF(4, L2, Params{NList: 0})
	assert.Equal(t, errs.UnsupportedHyperparameter, errs.KindOf(err))

	_, err = NewIVF(4, L2, Params{NList: 4, NProbe: 5})
	assert.Equal(t, errs.UnsupportedHyperparameter, errs.KindOf(err))

	ivf, err := NewIVF(4, L2, Params{NList: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, ivf.NProbe())
	assert.Equal(t, errs.UnsupportedHyperparameter, errs.KindOf(ivf.SetNprobe(0)))
	assert.Error(t, ivf.Add(randomVectors(1, 4, 3)))
	assert.Equal(t, errs.UnsupportedHyperparameter, errs.KindOf(ivf.Train(randomVectors(3, 4, 3))))
}

func TestHNSWRecall(t *testing.T) {
	data := randomVectors(300, 8, 4)
	queries := randomVectors(20, 8, 5)

	flat, err := Build(KindFlat, data, L2, Params{})
	require.NoError(t, err)
	h, err := Build(KindHNSW, data, L2, Params{M: 16, EfConstruction: 100, EfSearch: 100})
	require.NoError(t, err)

	_, want, err := flat.Search(queries, 1)
	require.NoError(t, err)
	_, got, err := h.Search(queries, 1)
	require.NoError(t, err)

	hitCount := 0
	for i := range want {
		if want[i][0] == got[i][0] {
			hitCount++
		}
	}
	assert.GreaterOrEqual(t, hitCount, 18)
}

func TestHNSWHyperparameters(t *testing.T) {
	_, err := NewHNSW(4, L2, Params{M: 1})
	assert.Equal(t, errs.UnsupportedHyperparameter, errs.KindOf(err))

	h, err := NewHNSW(4, L2, Params{})
	require.NoError(t, err)
	assert.Equal(t, errs.UnsupportedHyperparameter, errs.KindOf(h.SetEfSearch(0)))

	_, ids, err := h.Search([][]float32{{0, 0, 0, 0}}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, -1}, ids[0])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	data := randomVectors(64, 4, 6)
	queries := randomVectors(3, 4, 7)
	dir := t.TempDir()

	for _, kind := range []Kind{KindFlat, KindIVF, KindHNSW} {
		t.Run(string(kind), func(t *testing.T) {
			idx, err := Build(kind, data, L2, Params{NList: 4})
			require.NoError(t, err)
			path := filepath.Join(dir, string(kind)+".faiss")
			require.NoError(t, idx.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, kind, loaded.Kind())
			assert.Equal(t, 4, loaded.Dim())
			assert.Equal(t, 64, loaded.Len())

			wd, wi, err := idx.Search(queries, 3)
			require.NoError(t, err)
			gd, gi, err := loaded.Search(queries, 3)
			require.NoError(t, err)
			assert.Equal(t, wi, gi)
			assert.Equal(t, wd, gd)
		})
	}
}

func TestLoadUnknownTagIsGeneric(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.faiss")
	idx, err := Build(KindFlat, [][]float32{{1, 0}, {0, 1}}, InnerProduct, Params{})
	require.NoError(t, err)
	require.NoError(t, idx.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(data, "IxPQ")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, KindGeneric, loaded.Kind())
	_, ids, err := loaded.Search([][]float32{{0, 1}}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids[0])
	assert.Error(t, loaded.Add([][]float32{{1, 1}}))
	assert.Error(t, loaded.Save(path))
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.faiss")
	require.NoError(t, os.WriteFile(path, []byte("IxFLnot gob"), 0o644))
	_, err := Load(path)
	assert.Equal(t, errs.FileCorruption, errs.KindOf(err))
}

func TestNormalize(t *testing.T) {
	v := [][]float32{{3, 4}, {0, 0}}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0][0], 1e-6)
	assert.InDelta(t, 0.8, v[0][1], 1e-6)
	assert.Equal(t, []float32{0, 0}, v[1])
}
