package similarity

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"filesift/internal/errs"
	"filesift/internal/extract"
	"filesift/internal/vecindex"
)

// Match is one neighbour and its cosine similarity.
type Match struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Neighbours lists the closest documents to one file.
type Neighbours struct {
	Label   string  `json:"label"`
	Matches []Match `json:"matches"`
}

// FindNeighbours indexes the normalised TF-IDF vectors in an inner-product
// flat index and keeps, per record, up to topN other records whose
// similarity is at least threshold.
func FindNeighbours(records []extract.FileRecord, threshold float64, topN int, usePaths bool) ([]Neighbours, error) {
	if len(records) == 0 {
		return nil, errs.New(errs.EmptySelection, "", "no documents to compare")
	}
	if topN < 1 {
		return nil, errs.Newf(errs.UnsupportedHyperparameter, "", "top_n must be at least 1, got %d", topN)
	}
	docs, err := texts(records)
	if err != nil {
		return nil, err
	}
	vecs, err := fit(docs)
	if err != nil {
		return nil, err
	}

	xb := make([][]float32, len(vecs))
	for i, v := range vecs {
		xb[i] = make([]float32, len(v))
		for j, f := range v {
			xb[i][j] = float32(f)
		}
	}
	vecindex.Normalize(xb)
	idx, err := vecindex.Build(vecindex.KindFlat, xb, vecindex.InnerProduct, vecindex.Params{})
	if err != nil {
		return nil, err
	}
	dists, ids, err := idx.Search(xb, topN+1)
	if err != nil {
		return nil, err
	}

	out := make([]Neighbours, len(records))
	for i, r := range records {
		out[i].Label = label(r, usePaths)
		for j, id := range ids[i] {
			if id < 0 || int(id) == i || len(out[i].Matches) == topN {
				continue
			}
			score := round2(clamp(float64(dists[i][j])))
			if score < threshold {
				continue
			}
			out[i].Matches = append(out[i].Matches, Match{Label: label(records[id], usePaths), Score: score})
		}
	}
	return out, nil
}

// WriteNeighbours stores one row per file: File, then Match n and Score n
// for each neighbour.
func WriteNeighbours(path string, ns []Neighbours) error {
	width := 0
	for _, n := range ns {
		width = max(width, len(n.Matches))
	}
	header := []string{"File"}
	for i := 1; i <= width; i++ {
		header = append(header, "Match "+strconv.Itoa(i), "Score "+strconv.Itoa(i))
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, n := range ns {
		rec := make([]string, 1, len(header))
		rec[0] = n.Label
		for _, m := range n.Matches {
			rec = append(rec, m.Label, strconv.FormatFloat(m.Score, 'f', 2, 64))
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		_ = w.Write(rec)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	return extract.WriteFile(path, buf.Bytes())
}

func dot(a, b []float64) float64 { return floats.Dot(a, b) }
