package similarity

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// Matrix is a symmetric table of pairwise cosine similarities.
type Matrix struct {
	Labels []string
	Values [][]float64
}

// NewMatrix fits TF-IDF on every record's text and computes all pairwise
// cosine similarities, rounded to two decimals. Labels are file names, or
// absolute paths when usePaths is set.
func NewMatrix(records []extract.FileRecord, usePaths bool) (*Matrix, error) {
	if len(records) == 0 {
		return nil, errs.New(errs.EmptySelection, "", "no documents to compare")
	}
	docs, err := texts(records)
	if err != nil {
		return nil, err
	}
	vecs, err := fit(docs)
	if err != nil {
		return nil, err
	}

	m := &Matrix{Labels: make([]string, len(records)), Values: make([][]float64, len(records))}
	for i, r := range records {
		m.Labels[i] = label(r, usePaths)
		m.Values[i] = make([]float64, len(records))
	}
	for i := range vecs {
		for j := i; j < len(vecs); j++ {
			v := round2(clamp(dot(vecs[i], vecs[j])))
			m.Values[i][j], m.Values[j][i] = v, v
		}
	}
	return m, nil
}

// Write stores the matrix as CSV with labels on both axes.
func (m *Matrix) Write(path string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(append([]string{""}, m.Labels...))
	for i, row := range m.Values {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, m.Labels[i])
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'f', 2, 64))
		}
		_ = w.Write(rec)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	return extract.WriteFile(path, buf.Bytes())
}
