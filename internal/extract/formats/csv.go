package formats

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterCSV registers delimited tables.
func RegisterCSV(r *extract.Registry) {
	r.Register(NewCSV, ".csv", ".tsv")
}

// NewCSV builds a CSV extractor. The raw text is kept for similarity and
// the parsed records drive the counts.
func NewCSV(path string, openFile bool) (extract.Extractor, error) {
	return newText(path, openFile, enrichCSV)
}

func enrichCSV(x *Text, meta extract.Metadata) error {
	rows, err := parseCSV(x.text, x.Attributes().Extension == ".tsv")
	if err != nil {
		return errs.Wrap(errs.FileCorruption, x.Path(), err)
	}

	cells, empty := 0, 0
	for _, row := range rows {
		cells += len(row)
		for _, c := range row {
			if c == "" || c == " " {
				empty++
			}
		}
	}
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}

	meta["num_rows"] = len(rows)
	meta["num_cols"] = cols
	meta["num_cells"] = cells
	meta["empty_cells"] = empty
	return nil
}

func parseCSV(text string, tabs bool) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if tabs {
		r.Comma = '\t'
	}
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
}
