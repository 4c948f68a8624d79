package directory

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"slices"
	"strconv"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// AnalyticsRow aggregates the files sharing one extension.
type AnalyticsRow struct {
	Extension string  `json:"extension"`
	SizeMB    float64 `json:"size_mb"`
	Count     int     `json:"count"`
}

const bytesPerMB = 1024 * 1024

// Analytics groups the filtered files by extension, sorted by extension.
// Files are not opened.
func (d *Directory) Analytics(filters FilterSpec) ([]AnalyticsRow, error) {
	groups := make(map[string]*AnalyticsRow)
	for rec, err := range d.Files(WalkOptions{Filters: filters}) {
		if err != nil {
			return nil, err
		}
		row, ok := groups[rec.Extension]
		if !ok {
			row = &AnalyticsRow{Extension: rec.Extension}
			groups[rec.Extension] = row
		}
		row.Count++
		row.SizeMB += float64(rec.Size) / bytesPerMB
	}

	rows := make([]AnalyticsRow, 0, len(groups))
	for _, r := range groups {
		rows = append(rows, *r)
	}
	slices.SortFunc(rows, func(a, b AnalyticsRow) int { return cmp.Compare(a.Extension, b.Extension) })
	return rows, nil
}

// WriteAnalytics writes rows as CSV with the columns extension, size (MB)
// and count.
func WriteAnalytics(path string, rows []AnalyticsRow) error {
	if len(rows) == 0 {
		return errs.New(errs.EmptySelection, path, "no files matched the filters")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"extension", "size (MB)", "count"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.Extension,
			strconv.FormatFloat(r.SizeMB, 'f', -1, 64),
			strconv.Itoa(r.Count),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	return extract.WriteFile(path, buf.Bytes())
}
