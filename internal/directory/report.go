package directory

import (
	"strings"

	"filesift/internal/errs"
	"filesift/internal/extract"
	"filesift/internal/report"
	"filesift/internal/similarity"
)

// Report streams the walk in batches into a CSV report at path. In recovery
// mode the rows already in the report are skipped.
func (d *Directory) Report(path string, walk WalkOptions, o report.Options) error {
	w, err := report.Create(path, o)
	if err != nil {
		return err
	}
	if o.RecoveryMode {
		walk.StartAt = w.StartAt()
	}
	for batch, err := range d.Batches(walk, o.BatchSize) {
		if err != nil {
			return err
		}
		if err := w.Write(batch); err != nil {
			return err
		}
	}
	return w.Close()
}

// DuplicateOptions configure IdentifyDuplicates.
type DuplicateOptions struct {
	// Threshold zero writes the full similarity matrix; above zero only
	// neighbours at least this similar are reported.
	Threshold float64
	TopN      int
	Filters   FilterSpec
	// OutputPath receives the matrix or neighbour table as CSV when set.
	OutputPath string
	UsePaths   bool
}

// Duplicates holds whichever result IdentifyDuplicates produced.
type Duplicates struct {
	Matrix     *similarity.Matrix
	Neighbours []similarity.Neighbours
}

// IdentifyDuplicates opens the filtered files, keeps those with text and
// compares them.
func (d *Directory) IdentifyDuplicates(o DuplicateOptions) (*Duplicates, error) {
	var docs []extract.FileRecord
	for rec, err := range d.Files(WalkOptions{Filters: o.Filters, OpenFiles: true}) {
		if err != nil {
			return nil, err
		}
		if text, ok := rec.Text(); ok && strings.TrimSpace(text) != "" {
			docs = append(docs, rec)
		}
	}
	if len(docs) == 0 {
		return nil, errs.New(errs.EmptySelection, d.Path, "no documents with text matched the filters")
	}

	if o.Threshold <= 0 {
		m, err := similarity.NewMatrix(docs, o.UsePaths)
		if err != nil {
			return nil, err
		}
		if o.OutputPath != "" {
			if err := m.Write(o.OutputPath); err != nil {
				return nil, err
			}
		}
		return &Duplicates{Matrix: m}, nil
	}

	topN := o.TopN
	if topN < 1 {
		topN = 5
	}
	ns, err := similarity.FindNeighbours(docs, o.Threshold, topN, o.UsePaths)
	if err != nil {
		return nil, err
	}
	if o.OutputPath != "" {
		if err := similarity.WriteNeighbours(o.OutputPath, ns); err != nil {
			return nil, err
		}
	}
	return &Duplicates{Neighbours: ns}, nil
}
