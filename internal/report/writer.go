package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// Writer appends flattened rows to a CSV file. The header comes from the
// first batch; columns discovered later widen the existing file.
type Writer struct {
	path     string
	opts     Options
	header   []string
	existing int
	written  int
}

// Create opens the report at path. In recovery mode an existing report is
// kept and its data row count becomes StartAt; otherwise the file is
// replaced.
func Create(path string, o Options) (*Writer, error) {
	w := &Writer{path: path, opts: o}
	if o.RecoveryMode {
		header, rows, err := scan(path)
		switch {
		case err == nil:
			w.header, w.existing = header, rows
			logger.Infof("resuming report %s after %d rows", path, rows)
			return w, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, errs.Wrap(errs.FileProcessingFailed, path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	return w, nil
}

// StartAt is the number of rows already present when the writer was created.
func (w *Writer) StartAt() int { return w.existing }

// Rows is the total number of data rows in the report.
func (w *Writer) Rows() int { return w.existing + w.written }

// Write flattens and appends a batch.
func (w *Writer) Write(records []extract.FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Flatten(rec, w.opts)
	}

	columns := slices.Clone(w.header)
	for _, r := range rows {
		for _, c := range r.Columns {
			if !slices.Contains(columns, c) {
				columns = append(columns, c)
			}
		}
	}
	if len(w.header) > 0 && len(columns) > len(w.header) {
		if err := w.widen(columns); err != nil {
			return err
		}
	}
	fresh := len(w.header) == 0
	w.header = columns

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, w.path, err)
	}
	cw := csv.NewWriter(f)
	if fresh {
		_ = cw.Write(columns)
	}
	for _, r := range rows {
		_ = cw.Write(r.record(columns))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return errs.Wrap(errs.FileProcessingFailed, w.path, err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, w.path, err)
	}
	w.written += len(rows)
	return nil
}

// Close reports EmptySelection when the report holds no rows.
func (w *Writer) Close() error {
	if w.Rows() == 0 {
		return errs.New(errs.EmptySelection, w.path, "no files matched the filters")
	}
	return nil
}

// widen rewrites the report with the wider header, padding old rows.
func (w *Writer) widen(columns []string) error {
	rows, err := ReadRows(w.path)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(w.path), ".report-*.csv")
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, w.path, err)
	}
	defer os.Remove(f.Name())

	cw := csv.NewWriter(f)
	_ = cw.Write(columns)
	for _, r := range rows {
		_ = cw.Write(Row{Values: r}.record(columns))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return errs.Wrap(errs.FileProcessingFailed, w.path, err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, w.path, err)
	}
	logger.Debugf("widened %s to %d columns", w.path, len(columns))
	if err := os.Rename(f.Name(), w.path); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, w.path, err)
	}
	return nil
}

func (r Row) record(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = r.Values[c]
	}
	return out
}

// ReadRows loads a report as one map per data row, keyed by column.
func ReadRows(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, path, err)
	}
	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, errs.Wrap(errs.FileCorruption, path, err)
		}
		row := make(map[string]string, len(header))
		for i, c := range header {
			if i < len(rec) {
				row[c] = rec[i]
			}
		}
		rows = append(rows, row)
	}
}

// scan returns the header and data row count of an existing report. A torn
// tail left by an interrupted run is truncated back to the last complete
// row: one ending in a newline with as many fields as the header.
func scan(path string) ([]string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	complete := func() bool {
		off := r.InputOffset()
		return off > 0 && data[off-1] == '\n'
	}

	var header []string
	var good int64
	n := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil || !complete() || (header != nil && len(rec) != len(header)) {
			break
		}
		if header == nil {
			header = slices.Clone(rec)
		} else {
			n++
		}
		good = r.InputOffset()
	}

	if good < int64(len(data)) {
		logger.Warnf("truncating torn tail of %s (%d bytes)", path, int64(len(data))-good)
		if err := os.Truncate(path, good); err != nil {
			return nil, 0, err
		}
	}
	return header, n, nil
}
