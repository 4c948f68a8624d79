package directory

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/extract"
	"filesift/internal/file"
)

// WalkOptions control a single traversal.
type WalkOptions struct {
	Filters FilterSpec
	// OpenFiles runs each extractor; otherwise only attributes are gathered.
	OpenFiles bool
	// StartAt skips the first StartAt files that pass the filters.
	StartAt int
}

var errStopWalk = errors.New("walk stopped")

// Files lazily yields one record per file passing the filters, in lexical
// order. A file whose extraction fails is yielded as {error: <kind>} with
// open_file=false. A non-nil error ends the sequence and means the walk
// itself could not continue.
func (d *Directory) Files(o WalkOptions) iter.Seq2[extract.FileRecord, error] {
	return func(yield func(extract.FileRecord, error) bool) {
		ctx := d.opts.Context
		counter := 0

		err := filepath.WalkDir(d.Path, func(path string, de fs.DirEntry, err error) error {
			if err != nil {
				if path == d.Path {
					return err
				}
				logger.Warnf("skipping %s: %v", path, err)
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if path == d.Path {
				return nil
			}
			if de.IsDir() {
				if d.skip(path, true) {
					return fs.SkipDir
				}
				return nil
			}
			if d.skip(path, false) {
				return nil
			}

			rel, _ := filepath.Rel(d.Path, path)
			if !o.Filters.Match(rel, entrySize(path, de)) {
				return nil
			}
			counter++
			if counter <= o.StartAt {
				return nil
			}

			rec := d.record(path, o.OpenFiles)
			if d.opts.Progress != nil {
				d.opts.Progress(counter, path)
			}
			if !yield(rec, nil) {
				return errStopWalk
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopWalk) {
			yield(extract.FileRecord{}, err)
		}
	}
}

// Batches groups Files into slices of size records. The final batch may be
// shorter. A size below one yields single-record batches.
func (d *Directory) Batches(o WalkOptions, size int) iter.Seq2[[]extract.FileRecord, error] {
	if size < 1 {
		size = 1
	}
	return func(yield func([]extract.FileRecord, error) bool) {
		batch := make([]extract.FileRecord, 0, size)
		for rec, err := range d.Files(o) {
			if err != nil {
				if len(batch) > 0 && !yield(batch, nil) {
					return
				}
				yield(nil, err)
				return
			}
			batch = append(batch, rec)
			if len(batch) == size {
				if !yield(batch, nil) {
					return
				}
				batch = make([]extract.FileRecord, 0, size)
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// Records collects the whole walk.
func (d *Directory) Records(o WalkOptions) ([]extract.FileRecord, error) {
	var out []extract.FileRecord
	for rec, err := range d.Files(o) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Open extracts a single path with the directory's decorators and engines.
// Failures yield the error record.
func (d *Directory) Open(path string) extract.FileRecord { return d.record(path, true) }

func (d *Directory) record(path string, open bool) extract.FileRecord {
	f, err := file.Open(path, d.fileOptions(open))
	if err != nil {
		logger.Warnf("extracting %s: %v", path, err)
		return file.ErrorRecord(path, err)
	}
	return f.Record()
}

// entrySize follows symlinks so filters see the target's size.
func entrySize(path string, de fs.DirEntry) int64 {
	if de.Type()&fs.ModeSymlink != 0 {
		if info, err := os.Stat(path); err == nil {
			return info.Size()
		}
	}
	if info, err := de.Info(); err == nil {
		return info.Size()
	}
	return 0
}
