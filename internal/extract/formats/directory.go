package formats

import (
	"os"
	"path/filepath"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// Dir treats a directory path as a file: it reports the top-level item
// count and the size of the files directly inside it.
type Dir struct {
	extract.Base
}

// NewDir builds the directory extractor.
func NewDir(path string, openFile bool) (extract.Extractor, error) {
	x := &Dir{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *Dir) read() (extract.Metadata, error) {
	entries, err := os.ReadDir(x.Path())
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return extract.Metadata{
		"num_items":   len(entries),
		"total_size":  total,
		"permissions": x.Attributes().Permissions,
	}, nil
}

// Files lists the regular files directly inside the directory.
func (x *Dir) Files() ([]string, error) {
	return x.list(func(e os.DirEntry) bool { return e.Type().IsRegular() })
}

// Subdirectories lists the directories directly inside the directory.
func (x *Dir) Subdirectories() ([]string, error) {
	return x.list(func(e os.DirEntry) bool { return e.IsDir() })
}

func (x *Dir) list(keep func(os.DirEntry) bool) ([]string, error) {
	entries, err := os.ReadDir(x.Path())
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	var out []string
	for _, e := range entries {
		if keep(e) {
			out = append(out, filepath.Join(x.Path(), e.Name()))
		}
	}
	return out, nil
}
