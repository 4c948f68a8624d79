package extract

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filesift/internal/errs"
)

// Stat gathers the filesystem attributes of path without reading content.
// Symlinks are reported as such; size and file type follow the link when it
// resolves.
func Stat(path string) (Attributes, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Attributes{}, errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	linfo, err := os.Lstat(abs)
	if err != nil {
		return Attributes{}, errs.Wrap(errs.FileProcessingFailed, abs, err)
	}

	info := linfo
	isLink := linfo.Mode()&fs.ModeSymlink != 0
	if isLink {
		if target, err := os.Stat(abs); err == nil {
			info = target
		}
	}

	name := filepath.Base(abs)
	times := fileTimes(abs, info)
	return Attributes{
		AbsolutePath: abs,
		Name:         name,
		Extension:    NormalizeExt(filepath.Ext(name)),
		Size:         info.Size(),
		ModTime:      times.mod,
		AccessTime:   times.access,
		CreationTime: times.birth,
		Parent:       filepath.Dir(abs),
		Permissions:  fmt.Sprintf("%03o", info.Mode().Perm()),
		IsFile:       info.Mode().IsRegular(),
		IsSymlink:    isLink,
		Owner:        fileOwner(info),
	}, nil
}

// NormalizeExt lowercases ext and ensures a leading dot. An empty ext stays
// empty.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

type timestamps struct {
	mod, access, birth float64
}
