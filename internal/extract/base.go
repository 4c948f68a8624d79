package extract

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"filesift/internal/errs"
)

// openContent is the single entry point through which extractors read file
// bytes. Tests replace it to prove unopened files are never read.
var openContent = func(path string) (*os.File, error) {
	return os.Open(path)
}

// ProcessFunc computes the metadata for an opened file.
type ProcessFunc func() (Metadata, error)

// Base implements the parts of Extractor shared by every format. Concrete
// extractors embed it and call Init from their constructor.
type Base struct {
	attrs   Attributes
	meta    Metadata
	opened  bool
	process ProcessFunc
}

// Init captures filesystem attributes and, when openFile is set, runs fn.
func (b *Base) Init(path string, openFile bool, fn ProcessFunc) error {
	attrs, err := Stat(path)
	if err != nil {
		return err
	}
	b.attrs = attrs
	b.opened = openFile
	b.process = fn
	if !openFile {
		b.meta = Metadata{KeyMessage: NotOpenedMessage}
		return nil
	}
	return b.Process()
}

// Process runs the extractor's ProcessFunc and replaces Metadata atomically.
// Failures are converted into the error taxonomy and recorded as
// {error: <kind>}.
func (b *Base) Process() error {
	if b.process == nil {
		return errs.New(errs.FileProcessingFailed, b.attrs.AbsolutePath, "extractor has no processor")
	}
	meta, err := b.process()
	if err != nil {
		err = errs.Wrap(errs.FileProcessingFailed, b.attrs.AbsolutePath, err)
		b.meta = Metadata{KeyError: errs.KindOf(err).String()}
		return err
	}
	if meta == nil {
		meta = Metadata{}
	}
	b.meta = meta
	return nil
}

func (b *Base) Attributes() Attributes { return b.attrs }

// Metadata returns a copy of the current metadata map.
func (b *Base) Metadata() Metadata { return maps.Clone(b.meta) }

func (b *Base) Opened() bool { return b.opened }

// Path is the absolute path of the underlying file.
func (b *Base) Path() string { return b.attrs.AbsolutePath }

// Meta returns the live metadata map for the embedding extractor.
func (b *Base) Meta() Metadata { return b.meta }

// Save refuses by default; formats that can round-trip override it.
func (b *Base) Save(string) error {
	return errs.Newf(errs.FileProcessingFailed, b.attrs.AbsolutePath,
		"saving %s files is not supported", b.attrs.Extension)
}

// Target resolves the destination of a save.
func (b *Base) Target(outputPath string) string {
	if outputPath == "" {
		return b.attrs.AbsolutePath
	}
	return outputPath
}

// Open opens the file content for reading.
func (b *Base) Open() (*os.File, error) {
	f, err := openContent(b.attrs.AbsolutePath)
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, b.attrs.AbsolutePath, err)
	}
	return f, nil
}

// ReadAll reads the whole file content.
func (b *Base) ReadAll() ([]byte, error) {
	f, err := b.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, b.attrs.AbsolutePath, err)
	}
	return data, nil
}

// ComputeHash hashes the file bytes with md5, sha1, sha256 or sha512.
func (b *Base) ComputeHash(algorithm string) (string, error) {
	return HashFile(b.attrs.AbsolutePath, algorithm)
}

// Copy performs a byte-level copy to dest. With verify set, the sha256 of
// the copy must match the source.
func (b *Base) Copy(dest string, verify bool) error {
	return CopyFile(b.attrs.AbsolutePath, dest, verify)
}

// CopyTo is the save strategy for formats whose bytes are preserved as-is.
func (b *Base) CopyTo(outputPath string) error {
	target := b.Target(outputPath)
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		target = filepath.Join(target, b.attrs.Name)
	}
	if samePath(target, b.attrs.AbsolutePath) {
		return nil
	}
	return CopyFile(b.attrs.AbsolutePath, target, false)
}

func newHash(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "", "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	}
	return nil, errs.Newf(errs.FileProcessingFailed, "", "unsupported hash algorithm %q", algorithm)
}

// HashFile returns the hex digest of the file at path.
func HashFile(path, algorithm string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	f, err := openContent(path)
	if err != nil {
		return "", errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CopyFile copies src to dest through a sibling temp file, creating parent
// directories. When dest is an existing directory the file keeps its name
// inside it. Copying a file onto itself is refused.
func CopyFile(src, dest string, verify bool) error {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, filepath.Base(src))
	}
	if samePath(src, dest) {
		return errs.New(errs.FileProcessingFailed, dest, "source and destination are the same file")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, dest, err)
	}

	in, err := openContent(src)
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, src, err)
	}
	defer in.Close()

	mode := os.FileMode(0o644)
	if info, err := in.Stat(); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".filesift-*")
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, dest, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return errs.Wrap(errs.FileProcessingFailed, dest, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return errs.Wrap(errs.FileProcessingFailed, dest, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, dest, err)
	}

	if verify {
		want, err := HashFile(src, "sha256")
		if err != nil {
			return err
		}
		got, err := HashFile(tmp.Name(), "sha256")
		if err != nil {
			return err
		}
		if want != got {
			return errs.New(errs.FileProcessingFailed, dest, "Integrity check failed")
		}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, dest, fmt.Errorf("rename: %w", err))
	}
	return nil
}

// WriteFile writes data to path atomically through a sibling temp file.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".filesift-*")
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	defer os.Remove(tmp.Name())
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, fmt.Errorf("rename: %w", err))
	}
	return nil
}

// samePath reports whether a and b name the same file, following symlinks
// and hard links when both exist.
func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 == nil && err2 == nil && aa == bb {
		return true
	}
	ia, err1 := os.Stat(a)
	ib, err2 := os.Stat(b)
	return err1 == nil && err2 == nil && os.SameFile(ia, ib)
}
