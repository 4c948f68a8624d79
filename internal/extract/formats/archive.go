package formats

import (
	"archive/zip"
	"bytes"
	"io"
	"net/mail"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterArchives registers zip archives and Python wheels.
func RegisterArchives(r *extract.Registry) {
	r.Register(NewZip, ".zip")
	r.Register(NewWheel, ".whl")
}

// Zip enumerates archive members.
type Zip struct {
	extract.Base
}

// NewZip builds a zip extractor.
func NewZip(path string, openFile bool) (extract.Extractor, error) {
	x := &Zip{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *Zip) read() (extract.Metadata, error) {
	zr, err := zip.OpenReader(x.Path())
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	defer zr.Close()
	return memberStats(zr.File), nil
}

func memberStats(files []*zip.File) extract.Metadata {
	names := []string{}
	types := map[string]int{}
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
		types[strings.ToLower(path.Ext(f.Name))]++
	}
	return extract.Metadata{
		"num_files":  len(names),
		"file_types": types,
		"file_names": names,
	}
}

// Extract expands every member into outputDir, which defaults to the
// archive path without its extension. Members escaping the directory are
// rejected.
func (x *Zip) Extract(outputDir string) (string, error) {
	if outputDir == "" {
		outputDir = strings.TrimSuffix(x.Path(), filepath.Ext(x.Path()))
	}
	zr, err := zip.OpenReader(x.Path())
	if err != nil {
		return "", errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractMember(f, outputDir); err != nil {
			return "", errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
		}
	}
	return outputDir, nil
}

func extractMember(f *zip.File, dest string) error {
	target := filepath.Join(dest, f.Name)
	if !isWithin(dest, target) {
		return errs.Newf(errs.FileProcessingFailed, f.Name, "illegal file path in archive: %s", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isWithin(base, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Save copies the archive bytes.
func (x *Zip) Save(outputPath string) error { return x.CopyTo(outputPath) }

// Wheel reads a Python wheel's dist-info METADATA.
type Wheel struct {
	Zip
}

// NewWheel builds a wheel extractor.
func NewWheel(path string, openFile bool) (extract.Extractor, error) {
	x := &Wheel{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *Wheel) read() (extract.Metadata, error) {
	zr, err := zip.OpenReader(x.Path())
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	defer zr.Close()

	meta := memberStats(zr.File)
	delete(meta, "file_names")

	var raw []byte
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".dist-info/METADATA") {
			if raw, err = readZipMember(f); err != nil {
				return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
			}
			break
		}
	}
	if raw == nil {
		return nil, errs.New(errs.FileCorruption, x.Path(), "wheel has no dist-info/METADATA")
	}

	info, err := parseWheelMetadata(raw)
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	for k, v := range info {
		meta[k] = v
	}
	meta["build_tag"] = wheelBuildTag(filepath.Base(x.Path()))
	return meta, nil
}

func readZipMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

var extraMarker = regexp.MustCompile(`\s*(?:;|\band)\s*extra\s*==\s*["']([^"']+)["']`)

// parseWheelMetadata reads the RFC 822 style header block of METADATA.
func parseWheelMetadata(raw []byte) (extract.Metadata, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(append(bytes.TrimRight(raw, "\r\n"), "\n\n"...)))
	if err != nil {
		return nil, err
	}
	h := msg.Header

	author := h.Get("Author")
	if author == "" {
		author = h.Get("Author-Email")
	}

	oses := []string{}
	for _, c := range h["Classifier"] {
		if rest, ok := strings.CutPrefix(c, "Operating System ::"); ok {
			oses = append(oses, strings.TrimSpace(rest))
		}
	}

	deps := []string{}
	optional := map[string][]string{}
	for _, req := range h["Requires-Dist"] {
		if m := extraMarker.FindStringSubmatchIndex(req); m != nil {
			extra := req[m[2]:m[3]]
			spec := strings.TrimSpace(req[:m[0]])
			optional[extra] = append(optional[extra], spec)
			continue
		}
		deps = append(deps, strings.TrimSpace(req))
	}

	return extract.Metadata{
		"name":                  h.Get("Name"),
		"version":               h.Get("Version"),
		"requires_python":       h.Get("Requires-Python"),
		"author":                author,
		"operating_systems":     oses,
		"dependencies":          deps,
		"optional_dependencies": optional,
	}, nil
}

// wheelBuildTag returns the optional build tag of a
// name-version(-build)?-python-abi-platform.whl file name.
func wheelBuildTag(name string) string {
	parts := strings.Split(strings.TrimSuffix(name, ".whl"), "-")
	if len(parts) == 6 && parts[2] != "" && parts[2][0] >= '0' && parts[2][0] <= '9' {
		return parts[2]
	}
	return ""
}
