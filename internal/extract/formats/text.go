package formats

import (
	"strings"

	"filesift/internal/extract"
)

// enrichFunc adds family-specific fields to the metadata of a decoded
// document.
type enrichFunc func(x *Text, meta extract.Metadata) error

// Text is the extractor for every plain-text based family. Flavours differ
// only in the fields their enrich function adds.
type Text struct {
	extract.Base
	text     string
	encoding string
	enrich   enrichFunc
}

func newText(path string, openFile bool, enrich enrichFunc) (extract.Extractor, error) {
	x := &Text{enrich: enrich}
	err := x.Init(path, openFile, x.read)
	return x, err
}

// RegisterText registers plain text, configuration files and .gitignore.
func RegisterText(r *extract.Registry) {
	r.Register(NewText, ".txt", ".text", ".log", ".ini", ".cfg", ".conf", ".toml", ".yaml", ".yml", ".rst", ".tex", ".env")
	r.Register(NewGitignore, ".gitignore", ".dockerignore")
}

// NewText builds a plain text extractor.
func NewText(path string, openFile bool) (extract.Extractor, error) {
	return newText(path, openFile, nil)
}

// NewGitignore builds an ignore-file extractor that also reports the
// patterns it declares.
func NewGitignore(path string, openFile bool) (extract.Extractor, error) {
	return newText(path, openFile, enrichIgnoreFile)
}

func (x *Text) read() (extract.Metadata, error) {
	raw, err := x.ReadAll()
	if err != nil {
		return nil, err
	}
	text, enc, err := extract.DecodeText(raw)
	if err != nil {
		return nil, err
	}
	x.text, x.encoding = text, enc

	meta := extract.TextStats(text)
	meta[extract.KeyText] = text
	meta["encoding"] = enc
	if x.enrich != nil {
		if err := x.enrich(x, meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// Text returns the decoded content.
func (x *Text) Text() string { return x.text }

// SetText replaces the content written by the next Save.
func (x *Text) SetText(s string) {
	x.text = s
	if m := x.Meta(); m != nil {
		if _, ok := m[extract.KeyText]; ok {
			m[extract.KeyText] = s
		}
	}
}

// Save writes the text as UTF-8. An unopened document is copied as-is.
func (x *Text) Save(outputPath string) error {
	if !x.Opened() {
		return x.CopyTo(outputPath)
	}
	return extract.WriteFile(x.Target(outputPath), []byte(x.text))
}

func enrichIgnoreFile(x *Text, meta extract.Metadata) error {
	var patterns []string
	negations := 0
	for _, line := range strings.Split(x.text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "!") {
			negations++
		}
		patterns = append(patterns, line)
	}
	meta["num_patterns"] = len(patterns)
	meta["num_negations"] = negations
	meta["patterns"] = patterns
	return nil
}
