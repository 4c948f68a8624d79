// Package directory walks a tree and streams a FileRecord per file.
package directory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/monochromegane/go-gitignore"
	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/decorate"
	"filesift/internal/errs"
	"filesift/internal/extract"
	"filesift/internal/file"
)

// IgnoreFile holds extra ignore patterns, one per line.
const IgnoreFile = ".filesiftignore"

// DefaultIgnores are the version-control and dependency directories most
// callers want skipped. They only apply when passed in Options.Ignore.
var DefaultIgnores = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".idea",
	".vscode",
}

// ProgressFunc is called after every record is produced.
type ProgressFunc func(processed int, path string)

// Options configure a Directory.
type Options struct {
	UseOCR         bool
	UseTranscriber bool

	// RespectGitignore skips paths matched by the root .gitignore.
	RespectGitignore bool
	// Ignore lists directory names, path prefixes or globs to skip. Patterns
	// from IgnoreFile in the root are appended.
	Ignore []string

	Registry *extract.Registry
	OCR      decorate.OCREngine
	Imager   decorate.PageImager
	Speech   decorate.SpeechEngine

	Context  context.Context
	Progress ProgressFunc
}

// Directory is a traversable tree rooted at Path.
type Directory struct {
	Path string

	opts    Options
	ignores []string
	git     gitignore.IgnoreMatcher
}

// New validates root and loads its ignore rules.
func New(root string, opts Options) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, abs, err)
	}
	if !info.IsDir() {
		return nil, errs.Newf(errs.FileProcessingFailed, abs, "%s is not a directory", abs)
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	d := &Directory{
		Path:    abs,
		opts:    opts,
		ignores: append(append([]string(nil), opts.Ignore...), loadIgnorePatterns(abs)...),
	}
	if opts.RespectGitignore {
		gi := filepath.Join(abs, ".gitignore")
		if _, err := os.Stat(gi); err == nil {
			m, err := gitignore.NewGitIgnore(gi, abs)
			if err != nil {
				logger.Warnf("could not parse %s: %v", gi, err)
			} else {
				d.git = m
			}
		}
	}
	return d, nil
}

// fileOptions are the facade options used for every visited file.
func (d *Directory) fileOptions(open bool) file.Options {
	return file.Options{
		UseOCR:         d.opts.UseOCR,
		UseTranscriber: d.opts.UseTranscriber,
		OpenFile:       open,
		Registry:       d.opts.Registry,
		OCR:            d.opts.OCR,
		Imager:         d.opts.Imager,
		Speech:         d.opts.Speech,
		Context:        d.opts.Context,
	}
}

// skip reports whether path (absolute) is excluded by ignore rules.
func (d *Directory) skip(path string, isDir bool) bool {
	rel, err := filepath.Rel(d.Path, path)
	if err != nil {
		return false
	}
	if d.git != nil && d.git.Match(path, isDir) {
		return true
	}
	return matchesIgnore(filepath.Base(path), filepath.ToSlash(rel), d.ignores)
}

// loadIgnorePatterns reads IgnoreFile from root. A missing file yields no
// patterns.
func loadIgnorePatterns(root string) []string {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// matchesIgnore checks a base name or slash-separated relative path against
// the patterns: exact names, path prefixes and globs.
func matchesIgnore(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		if name == p {
			return true
		}
		if relPath == p || strings.HasPrefix(relPath, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}
