package directory

import (
	"path/filepath"
	"slices"
	"strings"

	"filesift/internal/extract"
)

// FilterSpec selects which files a walk yields. Zero values disable a
// predicate. Sizes are inclusive byte bounds.
type FilterSpec struct {
	Extensions        []string `mapstructure:"extensions" json:"extensions,omitempty"`
	ExcludeExtensions []string `mapstructure:"exclude_extensions" json:"exclude_extensions,omitempty"`
	MinSize           int64    `mapstructure:"min_size" json:"min_size,omitempty"`
	MaxSize           int64    `mapstructure:"max_size" json:"max_size,omitempty"`
	// IncludeStr passes a path when at least one of its components is listed.
	IncludeStr []string `mapstructure:"include_str" json:"include_str,omitempty"`
	// ExcludeStr rejects a path when any of its components is listed.
	ExcludeStr []string `mapstructure:"exclude_str" json:"exclude_str,omitempty"`
}

// Match applies the predicates in order: exclude strings, include strings,
// extensions, excluded extensions, minimum size, maximum size. relPath is
// relative to the walk root.
func (f FilterSpec) Match(relPath string, size int64) bool {
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	if len(f.ExcludeStr) > 0 && slices.ContainsFunc(parts, func(p string) bool {
		return slices.Contains(f.ExcludeStr, p)
	}) {
		return false
	}
	if len(f.IncludeStr) > 0 && !slices.ContainsFunc(parts, func(p string) bool {
		return slices.Contains(f.IncludeStr, p)
	}) {
		return false
	}

	ext := extract.NormalizeExt(filepath.Ext(relPath))
	if len(f.Extensions) > 0 && !containsExt(f.Extensions, ext) {
		return false
	}
	if containsExt(f.ExcludeExtensions, ext) {
		return false
	}

	if f.MinSize > 0 && size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && size > f.MaxSize {
		return false
	}
	return true
}

func containsExt(list []string, ext string) bool {
	return slices.ContainsFunc(list, func(e string) bool {
		return extract.NormalizeExt(e) == ext
	})
}
