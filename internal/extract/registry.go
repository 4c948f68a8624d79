package extract

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"
)

// Registry maps normalized extensions to extractor constructors. It is
// populated at startup and sealed; lookups are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	ctors  map[string]Constructor // ".ext" → constructor
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds ctor under each extension. Extensions are matched
// case-insensitively with or without a leading dot. Registering after Seal
// panics.
func (r *Registry) Register(ctor Constructor, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic(fmt.Sprintf("extract: register %v on a sealed registry", exts))
	}
	for _, ext := range exts {
		r.ctors[NormalizeExt(ext)] = ctor
	}
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup returns the constructor registered for ext.
func (r *Registry) Lookup(ext string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ctors[NormalizeExt(ext)]
	return c, ok
}

// LookupPath is Lookup on the extension of path.
func (r *Registry) LookupPath(path string) (Constructor, bool) {
	return r.Lookup(filepath.Ext(path))
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.ctors))
	for ext := range r.ctors {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}
