package syntax

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Grammar pairs a tree-sitter language with the query that captures its
// top-level definitions.
type Grammar struct {
	Name     string
	Language *sitter.Language
	// Query must capture the definition node as @def and, optionally, its
	// identifier as @name.
	Query      string
	Extensions []string
}

// Registry maps file extensions to grammars.
type Registry struct {
	mu     sync.RWMutex
	byExt  map[string]*Grammar // extension without dot → grammar
	byName map[string]*Grammar
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byExt:  make(map[string]*Grammar),
		byName: make(map[string]*Grammar),
	}
}

// Register adds g under its name and extensions.
func (r *Registry) Register(g *Grammar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[g.Name] = g
	for _, ext := range g.Extensions {
		r.byExt[strings.ToLower(ext)] = g
	}
}

// Lookup returns the grammar for path based on its extension, or nil.
func (r *Registry) Lookup(path string) *Grammar {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byExt[ext]
}

// Language returns the grammar registered under name, or nil.
func (r *Registry) Language(name string) *Grammar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}
