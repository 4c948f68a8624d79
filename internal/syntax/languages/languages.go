// Package languages registers the tree-sitter grammars bundled with filesift.
package languages

import "filesift/internal/syntax"

// Default returns a registry holding every bundled grammar.
func Default() *syntax.Registry {
	r := syntax.NewRegistry()
	RegisterGo(r)
	RegisterPython(r)
	RegisterJavaScript(r)
	RegisterTypeScript(r)
	return r
}
