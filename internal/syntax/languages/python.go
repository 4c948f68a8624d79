package languages

import (
	"filesift/internal/syntax"

	"github.com/smacker/go-tree-sitter/python"
)

func RegisterPython(r *syntax.Registry) {
	r.Register(&syntax.Grammar{
		Name:     "python",
		Language: python.GetLanguage(),
		Query: `
			(function_definition name: (identifier) @name) @def
			(class_definition name: (identifier) @name) @def
			(decorated_definition definition: (function_definition name: (identifier) @name)) @def
			(decorated_definition definition: (class_definition name: (identifier) @name)) @def
		`,
		Extensions: []string{"py", "pyi"},
	})
}
