package languages

import (
	"filesift/internal/syntax"

	"github.com/smacker/go-tree-sitter/golang"
)

func RegisterGo(r *syntax.Registry) {
	r.Register(&syntax.Grammar{
		Name:     "go",
		Language: golang.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @def
			(method_declaration name: (field_identifier) @name) @def
			(type_declaration (type_spec name: (type_identifier) @name)) @def
		`,
		Extensions: []string{"go"},
	})
}
