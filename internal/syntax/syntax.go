// Package syntax extracts top-level definitions from source files with
// tree-sitter grammars.
package syntax

import (
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// Symbol is a top-level definition found in a source file.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Outline parses src with the grammar registered for path and returns its
// top-level definitions in source order. A path without a grammar yields
// nil and no error.
func (r *Registry) Outline(ctx context.Context, path string, src []byte) ([]Symbol, error) {
	g := r.Lookup(path)
	if g == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.Language)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(g.Query), g.Language)
	if err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", g.Name, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var spans []span
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var def *sitter.Node
		var name string
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "def":
				def = c.Node
			case "name":
				name = c.Node.Content(src)
			}
		}
		if def == nil {
			continue
		}
		spans = append(spans, span{
			Symbol: Symbol{
				Name:      name,
				Kind:      def.Type(),
				StartLine: int(def.StartPoint().Row) + 1,
				EndLine:   int(def.EndPoint().Row) + 1,
			},
			start: def.StartByte(),
			end:   def.EndByte(),
		})
	}

	spans = outermost(spans)
	out := make([]Symbol, len(spans))
	for i, s := range spans {
		out[i] = s.Symbol
	}
	return out, nil
}

type span struct {
	Symbol
	start, end uint32
}

// outermost drops spans nested inside an earlier, larger span.
func outermost(spans []span) []span {
	if len(spans) <= 1 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end-spans[i].start > spans[j].end-spans[j].start
	})

	var result []span
	var lastEnd uint32
	for i, s := range spans {
		if i == 0 || s.start >= lastEnd {
			result = append(result, s)
			if s.end > lastEnd {
				lastEnd = s.end
			}
		}
	}
	return result
}
