package formats

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"filesift/internal/extract"
)

// RegisterMarkdown registers Markdown documents.
func RegisterMarkdown(r *extract.Registry) {
	r.Register(NewMarkdown, ".md", ".markdown", ".mdown")
}

// NewMarkdown builds a Markdown extractor that counts headings, links and
// code blocks.
func NewMarkdown(path string, openFile bool) (extract.Extractor, error) {
	return newText(path, openFile, enrichMarkdown)
}

var markdownParser = goldmark.New().Parser()

func enrichMarkdown(x *Text, meta extract.Metadata) error {
	src := []byte(x.text)
	doc := markdownParser.Parse(text.NewReader(src))

	var headings, links, images, codeBlocks int
	title := ""
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			headings++
			if title == "" && node.Level == 1 {
				title = string(node.Text(src))
			}
		case *ast.Link, *ast.AutoLink:
			links++
		case *ast.Image:
			images++
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			codeBlocks++
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return err
	}

	meta["num_headings"] = headings
	meta["num_links"] = links
	meta["num_images"] = images
	meta["num_code_blocks"] = codeBlocks
	meta["title"] = title
	return nil
}
