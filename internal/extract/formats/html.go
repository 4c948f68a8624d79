package formats

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterHTML registers HTML documents.
func RegisterHTML(r *extract.Registry) {
	r.Register(NewHTML, ".html", ".htm", ".xhtml")
}

// NewHTML builds an HTML extractor. The raw markup stays in text; the
// visible text and a Markdown rendering are reported alongside.
func NewHTML(path string, openFile bool) (extract.Extractor, error) {
	return newText(path, openFile, enrichHTML)
}

func enrichHTML(x *Text, meta extract.Metadata) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(x.text))
	if err != nil {
		return errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	doc.Find("script, style, noscript").Remove()

	meta["title"] = strings.TrimSpace(doc.Find("title").First().Text())
	meta["num_links"] = doc.Find("a[href]").Length()
	meta["num_images"] = doc.Find("img").Length()
	meta["num_headings"] = doc.Find("h1, h2, h3, h4, h5, h6").Length()
	meta["plain_text"] = strings.Join(strings.Fields(doc.Find("body").Text()), " ")

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(x.text)
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	meta["markdown"] = markdown
	return nil
}
