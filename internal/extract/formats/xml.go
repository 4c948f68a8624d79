package formats

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"filesift/internal/extract"
)

// RegisterXML registers XML documents.
func RegisterXML(r *extract.Registry) {
	r.Register(NewXML, ".xml", ".xsd", ".xsl", ".svg", ".plist")
}

// NewXML builds an XML extractor reporting the root element and element
// count. Malformed documents keep their text fields and report
// well_formed=false.
func NewXML(path string, openFile bool) (extract.Extractor, error) {
	return newText(path, openFile, enrichXML)
}

func enrichXML(x *Text, meta extract.Metadata) error {
	dec := xml.NewDecoder(strings.NewReader(x.text))
	dec.Strict = false
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	root := ""
	elements := 0
	wellFormed := true
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			wellFormed = false
			break
		}
		if se, ok := tok.(xml.StartElement); ok {
			if root == "" {
				root = se.Name.Local
			}
			elements++
		}
	}

	meta["root_element"] = root
	meta["num_elements"] = elements
	meta["well_formed"] = wellFormed && root != ""
	return nil
}
