// Package formats holds one extractor per supported file family and the
// default extension registry.
package formats

import (
	"sync"

	"filesift/internal/extract"
)

// RegisterAll adds every bundled extractor to r.
func RegisterAll(r *extract.Registry) {
	RegisterText(r)
	RegisterMarkdown(r)
	RegisterHTML(r)
	RegisterXML(r)
	RegisterSource(r)
	RegisterCSV(r)
	RegisterJSON(r)
	RegisterOffice(r)
	RegisterPDF(r)
	RegisterImages(r)
	RegisterAudio(r)
	RegisterMSG(r)
	RegisterArchives(r)
	RegisterEXE(r)
	RegisterGGUF(r)
}

// Default is the process-wide registry. It is built on first use and
// sealed, so it never changes afterwards.
var Default = sync.OnceValue(func() *extract.Registry {
	r := extract.NewRegistry()
	RegisterAll(r)
	r.Seal()
	return r
})
