package formats

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterPDF registers PDF documents.
func RegisterPDF(r *extract.Registry) {
	r.Register(NewPDF, ".pdf")
}

// PDF extracts page text and document info.
type PDF struct {
	extract.Base
}

// NewPDF builds a PDF extractor.
func NewPDF(path string, openFile bool) (extract.Extractor, error) {
	x := &PDF{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *PDF) read() (meta extract.Metadata, err error) {
	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			meta, err = nil, errs.Newf(errs.FileCorruption, x.Path(), "pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(x.Path())
	if errors.Is(err, pdf.ErrInvalidPassword) {
		return lockedPDF(), nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	defer f.Close()

	if !r.Trailer().Key("Encrypt").IsNull() {
		return lockedPDF(), nil
	}

	pages := r.NumPage()
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		text, err := pageText(r, i)
		if err != nil {
			logger.Warnf("pdf %s: page %d: %v", x.Path(), i, err)
			continue
		}
		b.WriteString(text)
	}

	info := r.Trailer().Key("Info")
	return extract.Metadata{
		"has_password":  false,
		extract.KeyText: b.String(),
		"num_pages":     pages,
		"author":        info.Key("Author").Text(),
		"producer":      info.Key("Producer").Text(),
		"title":         info.Key("Title").Text(),
	}, nil
}

func pageText(r *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extract text: %v", rec)
		}
	}()
	p := r.Page(i)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func lockedPDF() extract.Metadata {
	return extract.Metadata{"has_password": true, extract.KeyText: nil}
}

// Save copies the document. Encrypted sources are refused.
func (x *PDF) Save(outputPath string) error {
	if locked, _ := x.Meta()["has_password"].(bool); locked {
		return errs.New(errs.FileProcessingFailed, x.Path(), "cannot save an encrypted PDF")
	}
	return x.CopyTo(outputPath)
}
