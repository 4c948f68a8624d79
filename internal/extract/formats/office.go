package formats

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/richardlehane/mscfb"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

var (
	zipMagic = []byte("PK\x03\x04")
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// RegisterOffice registers OOXML word-processor, presentation and
// spreadsheet documents.
func RegisterOffice(r *extract.Registry) {
	r.Register(NewDocx, ".docx", ".docm")
	r.Register(NewPptx, ".pptx", ".pptm")
	r.Register(NewXlsx, ".xlsx", ".xlsm")
}

// isEncrypted reports whether an OOXML file is password protected.
// Encrypted packages are stored as a compound file carrying EncryptionInfo
// and EncryptedPackage streams instead of a zip archive.
func isEncrypted(f *os.File) (bool, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(f, head); err != nil {
		return false, errs.Wrap(errs.FileCorruption, f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, errs.Wrap(errs.FileProcessingFailed, f.Name(), err)
	}

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return false, nil
	case bytes.Equal(head, cfbMagic):
	default:
		return false, errs.New(errs.FileCorruption, f.Name(), "not an OOXML package")
	}

	doc, err := mscfb.New(f)
	if err != nil {
		return false, errs.Wrap(errs.FileCorruption, f.Name(), err)
	}
	for {
		entry, err := doc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, errs.Wrap(errs.FileCorruption, f.Name(), err)
		}
		if entry.Name == "EncryptionInfo" || entry.Name == "EncryptedPackage" {
			return true, nil
		}
	}
	return false, errs.New(errs.FileCorruption, f.Name(), "compound file is not an encrypted OOXML package")
}

// openOOXML checks for encryption and, when the package is readable, opens
// it as a zip archive. A nil reader with a nil error means the document is
// locked.
func openOOXML(x *extract.Base) (*zip.ReadCloser, error) {
	f, err := x.Open()
	if err != nil {
		return nil, err
	}
	locked, err := isEncrypted(f)
	f.Close()
	if err != nil || locked {
		return nil, err
	}
	zr, err := zip.OpenReader(x.Path())
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	return zr, nil
}

func lockedMetadata() extract.Metadata {
	return extract.Metadata{
		"has_password":     true,
		extract.KeyText:    nil,
		"author":           nil,
		"last_modified_by": nil,
	}
}

func readMember(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readZipFile(f)
		}
	}
	return nil, os.ErrNotExist
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// coreProperties is docProps/core.xml. Only the fields filesift round-trips
// are decoded.
type coreProperties struct {
	Creator        string `xml:"creator"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Title          string `xml:"title"`
}

const corePropsPath = "docProps/core.xml"

func readCoreProperties(zr *zip.Reader) (coreProperties, error) {
	var cp coreProperties
	data, err := readMember(zr, corePropsPath)
	if errors.Is(err, os.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return cp, err
	}
	if err := xml.Unmarshal(data, &cp); err != nil {
		return cp, err
	}
	return cp, nil
}

const emptyCoreProps = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"></cp:coreProperties>`

// setCoreElement replaces the text of <prefix:local> in core.xml, inserting
// the element when it is missing.
func setCoreElement(doc, prefix, local, value string) string {
	var esc bytes.Buffer
	_ = xml.EscapeText(&esc, []byte(value))
	tag := prefix + ":" + local
	element := "<" + tag + ">" + esc.String() + "</" + tag + ">"

	re := regexp.MustCompile(`<` + regexp.QuoteMeta(tag) + `(\s[^>]*)?(/>|>[\s\S]*?</` + regexp.QuoteMeta(tag) + `>)`)
	if re.MatchString(doc) {
		return re.ReplaceAllLiteralString(doc, element)
	}
	return strings.Replace(doc, "</cp:coreProperties>", element+"</cp:coreProperties>", 1)
}

// rewriteCoreProperties copies the package at src to dst with author and
// last-modified-by replaced.
func rewriteCoreProperties(src, dst string, author, lastModifiedBy string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, src, err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	wroteCore := false
	for _, f := range zr.File {
		data, err := readZipFile(f)
		if err != nil {
			return errs.Wrap(errs.FileProcessingFailed, src, err)
		}
		if f.Name == corePropsPath {
			data = []byte(patchCore(string(data), author, lastModifiedBy))
			wroteCore = true
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: f.Method, Modified: f.Modified})
		if err != nil {
			return errs.Wrap(errs.FileProcessingFailed, dst, err)
		}
		if _, err := w.Write(data); err != nil {
			return errs.Wrap(errs.FileProcessingFailed, dst, err)
		}
	}
	if !wroteCore {
		w, err := zw.Create(corePropsPath)
		if err != nil {
			return errs.Wrap(errs.FileProcessingFailed, dst, err)
		}
		if _, err := io.WriteString(w, patchCore(emptyCoreProps, author, lastModifiedBy)); err != nil {
			return errs.Wrap(errs.FileProcessingFailed, dst, err)
		}
	}
	if err := zw.Close(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, dst, err)
	}
	return extract.WriteFile(dst, buf.Bytes())
}

func patchCore(doc, author, lastModifiedBy string) string {
	doc = setCoreElement(doc, "dc", "creator", author)
	return setCoreElement(doc, "cp", "lastModifiedBy", lastModifiedBy)
}

// ooxmlText walks WordprocessingML or DrawingML and renders paragraphs on
// their own lines and tables as " | " separated cells.
type ooxmlText struct {
	blocks     []string
	paragraphs int
	tables     int

	para       strings.Builder
	inPara     bool
	tableDepth int
	cell       []string
	row        []string
	rows       []string
}

func (w *ooxmlText) walk(data []byte, textTag string) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				w.inPara = true
				w.para.Reset()
			case textTag:
				inText = true
			case "tab":
				if w.inPara {
					w.para.WriteByte('\t')
				}
			case "br":
				if w.inPara {
					w.para.WriteByte('\n')
				}
			case "tbl":
				w.tableDepth++
				if w.tableDepth == 1 {
					w.rows = nil
				}
			case "tr":
				if w.tableDepth == 1 {
					w.row = nil
				}
			case "tc":
				if w.tableDepth == 1 {
					w.cell = nil
				}
			}
		case xml.CharData:
			if inText && w.inPara {
				w.para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textTag:
				inText = false
			case "p":
				w.inPara = false
				text := w.para.String()
				if w.tableDepth > 0 {
					w.cell = append(w.cell, text)
				} else {
					w.blocks = append(w.blocks, text)
					w.paragraphs++
				}
			case "tc":
				if w.tableDepth == 1 {
					w.row = append(w.row, strings.Join(w.cell, " "))
				}
			case "tr":
				if w.tableDepth == 1 {
					w.rows = append(w.rows, strings.Join(w.row, " | "))
				}
			case "tbl":
				if w.tableDepth == 1 {
					w.blocks = append(w.blocks, strings.Join(w.rows, "\n"))
					w.tables++
				}
				w.tableDepth--
			}
		}
	}
}

func (w *ooxmlText) text() string { return strings.Join(w.blocks, "\n") }

// Docx extracts Word documents.
type Docx struct {
	extract.Base
	author, lastModifiedBy string
}

// NewDocx builds a Word document extractor.
func NewDocx(path string, openFile bool) (extract.Extractor, error) {
	x := &Docx{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *Docx) read() (extract.Metadata, error) {
	zr, err := openOOXML(&x.Base)
	if err != nil {
		return nil, err
	}
	if zr == nil {
		return lockedMetadata(), nil
	}
	defer zr.Close()

	body, err := readMember(&zr.Reader, "word/document.xml")
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), fmt.Errorf("word/document.xml: %w", err))
	}
	var w ooxmlText
	if err := w.walk(body, "t"); err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	cp, err := readCoreProperties(&zr.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	x.author, x.lastModifiedBy = cp.Creator, cp.LastModifiedBy

	return extract.Metadata{
		"has_password":     false,
		extract.KeyText:    w.text(),
		"author":           cp.Creator,
		"last_modified_by": cp.LastModifiedBy,
		"num_paragraphs":   w.paragraphs,
		"num_tables":       w.tables,
	}, nil
}

// SetAuthor sets the author written by the next Save.
func (x *Docx) SetAuthor(s string) { x.author = s }

// SetLastModifiedBy sets the last-modified-by written by the next Save.
func (x *Docx) SetLastModifiedBy(s string) { x.lastModifiedBy = s }

// Save writes the document with its core properties updated.
func (x *Docx) Save(outputPath string) error {
	return saveOOXML(&x.Base, outputPath, x.author, x.lastModifiedBy)
}

func saveOOXML(b *extract.Base, outputPath, author, lastModifiedBy string) error {
	if !b.Opened() {
		return b.CopyTo(outputPath)
	}
	if locked, _ := b.Meta()["has_password"].(bool); locked {
		return errs.New(errs.FileProcessingFailed, b.Path(), "cannot save a password protected document")
	}
	return rewriteCoreProperties(b.Path(), b.Target(outputPath), author, lastModifiedBy)
}

// Pptx extracts PowerPoint presentations.
type Pptx struct {
	extract.Base
	author, lastModifiedBy string
}

// NewPptx builds a presentation extractor.
func NewPptx(path string, openFile bool) (extract.Extractor, error) {
	x := &Pptx{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

var slidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func (x *Pptx) read() (extract.Metadata, error) {
	zr, err := openOOXML(&x.Base)
	if err != nil {
		return nil, err
	}
	if zr == nil {
		return lockedMetadata(), nil
	}
	defer zr.Close()

	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slidePath.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, name: f.Name})
		}
	}
	slices.SortFunc(slides, func(a, b slide) int { return a.n - b.n })

	var texts []string
	for _, s := range slides {
		data, err := readMember(&zr.Reader, s.name)
		if err != nil {
			return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
		}
		var w ooxmlText
		if err := w.walk(data, "t"); err != nil {
			return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
		}
		texts = append(texts, w.text())
	}
	cp, err := readCoreProperties(&zr.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	x.author, x.lastModifiedBy = cp.Creator, cp.LastModifiedBy

	return extract.Metadata{
		"has_password":     false,
		extract.KeyText:    strings.Join(texts, "\n"),
		"author":           cp.Creator,
		"last_modified_by": cp.LastModifiedBy,
		"num_slides":       len(slides),
	}, nil
}

// SetAuthor sets the author written by the next Save.
func (x *Pptx) SetAuthor(s string) { x.author = s }

// SetLastModifiedBy sets the last-modified-by written by the next Save.
func (x *Pptx) SetLastModifiedBy(s string) { x.lastModifiedBy = s }

// Save writes the presentation with its core properties updated.
func (x *Pptx) Save(outputPath string) error {
	return saveOOXML(&x.Base, outputPath, x.author, x.lastModifiedBy)
}
