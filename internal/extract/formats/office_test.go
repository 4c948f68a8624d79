package formats

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

func writeZip(t *testing.T, path string, members map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

const testDocument = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Hello</w:t></w:r></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>a</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>b</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
<w:p><w:r><w:t>World</w:t></w:r></w:p>
</w:body></w:document>`

const testCore = `<?xml version="1.0" encoding="UTF-8"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:creator>Alice</dc:creator><cp:lastModifiedBy>Bob</cp:lastModifiedBy></cp:coreProperties>`

func TestDocxText(t *testing.T) {
	p := writeZip(t, filepath.Join(t.TempDir(), "memo.docx"), map[string]string{
		"word/document.xml": testDocument,
		"docProps/core.xml": testCore,
	})

	x, err := NewDocx(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, false, m["has_password"])
	assert.Equal(t, "Hello\na | b\nWorld", m[extract.KeyText])
	assert.Equal(t, "Alice", m["author"])
	assert.Equal(t, "Bob", m["last_modified_by"])
	assert.Equal(t, 2, m["num_paragraphs"])
	assert.Equal(t, 1, m["num_tables"])
}

func TestDocxSaveRewritesCoreProperties(t *testing.T) {
	dir := t.TempDir()
	p := writeZip(t, filepath.Join(dir, "memo.docx"), map[string]string{
		"word/document.xml": testDocument,
		"docProps/core.xml": testCore,
	})

	x, err := NewDocx(p, true)
	require.NoError(t, err)
	d := x.(*Docx)
	d.SetAuthor("Carol & Co")
	d.SetLastModifiedBy("Dave")
	out := filepath.Join(dir, "copy.docx")
	require.NoError(t, d.Save(out))

	y, err := NewDocx(out, true)
	require.NoError(t, err)
	m := y.Metadata()
	assert.Equal(t, "Carol & Co", m["author"])
	assert.Equal(t, "Dave", m["last_modified_by"])
	assert.Equal(t, "Hello\na | b\nWorld", m[extract.KeyText])
}

func TestPptxSlidesInOrder(t *testing.T) {
	slide := func(s string) string {
		return `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + s + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	p := writeZip(t, filepath.Join(t.TempDir(), "deck.pptx"), map[string]string{
		"ppt/slides/slide10.xml": slide("ten"),
		"ppt/slides/slide2.xml":  slide("two"),
		"ppt/slides/slide1.xml":  slide("one"),
	})

	x, err := NewPptx(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, 3, m["num_slides"])
	assert.Equal(t, "one\ntwo\nten", m[extract.KeyText])
	assert.Equal(t, "", m["author"])
}

// compoundFile builds a minimal version 3 compound file whose root storage
// holds one empty stream with the given name.
func compoundFile(t *testing.T, stream string) []byte {
	t.Helper()
	const (
		sector     = 512
		endOfChain = 0xFFFFFFFE
		freeSect   = 0xFFFFFFFF
		fatSect    = 0xFFFFFFFD
		noStream   = 0xFFFFFFFF
	)
	le := binary.LittleEndian
	buf := make([]byte, 3*sector)

	h := buf[:sector]
	copy(h, cfbMagic)
	le.PutUint16(h[24:], 0x003E)
	le.PutUint16(h[26:], 0x0003)
	le.PutUint16(h[28:], 0xFFFE)
	le.PutUint16(h[30:], 9)
	le.PutUint16(h[32:], 6)
	le.PutUint32(h[44:], 1)          // FAT sectors
	le.PutUint32(h[48:], 1)          // first directory sector
	le.PutUint32(h[56:], 4096)       // mini stream cutoff
	le.PutUint32(h[60:], endOfChain) // mini FAT
	le.PutUint32(h[68:], endOfChain) // DIFAT
	le.PutUint32(h[76:], 0)          // FAT lives in sector 0
	for off := 80; off < sector; off += 4 {
		le.PutUint32(h[off:], freeSect)
	}

	fat := buf[sector : 2*sector]
	for off := 0; off < sector; off += 4 {
		le.PutUint32(fat[off:], freeSect)
	}
	le.PutUint32(fat[0:], fatSect)
	le.PutUint32(fat[4:], endOfChain)

	dir := buf[2*sector:]
	entry := func(i int, name string, typ byte, child uint32) {
		e := dir[i*128 : (i+1)*128]
		units := utf16.Encode([]rune(name))
		for j, u := range units {
			le.PutUint16(e[j*2:], u)
		}
		le.PutUint16(e[64:], uint16((len(units)+1)*2))
		e[66] = typ
		e[67] = 1
		le.PutUint32(e[68:], noStream)
		le.PutUint32(e[72:], noStream)
		le.PutUint32(e[76:], child)
		le.PutUint32(e[116:], endOfChain)
	}
	entry(0, "Root Entry", 5, 1)
	entry(1, stream, 2, noStream)
	for i := 2; i < 4; i++ {
		e := dir[i*128 : (i+1)*128]
		le.PutUint32(e[68:], noStream)
		le.PutUint32(e[72:], noStream)
		le.PutUint32(e[76:], noStream)
	}
	return buf
}

func TestLockedDocxReportsPassword(t *testing.T) {
	p := filepath.Join(t.TempDir(), "secret.docx")
	require.NoError(t, os.WriteFile(p, compoundFile(t, "EncryptionInfo"), 0o644))

	x, err := NewDocx(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, true, m["has_password"])
	assert.Nil(t, m[extract.KeyText])
	assert.Contains(t, m, extract.KeyText)

	err = x.Save(filepath.Join(t.TempDir(), "out.docx"))
	assert.Equal(t, errs.FileProcessingFailed, errs.KindOf(err))
}

func TestOOXMLGarbageIsCorruption(t *testing.T) {
	p := writeFile(t, t.TempDir(), "junk.xlsx", "definitely not a workbook")

	_, err := NewXlsx(p, true)
	assert.Equal(t, errs.FileCorruption, errs.KindOf(err))
}

func TestXlsxSheets(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "book.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "age"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "ann"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "30"))
	require.NoError(t, f.SetDocProps(&excelize.DocProperties{Creator: "Eve"}))
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	x, err := NewXlsx(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, []string{"Sheet1"}, m["sheet_names"])
	assert.Equal(t, "Sheet1", m["active_sheet"])
	assert.Equal(t, "Eve", m["author"])
	assert.Equal(t, "name | age\nann | 30", m[extract.KeyText])
	assert.Equal(t, map[string][][]string{"Sheet1": {{"name", "age"}, {"ann", "30"}}}, m["data"])

	wb := x.(*Xlsx)
	wb.SetAuthor("Frank")
	out := filepath.Join(dir, "book2.xlsx")
	require.NoError(t, wb.Save(out))
	y, err := NewXlsx(out, true)
	require.NoError(t, err)
	assert.Equal(t, "Frank", y.Metadata()["author"])
}

func TestPDFPagesAndInfo(t *testing.T) {
	p := filepath.Join(t.TempDir(), "doc.pdf")
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAuthor("Grace", false)
	pdf.SetTitle("Quarterly", false)
	for _, line := range []string{"Hello first page", "Hello second page"} {
		pdf.AddPage()
		pdf.SetFont("Arial", "", 12)
		pdf.Cell(40, 10, line)
	}
	require.NoError(t, pdf.OutputFileAndClose(p))

	x, err := NewPDF(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, false, m["has_password"])
	assert.Equal(t, 2, m["num_pages"])
	assert.Equal(t, "Grace", m["author"])
	assert.Equal(t, "Quarterly", m["title"])
	assert.Contains(t, m[extract.KeyText], "Hello")
}

func TestPDFGarbageIsCorruption(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.pdf", "%PDF-1.4 nothing else")

	x, err := NewPDF(p, true)
	require.Error(t, err)
	assert.Equal(t, errs.FileCorruption, errs.KindOf(err))
	assert.Equal(t, "FileCorruptionError", x.Metadata()[extract.KeyError])
}
