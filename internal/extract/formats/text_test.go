package formats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestTextStats(t *testing.T) {
	p := writeFile(t, t.TempDir(), "notes.txt", "hello world\nsecond line")

	x, err := NewText(p, true)
	require.NoError(t, err)

	m := x.Metadata()
	assert.Equal(t, "hello world\nsecond line", m[extract.KeyText])
	assert.Equal(t, "ascii", m["encoding"])
	assert.Equal(t, 2, m["num_lines"])
	assert.Equal(t, 4, m["num_words"])
	assert.Equal(t, 23, m["num_chars"])
}

func TestTextSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", "old")

	x, err := NewText(p, true)
	require.NoError(t, err)
	x.(*Text).SetText("new content")

	out := filepath.Join(dir, "out", "b.txt")
	require.NoError(t, x.Save(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))

	src, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "old", string(src), "saving elsewhere leaves the source untouched")
}

func TestGitignorePatterns(t *testing.T) {
	p := writeFile(t, t.TempDir(), ".gitignore", "# build\nbin/\n*.log\n\n!keep.log\n")

	x, err := NewGitignore(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, 3, m["num_patterns"])
	assert.Equal(t, 1, m["num_negations"])
	assert.Equal(t, []string{"bin/", "*.log", "!keep.log"}, m["patterns"])
}

func TestCSVCounts(t *testing.T) {
	p := writeFile(t, t.TempDir(), "t.csv", "a,b,c\n1,,3\n4,5,6\n")

	x, err := NewCSV(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, 3, m["num_rows"])
	assert.Equal(t, 3, m["num_cols"])
	assert.Equal(t, 9, m["num_cells"])
	assert.Equal(t, 1, m["empty_cells"])
}

func TestCSVRaggedRowsUseFirstRowWidth(t *testing.T) {
	p := writeFile(t, t.TempDir(), "t.tsv", "a\tb\n1\t2\t3\n \t\n")

	x, err := NewCSV(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, 2, m["num_cols"])
	assert.Equal(t, 7, m["num_cells"])
	assert.Equal(t, 2, m["empty_cells"])
}

func TestJSONKeys(t *testing.T) {
	p := writeFile(t, t.TempDir(), "d.json", `{"a": 1, "b": "", "c": {"d": null}, "e": [], "f": [{"g": 1}]}`)

	x, err := NewJSON(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, m["key_names"])
	assert.Equal(t, 6, m["num_keys"])
	assert.Equal(t, 3, m["empty_values"])
}

func TestJSONTruncatedIsCorruption(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.json", `{"a": [1, 2`)

	x, err := NewJSON(p, true)
	require.Error(t, err)
	assert.Equal(t, errs.FileCorruption, errs.KindOf(err))
	require.NotNil(t, x)
	assert.Equal(t, extract.Metadata{extract.KeyError: "FileCorruptionError"}, x.Metadata())
	assert.Equal(t, "bad.json", x.Attributes().Name)
}

func TestMarkdownStructure(t *testing.T) {
	src := "# Guide\n\nSee [docs](https://example.com) and ![img](a.png).\n\n## Usage\n\n```go\nfmt.Println()\n```\n"
	p := writeFile(t, t.TempDir(), "README.md", src)

	x, err := NewMarkdown(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, "Guide", m["title"])
	assert.Equal(t, 2, m["num_headings"])
	assert.Equal(t, 1, m["num_links"])
	assert.Equal(t, 1, m["num_images"])
	assert.Equal(t, 1, m["num_code_blocks"])
	assert.Equal(t, 10, m["num_lines"])
}

func TestHTMLMetadata(t *testing.T) {
	src := `<html><head><title> Report </title><script>var x = 1;</script></head>
<body><h1>Top</h1>
<p>Read <a href="/a">this</a> and <a href="/b">that</a>.</p><img src="x.png"></body></html>`
	p := writeFile(t, t.TempDir(), "page.html", src)

	x, err := NewHTML(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, src, m[extract.KeyText])
	assert.Equal(t, "Report", m["title"])
	assert.Equal(t, 2, m["num_links"])
	assert.Equal(t, 1, m["num_images"])
	assert.Equal(t, 1, m["num_headings"])
	assert.Equal(t, "Top Read this and that.", m["plain_text"])
	assert.Contains(t, m["markdown"], "# Top")
}

func TestXMLWellFormed(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "a.xml", `<?xml version="1.0"?><root><item/><item>x</item></root>`)
	bad := writeFile(t, dir, "b.xml", `<root><item>unclosed`)

	x, err := NewXML(good, true)
	require.NoError(t, err)
	assert.Equal(t, "root", x.Metadata()["root_element"])
	assert.Equal(t, 3, x.Metadata()["num_elements"])
	assert.Equal(t, true, x.Metadata()["well_formed"])

	x, err = NewXML(bad, true)
	require.NoError(t, err)
	assert.Equal(t, false, x.Metadata()["well_formed"])
}

func TestSourceCounts(t *testing.T) {
	src := `package main

import (
	"fmt"
	"os"
)

// Greeter says hello.
type Greeter struct{}

func (Greeter) Hello() { fmt.Println("hi") }

func main() {
	os.Exit(0)
}
`
	p := writeFile(t, t.TempDir(), "main.go", src)

	x, err := NewSource(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, "go", m["language"])
	assert.Equal(t, 2, m["num_functions"])
	assert.Equal(t, 1, m["num_classes"])
	assert.Equal(t, 3, m["num_imports"])
	assert.Equal(t, 1, m["num_comments"])
	assert.NotContains(t, m, "num_includes")
	assert.Subset(t, m["symbols"], []string{"Greeter", "main"})
}

func TestSourceCIncludes(t *testing.T) {
	src := "#include <stdio.h>\n#include \"x.h\"\n#define N 3\n\nint main(void) {\n\treturn 0;\n}\n"
	p := writeFile(t, t.TempDir(), "prog.c", src)

	x, err := NewSource(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, "c", m["language"])
	assert.Equal(t, 2, m["num_includes"])
	assert.Equal(t, 1, m["num_defines"])
	assert.Equal(t, 1, m["num_functions"])
}

func TestGenericNeverReads(t *testing.T) {
	p := writeFile(t, t.TempDir(), "blob.xyz", "data")

	x, err := NewGeneric(p, true)
	require.NoError(t, err)
	assert.Equal(t, extract.Metadata{extract.KeyMessage: GenericMessage}, x.Metadata())
}

func TestDirectoryTopLevelOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "12345")
	writeFile(t, dir, "b.txt", "123")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeFile(t, sub, "deep.txt", "1234567890")

	x, err := NewDir(dir, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, 3, m["num_items"])
	assert.Equal(t, int64(8), m["total_size"])

	d := x.(*Dir)
	files, err := d.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")}, files)
	subs, err := d.Subdirectories()
	require.NoError(t, err)
	assert.Equal(t, []string{sub}, subs)
}

func TestDefaultRegistryIsSealed(t *testing.T) {
	r := Default()
	ctor, ok := r.Lookup(".DOCX")
	require.True(t, ok)
	assert.NotNil(t, ctor)
	assert.Contains(t, r.Extensions(), ".gguf")
	assert.Panics(t, func() { r.Register(NewGeneric, ".new") })
}
