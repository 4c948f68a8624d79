package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesift/internal/errs"
	"filesift/internal/extract"
	"filesift/internal/report"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func names(t *testing.T, d *Directory, o WalkOptions) []string {
	t.Helper()
	var out []string
	for rec, err := range d.Files(o) {
		require.NoError(t, err)
		rel, err := filepath.Rel(d.Path, rec.AbsolutePath)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestFilterSpecMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter FilterSpec
		path   string
		size   int64
		want   bool
	}{
		{"empty_accepts_all", FilterSpec{}, "a/b.txt", 10, true},
		{"extension_allowed", FilterSpec{Extensions: []string{".csv", "PDF"}}, "x/report.pdf", 1, true},
		{"extension_rejected", FilterSpec{Extensions: []string{".csv"}}, "x/report.pdf", 1, false},
		{"exclude_extension", FilterSpec{ExcludeExtensions: []string{".log"}}, "run.LOG", 1, false},
		{"min_size_inclusive", FilterSpec{MinSize: 10}, "a.txt", 10, true},
		{"below_min_size", FilterSpec{MinSize: 10}, "a.txt", 9, false},
		{"max_size_inclusive", FilterSpec{MaxSize: 10}, "a.txt", 10, true},
		{"above_max_size", FilterSpec{MaxSize: 10}, "a.txt", 11, false},
		{"include_component", FilterSpec{IncludeStr: []string{"finance"}}, "finance/q1/a.txt", 1, true},
		{"include_missing", FilterSpec{IncludeStr: []string{"finance"}}, "hr/finance.txt", 1, false},
		{"exclude_component", FilterSpec{ExcludeStr: []string{"tmp"}}, "tmp/a.txt", 1, false},
		{"exclude_beats_include", FilterSpec{IncludeStr: []string{"a.txt"}, ExcludeStr: []string{"tmp"}}, "tmp/a.txt", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tt.path, tt.size))
		})
	}
}

func TestNewRejectsFiles(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.txt", "x")
	_, err := New(p, Options{})
	assert.Equal(t, errs.FileProcessingFailed, errs.KindOf(err))
}

func TestFilesLexicalOrderAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "b")
	writeFile(t, dir, "a.csv", "x,y\n1,2\n")
	writeFile(t, dir, "sub/c.txt", "c")
	writeFile(t, dir, "sub/d.json", `{"k": 1}`)

	d, err := New(dir, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.csv", "b.txt", "sub/c.txt", "sub/d.json"}, names(t, d, WalkOptions{}))
	assert.Equal(t, []string{"b.txt", "sub/c.txt"}, names(t, d, WalkOptions{Filters: FilterSpec{Extensions: []string{".txt"}}}))
	assert.Equal(t, []string{"sub/c.txt", "sub/d.json"}, names(t, d, WalkOptions{StartAt: 2}))
}

func TestFilesUnopenedAndOpened(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "one two three")

	d, err := New(dir, Options{})
	require.NoError(t, err)

	for rec, err := range d.Files(WalkOptions{}) {
		require.NoError(t, err)
		assert.False(t, rec.OpenFile)
		assert.Equal(t, extract.NotOpenedMessage, rec.Metadata[extract.KeyMessage])
	}
	for rec, err := range d.Files(WalkOptions{OpenFiles: true}) {
		require.NoError(t, err)
		assert.True(t, rec.OpenFile)
		assert.Equal(t, 3, rec.Metadata["num_words"])
	}
}

func TestBadFileBecomesErrorRecord(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"a": 1,`)
	writeFile(t, dir, "b.txt", "fine")

	d, err := New(dir, Options{})
	require.NoError(t, err)
	recs, err := d.Records(WalkOptions{OpenFiles: true})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.False(t, recs[0].OpenFile)
	assert.Equal(t, extract.Metadata{extract.KeyError: "FileCorruptionError"}, recs[0].Metadata)
	assert.Equal(t, ".json", recs[0].Extension)
	assert.True(t, recs[1].OpenFile)
}

func TestStoppingIterationStopsWalk(t *testing.T) {
	dir := t.TempDir()
	for i := range 5 {
		writeFile(t, dir, fmt.Sprintf("f%d.txt", i), "x")
	}
	var progress []int
	d, err := New(dir, Options{Progress: func(n int, _ string) { progress = append(progress, n) }})
	require.NoError(t, err)

	for range d.Files(WalkOptions{}) {
		if len(progress) == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 2}, progress)
}

func TestBatches(t *testing.T) {
	dir := t.TempDir()
	for i := range 7 {
		writeFile(t, dir, fmt.Sprintf("f%d.txt", i), "x")
	}
	d, err := New(dir, Options{})
	require.NoError(t, err)

	var sizes []int
	for batch, err := range d.Batches(WalkOptions{}, 3) {
		require.NoError(t, err)
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)

	sizes = nil
	for batch, err := range d.Batches(WalkOptions{}, 0) {
		require.NoError(t, err)
		sizes = append(sizes, len(batch))
	}
	assert.Len(t, sizes, 7)
}

func TestIgnorePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "node_modules/pkg/index.js", "x")
	writeFile(t, dir, "docs/gen/out.txt", "x")
	writeFile(t, dir, "docs/keep.txt", "x")

	d, err := New(dir, Options{Ignore: append([]string{"docs/gen"}, DefaultIgnores...)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "docs/keep.txt"}, names(t, d, WalkOptions{}))
}

func TestIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, IgnoreFile, "# comment\n\n*.tmp\n")
	assert.Equal(t, []string{"*.tmp"}, loadIgnorePatterns(dir))
	assert.Nil(t, loadIgnorePatterns(t.TempDir()))
}

func TestRespectGitignore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "*.log\nbuild/\n")
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "run.log", "x")
	writeFile(t, dir, "build/out.txt", "x")

	d, err := New(dir, Options{})
	require.NoError(t, err)
	assert.Len(t, names(t, d, WalkOptions{}), 4)

	d, err = New(dir, Options{RespectGitignore: true})
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "a.txt"}, names(t, d, WalkOptions{}))
}

func TestAnalytics(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", strings.Repeat("x", 1024*1024))
	writeFile(t, dir, "b.TXT", strings.Repeat("x", 512*1024))
	writeFile(t, dir, "c.csv", "a,b\n")

	d, err := New(dir, Options{})
	require.NoError(t, err)
	rows, err := d.Analytics(FilterSpec{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ".csv", rows[0].Extension)
	assert.Equal(t, 1, rows[0].Count)
	assert.Equal(t, ".txt", rows[1].Extension)
	assert.Equal(t, 2, rows[1].Count)
	assert.InDelta(t, 1.5, rows[1].SizeMB, 1e-9)

	out := filepath.Join(dir, "out", "analytics.csv")
	require.NoError(t, WriteAnalytics(out, rows))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "extension,size (MB),count\n"))
	assert.Contains(t, string(data), ".txt,1.5,2\n")

	assert.Equal(t, errs.EmptySelection, errs.KindOf(WriteAnalytics(out, nil)))
}

func TestReportFilterByExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "data.csv", "a,b\n1,2\n")
	writeFile(t, dir, "paper.pdf", "not really a pdf")
	writeFile(t, dir, "pic.png", "not really a png")
	writeFile(t, dir, "conf.json", `{"a": 1}`)

	d, err := New(dir, Options{})
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "report.csv")
	walk := WalkOptions{OpenFiles: true, Filters: FilterSpec{Extensions: []string{".csv", ".pdf"}}}
	require.NoError(t, d.Report(out, walk, report.Options{BatchSize: 10}))

	rows, err := report.ReadRows(out)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Contains(t, []string{".csv", ".pdf"}, r[report.ColExtension])
	}
}

func TestReportEmptySelection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "x")
	d, err := New(dir, Options{})
	require.NoError(t, err)

	err = d.Report(filepath.Join(t.TempDir(), "r.csv"), WalkOptions{Filters: FilterSpec{Extensions: []string{".pdf"}}}, report.Options{})
	assert.Equal(t, errs.EmptySelection, errs.KindOf(err))
}

func TestReportResumesAfterCrash(t *testing.T) {
	dir := t.TempDir()
	for i := range 100 {
		writeFile(t, dir, fmt.Sprintf("f%03d.txt", i), fmt.Sprintf("file %d", i))
	}
	d, err := New(dir, Options{})
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "report.csv")
	walk := WalkOptions{OpenFiles: true}

	// Two batches land before the crash.
	w, err := report.Create(out, report.Options{})
	require.NoError(t, err)
	written := 0
	for batch, err := range d.Batches(walk, 25) {
		require.NoError(t, err)
		require.NoError(t, w.Write(batch))
		if written++; written == 2 {
			break
		}
	}

	require.NoError(t, d.Report(out, walk, report.Options{BatchSize: 25, RecoveryMode: true}))

	rows, err := report.ReadRows(out)
	require.NoError(t, err)
	require.Len(t, rows, 100)
	seen := map[string]bool{}
	for _, r := range rows {
		name := r[report.ColFileName]
		assert.False(t, seen[name], name)
		seen[name] = true
	}
}

func TestIdentifyDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "quarterly budget review")
	writeFile(t, dir, "b.txt", "quarterly budget review")
	writeFile(t, dir, "c.md", "# Holiday\n\nSnow and mountains.\n")
	writeFile(t, dir, "empty.txt", "   ")
	writeFile(t, dir, "pic.png", "no text here")

	d, err := New(dir, Options{})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "matrix.csv")
	dup, err := d.IdentifyDuplicates(DuplicateOptions{OutputPath: out})
	require.NoError(t, err)
	require.NotNil(t, dup.Matrix)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.md"}, dup.Matrix.Labels)
	assert.Equal(t, 1.0, dup.Matrix.Values[0][1])
	assert.FileExists(t, out)

	dup, err = d.IdentifyDuplicates(DuplicateOptions{Threshold: 0.8, TopN: 1})
	require.NoError(t, err)
	require.Len(t, dup.Neighbours, 3)
	require.Len(t, dup.Neighbours[0].Matches, 1)
	assert.Equal(t, "b.txt", dup.Neighbours[0].Matches[0].Label)
	assert.Empty(t, dup.Neighbours[2].Matches)
}
