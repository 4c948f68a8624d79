package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesift/internal/errs"
)

type lineCounter struct {
	Base
}

func newLineCounter(path string, openFile bool) (Extractor, error) {
	x := &lineCounter{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *lineCounter) read() (Metadata, error) {
	data, err := x.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errs.New(errs.FileCorruption, x.Path(), "empty")
	}
	return Metadata{KeyText: string(data), "bytes": len(data)}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func countOpens(t *testing.T) *int {
	t.Helper()
	n := 0
	orig := openContent
	openContent = func(path string) (*os.File, error) {
		n++
		return orig(path)
	}
	t.Cleanup(func() { openContent = orig })
	return &n
}

func TestInitCapturesAttributes(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "Notes.TXT", "hello")

	x, err := newLineCounter(p, true)
	require.NoError(t, err)

	a := x.Attributes()
	abs, _ := filepath.Abs(p)
	assert.Equal(t, abs, a.AbsolutePath)
	assert.Equal(t, "Notes.TXT", a.Name)
	assert.Equal(t, ".txt", a.Extension)
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, "644", a.Permissions)
	assert.Equal(t, dir, a.Parent)
	assert.True(t, a.IsFile)
	assert.False(t, a.IsSymlink)
	assert.Greater(t, a.ModTime, 0.0)
	assert.Equal(t, "hello", x.Metadata()[KeyText])
	assert.True(t, x.Opened())
}

func TestUnopenedFileIsNotRead(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", "content")
	opens := countOpens(t)

	x, err := newLineCounter(p, false)
	require.NoError(t, err)

	assert.Equal(t, 0, *opens)
	assert.Equal(t, Metadata{KeyMessage: NotOpenedMessage}, x.Metadata())
	assert.False(t, x.Opened())
	assert.Equal(t, int64(7), x.Attributes().Size)
}

func TestProcessFailureRecordsOnlyError(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "empty.txt", "")

	x, err := newLineCounter(p, true)
	require.Error(t, err)
	require.NotNil(t, x)
	assert.True(t, errors.Is(err, errs.FileCorruption))
	assert.Equal(t, Metadata{KeyError: "FileCorruptionError"}, x.Metadata())
	assert.Equal(t, ".txt", x.Attributes().Extension)
}

func TestMissingPath(t *testing.T) {
	_, err := newLineCounter(filepath.Join(t.TempDir(), "nope.txt"), true)
	require.Error(t, err)
	assert.Equal(t, errs.FileProcessingFailed, errs.KindOf(err))
}

func TestMetadataIsACopy(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.txt", "abc")
	x, err := newLineCounter(p, true)
	require.NoError(t, err)

	m := x.Metadata()
	m["extra"] = 1
	assert.NotContains(t, x.Metadata(), "extra")
}

func TestComputeHash(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.txt", "abc")
	x, err := newLineCounter(p, false)
	require.NoError(t, err)

	tests := map[string]string{
		"md5":    "900150983cd24fb0d6963f7d28e17f72",
		"sha256": "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	}
	for algo, want := range tests {
		t.Run(algo, func(t *testing.T) {
			got, err := x.ComputeHash(algo)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err = x.ComputeHash("crc99")
	assert.True(t, errors.Is(err, errs.FileProcessingFailed))
}

func TestCopyWithVerification(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.bin", "some bytes")
	x, err := newLineCounter(p, false)
	require.NoError(t, err)

	dest := filepath.Join(dir, "out", "b.bin")
	require.NoError(t, x.Copy(dest, true))

	for _, algo := range []string{"md5", "sha256"} {
		want, err := x.ComputeHash(algo)
		require.NoError(t, err)
		got, err := HashFile(dest, algo)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestCopyIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.bin", "x")
	out := filepath.Join(dir, "dest")
	require.NoError(t, os.Mkdir(out, 0o755))

	require.NoError(t, CopyFile(p, out, true))
	assert.FileExists(t, filepath.Join(out, "a.bin"))
}

func TestCopyOntoItselfKeepsSource(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", "hello world")
	x, err := newLineCounter(p, false)
	require.NoError(t, err)

	for name, dest := range map[string]string{"parent_dir": dir, "same_path": p} {
		t.Run(name, func(t *testing.T) {
			err := x.Copy(dest, true)
			require.Error(t, err)
			assert.Equal(t, errs.FileProcessingFailed, errs.KindOf(err))

			data, err := os.ReadFile(p)
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(data))
		})
	}

	link := filepath.Join(dir, "link.txt")
	if err := os.Link(p, link); err == nil {
		require.Error(t, x.Copy(link, true))
	}

	require.NoError(t, x.(*lineCounter).CopyTo(dir))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestCopyLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", "abc")
	out := filepath.Join(dir, "out")

	require.NoError(t, CopyFile(p, filepath.Join(out, "b.txt"), true))
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.txt", entries[0].Name())
}

func TestDefaultSaveRefuses(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.txt", "abc")
	x, err := newLineCounter(p, true)
	require.NoError(t, err)

	err = x.Save("")
	assert.True(t, errors.Is(err, errs.FileProcessingFailed))
}

func TestSymlinkAttributes(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "target.txt", "12345")
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skip("symlinks unsupported:", err)
	}

	a, err := Stat(link)
	require.NoError(t, err)
	assert.True(t, a.IsSymlink)
	assert.True(t, a.IsFile)
	assert.Equal(t, int64(5), a.Size)
}

func TestRecord(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.txt", "abc")
	x, err := newLineCounter(p, true)
	require.NoError(t, err)

	rec := Record(x)
	assert.True(t, rec.OpenFile)
	text, ok := rec.Text()
	assert.True(t, ok)
	assert.Equal(t, "abc", text)
}
