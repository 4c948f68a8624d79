package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

func record(name string, meta extract.Metadata) extract.FileRecord {
	return extract.FileRecord{
		Attributes: extract.Attributes{
			AbsolutePath: "/data/" + name,
			Name:         name,
			Extension:    filepath.Ext(name),
			Size:         2 * 1024 * 1024,
			ModTime:      1577836800,
			AccessTime:   1577836800.5,
			Parent:       "/data",
			Permissions:  "644",
			IsFile:       true,
			Owner:        "alice",
		},
		Metadata: meta,
		OpenFile: true,
	}
}

func TestFlattenCompact(t *testing.T) {
	rec := record("notes.txt", extract.Metadata{extract.KeyText: "Budget budget BUDGET", "num_lines": 1})

	r := Flatten(rec, Options{Keywords: []string{"budget", "notes"}})
	assert.Equal(t, append(append([]string{}, BaseColumns...), ColMetadata, "Text.budget", "Title.budget", "Text.notes", "Title.notes"), r.Columns)
	assert.Equal(t, "2", r.Values[ColSizeMB])
	assert.Equal(t, "2020-01-01 00:00:00", r.Values[ColModTime])
	assert.Equal(t, "2020-01-01 00:00:00", r.Values[ColAccessTime])
	assert.Equal(t, "", r.Values[ColCreationTime])
	assert.Equal(t, "Restricted (644)", r.Values[ColPermissions])
	assert.Equal(t, "true", r.Values[ColIsFile])
	assert.Equal(t, "3", r.Values["Text.budget"])
	assert.Equal(t, "0", r.Values["Title.budget"])
	assert.Equal(t, "1", r.Values["Title.notes"])

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.Values[ColMetadata]), &meta))
	assert.Equal(t, map[string]any{"num_lines": float64(1)}, meta)
}

func TestFlattenSplit(t *testing.T) {
	rec := record("a.csv", extract.Metadata{
		extract.KeyText:  "x,y",
		"num_rows":       3,
		"metadata_title": "Q1",
		"owner":          "bob",
		"key_names":      []string{"a", "b"},
	})

	r := Flatten(rec, Options{SplitMetadata: true, IncludeText: true, CharLimit: 5})
	assert.Equal(t, "3", r.Values["Num Rows"])
	assert.Equal(t, "Q1", r.Values["Title"])
	assert.Equal(t, "alice", r.Values[ColOwner])
	assert.Equal(t, "bob", r.Values["Metadata Owner"])
	assert.Equal(t, `["a",`, r.Values["Key Names"])
	assert.Equal(t, "x,y", r.Values[ColText])
	assert.Equal(t, "/data/a.csv", r.Values[ColFilePath])
}

func TestPermissions(t *testing.T) {
	assert.Equal(t, "Unrestricted (777)", Permissions("777"))
	assert.Equal(t, "Unrestricted (666)", Permissions("666"))
	assert.Equal(t, "Restricted (755)", Permissions("755"))
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "Num Rows", ColumnName("num_rows"))
	assert.Equal(t, "Author", ColumnName("metadata_author"))
	assert.Equal(t, "Ocr Text", ColumnName("ocr_text"))
}

func TestWriterWidensColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	o := Options{SplitMetadata: true}

	w, err := Create(path, o)
	require.NoError(t, err)
	require.NoError(t, w.Write([]extract.FileRecord{record("a.txt", extract.Metadata{"num_lines": 2})}))
	require.NoError(t, w.Write([]extract.FileRecord{record("b.json", extract.Metadata{"num_keys": 4})}))
	require.NoError(t, w.Close())

	rows, err := ReadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[0]["Num Lines"])
	assert.Equal(t, "", rows[0]["Num Keys"])
	assert.Equal(t, "4", rows[1]["Num Keys"])
}

func TestWriterEmptySelection(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "r.csv"), Options{})
	require.NoError(t, err)
	err = w.Close()
	assert.Equal(t, errs.EmptySelection, errs.KindOf(err))
}

func TestRecoveryModeResumes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	batch := func(from, to int) []extract.FileRecord {
		var out []extract.FileRecord
		for i := from; i < to; i++ {
			out = append(out, record(fmt.Sprintf("f%03d.txt", i), extract.Metadata{"text": "line\nbreak"}))
		}
		return out
	}

	w, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Write(batch(0, 25)))
	require.NoError(t, w.Write(batch(25, 50)))

	w, err = Create(path, Options{RecoveryMode: true})
	require.NoError(t, err)
	assert.Equal(t, 50, w.StartAt())
	require.NoError(t, w.Write(batch(50, 100)))
	require.NoError(t, w.Close())
	assert.Equal(t, 100, w.Rows())

	rows, err := ReadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 100)
	seen := map[string]bool{}
	for _, r := range rows {
		assert.False(t, seen[r[ColFileName]])
		seen[r[ColFileName]] = true
	}
}

func TestRecoveryModeDropsTornRow(t *testing.T) {
	batch := func(from, to int) []extract.FileRecord {
		var out []extract.FileRecord
		for i := from; i < to; i++ {
			out = append(out, record(fmt.Sprintf("f%03d.txt", i), extract.Metadata{"text": "line\nbreak"}))
		}
		return out
	}

	for name, tail := range map[string]string{
		"short_row":      "/data/f003.txt,f003.t",
		"open_quote":     "/data/f003.txt,\"line",
		"no_newline_yet": "",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "report.csv")
			w, err := Create(path, Options{})
			require.NoError(t, err)
			require.NoError(t, w.Write(batch(0, 3)))

			if tail == "" {
				// full-width final row cut before its newline
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0o644))
			} else {
				f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
				require.NoError(t, err)
				_, err = f.WriteString(tail)
				require.NoError(t, err)
				require.NoError(t, f.Close())
			}

			w, err = Create(path, Options{RecoveryMode: true})
			require.NoError(t, err)
			want := 3
			if tail == "" {
				want = 2
			}
			assert.Equal(t, want, w.StartAt())

			require.NoError(t, w.Write(batch(want, 5)))
			rows, err := ReadRows(path)
			require.NoError(t, err)
			require.Len(t, rows, 5)
			for i, r := range rows {
				assert.Equal(t, fmt.Sprintf("f%03d.txt", i), r[ColFileName])
			}
		})
	}
}

func TestCreateWithoutRecoveryReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("old,header\n1,2\n"), 0o644))

	w, err := Create(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, w.StartAt())
	assert.NoFileExists(t, path)
}
