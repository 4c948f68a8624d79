// Package report flattens FileRecords into tabular rows and writes them as
// CSV, resuming an interrupted report when asked.
package report

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"filesift/internal/extract"
)

// Base columns, in output order.
const (
	ColFilePath     = "File Path"
	ColFileName     = "File Name"
	ColOwner        = "Owner"
	ColExtension    = "Extension"
	ColSizeMB       = "Size (MB)"
	ColModTime      = "Modification Time"
	ColAccessTime   = "Access Time"
	ColCreationTime = "Creation Time"
	ColParent       = "Parent Directory"
	ColPermissions  = "Permissions"
	ColIsFile       = "Is File"
	ColIsSymlink    = "Is Symlink"
	ColAbsolutePath = "Absolute Path"

	// ColMetadata holds the metadata JSON in compact mode.
	ColMetadata = "Metadata"
	// ColText is the split-mode column of the text key.
	ColText = "Text"
)

// BaseColumns lists the filesystem attribute columns.
var BaseColumns = []string{
	ColFilePath, ColFileName, ColOwner, ColExtension, ColSizeMB,
	ColModTime, ColAccessTime, ColCreationTime, ColParent,
	ColPermissions, ColIsFile, ColIsSymlink, ColAbsolutePath,
}

// TimeLayout formats timestamps, always in UTC.
const TimeLayout = "2006-01-02 15:04:05"

// Options shape the report.
type Options struct {
	// SplitMetadata promotes every metadata key to its own column instead of
	// a single JSON Metadata column.
	SplitMetadata bool
	// IncludeText keeps the text key.
	IncludeText bool
	// CharLimit truncates each metadata cell; zero disables truncation.
	CharLimit int
	// Keywords add Text.<kw> and Title.<kw> occurrence counts.
	Keywords []string

	BatchSize    int
	RecoveryMode bool
}

// Row is one flattened record: Columns in order, Values keyed by column.
type Row struct {
	Columns []string
	Values  map[string]string
}

// Flatten projects rec into a Row.
func Flatten(rec extract.FileRecord, o Options) Row {
	r := Row{Values: make(map[string]string, len(BaseColumns)+8)}
	set := func(col, v string) {
		if _, ok := r.Values[col]; !ok {
			r.Columns = append(r.Columns, col)
		}
		r.Values[col] = v
	}

	a := rec.Attributes
	set(ColFilePath, a.AbsolutePath)
	set(ColFileName, a.Name)
	set(ColOwner, a.Owner)
	set(ColExtension, a.Extension)
	set(ColSizeMB, strconv.FormatFloat(float64(a.Size)/(1024*1024), 'f', -1, 64))
	set(ColModTime, Timestamp(a.ModTime))
	set(ColAccessTime, Timestamp(a.AccessTime))
	set(ColCreationTime, Timestamp(a.CreationTime))
	set(ColParent, a.Parent)
	set(ColPermissions, Permissions(a.Permissions))
	set(ColIsFile, strconv.FormatBool(a.IsFile))
	set(ColIsSymlink, strconv.FormatBool(a.IsSymlink))
	set(ColAbsolutePath, a.AbsolutePath)

	text, _ := rec.Metadata[extract.KeyText].(string)
	meta := make(extract.Metadata, len(rec.Metadata))
	for k, v := range rec.Metadata {
		if k == extract.KeyText && !o.IncludeText {
			continue
		}
		meta[k] = v
	}

	if o.SplitMetadata {
		for _, k := range slices.Sorted(maps.Keys(meta)) {
			col := ColumnName(k)
			if slices.Contains(BaseColumns, col) {
				col = "Metadata " + col
			}
			set(col, truncate(cell(meta[k]), o.CharLimit))
		}
	} else {
		b, err := json.Marshal(meta)
		if err != nil {
			b = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
		}
		set(ColMetadata, truncate(string(b), o.CharLimit))
	}

	for _, kw := range o.Keywords {
		set("Text."+kw, strconv.Itoa(countFold(text, kw)))
		set("Title."+kw, strconv.Itoa(countFold(a.Name, kw)))
	}
	return r
}

// Timestamp renders seconds since the epoch as a UTC datetime.
func Timestamp(sec float64) string {
	if sec == 0 {
		return ""
	}
	whole := int64(sec)
	nsec := int64((sec - float64(whole)) * 1e9)
	return time.Unix(whole, nsec).UTC().Format(TimeLayout)
}

// Permissions labels an octal permission string. Only 666 and 777 are
// unrestricted.
func Permissions(octal string) string {
	if octal == "666" || octal == "777" {
		return "Unrestricted (" + octal + ")"
	}
	return "Restricted (" + octal + ")"
}

// ColumnName turns a metadata key into its split-mode column: the
// metadata_ prefix is dropped and words are title-cased, so num_rows
// becomes "Num Rows". Flatten prefixes names that clash with a base column.
func ColumnName(key string) string {
	key = strings.TrimPrefix(key, "metadata_")
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

func countFold(s, sub string) int {
	if sub == "" {
		return 0
	}
	return strings.Count(strings.ToLower(s), strings.ToLower(sub))
}
