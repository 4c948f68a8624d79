// Package extract defines the extractor contract shared by every file
// format, the uniform FileRecord, and the registry that maps extensions to
// extractor constructors.
package extract

// Metadata is the extractor-dependent map of semantic fields.
type Metadata map[string]any

// Well-known metadata keys shared across extractors.
const (
	KeyText    = "text"
	KeyError   = "error"
	KeyMessage = "message"
)

// NotOpenedMessage is stored under KeyMessage when content was not read.
const NotOpenedMessage = "File was not opened"

// Attributes are the filesystem facts gathered for every path, whether or
// not its content is read.
type Attributes struct {
	AbsolutePath string  `json:"absolute_path"`
	Name         string  `json:"name"`
	Extension    string  `json:"extension"`
	Size         int64   `json:"size"`
	ModTime      float64 `json:"modification_time"`
	AccessTime   float64 `json:"access_time"`
	CreationTime float64 `json:"creation_time"`
	Parent       string  `json:"parent_directory"`
	Permissions  string  `json:"permissions"`
	IsFile       bool    `json:"is_file"`
	IsSymlink    bool    `json:"is_symlink"`
	Owner        string  `json:"owner"`
}

// Extractor opens one file of a specific format and populates Metadata.
//
// Process must leave Metadata either fully describing the file or holding
// exactly {error: <kind>}. Save with an empty output path overwrites the
// source.
type Extractor interface {
	Attributes() Attributes
	Metadata() Metadata
	Opened() bool
	Process() error
	Save(outputPath string) error
	ComputeHash(algorithm string) (string, error)
	Copy(dest string, verify bool) error
}

// Constructor builds an extractor for path. When openFile is true the
// constructor drives the extractor through Process. A non-nil extractor is
// returned alongside a processing error whenever attributes were captured.
type Constructor func(path string, openFile bool) (Extractor, error)

// FileRecord is the uniform result exposed to callers.
type FileRecord struct {
	Attributes
	Metadata Metadata `json:"metadata"`
	OpenFile bool     `json:"open_file"`
}

// Record snapshots an extractor into a FileRecord.
func Record(x Extractor) FileRecord {
	return FileRecord{
		Attributes: x.Attributes(),
		Metadata:   x.Metadata(),
		OpenFile:   x.Opened(),
	}
}

// Text returns the record's text field and whether it is a non-empty string.
func (r FileRecord) Text() (string, bool) {
	s, ok := r.Metadata[KeyText].(string)
	return s, ok && s != ""
}
