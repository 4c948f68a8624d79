package store

import "time"

// FileRecord is an inventoried file. Metadata holds the extractor output as
// a JSON object.
type FileRecord struct {
	ID        int64
	Path      string
	Hash      string
	Extension string
	IndexedAt time.Time
	SizeBytes int64
	Metadata  string
}

// Chunk is one text window of a file, in file order.
type Chunk struct {
	ID      int64
	FileID  int64
	Seq     int
	Content string
}

// SearchResult is a chunk with its distance and file path.
type SearchResult struct {
	Chunk    Chunk
	FilePath string
	Distance float64
}
