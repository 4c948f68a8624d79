// Package search turns a directory into a searchable chunk index. Every
// stage reads and writes plain files in a workspace folder so a run can be
// resumed stage by stage.
package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// Workspace file names.
const (
	ReportFile     = "report.csv"
	ChunksFile     = "data_chunked.csv"
	ShardDir       = "embedding_batches"
	EmbeddingsFile = "embeddings.npy"
	IndexFile      = "index.faiss"
	SetupFile      = "setup_data.json"
	VocabularyFile = "tfidf_vocabulary.json"
)

// Setup is the workspace control file.
type Setup struct {
	EncodingModel  string `json:"encoding_model"`
	NumberOfChunks int    `json:"number_of_chunks"`
}

// Workspace is a folder holding the pipeline artifacts.
type Workspace struct {
	Dir string
}

// OpenWorkspace creates dir if needed.
func OpenWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, ShardDir), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: abs}, nil
}

// Path joins name onto the workspace folder.
func (w *Workspace) Path(name string) string { return filepath.Join(w.Dir, name) }

// Setup reads the control file; a missing file yields the zero Setup.
func (w *Workspace) Setup() (Setup, error) {
	var s Setup
	data, err := os.ReadFile(w.Path(SetupFile))
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, errs.Wrap(errs.FileCorruption, w.Path(SetupFile), err)
	}
	return s, nil
}

func (w *Workspace) SaveSetup(s Setup) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return extract.WriteFile(w.Path(SetupFile), data)
}

// Shard is a persisted embedding batch covering rows [Start, End).
type Shard struct {
	Start, End int
	Path       string
}

var shardName = regexp.MustCompile(`^embeddings \((\d+)-(\d+)\)\.npy$`)

// ShardPath names the shard for [start, end).
func (w *Workspace) ShardPath(start, end int) string {
	return filepath.Join(w.Dir, ShardDir, fmt.Sprintf("embeddings (%d-%d).npy", start, end))
}

// Shards lists the shard files ordered by start offset, then end offset.
// Files not matching the shard name pattern are ignored.
func (w *Workspace) Shards() ([]Shard, error) {
	entries, err := os.ReadDir(filepath.Join(w.Dir, ShardDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Shard
	for _, e := range entries {
		m := shardName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		out = append(out, Shard{Start: start, End: end, Path: filepath.Join(w.Dir, ShardDir, e.Name())})
	}
	slices.SortFunc(out, func(a, b Shard) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.End - b.End
	})
	return out, nil
}

// clearEmbeddings removes shards and everything derived from them.
func (w *Workspace) clearEmbeddings() error {
	if err := os.RemoveAll(filepath.Join(w.Dir, ShardDir)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(w.Dir, ShardDir), 0o755); err != nil {
		return err
	}
	for _, name := range []string{EmbeddingsFile, IndexFile, VocabularyFile} {
		if err := os.Remove(w.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
