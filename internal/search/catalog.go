package search

import (
	"context"
	"encoding/json"

	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/errs"
	"filesift/internal/extract"
	"filesift/internal/report"
	"filesift/internal/store"
)

// MetaEmbeddingModel is the store meta key holding the model of the stored
// embeddings.
const MetaEmbeddingModel = "embedding_model"

// Stats reports catalog results.
type Stats struct {
	FilesTotal   int
	FilesIndexed int
	FilesSkipped int
	ChunksTotal  int
}

// Catalog mirrors the workspace chunks and combined embeddings into st.
// Files whose hash is unchanged keep their stored rows. A different
// embedding model empties the store first.
func (p *Pipeline) Catalog(ctx context.Context, st store.Store) (*Stats, error) {
	model := p.cfg.Embedder.Model()
	last, err := st.GetMeta(MetaEmbeddingModel)
	if err != nil {
		return nil, err
	}
	if last != "" && last != model {
		logger.Infof("embedding model changed from %q to %q, re-cataloguing all files", last, model)
		if err := st.DeleteAllChunks(); err != nil {
			return nil, err
		}
	}

	chunks, err := p.Chunks()
	if err != nil {
		return nil, err
	}
	vectors, err := p.Embeddings()
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, errs.Newf(errs.FileProcessingFailed, p.ws.Path(EmbeddingsFile), "%d embeddings for %d chunks", len(vectors), len(chunks))
	}
	rows, err := report.ReadRows(p.ws.Path(ReportFile))
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]map[string]string, len(rows))
	for _, r := range rows {
		byPath[r[report.ColFilePath]] = r
	}

	var stats Stats
	for start := 0; start < len(chunks); {
		if err := ctx.Err(); err != nil {
			return &stats, err
		}
		end := start + 1
		for end < len(chunks) && chunks[end].FilePath == chunks[start].FilePath {
			end++
		}
		stats.FilesTotal++
		indexed, err := catalogFile(st, byPath[chunks[start].FilePath], chunks[start:end], vectors[start:end])
		if err != nil {
			return &stats, err
		}
		if indexed {
			stats.FilesIndexed++
			stats.ChunksTotal += end - start
		}
		p.progress("catalog", end, len(chunks))
		start = end
	}
	stats.FilesSkipped = stats.FilesTotal - stats.FilesIndexed

	if err := st.SetMeta(MetaEmbeddingModel, model); err != nil {
		return &stats, err
	}
	return &stats, nil
}

func catalogFile(st store.Store, row map[string]string, chunks []Chunk, vectors [][]float32) (bool, error) {
	path := chunks[0].FilePath
	hash, err := extract.HashFile(path, "sha256")
	if err != nil {
		logger.Warnf("catalog %s: %v", path, err)
		return false, nil
	}
	if existing, err := st.GetFileHash(path); err != nil {
		return false, err
	} else if existing == hash {
		return false, nil
	}

	meta := make(map[string]string, len(row))
	for k, v := range row {
		if k != report.ColText && v != "" {
			meta[k] = v
		}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}
	attrs, _ := extract.Stat(path)
	fileID, err := st.UpsertFile(store.FileRecord{
		Path:      path,
		Hash:      hash,
		Extension: attrs.Extension,
		SizeBytes: attrs.Size,
		Metadata:  string(b),
	})
	if err != nil {
		return false, err
	}

	rows := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = store.Chunk{Seq: i, Content: c.Content}
	}
	ids, err := st.InsertChunks(fileID, rows)
	if err != nil {
		return false, err
	}
	if err := st.InsertEmbeddings(ids, vectors); err != nil {
		return false, err
	}
	return true, nil
}
