package search

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/chunker"
	"filesift/internal/directory"
	"filesift/internal/embedder"
	"filesift/internal/errs"
	"filesift/internal/report"
	"filesift/internal/vecindex"
)

// DefaultEmbedBatchSize is used when Embed is given a batch size below 1.
const DefaultEmbedBatchSize = 32

// ProgressFunc reports progress through a stage.
type ProgressFunc func(stage string, done, total int)

// Config wires the pipeline stages.
type Config struct {
	Embedder embedder.Embedder
	// Chunker defaults to a character splitter with the default size and
	// overlap.
	Chunker *chunker.Chunker

	IndexKind vecindex.Kind
	Metric    vecindex.Metric
	Params    vecindex.Params

	Directory       directory.Options
	Filters         directory.FilterSpec
	ReportBatchSize int
	// ResumeReport appends to an interrupted report.csv instead of
	// replacing it.
	ResumeReport   bool
	EmbedBatchSize int

	Progress ProgressFunc
}

// Chunk is one row of data_chunked.csv.
type Chunk struct {
	FilePath string
	Content  string
}

// Hit is a query result.
type Hit struct {
	Row      int
	FilePath string
	Content  string
	Distance float32
}

// Pipeline runs the report, chunk, embed, combine, index and query stages
// over one workspace.
type Pipeline struct {
	ws  *Workspace
	cfg Config
}

// New opens the workspace. When the workspace was embedded with a different
// model, its shards, combined embeddings and index are discarded.
func New(dir string, cfg Config) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("search pipeline needs an embedder")
	}
	if cfg.Chunker == nil {
		c, err := chunker.New(chunker.Config{})
		if err != nil {
			return nil, err
		}
		cfg.Chunker = c
	}
	if cfg.IndexKind == "" {
		cfg.IndexKind = vecindex.KindFlat
	}
	ws, err := OpenWorkspace(dir)
	if err != nil {
		return nil, err
	}

	setup, err := ws.Setup()
	if err != nil {
		return nil, err
	}
	model := cfg.Embedder.Model()
	if setup.EncodingModel != "" && setup.EncodingModel != model {
		logger.Infof("embedding model changed from %q to %q, discarding embeddings", setup.EncodingModel, model)
		if err := ws.clearEmbeddings(); err != nil {
			return nil, fmt.Errorf("clear embeddings: %w", err)
		}
	}
	if setup.EncodingModel != model {
		setup.EncodingModel = model
		if err := ws.SaveSetup(setup); err != nil {
			return nil, err
		}
	}
	return &Pipeline{ws: ws, cfg: cfg}, nil
}

// Workspace returns the pipeline's workspace.
func (p *Pipeline) Workspace() *Workspace { return p.ws }

func (p *Pipeline) progress(stage string, done, total int) {
	if p.cfg.Progress != nil {
		p.cfg.Progress(stage, done, total)
	}
}

// Report writes report.csv for source with split metadata and full text.
func (p *Pipeline) Report(source string) error {
	opts := p.cfg.Directory
	user := opts.Progress
	opts.Progress = func(n int, path string) {
		p.progress("report", n, 0)
		if user != nil {
			user(n, path)
		}
	}
	d, err := directory.New(source, opts)
	if err != nil {
		return err
	}
	return d.Report(p.ws.Path(ReportFile), directory.WalkOptions{Filters: p.cfg.Filters, OpenFiles: true}, report.Options{
		SplitMetadata: true,
		IncludeText:   true,
		BatchSize:     p.cfg.ReportBatchSize,
		RecoveryMode:  p.cfg.ResumeReport,
	})
}

// Chunk splits the text of every report row into data_chunked.csv and
// records the chunk count. Rechunking invalidates existing embeddings.
func (p *Pipeline) Chunk() (int, error) {
	rows, err := report.ReadRows(p.ws.Path(ReportFile))
	if err != nil {
		return 0, err
	}

	var chunks []Chunk
	for i, row := range rows {
		text := row[report.ColText]
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts, err := p.cfg.Chunker.Split(text)
		if err != nil {
			return 0, errs.Wrap(errs.FileProcessingFailed, row[report.ColFilePath], err)
		}
		for _, c := range parts {
			chunks = append(chunks, Chunk{FilePath: row[report.ColFilePath], Content: c})
		}
		p.progress("chunk", i+1, len(rows))
	}
	if len(chunks) == 0 {
		return 0, errs.New(errs.EmptySelection, p.ws.Path(ReportFile), "no text to chunk")
	}

	if err := writeChunks(p.ws.Path(ChunksFile), chunks); err != nil {
		return 0, err
	}
	if err := p.ws.clearEmbeddings(); err != nil {
		return 0, err
	}
	setup, err := p.ws.Setup()
	if err != nil {
		return 0, err
	}
	setup.NumberOfChunks = len(chunks)
	if err := p.ws.SaveSetup(setup); err != nil {
		return 0, err
	}
	logger.Infof("chunked %d documents into %d chunks", len(rows), len(chunks))
	return len(chunks), nil
}

// Chunks reads data_chunked.csv.
func (p *Pipeline) Chunks() ([]Chunk, error) {
	return readChunks(p.ws.Path(ChunksFile))
}

// Embed embeds chunks [rowStart, rowEnd) in batches, writing one shard per
// batch. rowEnd <= 0 means the last chunk. A failed batch is logged and
// skipped; earlier and later shards are kept and the failures are returned
// together.
func (p *Pipeline) Embed(ctx context.Context, rowStart, rowEnd, batchSize int) error {
	chunks, err := p.Chunks()
	if err != nil {
		return err
	}
	if rowEnd <= 0 || rowEnd > len(chunks) {
		rowEnd = len(chunks)
	}
	if rowStart < 0 || rowStart >= rowEnd {
		return errs.Newf(errs.UnsupportedHyperparameter, "", "invalid chunk range [%d, %d) for %d chunks", rowStart, rowEnd, len(chunks))
	}
	if batchSize < 1 {
		batchSize = p.cfg.EmbedBatchSize
	}
	if batchSize < 1 {
		batchSize = DefaultEmbedBatchSize
	}
	if err := p.prepareEmbedder(chunks); err != nil {
		return err
	}

	var failed []error
	for start := rowStart; start < rowEnd; start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, rowEnd)
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vecs, err := p.cfg.Embedder.Embed(ctx, texts)
		if err == nil && len(vecs) != len(texts) {
			err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		if err == nil {
			err = writeMatrix(p.ws.ShardPath(start, end), vecs)
		}
		if err != nil {
			logger.Errorf("embedding shard [%d, %d): %v", start, end, err)
			failed = append(failed, fmt.Errorf("shard [%d, %d): %w", start, end, err))
			continue
		}
		p.progress("embed", end-rowStart, rowEnd-rowStart)
	}
	return errors.Join(failed...)
}

// Combine merges the shards into embeddings.npy. Shards are applied in start
// order so a later shard wins where ranges overlap. Every chunk must be
// covered.
func (p *Pipeline) Combine() error {
	setup, err := p.ws.Setup()
	if err != nil {
		return err
	}
	shards, err := p.ws.Shards()
	if err != nil {
		return err
	}
	if len(shards) == 0 {
		return errs.New(errs.EmptySelection, p.ws.Path(ShardDir), "no embedding shards")
	}

	var rows [][]float32
	for _, s := range shards {
		m, err := readMatrix(s.Path)
		if err != nil {
			return err
		}
		if len(m) != s.End-s.Start {
			return errs.Newf(errs.FileCorruption, s.Path, "shard holds %d rows, name says %d", len(m), s.End-s.Start)
		}
		if s.Start > len(rows) {
			return errs.Newf(errs.FileProcessingFailed, s.Path, "chunks [%d, %d) have no embeddings", len(rows), s.Start)
		}
		if s.End <= len(rows) {
			copy(rows[s.Start:], m)
		} else {
			rows = append(rows[:s.Start], m...)
		}
	}
	if len(rows) != setup.NumberOfChunks {
		return errs.Newf(errs.FileProcessingFailed, p.ws.Path(EmbeddingsFile), "combined %d embeddings for %d chunks", len(rows), setup.NumberOfChunks)
	}
	return writeMatrix(p.ws.Path(EmbeddingsFile), rows)
}

// Embeddings reads embeddings.npy.
func (p *Pipeline) Embeddings() ([][]float32, error) {
	return readMatrix(p.ws.Path(EmbeddingsFile))
}

// BuildIndex builds the configured index over embeddings.npy and saves it.
func (p *Pipeline) BuildIndex() (vecindex.Index, error) {
	vectors, err := p.Embeddings()
	if err != nil {
		return nil, err
	}
	if p.cfg.Metric == vecindex.InnerProduct {
		vecindex.Normalize(vectors)
	}
	ix, err := vecindex.Build(p.cfg.IndexKind, vectors, p.cfg.Metric, p.cfg.Params)
	if err != nil {
		return nil, err
	}
	if err := ix.Save(p.ws.Path(IndexFile)); err != nil {
		return nil, err
	}
	logger.Infof("built %s index over %d embeddings", ix.Kind(), ix.Len())
	return ix, nil
}

// Query embeds text and returns the k closest chunks, best first.
func (p *Pipeline) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	ix, err := vecindex.Load(p.ws.Path(IndexFile))
	if err != nil {
		return nil, err
	}
	chunks, err := p.Chunks()
	if err != nil {
		return nil, err
	}
	if err := p.prepareEmbedder(chunks); err != nil {
		return nil, err
	}
	q, err := embedder.EmbedSingle(ctx, p.cfg.Embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if ix.Metric() == vecindex.InnerProduct {
		vecindex.Normalize([][]float32{q})
	}

	dists, ids, err := ix.Search([][]float32{q}, k)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	for i, id := range ids[0] {
		if id < 0 || int(id) >= len(chunks) {
			continue
		}
		c := chunks[id]
		hits = append(hits, Hit{Row: int(id), FilePath: c.FilePath, Content: c.Content, Distance: dists[0][i]})
	}
	return hits, nil
}

// Run executes every stage from report to index.
func (p *Pipeline) Run(ctx context.Context, source string) (vecindex.Index, error) {
	if err := p.Report(source); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	if _, err := p.Chunk(); err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	if err := p.Embed(ctx, 0, 0, p.cfg.EmbedBatchSize); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if err := p.Combine(); err != nil {
		return nil, fmt.Errorf("combine: %w", err)
	}
	return p.BuildIndex()
}

// prepareEmbedder fits corpus-dependent embedders once and persists the
// fitted state so later runs and queries share the same vector space.
func (p *Pipeline) prepareEmbedder(chunks []Chunk) error {
	t, ok := p.cfg.Embedder.(*embedder.TFIDF)
	if !ok {
		if prep, ok := p.cfg.Embedder.(embedder.Preparer); ok {
			return prep.Prepare(contents(chunks))
		}
		return nil
	}
	path := p.ws.Path(VocabularyFile)
	if loaded, err := embedder.LoadTFIDF(path); err == nil {
		*t = *loaded
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := t.Prepare(contents(chunks)); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	return t.Save(path)
}

func contents(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func writeChunks(path string, chunks []Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"file_path", "content"}); err != nil {
		f.Close()
		return err
	}
	for _, c := range chunks {
		if err := w.Write([]string{c.FilePath, c.Content}); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readChunks(path string) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		return nil, errs.Wrap(errs.FileCorruption, path, err)
	}
	var out []Chunk
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.FileCorruption, path, err)
		}
		out = append(out, Chunk{FilePath: rec[0], Content: rec[1]})
	}
	return out, nil
}
