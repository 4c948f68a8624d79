// Package inventory records every file under a directory, with its
// extracted metadata, in the SQLite store.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/directory"
	"filesift/internal/extract"
	"filesift/internal/store"
)

// Stats reports inventory results.
type Stats struct {
	FilesTotal   int
	FilesIndexed int
	FilesSkipped int
}

// ProgressFunc is called after each stored file.
type ProgressFunc func(indexed, seen int)

// Options configure Run.
type Options struct {
	Filters directory.FilterSpec
	// Workers defaults to the number of CPUs.
	Workers  int
	Progress ProgressFunc
}

// fileWork is a file whose hash changed since it was last stored.
type fileWork struct {
	attrs extract.Attributes
	hash  string
}

// extracted is a file ready to store.
type extracted struct {
	work fileWork
	meta string
}

// Run walks d and stores each file's record in st, skipping files whose
// hash is unchanged. The text body is not stored.
func Run(ctx context.Context, d *directory.Directory, st store.Store, opts Options) (*Stats, error) {
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	var stats Stats
	var filesTotal atomic.Int64

	// Stage 1: walk, attributes only
	attrCh := make(chan extract.Attributes, numWorkers)
	var walkErr error
	go func() {
		defer close(attrCh)
		for rec, err := range d.Files(directory.WalkOptions{Filters: opts.Filters}) {
			if err != nil {
				walkErr = err
				return
			}
			if !rec.IsFile {
				continue
			}
			select {
			case attrCh <- rec.Attributes:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 2: hash + check (N workers)
	workCh := make(chan fileWork, numWorkers)
	var hashWg sync.WaitGroup
	for range numWorkers {
		hashWg.Add(1)
		go func() {
			defer hashWg.Done()
			for a := range attrCh {
				filesTotal.Add(1)
				hash, err := extract.HashFile(a.AbsolutePath, "sha256")
				if err != nil {
					logger.Warnf("inventory %s: %v", a.AbsolutePath, err)
					continue
				}
				existing, err := st.GetFileHash(a.AbsolutePath)
				if err == nil && existing == hash {
					continue // unchanged
				}
				workCh <- fileWork{attrs: a, hash: hash}
			}
		}()
	}
	go func() {
		hashWg.Wait()
		close(workCh)
	}()

	// Stage 3: extract (N workers)
	extractedCh := make(chan extracted, numWorkers)
	var extractWg sync.WaitGroup
	for range numWorkers {
		extractWg.Add(1)
		go func() {
			defer extractWg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					continue
				}
				extractedCh <- extracted{work: w, meta: metadataJSON(d.Open(w.attrs.AbsolutePath))}
			}
		}()
	}
	go func() {
		extractWg.Wait()
		close(extractedCh)
	}()

	// Stage 4: store (1 worker)
	var storeErr error
	for e := range extractedCh {
		if storeErr != nil {
			continue
		}
		_, err := st.UpsertFile(store.FileRecord{
			Path:      e.work.attrs.AbsolutePath,
			Hash:      e.work.hash,
			Extension: e.work.attrs.Extension,
			SizeBytes: e.work.attrs.Size,
			Metadata:  e.meta,
		})
		if err != nil {
			logger.Errorf("store upsert error %s: %v", e.work.attrs.AbsolutePath, err)
			storeErr = err
			continue
		}
		stats.FilesIndexed++
		if opts.Progress != nil {
			opts.Progress(stats.FilesIndexed, int(filesTotal.Load()))
		}
	}

	stats.FilesTotal = int(filesTotal.Load())
	stats.FilesSkipped = stats.FilesTotal - stats.FilesIndexed

	if walkErr != nil {
		return &stats, fmt.Errorf("walk error: %w", walkErr)
	}
	if err := ctx.Err(); err != nil {
		return &stats, err
	}
	if storeErr != nil {
		return &stats, fmt.Errorf("storage failed: %w", storeErr)
	}
	return &stats, nil
}

// metadataJSON encodes rec's metadata without the text body.
func metadataJSON(rec extract.FileRecord) string {
	meta := make(extract.Metadata, len(rec.Metadata))
	for k, v := range rec.Metadata {
		if k != extract.KeyText {
			meta[k] = v
		}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return `{"error":"FileProcessingFailedError"}`
	}
	return string(b)
}
