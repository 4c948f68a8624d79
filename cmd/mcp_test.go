package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesift/internal/config"
	"filesift/internal/extract"
	"filesift/internal/rag"
	"filesift/internal/store"
)

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

type fakeRetriever struct {
	passages []rag.Passage
	err      error
}

func (f fakeRetriever) Retrieve(_ context.Context, _ string, k int) ([]rag.Passage, error) {
	if len(f.passages) > k {
		return f.passages[:k], f.err
	}
	return f.passages, f.err
}

func TestSearchHandler(t *testing.T) {
	h := makeSearchHandler(fakeRetriever{passages: []rag.Passage{
		{Source: "/docs/a.txt", Content: "alpha", Distance: 0.1},
		{Source: "/docs/b.txt", Content: "beta", Distance: 0.2},
	}})

	text, isErr := callTool(t, h, map[string]any{"query": "letters", "k": 1})
	assert.False(t, isErr)
	assert.Contains(t, text, "/docs/a.txt")
	assert.NotContains(t, text, "/docs/b.txt")

	_, isErr = callTool(t, h, map[string]any{})
	assert.True(t, isErr)

	text, isErr = callTool(t, makeSearchHandler(fakeRetriever{}), map[string]any{"query": "none"})
	assert.False(t, isErr)
	assert.Contains(t, text, "No results")

	text, isErr = callTool(t, makeSearchHandler(fakeRetriever{err: errors.New("index missing")}), map[string]any{"query": "x"})
	assert.True(t, isErr)
	assert.Contains(t, text, "index missing")
}

func TestExtractHandler(t *testing.T) {
	cfg = &config.Config{}
	p := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("remember the milk"), 0o644))
	h := makeExtractHandler()

	text, isErr := callTool(t, h, map[string]any{"path": p})
	require.False(t, isErr)
	var rec extract.FileRecord
	require.NoError(t, json.Unmarshal([]byte(text), &rec))
	assert.Equal(t, "remember the milk", rec.Metadata[extract.KeyText])
	assert.True(t, rec.OpenFile)

	text, isErr = callTool(t, h, map[string]any{"path": p, "include_text": false})
	require.False(t, isErr)
	assert.NotContains(t, text, "remember the milk")

	_, isErr = callTool(t, h, map[string]any{})
	assert.True(t, isErr)
}

func TestAnalyticsHandler(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	h := makeAnalyticsHandler()

	text, isErr := callTool(t, h, map[string]any{"path": dir})
	require.False(t, isErr)
	assert.Contains(t, text, "| .md | 0.000 | 1 |")
	assert.Contains(t, text, "| .txt | 0.000 | 2 |")

	text, isErr = callTool(t, h, map[string]any{"path": dir, "extensions": ".md"})
	require.False(t, isErr)
	assert.NotContains(t, text, ".txt")

	_, isErr = callTool(t, h, map[string]any{"path": filepath.Join(dir, "missing")})
	assert.True(t, isErr)
}

type fakeInventory struct {
	store.Store
	files []store.FileRecord
	asked string
}

func (f *fakeInventory) ListFiles(extension string) ([]store.FileRecord, error) {
	f.asked = extension
	return f.files, nil
}

func TestInventoryHandler(t *testing.T) {
	st := &fakeInventory{files: []store.FileRecord{
		{Path: "/data/report.pdf", Extension: ".pdf", SizeBytes: 2048, Metadata: `{"pages":3}`},
	}}
	h := makeInventoryHandler(st)

	text, isErr := callTool(t, h, map[string]any{"extension": "PDF"})
	require.False(t, isErr)
	assert.Equal(t, ".pdf", st.asked)
	assert.Contains(t, text, "Inventoried files (1, extension: .pdf)")
	assert.Contains(t, text, "**/data/report.pdf** (2048 bytes, .pdf)")
}
