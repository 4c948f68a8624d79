package tui

import (
	"context"
	"os"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesift/internal/search"
)

type namedEmbedder string

func (n namedEmbedder) Model() string { return string(n) }

func (namedEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

func TestCheckWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Workspace: dir, Search: search.Config{Embedder: namedEmbedder("new")}}

	msg := checkWorkspace(cfg)().(checkWorkspaceMsg)
	assert.Equal(t, workspaceEmpty, msg.status)

	ws, err := search.OpenWorkspace(dir)
	require.NoError(t, err)
	require.NoError(t, ws.SaveSetup(search.Setup{EncodingModel: "old", NumberOfChunks: 3}))
	writeIndex(t, ws)

	msg = checkWorkspace(cfg)().(checkWorkspaceMsg)
	assert.Equal(t, workspaceStale, msg.status)
	assert.Contains(t, msg.staleReason, "old")

	cfg.Search.Embedder = namedEmbedder("old")
	msg = checkWorkspace(cfg)().(checkWorkspaceMsg)
	assert.Equal(t, workspaceReady, msg.status)
	assert.Equal(t, 3, msg.chunks)
}

func writeIndex(t *testing.T, ws *search.Workspace) {
	t.Helper()
	require.NoError(t, os.WriteFile(ws.Path(search.IndexFile), []byte("IxFL"), 0o644))
}

func TestWelcomeWithoutSourceShowsHint(t *testing.T) {
	m := New(Config{Workspace: t.TempDir()})
	next, _ := m.Update(checkWorkspaceMsg{status: workspaceEmpty})
	next, cmd := next.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)

	view := next.View()
	assert.Contains(t, view, "No index found")
	assert.Contains(t, view, "No source directory given")
	assert.Equal(t, ViewWelcome, next.(Model).state)
}

func TestBuildingProgress(t *testing.T) {
	b := newBuildingModel()
	b, _ = b.Update(buildProgressMsg{stage: "embed", done: 3, total: 10})
	assert.Contains(t, b.View(80, 24), "3 / 10")

	b, _ = b.Update(buildDoneMsg{chunks: 10})
	assert.True(t, b.finished)
	assert.Contains(t, b.View(80, 24), "Chunks: 10")
}
