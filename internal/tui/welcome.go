package tui

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"filesift/internal/search"
)

type workspaceStatus int

const (
	workspaceEmpty workspaceStatus = iota
	workspaceReady
	workspaceStale
)

type welcomeModel struct {
	status      workspaceStatus
	staleReason string
	chunks      int
	hint        string
	ready       bool // true once the check has completed
}

// checkWorkspaceMsg is sent after inspecting the workspace.
type checkWorkspaceMsg struct {
	status      workspaceStatus
	staleReason string
	chunks      int
}

func checkWorkspace(cfg Config) tea.Cmd {
	return func() tea.Msg {
		ws := &search.Workspace{Dir: cfg.Workspace}
		if _, err := os.Stat(ws.Path(search.IndexFile)); err != nil {
			return checkWorkspaceMsg{status: workspaceEmpty}
		}
		setup, err := ws.Setup()
		if err != nil || setup.EncodingModel == "" {
			return checkWorkspaceMsg{status: workspaceEmpty}
		}
		if cfg.Search.Embedder != nil && setup.EncodingModel != cfg.Search.Embedder.Model() {
			return checkWorkspaceMsg{
				status:      workspaceStale,
				staleReason: fmt.Sprintf("model changed: %s → %s", setup.EncodingModel, cfg.Search.Embedder.Model()),
			}
		}
		return checkWorkspaceMsg{status: workspaceReady, chunks: setup.NumberOfChunks}
	}
}

func (m welcomeModel) Update(msg tea.Msg) (welcomeModel, tea.Cmd) {
	switch msg := msg.(type) {
	case checkWorkspaceMsg:
		m.status = msg.status
		m.staleReason = msg.staleReason
		m.chunks = msg.chunks
		m.ready = true
	}
	return m, nil
}

func (m welcomeModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  ◆ filesift") + "\n"
	s += subtitleStyle.Render("  Search the contents of a directory") + "\n\n"

	if !m.ready {
		s += dimStyle.Render("  Checking workspace...") + "\n"
		return s
	}

	switch m.status {
	case workspaceReady:
		s += successStyle.Render(fmt.Sprintf("  ✓ Index ready (%d chunks)", m.chunks)) + "\n"
	case workspaceEmpty:
		s += warnStyle.Render("  ✗ No index found") + "\n"
	case workspaceStale:
		s += warnStyle.Render("  ⚠ Index stale") + "\n"
		s += dimStyle.Render("    "+m.staleReason) + "\n"
	}
	if m.hint != "" {
		s += "\n" + errorStyle.Render("  "+m.hint) + "\n"
	}

	s += "\n"
	s += dimStyle.Render("  Press Enter to continue") + "\n"
	return s
}
