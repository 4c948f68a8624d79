package tui

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"filesift/internal/search"
)

type buildingModel struct {
	spinner spinner.Model
	stage   string
	done    int
	total   int
	// finished is set once the pipeline returned.
	finished bool
	chunks   int
	err      error
}

func newBuildingModel() buildingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle
	return buildingModel{
		spinner: sp,
		stage:   "report",
	}
}

// buildDoneMsg is sent when the pipeline completes.
type buildDoneMsg struct {
	chunks int
	err    error
}

// buildProgressMsg is sent as each stage advances.
type buildProgressMsg struct {
	stage string
	done  int
	total int
}

func runBuild(cfg Config) tea.Cmd {
	return func() tea.Msg {
		// Redirect stdout so log lines don't tear the alt screen.
		origStdout := os.Stdout
		devNull, err := os.Open(os.DevNull)
		if err == nil {
			os.Stdout = devNull
		}
		defer func() {
			os.Stdout = origStdout
			if devNull != nil {
				devNull.Close()
			}
		}()

		sc := cfg.Search
		sc.Progress = func(stage string, done, total int) {
			if cfg.program != nil && cfg.program.p != nil {
				cfg.program.p.Send(buildProgressMsg{stage: stage, done: done, total: total})
			}
		}
		p, err := search.New(cfg.Workspace, sc)
		if err != nil {
			return buildDoneMsg{err: err}
		}
		ix, err := p.Run(context.Background(), cfg.Source)
		if err != nil {
			return buildDoneMsg{err: err}
		}
		return buildDoneMsg{chunks: ix.Len()}
	}
}

func (m buildingModel) Update(msg tea.Msg) (buildingModel, tea.Cmd) {
	switch msg := msg.(type) {
	case buildDoneMsg:
		m.finished = true
		m.chunks = msg.chunks
		m.err = msg.err
		return m, nil
	case buildProgressMsg:
		m.stage = msg.stage
		m.done = msg.done
		m.total = msg.total
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m buildingModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  Building index") + "\n\n"

	if m.finished {
		if m.err != nil {
			s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
			s += dimStyle.Render("  Press q to quit.") + "\n"
			return s
		}
		s += successStyle.Render("  ✓ Index built!") + "\n\n"
		s += fmt.Sprintf("  Chunks: %d\n\n", m.chunks)
		s += dimStyle.Render("  Press Enter to start searching") + "\n"
		return s
	}

	s += fmt.Sprintf("  %s %s\n", m.spinner.View(), m.stage)
	switch {
	case m.total > 0:
		s += fmt.Sprintf("  %d / %d\n", m.done, m.total)
	case m.done > 0:
		s += fmt.Sprintf("  %d files\n", m.done)
	}
	s += "\n"
	s += dimStyle.Render("  This may take a while for large directories...") + "\n"
	return s
}
