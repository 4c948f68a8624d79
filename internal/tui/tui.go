// Package tui is a terminal front end over a search workspace: it reports
// the workspace state, builds the index when needed and runs queries.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"filesift/internal/llm"
	"filesift/internal/rag"
	"filesift/internal/search"
)

// ViewState represents which screen is active.
type ViewState int

const (
	ViewWelcome ViewState = iota
	ViewBuilding
	ViewQuery
)

// programRef is an indirect pointer to the tea.Program so background goroutines
// can send messages. It must be set after tea.NewProgram returns but before Run.
type programRef struct {
	p *tea.Program
}

// Config holds configuration passed from the CLI layer.
type Config struct {
	// Workspace is the search workspace folder.
	Workspace string
	// Source is the directory indexed when the workspace has no index.
	Source string
	Search search.Config
	// Chat answers questions over the hits; nil shows the hits only.
	Chat *llm.OllamaChat
	K    int

	program *programRef
}

// Model is the top-level Bubble Tea model.
type Model struct {
	state  ViewState
	config Config
	width  int
	height int

	welcome  welcomeModel
	building buildingModel
	query    queryModel
	err      error
}

// New creates a new TUI model with the given config.
func New(cfg Config) Model {
	if cfg.K <= 0 {
		cfg.K = 5
	}
	return Model{
		state:  ViewWelcome,
		config: cfg,
	}
}

func (m Model) Init() tea.Cmd {
	return checkWorkspace(m.config)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.state == ViewQuery {
			var c tea.Cmd
			m.query, c = m.query.Update(msg)
			return m, c
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.state != ViewQuery {
				return m, tea.Quit
			}
		}
	}

	var cmd tea.Cmd

	switch m.state {
	case ViewWelcome:
		m.welcome, cmd = m.welcome.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.welcome.ready {
			if m.welcome.status == workspaceReady {
				return m, m.transitionToQuery()
			}
			if m.config.Source == "" {
				m.welcome.hint = "No source directory given; run with a directory to build the index."
				return m, nil
			}
			m.state = ViewBuilding
			m.building = newBuildingModel()
			return m, tea.Batch(m.building.spinner.Tick, runBuild(m.config))
		}

	case ViewBuilding:
		m.building, cmd = m.building.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.building.finished && m.building.err == nil {
			return m, m.transitionToQuery()
		}

	case ViewQuery:
		m.query, cmd = m.query.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) transitionToQuery() tea.Cmd {
	p, err := search.New(m.config.Workspace, m.config.Search)
	if err != nil {
		m.err = err
		return nil
	}
	var asker *rag.Asker
	retriever := rag.WorkspaceRetriever{Pipeline: p}
	if m.config.Chat != nil {
		asker = &rag.Asker{Retriever: retriever, Chat: m.config.Chat, K: m.config.K}
	}
	m.query = newQueryModel(context.Background(), retriever, asker, m.config.K)
	m.query.initViewport(m.width, m.height)
	m.state = ViewQuery
	return nil
}

func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render("Error: "+m.err.Error()) + "\n"
	}

	switch m.state {
	case ViewWelcome:
		return m.welcome.View(m.width, m.height)
	case ViewBuilding:
		return m.building.View(m.width, m.height)
	case ViewQuery:
		return m.query.View(m.width, m.height)
	}
	return ""
}

// Run starts the TUI program.
func Run(cfg Config) error {
	ref := &programRef{}
	cfg.program = ref
	model := New(cfg)
	p := tea.NewProgram(model, tea.WithAltScreen())
	ref.p = p
	_, err := p.Run()
	return err
}
