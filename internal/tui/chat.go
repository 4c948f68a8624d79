package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"filesift/internal/llm"
	"filesift/internal/rag"
)

type queryState int

const (
	queryIdle queryState = iota
	querySearching
)

type queryModel struct {
	viewport    viewport.Model
	input       textinput.Model
	spinner     spinner.Model
	renderer    *glamour.TermRenderer
	messages    []chatMessage
	history     []llm.Message
	ctx         context.Context
	retriever   rag.Retriever
	asker       *rag.Asker
	state       queryState
	k           int
	width       int
	height      int
	initialized bool
}

type chatMessage struct {
	role    string
	content string
}

// resultMsg is sent when a query completes.
type resultMsg struct {
	content string
	answer  bool
	err     error
}

func newQueryModel(ctx context.Context, retriever rag.Retriever, asker *rag.Asker, k int) queryModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle

	ti := textinput.New()
	ti.Placeholder = "Search your files..."
	ti.CharLimit = 2000
	ti.Focus()

	return queryModel{
		spinner:   sp,
		input:     ti,
		ctx:       ctx,
		retriever: retriever,
		asker:     asker,
		k:         k,
		state:     queryIdle,
	}
}

func (m *queryModel) initViewport(width, height int) {
	m.width = width
	m.height = height

	// Layout: viewport + status bar (1 line) + input (1 line) + gap (1 line).
	vpHeight := max(height-3, 5)
	m.viewport = viewport.New(width, vpHeight)
	m.viewport.SetContent(dimStyle.Render("Type a query to search the indexed files.\n\nCommands: /help, /clear, /exit"))

	m.input.Width = width - 4

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err == nil {
		m.renderer = r
	}

	m.initialized = true
}

func runQuery(ctx context.Context, question string, retriever rag.Retriever, asker *rag.Asker, history []llm.Message, k int) tea.Cmd {
	return func() tea.Msg {
		if asker != nil {
			answer, passages, err := asker.Ask(ctx, question, history)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{content: answer + "\n\n" + sources(passages), answer: true}
		}
		passages, err := retriever.Retrieve(ctx, question, k)
		if err != nil {
			return resultMsg{err: fmt.Errorf("retrieval error: %w", err)}
		}
		return resultMsg{content: rag.FormatPassages(question, passages)}
	}
}

func sources(passages []rag.Passage) string {
	seen := make(map[string]bool)
	var sb strings.Builder
	sb.WriteString("**Sources:**\n")
	for _, p := range passages {
		if !seen[p.Source] {
			seen[p.Source] = true
			fmt.Fprintf(&sb, "- `%s`\n", p.Source)
		}
	}
	return sb.String()
}

func (m queryModel) Update(msg tea.Msg) (queryModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.initViewport(msg.Width, msg.Height)
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
		return m, nil

	case resultMsg:
		m.state = queryIdle
		if msg.err != nil {
			m.messages = append(m.messages, chatMessage{role: "error", content: msg.err.Error()})
		} else {
			m.messages = append(m.messages, chatMessage{role: "assistant", content: msg.content})
			if msg.answer {
				m.history = append(m.history, llm.Message{Role: "assistant", Content: msg.content})
				if len(m.history) > 20 {
					m.history = m.history[len(m.history)-20:]
				}
			}
		}
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
		return m, nil

	case spinner.TickMsg:
		if m.state != queryIdle {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			m.viewport.SetContent(m.renderMessages())
			m.viewport.GotoBottom()
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		if m.state != queryIdle {
			return m, nil
		}
		switch msg.Type {
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			if question == "" {
				return m, nil
			}
			m.input.Reset()

			switch question {
			case "/exit", "/quit":
				return m, tea.Quit
			case "/clear":
				m.messages = nil
				m.history = nil
				m.viewport.SetContent(dimStyle.Render("Results cleared."))
				return m, nil
			case "/help":
				helpText := "Commands:\n  /clear  - clear results and conversation\n  /exit   - quit\n  /help   - show this help"
				m.messages = append(m.messages, chatMessage{role: "system", content: helpText})
				m.viewport.SetContent(m.renderMessages())
				m.viewport.GotoBottom()
				return m, nil
			}

			history := m.history
			m.messages = append(m.messages, chatMessage{role: "user", content: question})
			if m.asker != nil {
				m.history = append(m.history, llm.Message{Role: "user", Content: question})
			}
			m.state = querySearching
			m.viewport.SetContent(m.renderMessages())
			m.viewport.GotoBottom()

			return m, tea.Batch(
				m.spinner.Tick,
				runQuery(m.ctx, question, m.retriever, m.asker, history, m.k),
			)
		}
	}

	if m.state == queryIdle {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m queryModel) renderMarkdown(content string) string {
	if m.renderer == nil {
		return assistantMsgStyle.Render(content)
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return assistantMsgStyle.Render(content)
	}
	return strings.TrimRight(rendered, "\n")
}

func (m queryModel) renderMessages() string {
	var sb strings.Builder
	for _, msg := range m.messages {
		switch msg.role {
		case "user":
			sb.WriteString(userMsgStyle.Render("Query: ") + msg.content + "\n\n")
		case "assistant":
			sb.WriteString(m.renderMarkdown(msg.content) + "\n\n")
		case "error":
			sb.WriteString(errorStyle.Render("Error: "+msg.content) + "\n\n")
		case "system":
			sb.WriteString(dimStyle.Render(msg.content) + "\n\n")
		}
	}

	if m.state != queryIdle {
		sb.WriteString(m.spinner.View() + " " + dimStyle.Render("Searching...") + "\n")
	}

	return sb.String()
}

func (m queryModel) View(width, height int) string {
	if !m.initialized {
		return ""
	}

	statusText := "idle"
	if m.state == querySearching {
		statusText = "searching..."
	}
	mode := "search"
	if m.asker != nil {
		mode = "ask " + m.asker.Chat.Model()
	}
	statusBar := statusBarStyle.
		Width(m.width).
		Render(fmt.Sprintf(" filesift %s • %s", mode, statusText))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewport.View(),
		statusBar,
		m.input.View(),
	)
}
