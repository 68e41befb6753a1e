// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatstream/internal/exchange"
	"github.com/jeranaias/chatstream/internal/markdown"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/render"
	"github.com/jeranaias/chatstream/internal/ui/styles"
)

// Sender runs exchanges. *exchange.Coordinator implements it.
type Sender interface {
	Send(ctx context.Context, sessionID, userText string, onUpdate exchange.UpdateFunc) (*exchange.Result, error)
	Cancel()
	NewSession(ctx context.Context, name string) (*model.Session, error)
}

// State is the screen state.
type State int

const (
	StateReady State = iota
	StateStreaming
)

// entry is one finished line of the transcript.
type entry struct {
	role model.Role
	text string
	tree *render.Node // assistant answers only
	note string       // outcome note for unfinished answers
	err  error
}

// Options configures the chat screen.
type Options struct {
	Sender    Sender
	Scheduler *render.Scheduler
	Theme     *styles.Theme
	SessionID string
	ModelName string
	CodeStyle string
	WordWrap  int
}

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	theme     *styles.Theme
	sender    Sender
	sched     *render.Scheduler
	builder   *render.Builder
	cancelMgr *cancelManager
	keys      KeyMap

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	sessionID string
	modelName string
	wrap      int

	entries []entry
	seq     int            // number of the newest exchange
	asks    map[int]string // user text of exchanges still running
	live    *render.Node   // newest tree of the running exchange

	state  State
	status string
	width  int
	height int
}

// New creates the chat model.
func New(opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.Default()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask anything, /new for a new chat"
	ti.CharLimit = 8192
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	return Model{
		theme:     theme,
		sender:    opts.Sender,
		sched:     opts.Scheduler,
		builder:   render.NewBuilder(opts.CodeStyle),
		cancelMgr: newCancelManager(),
		keys:      DefaultKeyMap(),
		viewport:  vp,
		input:     ti,
		spinner:   sp,
		sessionID: opts.SessionID,
		modelName: opts.ModelName,
		wrap:      opts.WordWrap,
		asks:      make(map[int]string),
	}
}

// Init starts the cursor blink and creates a session when none was given.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.sessionID == "" {
		cmds = append(cmds, m.newSessionCmd())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case RenderMsg:
		if m.state == StateStreaming {
			m.live = msg.Tree
			m.refresh()
		}
		return m, nil

	case StreamCompleteMsg:
		return m.handleComplete(msg)

	case SessionReadyMsg:
		if msg.Err != nil {
			m.status = styles.RenderError(msg.Err.Error())
			return m, nil
		}
		m.sessionID = msg.Session.ID
		m.entries = nil
		m.status = styles.RenderInfo("new chat " + shortID(m.sessionID))
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.state != StateStreaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancelMgr.clear()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.state == StateStreaming {
			m.sender.Cancel()
		}
		return m, nil

	case key.Matches(msg, m.keys.Think):
		m.toggleReasoning()
		return m, nil

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	switch text {
	case "/new":
		return m, m.newSessionCmd()
	case "/quit", "/exit":
		m.cancelMgr.clear()
		return m, tea.Quit
	}
	if m.sessionID == "" {
		m.status = styles.RenderWarning("no session yet")
		return m, nil
	}

	m.seq++
	m.asks[m.seq] = text
	m.live = nil
	m.status = ""
	wasStreaming := m.state == StateStreaming
	m.state = StateStreaming
	m.refresh()

	cmds := []tea.Cmd{m.sendCmd(m.seq, text)}
	if !wasStreaming {
		cmds = append(cmds, m.spinner.Tick)
	}
	return m, tea.Batch(cmds...)
}

// sendCmd runs one exchange. The scheduler is reset when the exchange
// produces its first snapshot, which happens only after any previous
// exchange has finished.
func (m Model) sendCmd(seq int, text string) tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelMgr.set(cancel)

	sender, sched, sessionID := m.sender, m.sched, m.sessionID
	return func() tea.Msg {
		defer cancel()
		first := true
		onUpdate := func(snapshot string) {
			if sched == nil {
				return
			}
			if first {
				first = false
				sched.Reset()
			}
			sched.OnContentChanged(snapshot)
		}
		res, err := sender.Send(ctx, sessionID, text, onUpdate)
		return StreamCompleteMsg{Seq: seq, Ask: text, Result: res, Err: err}
	}
}

func (m Model) handleComplete(msg StreamCompleteMsg) (tea.Model, tea.Cmd) {
	delete(m.asks, msg.Seq)
	m.entries = append(m.entries, entry{role: model.RoleUser, text: msg.Ask})

	switch {
	case msg.Err != nil:
		m.entries = append(m.entries, entry{role: model.RoleAssistant, err: msg.Err})
	case msg.Result != nil:
		e := entry{role: model.RoleAssistant, text: msg.Result.Answer}
		e.tree = m.answerTree(msg.Result.Answer, msg.Seq == m.seq)
		if msg.Result.Outcome != exchange.Completed {
			e.note = msg.Result.Outcome.String()
		}
		m.entries = append(m.entries, e)
	}

	if msg.Seq == m.seq {
		m.state = StateReady
		m.live = nil
	}
	m.refresh()
	return m, nil
}

// answerTree builds the final tree of an answer. The newest exchange keeps
// the expander state the user chose while it streamed.
func (m Model) answerTree(answer string, newest bool) *render.Node {
	tree, err := m.builder.Build(markdown.Parse(answer))
	if err != nil {
		return nil
	}
	if !newest || m.sched == nil {
		return tree
	}
	if prev := m.sched.Current().Find(render.KindExpander); prev != nil {
		if exp := tree.Find(render.KindExpander); exp != nil {
			exp.Expanded = prev.Expanded
		}
	}
	return tree
}

// toggleReasoning flips the reasoning of the running answer, or of the
// last finished answer when nothing is running.
func (m *Model) toggleReasoning() {
	if m.state == StateStreaming && m.sched != nil {
		m.sched.ToggleReasoning()
		return
	}
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := &m.entries[i]
		if e.role != model.RoleAssistant || e.tree == nil {
			continue
		}
		if e.tree.Find(render.KindExpander) == nil {
			return
		}
		e.tree = e.tree.Clone()
		exp := e.tree.Find(render.KindExpander)
		exp.Expanded = !exp.Expanded
		m.refresh()
		return
	}
}

func (m Model) newSessionCmd() tea.Cmd {
	sender := m.sender
	return func() tea.Msg {
		sess, err := sender.NewSession(context.Background(), "")
		return SessionReadyMsg{Session: sess, Err: err}
	}
}

// refresh re-renders the transcript into the viewport and keeps it
// scrolled to the bottom.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
