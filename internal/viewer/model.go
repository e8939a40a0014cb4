package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/krakenlabs/kraken-relay/internal/autoscroll"
	"github.com/krakenlabs/kraken-relay/internal/session"
	"github.com/krakenlabs/kraken-relay/internal/transcript"
	"github.com/krakenlabs/kraken-relay/internal/typewriter"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	focusedStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63"))
	blurredStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)

	statusStyles = map[session.Status]lipgloss.Style{
		session.StatusActive:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		session.StatusCompleted: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		session.StatusError:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

type (
	eventMsg        Event
	frameMsg        typewriter.Frame
	streamClosedMsg struct{}
)

// panel identifies which viewport has keyboard focus.
type panel int

const (
	panelFragment panel = iota
	panelTranscript
)

const fragmentPanelHeight = 4

// Model is the bubbletea model for the session viewer. It folds watch events
// into a transcript, animates the newest fragment with a typewriter reveal in
// its own panel, shows the blackboard, and keeps each panel pinned to its
// tail until the user scrolls away from it.
type Model struct {
	client    *Client
	sessionID string

	events <-chan Event
	acc    *transcript.Accumulator
	writer *typewriter.Renderer

	fragmentView     viewport.Model
	transcriptView   viewport.Model
	followFragment   *autoscroll.Controller
	followTranscript *autoscroll.Controller
	focus            panel

	ready      bool
	width      int
	fragment   string
	blackboard map[string]any
	status     session.Status
	notFound   bool
	errText    string
	versions   int64
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithAccumulator overrides the transcript accumulator, selecting dedup
// strategy and tenancy binding.
func WithAccumulator(acc *transcript.Accumulator) ModelOption {
	return func(m *Model) {
		if acc != nil {
			m.acc = acc
		}
	}
}

// WithTypewriter overrides the fragment renderer.
func WithTypewriter(w *typewriter.Renderer) ModelOption {
	return func(m *Model) {
		if w != nil {
			m.writer = w
		}
	}
}

// WithAutoscroll overrides the transcript panel's follow controller.
func WithAutoscroll(c *autoscroll.Controller) ModelOption {
	return func(m *Model) {
		if c != nil {
			m.followTranscript = c
		}
	}
}

// NewModel creates a viewer model over an already-open watch feed.
func NewModel(client *Client, sessionID string, events <-chan Event, opts ...ModelOption) *Model {
	m := &Model{
		client:           client,
		sessionID:        sessionID,
		events:           events,
		acc:              transcript.New(),
		writer:           typewriter.New(),
		followFragment:   autoscroll.New(),
		followTranscript: autoscroll.New(),
		focus:            panelTranscript,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run opens the watch feed for sessionID and blocks in the TUI until the user
// quits.
func Run(ctx context.Context, client *Client, sessionID string, opts ...ModelOption) error {
	events, err := client.Watch(ctx, sessionID)
	if err != nil {
		return err
	}
	m := NewModel(client, sessionID, events, opts...)
	defer m.writer.Close()
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitEvent(), m.waitFrame())
}

func (m *Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *Model) waitFrame() tea.Cmd {
	return func() tea.Msg {
		return frameMsg(<-m.writer.Frames())
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			if m.focus == panelTranscript {
				m.focus = panelFragment
			} else {
				m.focus = panelTranscript
			}
			return m, nil
		case "end", "G":
			m.focusedFollow().JumpToBottom()
			m.focusedView().GotoBottom()
			return m, nil
		}
		var cmd tea.Cmd
		if m.focus == panelFragment {
			m.fragmentView, cmd = m.fragmentView.Update(msg)
		} else {
			m.transcriptView, cmd = m.transcriptView.Update(msg)
		}
		view := m.focusedView()
		m.focusedFollow().UserScrolled(
			autoscroll.DistanceFromBottom(view.YOffset, view.Height, view.TotalLineCount()))
		return m, cmd

	case eventMsg:
		m.applyEvent(Event(msg))
		return m, m.waitEvent()

	case frameMsg:
		m.fragment = msg.Text
		m.setFragment()
		return m, m.waitFrame()

	case streamClosedMsg:
		if m.errText == "" {
			m.errText = "watch stream closed"
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.transcriptView, cmd = m.transcriptView.Update(msg)
	return m, cmd
}

func (m *Model) focusedView() *viewport.Model {
	if m.focus == panelFragment {
		return &m.fragmentView
	}
	return &m.transcriptView
}

func (m *Model) focusedFollow() *autoscroll.Controller {
	if m.focus == panelFragment {
		return m.followFragment
	}
	return m.followTranscript
}

func (m *Model) applyEvent(ev Event) {
	switch {
	case ev.Error != "":
		m.errText = ev.Error
		return
	case ev.NotFound:
		m.notFound = true
		return
	case ev.Record == nil:
		return
	}
	m.notFound = false
	m.versions++
	m.blackboard = ev.Record.Blackboard

	before := len(m.acc.Text())
	text, err := m.acc.Apply(session.Delivery{Record: ev.Record})
	if err != nil {
		m.errText = err.Error()
		return
	}
	m.status = m.acc.Status()

	if len(text) > before {
		// A genuinely new fragment: restart the reveal animation for it.
		m.writer.Animate(ev.Record.LastDelta)
		m.setTranscript(text)
	}
}

func (m *Model) setTranscript(text string) {
	if !m.ready {
		return
	}
	m.transcriptView.SetContent(text)
	if m.followTranscript.ContentGrew() {
		m.transcriptView.GotoBottom()
	}
}

func (m *Model) setFragment() {
	if !m.ready {
		return
	}
	m.fragmentView.SetContent(m.fragment)
	if m.followFragment.ContentGrew() {
		m.fragmentView.GotoBottom()
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	// Header, borders, blackboard line and help line take the rest.
	bodyHeight := height - fragmentPanelHeight - 10
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	if !m.ready {
		m.fragmentView = viewport.New(width-4, fragmentPanelHeight)
		m.transcriptView = viewport.New(width-4, bodyHeight)
		m.ready = true
	} else {
		m.fragmentView.Width = width - 4
		m.fragmentView.Height = fragmentPanelHeight
		m.transcriptView.Width = width - 4
		m.transcriptView.Height = bodyHeight
	}
	m.setFragment()
	m.setTranscript(m.acc.Text())
}

func (m *Model) statusBadge() string {
	switch {
	case m.errText != "":
		return statusStyles[session.StatusError].Render("error")
	case m.notFound:
		return labelStyle.Render("waiting for session")
	case m.status == "":
		return labelStyle.Render("connecting")
	}
	style, ok := statusStyles[m.status]
	if !ok {
		style = labelStyle
	}
	return style.Render(string(m.status))
}

// blackboardLine renders the non-reserved blackboard entries, key-sorted, on
// one line. Reserved keys duplicate the transcript and the header.
func (m *Model) blackboardLine() string {
	keys := make([]string, 0, len(m.blackboard))
	for k := range m.blackboard {
		if k == "lastResponse" || k == "lastPrompt" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return labelStyle.Render("blackboard: (empty)")
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(m.blackboard[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%q", fmt.Sprint(m.blackboard[k])))
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return labelStyle.Render("blackboard: ") + strings.Join(parts, "  ")
}

func (m *Model) panelStyle(p panel) lipgloss.Style {
	if m.focus == p {
		return focusedStyle
	}
	return blurredStyle
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("kraken-relay"),
		labelStyle.Render("  session "),
		m.sessionID,
		labelStyle.Render("  status "),
		m.statusBadge(),
		labelStyle.Render(fmt.Sprintf("  versions %d", m.versions)),
	)

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(m.blackboardLine())
	b.WriteString("\n")
	b.WriteString(m.panelStyle(panelFragment).Width(m.width - 2).Render(m.fragmentView.View()))
	b.WriteString("\n")
	b.WriteString(m.panelStyle(panelTranscript).Width(m.width - 2).Render(m.transcriptView.View()))
	b.WriteString("\n")
	if m.errText != "" {
		b.WriteString(statusStyles[session.StatusError].Render(m.errText))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("tab switch panel - up/down scroll - G jump to end - q quit"))
	return b.String()
}
