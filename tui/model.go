// Package tui is gemcode's full-screen front end, built on bubbletea.
package tui

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/martinemde/gemcode/agentloop"
)

// Session is the part of *agentloop.Session the TUI drives.
type Session interface {
	Submit(ctx context.Context, input string) error
	Reset() error
	Subscribe(handler func(agentloop.SessionEvent)) (unsubscribe func())
	Model() string
}

const (
	sidebarWidth    = 28
	sidebarMaxItems = 200
	inputHeight     = 3
)

type keyMap struct {
	Submit  key.Binding
	Newline key.Binding
	Cancel  key.Binding
	Clear   key.Binding
	Sidebar key.Binding
	Help    key.Binding
	Quit    key.Binding
	Scroll  key.Binding
}

var keys = keyMap{
	Submit:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send message")),
	Newline: key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"), key.WithHelp("alt+enter", "insert newline")),
	Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel generation / close help")),
	Clear:   key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear history")),
	Sidebar: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "toggle file sidebar")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help (empty input)")),
	Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	Scroll:  key.NewBinding(key.WithKeys("pgup", "pgdown"), key.WithHelp("pgup/pgdn", "scroll transcript")),
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryTool
	entryWarning
	entryError
	entryInfo
)

type entry struct {
	kind entryKind
	text string
}

type eventMsg agentloop.SessionEvent

type turnDoneMsg struct{ err error }

type submitMsg string

// Model is the bubbletea model.
type Model struct {
	session Session
	workdir string
	initial string

	events chan agentloop.SessionEvent
	done   chan struct{}
	unsub  func()

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	entries     []entry
	streaming   bool // last entry is an open assistant block
	running     bool
	cancel      context.CancelFunc
	showSidebar bool
	showHelp    bool
	sidebar     []string
	fatal       error

	width  int
	height int
}

// New creates the model and subscribes to session events. initial, when
// non-empty, is submitted as soon as the program starts. Call Close after
// the program exits.
func New(session Session, workdir, initial string) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask Gem Code anything... (? for help)"
	ta.ShowLineNumbers = false
	ta.Prompt = "┃ "
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = keys.Newline
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		session:  session,
		workdir:  workdir,
		initial:  strings.TrimSpace(initial),
		events:   make(chan agentloop.SessionEvent, 1024),
		done:     make(chan struct{}),
		input:    ta,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
		height:   24,
	}
	events, done := m.events, m.done
	m.unsub = session.Subscribe(func(ev agentloop.SessionEvent) {
		select {
		case events <- ev:
		case <-done:
		}
	})
	return m
}

// Close detaches the model from the session.
func (m Model) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.unsub()
}

// Err returns the fatal error that ended the program, if any.
func (m Model) Err() error { return m.fatal }

func waitForEvent(events <-chan agentloop.SessionEvent, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-events:
			return eventMsg(ev)
		case <-done:
			return nil
		}
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, waitForEvent(m.events, m.done)}
	if m.initial != "" {
		initial := m.initial
		cmds = append(cmds, func() tea.Msg { return submitMsg(initial) })
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case eventMsg:
		m.applyEvent(agentloop.SessionEvent(msg))
		return m, waitForEvent(m.events, m.done)

	case submitMsg:
		return m.submit(string(msg))

	case turnDoneMsg:
		m.drainEvents()
		m.running = false
		m.streaming = false
		m.cancel = nil
		var desync *agentloop.ProtocolDesyncError
		if errors.As(msg.err, &desync) {
			m.fatal = msg.err
			return m, tea.Quit
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit

		case key.Matches(msg, keys.Cancel):
			if m.showHelp {
				m.showHelp = false
				return m, nil
			}
			if m.running && m.cancel != nil {
				m.cancel()
			}
			return m, nil

		case key.Matches(msg, keys.Clear):
			m.clear()
			return m, nil

		case key.Matches(msg, keys.Sidebar):
			m.showSidebar = !m.showSidebar
			if m.showSidebar {
				m.sidebar = listDir(m.workdir)
			}
			m.resize()
			return m, nil

		case key.Matches(msg, keys.Help) && strings.TrimSpace(m.input.Value()) == "":
			m.showHelp = !m.showHelp
			return m, nil

		case key.Matches(msg, keys.Scroll):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd

		case key.Matches(msg, keys.Submit):
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.running {
				return m, nil
			}
			m.input.Reset()
			return m.submit(text)
		}

		if m.showHelp {
			m.showHelp = false
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit(text string) (Model, tea.Cmd) {
	switch strings.ToLower(text) {
	case "exit", "quit":
		return m, tea.Quit
	case "/clear":
		m.clear()
		return m, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.streaming = false
	m.entries = append(m.entries, entry{kind: entryUser, text: text})
	m.refresh()

	session := m.session
	run := func() tea.Msg {
		defer cancel()
		return turnDoneMsg{err: session.Submit(ctx, text)}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

func (m *Model) clear() {
	if m.running {
		m.entries = append(m.entries, entry{kind: entryWarning, text: "Cannot clear history while generating. Press esc first."})
		m.refresh()
		return
	}
	if err := m.session.Reset(); err != nil {
		m.entries = append(m.entries, entry{kind: entryError, text: err.Error()})
	} else {
		m.entries = []entry{{kind: entryInfo, text: "History cleared."}}
	}
	m.streaming = false
	m.refresh()
}

// drainEvents applies events the session emitted before Submit returned
// but that waitForEvent has not delivered yet.
func (m *Model) drainEvents() {
	for {
		select {
		case ev := <-m.events:
			m.applyEvent(ev)
		default:
			return
		}
	}
}

func (m *Model) applyEvent(ev agentloop.SessionEvent) {
	switch ev.Kind {
	case agentloop.EventTextDelta:
		delta := ev.Text("delta")
		if m.streaming && len(m.entries) > 0 {
			m.entries[len(m.entries)-1].text += delta
		} else {
			m.entries = append(m.entries, entry{kind: entryAssistant, text: delta})
			m.streaming = true
		}
	case agentloop.EventToolStarted:
		line := "⚙ " + ev.Text("name")
		if d := ev.Text("description"); d != "" {
			line += ": " + d
		}
		m.entries = append(m.entries, entry{kind: entryTool, text: line})
		m.streaming = false
	case agentloop.EventToolFinished:
		if isErr, _ := ev.Data["is_error"].(bool); isErr {
			first, _, _ := strings.Cut(ev.Text("output"), "\n")
			m.entries = append(m.entries, entry{kind: entryError, text: "  " + first})
		}
	case agentloop.EventWarning:
		m.entries = append(m.entries, entry{kind: entryWarning, text: "Warning: " + ev.Text("message")})
		m.streaming = false
	case agentloop.EventError:
		m.entries = append(m.entries, entry{kind: entryError, text: "Error: " + ev.Text("error")})
		m.streaming = false
	case agentloop.EventTurnComplete:
		m.streaming = false
	default:
		return
	}
	m.refresh()
}

func (m *Model) resize() {
	w := m.width
	if m.showSidebar {
		w -= sidebarWidth
	}
	if w < 20 {
		w = 20
	}
	// input box (content + border) and status bar
	h := m.height - (inputHeight + 2) - 1
	if h < 3 {
		h = 3
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.input.SetWidth(m.width - 2)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript(m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript(width int) string {
	if len(m.entries) == 0 {
		return dimStyle.Render("Welcome to Gem Code. Type a message and press enter.")
	}
	wrap := lipgloss.NewStyle().Width(width)
	var blocks []string
	for _, e := range m.entries {
		switch e.kind {
		case entryUser:
			blocks = append(blocks, userLabelStyle.Render("You")+"\n"+wrap.Render(e.text))
		case entryAssistant:
			blocks = append(blocks, assistantLabelStyle.Render("Gem Code")+"\n"+assistantTextStyle.Width(width).Render(e.text))
		case entryTool:
			blocks = append(blocks, toolStyle.Width(width).Render(e.text))
		case entryWarning:
			blocks = append(blocks, warningStyle.Width(width).Render(e.text))
		case entryError:
			blocks = append(blocks, errorStyle.Width(width).Render(e.text))
		case entryInfo:
			blocks = append(blocks, dimStyle.Width(width).Render(e.text))
		}
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) View() string {
	body := m.viewport.View()
	if m.showHelp {
		body = lipgloss.Place(m.viewport.Width, m.viewport.Height, lipgloss.Center, lipgloss.Center, m.renderHelp())
	}
	if m.showSidebar {
		side := sidebarStyle.Width(sidebarWidth - 1).Height(m.viewport.Height).Render(m.renderSidebar())
		body = lipgloss.JoinHorizontal(lipgloss.Top, side, body)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		inputBorderStyle.Render(m.input.View()),
		m.renderStatus(),
	)
}

func (m Model) renderStatus() string {
	var status string
	if m.running {
		status = m.spinner.View() + " Generating... (esc to cancel)"
	} else {
		status = "Ready • " + m.session.Model()
	}
	return statusBarStyle.Width(m.width).Render(status)
}

func (m Model) renderSidebar() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(dirName(m.workdir)))
	sb.WriteString("\n")
	for _, name := range m.sidebar {
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderHelp() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Keyboard shortcuts"))
	sb.WriteString("\n\n")
	for _, b := range []key.Binding{keys.Submit, keys.Newline, keys.Cancel, keys.Clear, keys.Sidebar, keys.Scroll, keys.Help, keys.Quit} {
		h := b.Help()
		sb.WriteString(helpKeyStyle.Render(h.Key) + h.Desc + "\n")
	}
	sb.WriteString("\n" + dimStyle.Render("Type /clear to reset, exit to quit."))
	return helpBoxStyle.Render(sb.String())
}

func dirName(path string) string {
	path = strings.TrimRight(path, string(os.PathSeparator))
	if i := strings.LastIndexByte(path, os.PathSeparator); i >= 0 && i < len(path)-1 {
		return path[i+1:]
	}
	if path == "" {
		return string(os.PathSeparator)
	}
	return path
}

// listDir returns the visible entries of dir, directories first.
func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{dimStyle.Render(err.Error())}
	}
	var dirs, files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, "▸ "+name+"/")
		} else {
			files = append(files, "  "+name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	out := append(dirs, files...)
	if len(out) > sidebarMaxItems {
		out = append(out[:sidebarMaxItems], dimStyle.Render("…"))
	}
	return out
}
