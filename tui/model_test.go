package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/martinemde/gemcode/agentloop"
)

type fakeSession struct {
	handler  func(agentloop.SessionEvent)
	inputs   []string
	resets   int
	err      error
	onSubmit func()
}

func (f *fakeSession) Subscribe(h func(agentloop.SessionEvent)) func() {
	f.handler = h
	return func() { f.handler = nil }
}

func (f *fakeSession) Submit(_ context.Context, input string) error {
	f.inputs = append(f.inputs, input)
	if f.onSubmit != nil {
		f.onSubmit()
	}
	return f.err
}

func (f *fakeSession) Reset() error {
	f.resets++
	return nil
}

func (f *fakeSession) Model() string { return "test-model" }

func newTestModel(t *testing.T, sess *fakeSession) Model {
	t.Helper()
	m := New(sess, t.TempDir(), "")
	t.Cleanup(m.Close)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// runTurn executes the turn command from a submit batch and returns its
// completion message.
func runTurn(t *testing.T, cmd tea.Cmd) turnDoneMsg {
	t.Helper()
	if cmd == nil {
		t.Fatal("no command returned")
	}
	batch, ok := cmd().(tea.BatchMsg)
	if !ok {
		t.Fatal("expected a batch")
	}
	for _, c := range batch {
		if c == nil {
			continue
		}
		if done, ok := c().(turnDoneMsg); ok {
			return done
		}
	}
	t.Fatal("no turnDoneMsg in batch")
	return turnDoneMsg{}
}

func TestSubmitAndStream(t *testing.T) {
	sess := &fakeSession{}
	m := newTestModel(t, sess)

	m.input.SetValue("hello")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.running {
		t.Fatal("expected running after submit")
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}
	if !strings.Contains(m.View(), "Generating...") {
		t.Error("status bar should show Generating...")
	}

	done := runTurn(t, cmd)
	if len(sess.inputs) != 1 || sess.inputs[0] != "hello" {
		t.Errorf("inputs = %v", sess.inputs)
	}

	m, _ = update(t, m, eventMsg{Kind: agentloop.EventTextDelta, Data: map[string]any{"delta": "Hi "}})
	m, _ = update(t, m, eventMsg{Kind: agentloop.EventTextDelta, Data: map[string]any{"delta": "there"}})
	m, _ = update(t, m, eventMsg{Kind: agentloop.EventToolStarted, Data: map[string]any{"name": "bash", "description": "List files"}})
	m, _ = update(t, m, eventMsg{Kind: agentloop.EventToolFinished, Data: map[string]any{"output": "Error: nope", "is_error": true}})
	m, _ = update(t, m, eventMsg{Kind: agentloop.EventTextDelta, Data: map[string]any{"delta": "Done."}})
	m, _ = update(t, m, done)

	if m.running {
		t.Error("still running after turnDoneMsg")
	}
	if len(m.entries) != 5 {
		t.Fatalf("entries = %+v", m.entries)
	}
	if m.entries[1].text != "Hi there" || m.entries[4].text != "Done." {
		t.Errorf("assistant entries = %q, %q", m.entries[1].text, m.entries[4].text)
	}
	view := m.View()
	for _, want := range []string{"hello", "Hi there", "⚙ bash: List files", "Error: nope", "Ready • test-model"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestEnterIgnoredWhileRunningOrEmpty(t *testing.T) {
	sess := &fakeSession{}
	m := newTestModel(t, sess)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.running || cmd != nil {
		t.Error("empty input should not submit")
	}

	m.running = true
	m.input.SetValue("queued")
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || m.input.Value() != "queued" {
		t.Error("enter while running should be ignored")
	}
}

func TestEscCancelsRunningTurn(t *testing.T) {
	m := newTestModel(t, &fakeSession{})
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if ctx.Err() == nil {
		t.Error("esc did not cancel the turn")
	}
}

func TestClearHistory(t *testing.T) {
	sess := &fakeSession{}
	m := newTestModel(t, sess)
	m.entries = []entry{{kind: entryUser, text: "old"}}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if sess.resets != 1 {
		t.Errorf("resets = %d", sess.resets)
	}
	if len(m.entries) != 1 || m.entries[0].text != "History cleared." {
		t.Errorf("entries = %+v", m.entries)
	}

	m.running = true
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if sess.resets != 1 {
		t.Error("clear should be refused while running")
	}
}

func TestHelpAndSidebar(t *testing.T) {
	sess := &fakeSession{}
	m := New(sess, t.TempDir(), "")
	t.Cleanup(m.Close)
	if err := os.Mkdir(filepath.Join(m.workdir, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(m.workdir, "main.go"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if !m.showHelp || !strings.Contains(m.View(), "Keyboard shortcuts") {
		t.Error("? should open help")
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.showHelp {
		t.Error("esc should close help")
	}

	m.input.SetValue("why")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if m.showHelp {
		t.Error("? with text in the input should be typed, not open help")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	view := m.View()
	if !m.showSidebar || !strings.Contains(view, "pkg/") || !strings.Contains(view, "main.go") {
		t.Errorf("sidebar not rendered:\n%s", view)
	}
	if m.viewport.Width != 100-sidebarWidth {
		t.Errorf("viewport width = %d", m.viewport.Width)
	}
}

func TestSlashCommands(t *testing.T) {
	sess := &fakeSession{}
	m := newTestModel(t, sess)

	m, _ = update(t, m, submitMsg("/clear"))
	if sess.resets != 1 || len(sess.inputs) != 0 {
		t.Errorf("resets=%d inputs=%v", sess.resets, sess.inputs)
	}

	_, cmd := update(t, m, submitMsg("exit"))
	if cmd == nil {
		t.Fatal("exit should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("exit should return tea.Quit")
	}
}

func TestProtocolDesyncQuits(t *testing.T) {
	m := newTestModel(t, &fakeSession{})
	m.running = true
	desync := &agentloop.ProtocolDesyncError{Index: 2, Reason: "broken"}

	m, cmd := update(t, m, turnDoneMsg{err: desync})
	if cmd == nil {
		t.Fatal("expected quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if !errors.Is(m.Err(), desync) {
		t.Errorf("Err() = %v", m.Err())
	}
}

func TestTurnDoneAppliesQueuedEvents(t *testing.T) {
	sess := &fakeSession{}
	m := newTestModel(t, sess)
	sess.onSubmit = func() {
		sess.handler(agentloop.SessionEvent{Kind: agentloop.EventTextDelta, Data: map[string]any{"delta": "late "}})
		sess.handler(agentloop.SessionEvent{Kind: agentloop.EventTextDelta, Data: map[string]any{"delta": "reply"}})
		sess.handler(agentloop.SessionEvent{Kind: agentloop.EventTurnComplete, Data: map[string]any{"text": "late reply"}})
	}

	m.input.SetValue("hi")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	done := runTurn(t, cmd)
	m, _ = update(t, m, done)

	if m.running {
		t.Error("still running after turnDoneMsg")
	}
	if len(m.entries) != 2 || m.entries[1].text != "late reply" {
		t.Fatalf("entries = %+v, want the queued reply rendered", m.entries)
	}
	if len(m.events) != 0 {
		t.Errorf("%d events left queued", len(m.events))
	}
	if view := m.View(); !strings.Contains(view, "late reply") || !strings.Contains(view, "Ready • test-model") {
		t.Errorf("view = %q", view)
	}
}

func TestSubscriptionForwardsEvents(t *testing.T) {
	sess := &fakeSession{}
	m := newTestModel(t, sess)

	sess.handler(agentloop.SessionEvent{Kind: agentloop.EventWarning, Data: map[string]any{"message": "careful"}})
	msg := waitForEvent(m.events, m.done)()
	ev, ok := msg.(eventMsg)
	if !ok || ev.Kind != agentloop.EventWarning {
		t.Fatalf("msg = %#v", msg)
	}

	m.Close()
	if sess.handler != nil {
		t.Error("Close did not unsubscribe")
	}
}

func TestInitSubmitsInitialPrompt(t *testing.T) {
	sess := &fakeSession{}
	m := New(sess, t.TempDir(), "  explain this repo ")
	t.Cleanup(m.Close)

	batch, ok := m.Init()().(tea.BatchMsg)
	if !ok {
		t.Fatal("Init should return a batch")
	}
	// The event wait blocks, so only run the final command.
	last := batch[len(batch)-1]
	if s, ok := last().(submitMsg); !ok || string(s) != "explain this repo" {
		t.Error("initial prompt not submitted")
	}
}
