package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/martinemde/gemcode/agentloop"
)

// fakeSession replays canned events for each Submit.
type fakeSession struct {
	handler func(agentloop.SessionEvent)
	inputs  []string
	resets  int
	reply   func(input string, emit func(agentloop.EventKind, map[string]any)) error
}

func (f *fakeSession) Subscribe(h func(agentloop.SessionEvent)) func() {
	f.handler = h
	return func() { f.handler = nil }
}

func (f *fakeSession) Reset() error {
	f.resets++
	return nil
}

func (f *fakeSession) Submit(ctx context.Context, input string) error {
	f.inputs = append(f.inputs, input)
	emit := func(kind agentloop.EventKind, data map[string]any) {
		if f.handler != nil {
			f.handler(agentloop.SessionEvent{Kind: kind, Data: data})
		}
	}
	if f.reply == nil {
		emit(agentloop.EventTextDelta, map[string]any{"delta": "echo: " + input})
		return nil
	}
	return f.reply(input, emit)
}

func runREPL(t *testing.T, sess *fakeSession, input, initial string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	r := NewREPL(sess, strings.NewReader(input), &out)
	err := r.Run(context.Background(), initial)
	return out.String(), err
}

func TestREPLBasicSession(t *testing.T) {
	sess := &fakeSession{}
	out, err := runREPL(t, sess, "hello\n\n   \n/clear\nsecond\nexit\nnever\n", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := strings.Join(sess.inputs, "|"); got != "hello|second" {
		t.Errorf("inputs = %q", got)
	}
	if sess.resets != 1 {
		t.Errorf("resets = %d, want 1", sess.resets)
	}
	for _, want := range []string{"Gem Code CLI Agent", "➜ ", "echo: hello", "History cleared.", "echo: second", "Exiting..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if sess.handler != nil {
		t.Error("REPL did not unsubscribe")
	}
}

func TestREPLInitialPromptAndEOF(t *testing.T) {
	sess := &fakeSession{}
	out, err := runREPL(t, sess, "", "list files")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sess.inputs) != 1 || sess.inputs[0] != "list files" {
		t.Errorf("inputs = %v", sess.inputs)
	}
	if !strings.Contains(out, "User input from command line: list files") {
		t.Errorf("output:\n%s", out)
	}
}

func TestREPLRendersToolEvents(t *testing.T) {
	sess := &fakeSession{reply: func(_ string, emit func(agentloop.EventKind, map[string]any)) error {
		emit(agentloop.EventToolStarted, map[string]any{"name": "bash", "description": "List files", "call_id": "c1"})
		emit(agentloop.EventToolFinished, map[string]any{"call_id": "c1", "output": "Error executing tool bash: boom\nmore", "is_error": true})
		emit(agentloop.EventWarning, map[string]any{"kind": "loop_detection", "message": "Loop detected"})
		emit(agentloop.EventTextDelta, map[string]any{"delta": "done"})
		return nil
	}}
	out, err := runREPL(t, sess, "go\n", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"⚙ bash: List files", "Error executing tool bash: boom", "Warning: Loop detected", "done"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "more") {
		t.Error("only the first line of a failed tool's output should be shown")
	}
}

func TestREPLErrors(t *testing.T) {
	t.Run("turn error continues", func(t *testing.T) {
		calls := 0
		sess := &fakeSession{reply: func(string, func(agentloop.EventKind, map[string]any)) error {
			calls++
			if calls == 1 {
				return errors.New("stream request: upstream down")
			}
			return context.Canceled
		}}
		out, err := runREPL(t, sess, "one\ntwo\n", "")
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !strings.Contains(out, "Error: stream request: upstream down") || !strings.Contains(out, "Cancelled.") {
			t.Errorf("output:\n%s", out)
		}
		if len(sess.inputs) != 2 {
			t.Errorf("inputs = %v", sess.inputs)
		}
	})

	t.Run("protocol desync is fatal", func(t *testing.T) {
		sess := &fakeSession{reply: func(string, func(agentloop.EventKind, map[string]any)) error {
			return &agentloop.ProtocolDesyncError{Index: 3, Reason: "broken"}
		}}
		out, err := runREPL(t, sess, "one\ntwo\n", "")
		var desync *agentloop.ProtocolDesyncError
		if !errors.As(err, &desync) {
			t.Fatalf("error = %v, want ProtocolDesyncError", err)
		}
		if len(sess.inputs) != 1 || !strings.Contains(out, "Fatal:") {
			t.Errorf("inputs=%v output:\n%s", sess.inputs, out)
		}
	})
}
