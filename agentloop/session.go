package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/martinemde/gemcode/unifiedllm"
)

// SessionState represents where the session is within a turn.
type SessionState string

const (
	StateIdle        SessionState = "idle"
	StateStreaming   SessionState = "streaming"
	StateToolPending SessionState = "tool_pending"
	StateExecuting   SessionState = "executing"
)

// skippedToolResult answers a call that never ran because the turn was
// cancelled.
const skippedToolResult = "Error: tool call cancelled before it ran"

var (
	// ErrSessionBusy is returned when Submit or Reset is called while a
	// turn is in flight.
	ErrSessionBusy = errors.New("session is busy")

	// ErrToolRoundLimit is returned when the model still requests tools
	// after MaxToolRoundsPerInput rounds and a final tool-less request.
	ErrToolRoundLimit = errors.New("tool round limit reached")
)

// Streamer opens a streaming completion. *unifiedllm.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error)
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	Model                 string `json:"model"`
	MaxTokens             int    `json:"max_tokens"` // 0 = let the endpoint decide
	SystemPrompt          string `json:"system_prompt"`
	MaxToolRoundsPerInput int    `json:"max_tool_rounds_per_input"` // 0 = unlimited
	EnableLoopDetection   bool   `json:"enable_loop_detection"`
	LoopDetectionWindow   int    `json:"loop_detection_window"`
}

// DefaultSessionConfig returns the default configuration: no round cap and
// loop detection over the last 10 tool calls.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
	}
}

// Session owns the conversation history and drives the
// stream, execute, re-request loop for each user input.
type Session struct {
	id      string
	client  Streamer
	tools   *ToolRegistry
	env     ExecutionEnvironment
	config  SessionConfig
	emitter *EventEmitter

	mu      sync.Mutex
	history []unifiedllm.Message
	state   SessionState
	busy    bool
}

// NewSession creates a session whose history holds only the system prompt.
func NewSession(client Streamer, tools *ToolRegistry, env ExecutionEnvironment, cfg SessionConfig) *Session {
	if tools == nil {
		tools = NewToolRegistry()
	}
	id := uuid.New().String()
	return &Session{
		id:      id,
		client:  client,
		tools:   tools,
		env:     env,
		config:  cfg,
		emitter: NewEventEmitter(id, 256),
		history: []unifiedllm.Message{unifiedllm.SystemMessage(cfg.SystemPrompt)},
		state:   StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Model returns the configured model name.
func (s *Session) Model() string { return s.config.Model }

// Tools returns the session's tool registry.
func (s *Session) Tools() *ToolRegistry { return s.tools }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation history.
func (s *Session) History() []unifiedllm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]unifiedllm.Message, len(s.history))
	copy(h, s.history)
	return h
}

// Events returns the buffered event channel.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Subscribe registers a synchronous event handler. See EventEmitter.
func (s *Session) Subscribe(handler func(SessionEvent)) (unsubscribe func()) {
	return s.emitter.Subscribe(handler)
}

// Close closes the event channel.
func (s *Session) Close() {
	s.emitter.Close()
}

// Reset drops everything after the system message.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	dropped := len(s.history) - 1
	s.history = s.history[:1]
	s.mu.Unlock()

	s.emitter.Emit(EventHistoryReset, map[string]any{"dropped": dropped})
	return nil
}

// Submit runs one user turn to completion: it streams the reply, executes
// any requested tools in order, and re-requests until the model answers
// without tool calls.
//
// On a transport error, cancellation or ErrToolRoundLimit the error is
// returned and every settled message is kept: the user input, completed
// assistant replies and tool results. Only the reply that was still
// streaming is discarded. Calls skipped by a cancellation are answered
// with an error result so the history stays well formed.
func (s *Session) Submit(ctx context.Context, input string) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.busy = true
	s.history = append(s.history, unifiedllm.UserMessage(input))
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.state = StateIdle
		s.mu.Unlock()
	}()

	s.emitter.Emit(EventUserInput, map[string]any{"content": input})

	text, err := s.runTurn(ctx)
	if err != nil {
		slog.Info("turn aborted", "session", s.id, "history", s.historyLen(), "error", err)
		s.emitter.Emit(EventError, map[string]any{"error": err.Error()})
		return err
	}

	s.emitter.Emit(EventTurnComplete, map[string]any{"text": text})
	return nil
}

func (s *Session) runTurn(ctx context.Context) (string, error) {
	rounds := 0
	warnedLoop := false

	for {
		final := s.config.MaxToolRoundsPerInput > 0 && rounds >= s.config.MaxToolRoundsPerInput

		msg, err := s.streamReply(ctx, final)
		if err != nil {
			return "", err
		}
		if final && msg.HasToolCalls() {
			return "", fmt.Errorf("%w after %d rounds", ErrToolRoundLimit, rounds)
		}

		s.append(msg)
		if !msg.HasToolCalls() {
			return msg.Content, nil
		}

		s.setState(StateToolPending)
		if err := s.executeToolCalls(ctx, msg.ToolCalls); err != nil {
			return "", err
		}
		rounds++

		if s.config.EnableLoopDetection && !warnedLoop && DetectLoop(s.History(), s.config.LoopDetectionWindow) {
			warnedLoop = true
			warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern.", s.config.LoopDetectionWindow)
			slog.Warn("tool loop detected", "session", s.id, "window", s.config.LoopDetectionWindow)
			s.emitter.Emit(EventLoopDetection, map[string]any{"message": warning})
			s.emitter.Emit(EventWarning, map[string]any{"kind": "loop_detection", "message": warning})
		}
	}
}

// streamReply sends the history and assembles the streamed reply. Nothing
// is appended to history here; a failed or cancelled stream leaves no
// trace beyond the text deltas already emitted.
func (s *Session) streamReply(ctx context.Context, final bool) (unifiedllm.Message, error) {
	history := s.History()
	if err := ValidateHistory(history); err != nil {
		return unifiedllm.Message{}, err
	}
	s.setState(StateStreaming)

	req := unifiedllm.Request{
		Model:    s.config.Model,
		Messages: history,
		Tools:    s.tools.Definitions(),
	}
	if len(req.Tools) > 0 {
		mode := "auto"
		if final {
			mode = "none"
		}
		req.ToolChoice = &unifiedllm.ToolChoice{Mode: mode}
	}
	if s.config.MaxTokens > 0 {
		n := s.config.MaxTokens
		req.MaxTokens = &n
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.client.Stream(streamCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return unifiedllm.Message{}, cancelled(ctx)
		}
		return unifiedllm.Message{}, fmt.Errorf("stream request: %w", err)
	}

	var text strings.Builder
	calls := newToolCallAccumulator()
	finished := false

	for !finished {
		select {
		case <-ctx.Done():
			return unifiedllm.Message{}, cancelled(ctx)
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return unifiedllm.Message{}, cancelled(ctx)
				}
				return unifiedllm.Message{}, fmt.Errorf("stream request: %w", &unifiedllm.StreamErrorType{
					SDKError: unifiedllm.SDKError{Message: "stream closed before completion"},
				})
			}
			switch ev.Type {
			case unifiedllm.TextDelta:
				if ev.Delta != "" {
					text.WriteString(ev.Delta)
					s.emitter.Emit(EventTextDelta, map[string]any{"delta": ev.Delta})
				}
			case unifiedllm.ToolCallDelta:
				if ev.ToolCall != nil {
					calls.add(*ev.ToolCall)
				}
			case unifiedllm.StreamError:
				if ctx.Err() != nil {
					return unifiedllm.Message{}, cancelled(ctx)
				}
				err := ev.Error
				if err == nil {
					err = &unifiedllm.StreamErrorType{SDKError: unifiedllm.SDKError{Message: "stream failed"}}
				}
				return unifiedllm.Message{}, fmt.Errorf("stream: %w", err)
			case unifiedllm.StreamFinish:
				finished = true
			}
		}
	}

	return unifiedllm.AssistantMessage(text.String(), calls.toolCalls()...), nil
}

// executeToolCalls runs calls sequentially in order, appending one tool
// message per call. If ctx is cancelled the calls not yet run are answered
// with an error result before returning.
func (s *Session) executeToolCalls(ctx context.Context, calls []unifiedllm.ToolCall) error {
	s.setState(StateExecuting)
	for i, tc := range calls {
		if ctx.Err() != nil {
			s.answerSkipped(calls[i:])
			return cancelled(ctx)
		}
		s.emitter.Emit(EventToolStarted, map[string]any{
			"name":        tc.Function.Name,
			"description": describeCall(tc),
			"call_id":     tc.ID,
		})

		result := s.tools.Dispatch(ctx, tc, s.env)
		s.append(unifiedllm.ToolResultMessage(tc.ID, result.Content))
		s.emitter.Emit(EventToolFinished, map[string]any{
			"name":     tc.Function.Name,
			"call_id":  tc.ID,
			"output":   result.Content,
			"is_error": result.IsError,
		})

		if ctx.Err() != nil {
			s.answerSkipped(calls[i+1:])
			return cancelled(ctx)
		}
	}
	return nil
}

func (s *Session) answerSkipped(calls []unifiedllm.ToolCall) {
	for _, tc := range calls {
		s.append(unifiedllm.ToolResultMessage(tc.ID, skippedToolResult))
	}
}

func (s *Session) append(msg unifiedllm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) historyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func cancelled(ctx context.Context) error {
	return &unifiedllm.AbortError{SDKError: unifiedllm.SDKError{Message: "turn cancelled", Cause: ctx.Err()}}
}

// describeCall pulls a human-readable summary out of the call arguments
// for display. Malformed arguments yield "".
func describeCall(tc unifiedllm.ToolCall) string {
	var args map[string]any
	if err := tc.DecodeArguments(&args); err != nil {
		return ""
	}
	for _, key := range []string{"description", "command", "path", "url"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// toolCallAccumulator assembles tool calls from streamed fragments. A
// fragment joins the call with the same stream index, else the call with
// the same id; a fragment with neither continues the most recent call.
type toolCallAccumulator struct {
	calls   []*partialCall
	byIndex map[int]*partialCall
	byID    map[string]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		byIndex: make(map[int]*partialCall),
		byID:    make(map[string]*partialCall),
	}
}

func (a *toolCallAccumulator) add(f unifiedllm.ToolCallFragment) {
	var pc *partialCall
	switch {
	case f.Index >= 0:
		pc = a.byIndex[f.Index]
		if pc != nil && f.ID != "" && pc.id != "" && pc.id != f.ID {
			// index reused for a different call
			pc = nil
		}
		if pc == nil && f.ID != "" {
			pc = a.byID[f.ID]
		}
	case f.ID != "":
		pc = a.byID[f.ID]
	default:
		if n := len(a.calls); n > 0 {
			pc = a.calls[n-1]
		}
	}

	if pc == nil {
		pc = &partialCall{}
		a.calls = append(a.calls, pc)
	}
	if f.Index >= 0 {
		a.byIndex[f.Index] = pc
	}
	if f.ID != "" && pc.id == "" {
		pc.id = f.ID
		a.byID[f.ID] = pc
	}
	if f.Name != "" && pc.name == "" {
		pc.name = f.Name
	}
	pc.args.WriteString(f.Arguments)
}

func (a *toolCallAccumulator) toolCalls() []unifiedllm.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]unifiedllm.ToolCall, 0, len(a.calls))
	for _, pc := range a.calls {
		id := pc.id
		if id == "" {
			id = "call_" + uuid.New().String()
		}
		out = append(out, unifiedllm.NewToolCall(id, pc.name, pc.args.String()))
	}
	return out
}
