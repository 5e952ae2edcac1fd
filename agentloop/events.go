package agentloop

import (
	"slices"
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventUserInput     EventKind = "user_input"
	EventTextDelta     EventKind = "text_delta"
	EventToolStarted   EventKind = "tool_started"
	EventToolFinished  EventKind = "tool_finished"
	EventTurnComplete  EventKind = "turn_complete"
	EventLoopDetection EventKind = "loop_detection"
	EventHistoryReset  EventKind = "history_reset"
	EventWarning       EventKind = "warning"
	EventError         EventKind = "error"
)

// SessionEvent is a typed event emitted by the agent loop.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Text returns the string stored under key, or "".
func (e SessionEvent) Text(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// EventEmitter delivers events to subscribers synchronously, in emission
// order, and to a buffered channel that drops events when full.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	closed    bool
	handlers  map[int]func(SessionEvent)
	nextID    int
	mu        sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan SessionEvent, bufferSize),
		handlers:  make(map[int]func(SessionEvent)),
	}
}

// Subscribe registers handler to be called for every later event, on the
// emitting goroutine. The returned func removes it.
func (e *EventEmitter) Subscribe(handler func(SessionEvent)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = handler
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

// Emit delivers an event. After Close it is silently dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	event := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop event to avoid blocking the agent loop.
	}
	ids := make([]int, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	handlers := make([]func(SessionEvent), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, e.handlers[id])
	}
	e.mu.Unlock()

	// Handlers run outside the lock so they may call back into the emitter.
	for _, h := range handlers {
		h(event)
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

