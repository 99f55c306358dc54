package session

import (
	"sync"
	"time"
)

// EventKind enumerates the Agent Engine's structured event stream
// (spec.md §4.9).
type EventKind string

const (
	EventSessionStart         EventKind = "session_start"
	EventSessionEnd           EventKind = "session_end"
	EventUserInput            EventKind = "user_input"
	EventAssistantTextStart   EventKind = "assistant_text_start"
	EventAssistantTextDelta   EventKind = "assistant_text_delta"
	EventAssistantTextEnd     EventKind = "assistant_text_end"
	EventReasoningDelta       EventKind = "reasoning_delta"
	EventToolCallStart        EventKind = "tool_call_start"
	EventToolCallOutputDelta  EventKind = "tool_call_output_delta"
	EventToolCallEnd          EventKind = "tool_call_end"
	EventSteeringInjected     EventKind = "steering_injected"
	EventLoopDetection        EventKind = "loop_detection"
	EventContextUsageWarning  EventKind = "context_usage_warning"
	EventSubagentSpawned      EventKind = "subagent_spawned"
	EventSubagentInputSent    EventKind = "subagent_input_sent"
	EventSubagentCompleted    EventKind = "subagent_completed"
	EventSubagentClosed       EventKind = "subagent_closed"
)

// Event is one entry of a Session's event stream.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	SessionID string
	Data      map[string]any
}

// Emitter receives a Session's events, synchronously and in emission order
// (spec.md §4.9/§5). The default is a no-op; BufferedEmitter collects
// snapshots for tests; a user-provided Emitter may forward to logs, a TUI,
// or a websocket.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

// NewNoopEmitter constructs an Emitter that discards every event.
func NewNoopEmitter() Emitter { return NoopEmitter{} }

func (NoopEmitter) Emit(Event) {}

// BufferedEmitter collects every emitted event in order, for tests and
// offline inspection.
type BufferedEmitter struct {
	mu     sync.Mutex
	events []Event
}

// NewBufferedEmitter constructs an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter { return &BufferedEmitter{} }

func (b *BufferedEmitter) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Events returns a snapshot copy of every event emitted so far, in order.
func (b *BufferedEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// emit emits an event while not holding s.mu (acquires it internally is
// unnecessary: events carry only their own data). Kept unlocked so callers
// already holding s.mu use emitLocked instead.
func (s *Session) emit(kind EventKind, data map[string]any) {
	s.eventEmitter.Emit(Event{Kind: kind, Timestamp: time.Now(), SessionID: s.ID, Data: data})
}

// emitLocked is emit's twin for call sites already holding s.mu; emission
// itself never touches Session state, so it is identical to emit, but the
// name documents the call-site invariant.
func (s *Session) emitLocked(kind EventKind, data map[string]any) {
	s.emit(kind, data)
}
