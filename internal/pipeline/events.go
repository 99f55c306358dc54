package pipeline

import (
	"sync"
	"time"
)

// EventKind enumerates the Pipeline Engine's structured event stream,
// mirrored from forge-attractor/src/events.rs's RuntimeEventKind categories
// (pipeline/stage/parallel/interview/checkpoint) in the flat Kind+Data shape
// internal/session's Emitter already uses for the Agent Engine.
type EventKind string

const (
	EventPipelineStarted  EventKind = "pipeline_started"
	EventPipelineResumed  EventKind = "pipeline_resumed"
	EventPipelineComplete EventKind = "pipeline_completed"
	EventPipelineFailed   EventKind = "pipeline_failed"

	EventStageStarted   EventKind = "stage_started"
	EventStageCompleted EventKind = "stage_completed"
	EventStageFailed    EventKind = "stage_failed"
	EventStageRetrying  EventKind = "stage_retrying"

	EventParallelStarted        EventKind = "parallel_started"
	EventParallelBranchStarted  EventKind = "parallel_branch_started"
	EventParallelBranchComplete EventKind = "parallel_branch_completed"
	EventParallelCompleted      EventKind = "parallel_completed"

	EventInterviewStarted   EventKind = "interview_started"
	EventInterviewCompleted EventKind = "interview_completed"

	EventCheckpointSaved EventKind = "checkpoint_saved"
)

// Event is one entry of a run's event stream.
type Event struct {
	SequenceNo uint64
	Kind       EventKind
	Timestamp  time.Time
	RunID      string
	Data       map[string]any
}

// Emitter receives a Runner's events, synchronously and in emission order.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

func NewNoopEmitter() Emitter { return NoopEmitter{} }

func (NoopEmitter) Emit(Event) {}

// BufferedEmitter collects every emitted event in order, for tests and
// offline inspection.
type BufferedEmitter struct {
	mu     sync.Mutex
	events []Event
}

func NewBufferedEmitter() *BufferedEmitter { return &BufferedEmitter{} }

func (b *BufferedEmitter) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *BufferedEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func (r *Runner) emit(kind EventKind, data map[string]any) {
	r.seq++
	r.cfg.Emitter.Emit(Event{
		SequenceNo: r.seq,
		Kind:       kind,
		Timestamp:  time.Now(),
		RunID:      r.runID,
		Data:       data,
	})
}
