// Package session implements the Agent Engine: the interactive session that
// mediates between a provider and a sandboxed execution environment,
// dispatching tool calls, truncating oversized outputs, emitting a
// structured event stream, and persisting every turn into the Turn Store.
// See spec.md §3 (Session/SessionConfig), §4.6-§4.10, and SPEC_FULL.md §9.
// Grounded on runtime/agent/runtime/{runtime.go,types.go} for the
// orchestration shape and forge-agent/src/session/{adapters.rs,runner.rs}
// for the Adapter/driver split.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/provider"
	"github.com/forgehq/forge/internal/sandbox"
	"github.com/forgehq/forge/internal/tools"
	"github.com/forgehq/forge/internal/turnstore"
)

// State is one of the four Session lifecycle states (spec.md §4.6).
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateAwaitingInput
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions enumerates the permitted State->State moves from spec.md
// §4.6's table.
var transitions = map[State]map[State]bool{
	StateIdle:          {StateIdle: true, StateProcessing: true, StateClosed: true},
	StateProcessing:    {StateIdle: true, StateProcessing: true, StateAwaitingInput: true, StateClosed: true},
	StateAwaitingInput: {StateProcessing: true, StateClosed: true},
	StateClosed:        {},
}

// CanTransition reports whether from->to is a permitted state move.
func CanTransition(from, to State) bool { return transitions[from][to] }

// PersistenceMode controls how aggressively turn-store failures propagate.
type PersistenceMode int

const (
	PersistenceOff PersistenceMode = iota
	PersistenceBestEffort
	PersistenceRequired
)

// ReasoningEffort constrains the set of values a provider Request may carry.
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

func validReasoningEffort(e ReasoningEffort) bool {
	switch e {
	case ReasoningLow, ReasoningMedium, ReasoningHigh, "":
		return true
	}
	return false
}

// Config is SessionConfig from spec.md §3.
type Config struct {
	MaxTurns                 int
	MaxToolRoundsPerInput    int
	DefaultCommandTimeoutMs  int64
	MaxCommandTimeoutMs      int64
	ReasoningEffort          ReasoningEffort
	SystemPromptOverride     string
	ToolOutputCharLimits     map[string]int // per-tool, falls back to DefaultToolCharLimit
	ToolOutputLineLimits     map[string]int
	DefaultToolCharLimit     int
	DefaultToolLineLimit     int
	LoopDetectionWindow      int
	MaxSubagentDepth         int
	Persistence              PersistenceMode

	// AllowParallelToolCalls mirrors whether the active provider advertises
	// parallel tool-call support (spec.md §4.3 step 5). When true and a
	// single assistant turn issues more than one tool call, they execute
	// concurrently; otherwise sequentially. Event ordering and result
	// ordering are preserved either way.
	AllowParallelToolCalls bool
}

// DefaultConfig returns the documented defaults from spec.md §3.
func DefaultConfig() Config {
	return Config{
		MaxTurns:                128,
		MaxToolRoundsPerInput:   32,
		DefaultCommandTimeoutMs: 30_000,
		MaxCommandTimeoutMs:     600_000,
		ReasoningEffort:         ReasoningMedium,
		ToolOutputCharLimits:    map[string]int{},
		ToolOutputLineLimits:    map[string]int{},
		DefaultToolCharLimit:    20_000,
		DefaultToolLineLimit:    2_000,
		LoopDetectionWindow:     10,
		MaxSubagentDepth:        1,
		Persistence:             PersistenceOff,
		AllowParallelToolCalls:  true,
	}
}

func (c Config) charLimitFor(tool string) int {
	if v, ok := c.ToolOutputCharLimits[tool]; ok {
		return v
	}
	return c.DefaultToolCharLimit
}

func (c Config) lineLimitFor(tool string) int {
	if v, ok := c.ToolOutputLineLimits[tool]; ok {
		return v
	}
	return c.DefaultToolLineLimit
}

// TurnKind distinguishes the five HistoryTurn variants of spec.md §3.
type TurnKind int

const (
	TurnUser TurnKind = iota
	TurnAssistant
	TurnToolResults
	TurnSystem
	TurnSteering
)

// ToolResult is one entry of a ToolResultsTurn, in the same order as the
// tool calls that produced it.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// HistoryTurn is one entry of Session.History: a typed, ordered record of
// the in-memory conversation (distinct from turnstore.Turn, the durable log
// record a HistoryTurn is persisted as).
type HistoryTurn struct {
	Kind      TurnKind
	Timestamp time.Time

	// TurnUser / TurnSystem / TurnSteering
	Text string

	// TurnAssistant
	AssistantText string
	ToolCalls     []provider.ToolCall
	Reasoning     string
	Usage         provider.TokenUsage
	ResponseID    string

	// TurnToolResults
	Results []ToolResult
}

// SubagentStatus reports a child session's lifecycle state.
type SubagentStatus int

const (
	SubagentRunning SubagentStatus = iota
	SubagentAwaitingInput
	SubagentClosed
)

// SubagentHandle is the parent-owned record of one spawned child Session.
type SubagentHandle struct {
	ID      string
	Session *Session
	Status  SubagentStatus

	state *subagentState // bookkeeping for the in-flight submit goroutine
}

// Session is one interactive agent run (spec.md §3).
type Session struct {
	mu sync.Mutex

	ID    string
	state State

	history        []HistoryTurn
	steeringQueue  []string
	followupQueue  []string
	subagents      map[string]*SubagentHandle
	subagentDepth  int

	config        Config
	executionEnv  sandbox.ExecutionEnvironment
	llmClient     provider.Client
	toolRegistry  *tools.Registry
	adapter       Adapter
	eventEmitter  Emitter

	abortRequested bool

	// persistence
	store       turnstore.TypedTurnStore
	contextID   turnstore.ContextId
	headTurnID  turnstore.TurnId
	localTurnIx uint64

	toolRoundCount int
}

// Deps bundles a new Session's collaborators.
type Deps struct {
	ExecutionEnv sandbox.ExecutionEnvironment
	LLMClient    provider.Client
	ToolRegistry *tools.Registry
	Adapter      Adapter // optional; DefaultAdapter used if nil
	EventEmitter Emitter // optional; NoopEmitter used if nil
	Store        turnstore.TypedTurnStore // optional; required if config.Persistence != Off
}

// New constructs a Session and emits SessionStart.
func New(config Config, deps Deps) *Session {
	adapter := deps.Adapter
	if adapter == nil {
		adapter = DefaultAdapter{}
	}
	emitter := deps.EventEmitter
	if emitter == nil {
		emitter = NewNoopEmitter()
	}
	s := &Session{
		ID:           uuid.NewString(),
		state:        StateIdle,
		subagents:    make(map[string]*SubagentHandle),
		config:       config,
		executionEnv: deps.ExecutionEnv,
		llmClient:    deps.LLMClient,
		toolRegistry: deps.ToolRegistry,
		adapter:      adapter,
		eventEmitter: emitter,
		store:        deps.Store,
	}
	s.emit(EventSessionStart, map[string]any{"session_id": s.ID})
	return s
}

// State returns the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the Session's turn history.
func (s *Session) History() []HistoryTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryTurn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) transition(to State) error {
	if !CanTransition(s.state, to) {
		return ErrInvalidTransition{From: s.state, To: to}
	}
	s.state = to
	return nil
}

// Abort sets the abort flag; it is polled at turn boundaries per spec.md §5.
func (s *Session) Abort() {
	s.mu.Lock()
	s.abortRequested = true
	s.mu.Unlock()
}

// IsAbortRequested reports whether Abort has been called.
func (s *Session) IsAbortRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortRequested
}

// Close transitions the Session to Closed, terminates any in-flight shell
// commands, and emits SessionEnd.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	if err := s.transition(StateClosed); err != nil {
		return err
	}
	if s.executionEnv != nil {
		s.executionEnv.TerminateAllCommands()
	}
	s.emitLocked(EventSessionEnd, map[string]any{"session_id": s.ID})
	return nil
}
