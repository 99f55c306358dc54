package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgehq/forge/internal/tools"
)

// subagentState is the mutable bookkeeping behind a SubagentHandle,
// tracking the in-flight goroutine driving the child Session's submit
// calls so spawn_agent/send_input/wait/close_agent compose safely. A
// subagent processes one exchange at a time: send_input blocks on the
// previous exchange's done channel before starting the next.
type subagentState struct {
	mu     sync.Mutex
	result string
	err    error
	done   chan struct{}
}

// subagentController adapts a parent Session into tools.SubagentController.
// Returned by Session.subagentController(), which always returns a
// controller, never nil.
type subagentController struct {
	parent *Session
}

func (s *Session) subagentController() tools.SubagentController {
	return subagentController{parent: s}
}

var _ tools.SubagentController = subagentController{}

func (c subagentController) Spawn(ctx context.Context, systemPrompt, initialInput string) (string, error) {
	return c.parent.spawnSubagent(ctx, systemPrompt, initialInput)
}

func (c subagentController) SendInput(ctx context.Context, id, input string) error {
	return c.parent.sendSubagentInput(ctx, id, input)
}

func (c subagentController) Wait(ctx context.Context, id string) (string, error) {
	return c.parent.waitSubagent(ctx, id)
}

func (c subagentController) Close(ctx context.Context, id string) error {
	return c.parent.closeSubagent(ctx, id)
}

func (s *Session) spawnSubagent(ctx context.Context, systemPrompt, initialInput string) (string, error) {
	s.mu.Lock()
	if s.subagentDepth+1 > s.config.MaxSubagentDepth {
		s.mu.Unlock()
		return "", ErrMaxSubagentDepth{Max: s.config.MaxSubagentDepth}
	}
	childConfig := s.config
	childConfig.SystemPromptOverride = systemPrompt
	s.mu.Unlock()

	child := New(childConfig, Deps{
		ExecutionEnv: s.executionEnv,
		LLMClient:    s.llmClient,
		ToolRegistry: s.toolRegistry,
		Store:        s.store,
	})
	child.subagentDepth = s.subagentDepth + 1

	handle := &SubagentHandle{ID: child.ID, Session: child, Status: SubagentRunning}

	s.mu.Lock()
	s.subagents[child.ID] = handle
	s.mu.Unlock()
	s.emit(EventSubagentSpawned, map[string]any{"subagent_id": child.ID})

	s.runSubagentTurn(ctx, handle, initialInput)
	return child.ID, nil
}

func (s *Session) runSubagentTurn(ctx context.Context, handle *SubagentHandle, input string) {
	state := &subagentState{done: make(chan struct{})}
	s.mu.Lock()
	handle.state = state
	s.mu.Unlock()

	go func() {
		result, err := handle.Session.Submit(ctx, input)
		state.mu.Lock()
		state.result, state.err = result.AssistantText, err
		state.mu.Unlock()
		close(state.done)

		s.mu.Lock()
		handle.Status = SubagentAwaitingInput
		s.mu.Unlock()
		s.emit(EventSubagentCompleted, map[string]any{"subagent_id": handle.ID})
	}()
}

func (s *Session) lookupSubagent(id string) (*SubagentHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.subagents[id]
	if !ok {
		return nil, fmt.Errorf("unknown subagent %q", id)
	}
	return handle, nil
}

func (s *Session) sendSubagentInput(ctx context.Context, id, input string) error {
	handle, err := s.lookupSubagent(id)
	if err != nil {
		return fmt.Errorf("send_input: %w", err)
	}
	s.mu.Lock()
	prev := handle.state
	s.mu.Unlock()
	if prev != nil {
		<-prev.done
	}
	s.emit(EventSubagentInputSent, map[string]any{"subagent_id": id})
	s.runSubagentTurn(ctx, handle, input)
	return nil
}

func (s *Session) waitSubagent(ctx context.Context, id string) (string, error) {
	handle, err := s.lookupSubagent(id)
	if err != nil {
		return "", fmt.Errorf("wait: %w", err)
	}
	s.mu.Lock()
	state := handle.state
	s.mu.Unlock()
	if state == nil {
		return "", fmt.Errorf("wait: subagent %q has not been given any input yet", id)
	}
	select {
	case <-state.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.result, state.err
}

func (s *Session) closeSubagent(ctx context.Context, id string) error {
	handle, err := s.lookupSubagent(id)
	if err != nil {
		return fmt.Errorf("close_agent: %w", err)
	}
	s.mu.Lock()
	delete(s.subagents, id)
	s.mu.Unlock()
	handle.Status = SubagentClosed
	s.emit(EventSubagentClosed, map[string]any{"subagent_id": id})
	return handle.Session.Close()
}
