package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/forgehq/forge/internal/provider"
	"github.com/forgehq/forge/internal/sandbox"
	"github.com/forgehq/forge/internal/tools"
)

// dispatchEnv implements tools.Env for the lifetime of one dispatchBatch
// call, wiring the Session's execution environment and (when the caller is
// the Session's own submit driver) its subagent controller.
type dispatchEnv struct {
	exec sandbox.ExecutionEnvironment
	sub  tools.SubagentController
}

func (e dispatchEnv) Exec() sandbox.ExecutionEnvironment      { return e.exec }
func (e dispatchEnv) Subagents() tools.SubagentController     { return e.sub }

// dispatchResult is one tool call's outcome: the assistant-visible
// (truncated) ToolResult plus the full untruncated output for the event
// stream.
type dispatchResult struct {
	result     ToolResult
	fullOutput string
}

// dispatchBatch runs every call in calls through the tool registry,
// emitting events per spec.md §4.3's five-step protocol, and returns one
// ToolResult per call in input order regardless of execution order.
func (s *Session) dispatchBatch(ctx context.Context, calls []provider.ToolCall) []ToolResult {
	env := dispatchEnv{exec: s.executionEnv, sub: s.subagentController()}
	out := make([]dispatchResult, len(calls))

	run := func(i int) {
		out[i] = s.dispatchOne(ctx, env, calls[i])
	}

	if s.config.AllowParallelToolCalls && len(calls) > 1 {
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range calls {
			run(i)
		}
	}

	results := make([]ToolResult, len(out))
	for i, d := range out {
		results[i] = d.result
	}
	return results
}

func (s *Session) dispatchOne(ctx context.Context, env dispatchEnv, call provider.ToolCall) dispatchResult {
	s.emit(EventToolCallStart, map[string]any{"call_id": call.ID, "tool_name": call.Name})

	tool, ok := s.toolRegistry.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("unknown tool %q", call.Name)
		s.emit(EventToolCallEnd, map[string]any{"call_id": call.ID, "tool_name": call.Name, "error": msg})
		return dispatchResult{result: ToolResult{CallID: call.ID, Content: msg, IsError: true}, fullOutput: msg}
	}

	argsJSON := toolArgsJSON(call.Payload)
	args, err := tool.Validate(argsJSON)
	if err != nil {
		msg := err.Error()
		s.emit(EventToolCallEnd, map[string]any{"call_id": call.ID, "tool_name": call.Name, "error": msg})
		return dispatchResult{result: ToolResult{CallID: call.ID, Content: msg, IsError: true}, fullOutput: msg}
	}

	output, err := tool.Execute(ctx, env, args)
	if err != nil {
		msg := err.Error()
		s.emit(EventToolCallEnd, map[string]any{"call_id": call.ID, "tool_name": call.Name, "error": msg})
		return dispatchResult{result: ToolResult{CallID: call.ID, Content: msg, IsError: true}, fullOutput: msg}
	}

	s.emit(EventToolCallOutputDelta, map[string]any{"call_id": call.ID, "tool_name": call.Name, "output": output})
	s.emit(EventToolCallEnd, map[string]any{"call_id": call.ID, "tool_name": call.Name, "output": output})

	truncated := tools.Truncate(output, tools.Limits{
		CharLimit: s.config.charLimitFor(call.Name),
		LineLimit: s.config.lineLimitFor(call.Name),
	}, tools.ModeForTool(call.Name))

	return dispatchResult{
		result:     ToolResult{CallID: call.ID, Content: truncated, IsError: false},
		fullOutput: output,
	}
}

// toolArgsJSON renders a ToolCall's Payload (already a decoded value from
// the provider adapter, or a raw JSON string) as a JSON document for
// tools.Tool.Validate, which accepts either shape per spec.md §4.3 step 3.
func toolArgsJSON(payload any) string {
	if s, ok := payload.(string); ok {
		return s
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(b)
}
