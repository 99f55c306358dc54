package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/sandbox"
)

// ToolHandler runs a node's tool_command through an ExecutionEnvironment.
// When Env is nil (no execution environment wired for this run), it falls
// back to the original's simulated-output behavior, so graphs built purely
// for routing/retry testing keep working without a sandbox. Grounded on
// forge-attractor/src/handlers/tool.rs, extended to actually execute rather
// than always simulate.
type ToolHandler struct {
	Env sandbox.ExecutionEnvironment
}

func (h ToolHandler) Execute(ctx context.Context, node graph.Node, _ *pstate.Store, _ graph.Graph) (pstate.Outcome, error) {
	command := strings.TrimSpace(node.Attrs.GetString("tool_command", ""))
	if command == "" {
		return pstate.FailureOutcome("No tool_command specified"), nil
	}

	if override := node.Attrs.GetString("tool_output", ""); override != "" {
		return h.successOutcome(command, override), nil
	}

	if h.Env == nil {
		return h.successOutcome(command, fmt.Sprintf("[Simulated tool output] %s", command)), nil
	}

	timeoutMs := node.Attrs.GetInt("tool_timeout_ms", 30_000)
	result, err := h.Env.ExecCommand(ctx, command, timeoutMs, "", nil)
	if err != nil {
		return pstate.FailureOutcome(fmt.Sprintf("tool command failed: %s", err)), nil
	}
	if result.TimedOut || result.ExitCode != 0 {
		return pstate.Outcome{
			Status: pstate.Fail,
			Notes:  fmt.Sprintf("Tool exited %d: %s", result.ExitCode, result.Stderr),
			ContextUpdates: map[string]any{
				"tool.output":    result.Stdout,
				"tool.stderr":    result.Stderr,
				"tool.exit_code": result.ExitCode,
			},
		}, nil
	}
	return h.successOutcome(command, result.Stdout), nil
}

func (ToolHandler) successOutcome(command, output string) pstate.Outcome {
	return pstate.Outcome{
		Status:         pstate.Success,
		Notes:          fmt.Sprintf("Tool completed: %s", command),
		ContextUpdates: map[string]any{"tool.output": output},
	}
}
