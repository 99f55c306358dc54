package handlers

import (
	"context"
	"fmt"

	"github.com/forgehq/forge/internal/bridge"
	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/session"
	"github.com/forgehq/forge/internal/turnstore"
)

// SessionFactory builds (or looks up) the Agent Engine session a codergen
// node should drive. It is supplied by whoever builds the handler, so the
// handlers package never imports a concrete wiring of provider/store; the
// Runner's default registry leaves it nil.
type SessionFactory func(ctx context.Context, node graph.Node) (*session.Session, error)

// CodergenHandler is the default handler type (box shape, or any node
// without a more specific type): it bridges a pipeline stage into the
// Agent Engine by submitting the node's prompt to a session and recording
// a stage_to_agent_link envelope for internal/bridge's query helpers to
// walk later. Grounded on core_registry's codergen::CodergenHandler::new(None)
// wiring (an optional collaborator, simulated when absent) from
// forge-attractor/src/handlers/mod.rs, and on the teacher's
// runtime/agent/hooks event-to-turn bridging pattern for the envelope shape.
type CodergenHandler struct {
	NewSession SessionFactory

	// Bridge* fields are optional; when both are set, a successful session
	// submit is recorded as a stage_to_agent_link envelope in PipelineContextID.
	BridgeStore       turnstore.TypedTurnStore
	PipelineContextID turnstore.ContextId
	RunID             string
}

func (h CodergenHandler) Execute(ctx context.Context, node graph.Node, store *pstate.Store, _ graph.Graph) (pstate.Outcome, error) {
	prompt := node.Attrs.GetString("prompt", "")
	if prompt == "" {
		prompt = fmt.Sprintf("Complete pipeline stage %s.", node.ID)
	}

	if h.NewSession == nil {
		return pstate.Outcome{
			Status: pstate.Success,
			Notes:  fmt.Sprintf("[Simulated codergen output] %s", prompt),
			ContextUpdates: map[string]any{
				"codergen.output": fmt.Sprintf("[Simulated codergen output] %s", prompt),
			},
		}, nil
	}

	sess, err := h.NewSession(ctx, node)
	if err != nil {
		return pstate.FailureOutcome(fmt.Sprintf("failed to create agent session: %s", err)), nil
	}
	defer sess.Close()

	result, err := sess.Submit(ctx, prompt)
	if err != nil {
		return pstate.FailureOutcome(fmt.Sprintf("agent session submit failed: %s", err)), nil
	}

	if err := store.Set("bridge.stage_to_agent_link.session_id", sess.ID); err != nil {
		return pstate.FailureOutcome(fmt.Sprintf("failed to record stage_to_agent_link: %s", err)), nil
	}
	if h.BridgeStore != nil {
		link := bridge.StageToAgentLink{
			RunID:     h.RunID,
			NodeID:    string(node.ID),
			SessionID: sess.ID,
		}
		if _, err := bridge.RecordStageToAgentLink(ctx, h.BridgeStore, h.PipelineContextID, link); err != nil {
			return pstate.FailureOutcome(fmt.Sprintf("failed to record stage_to_agent_link: %s", err)), nil
		}
	}

	status := pstate.Success
	if result.LoopDetected {
		status = pstate.PartialSuccess
	}
	return pstate.Outcome{
		Status: status,
		Notes:  result.AssistantText,
		ContextUpdates: map[string]any{
			"codergen.output":      result.AssistantText,
			"codergen.tool_rounds": result.ToolRounds,
		},
	}, nil
}
