package handlers

import (
	"context"
	"fmt"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// HumanAnswer is what an Interviewer returns for a hexagon-shaped gate node.
// Selected, when non-empty, becomes the node's PreferredLabel so routing
// can match it against outgoing edge labels; Response carries any free-form
// text alongside it.
type HumanAnswer struct {
	Selected string
	Response string
}

// Interviewer collects a human decision for a wait.human node. Grounded on
// the registration of wait_human::WaitHumanHandler in
// forge-attractor/src/handlers/mod.rs's core_registry, which wires an
// Interviewer collaborator into the handler rather than baking prompting
// logic into it.
type Interviewer interface {
	Ask(ctx context.Context, node graph.Node, store *pstate.Store) (HumanAnswer, error)
}

// AutoApproveInterviewer answers every question with an unconditional
// approval, matching core_registry's default wiring so headless runs and
// tests never block on real human input.
type AutoApproveInterviewer struct{}

func (AutoApproveInterviewer) Ask(context.Context, graph.Node, *pstate.Store) (HumanAnswer, error) {
	return HumanAnswer{Selected: "approve"}, nil
}

// WaitHumanHandler pauses a pipeline run for a human decision, delegating
// the actual question/answer exchange to an Interviewer.
type WaitHumanHandler struct {
	Interviewer Interviewer
}

func NewWaitHumanHandler(interviewer Interviewer) WaitHumanHandler {
	if interviewer == nil {
		interviewer = AutoApproveInterviewer{}
	}
	return WaitHumanHandler{Interviewer: interviewer}
}

func (h WaitHumanHandler) Execute(ctx context.Context, node graph.Node, store *pstate.Store, _ graph.Graph) (pstate.Outcome, error) {
	interviewer := h.Interviewer
	if interviewer == nil {
		interviewer = AutoApproveInterviewer{}
	}
	answer, err := interviewer.Ask(ctx, node, store)
	if err != nil {
		return pstate.FailureOutcome(fmt.Sprintf("interview failed: %s", err)), nil
	}
	return pstate.Outcome{
		Status:         pstate.Success,
		Notes:          fmt.Sprintf("Human decision: %s", answer.Selected),
		PreferredLabel: answer.Selected,
		ContextUpdates: map[string]any{
			"human.selected": answer.Selected,
			"human.response": answer.Response,
		},
	}, nil
}
