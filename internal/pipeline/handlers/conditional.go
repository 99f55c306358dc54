package handlers

import (
	"context"
	"fmt"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// ConditionalHandler marks a diamond-shaped gate node as evaluated; the
// actual branching happens in the edge selector reading outgoing edges'
// conditions, so this handler's only job is to report success and let
// routing do the rest. Grounded on
// forge-attractor/src/handlers/conditional.rs.
type ConditionalHandler struct{}

func (ConditionalHandler) Execute(_ context.Context, node graph.Node, _ *pstate.Store, _ graph.Graph) (pstate.Outcome, error) {
	return pstate.Outcome{
		Status: pstate.Success,
		Notes:  fmt.Sprintf("Conditional node evaluated: %s", node.ID),
	}, nil
}
