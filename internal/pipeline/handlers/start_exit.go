package handlers

import (
	"context"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// StartHandler executes a graph's entry node. It does no work of its own;
// the runner has already arrived here by resolving the start node.
type StartHandler struct{}

func (StartHandler) Execute(context.Context, graph.Node, *pstate.Store, graph.Graph) (pstate.Outcome, error) {
	return pstate.SuccessOutcome(), nil
}

// ExitHandler executes a graph's terminal node. The runner treats
// graph.IsTerminal nodes as run-ending before consulting the registry, so
// this handler only runs when a terminal node is reached via an explicit
// type="exit" attribute rather than shape=Msquare/id exit/end.
type ExitHandler struct{}

func (ExitHandler) Execute(context.Context, graph.Node, *pstate.Store, graph.Graph) (pstate.Outcome, error) {
	return pstate.SuccessOutcome(), nil
}
