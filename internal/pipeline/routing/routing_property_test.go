package routing_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/pipeline/routing"
)

// TestSelectNextEdgeIsDeterministic verifies IP6: repeated calls to
// SelectNextEdge with the same (graph, node, outcome, context) select the
// same edge, for arbitrary weight assignments across a fixed fan-out.
func TestSelectNextEdgeIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same inputs select the same edge across repeated runs", prop.ForAll(
		func(wa, wb, wc int) bool {
			g := buildGraph(t, []graph.Edge{
				{From: "a", To: "b", Attrs: edgeAttrs("", int64(wa), "outcome=success")},
				{From: "a", To: "c", Attrs: edgeAttrs("", int64(wb), "outcome=success")},
				{From: "a", To: "d", Attrs: edgeAttrs("", int64(wc), "outcome=success")},
			})
			outcome := pstate.SuccessOutcome()
			ctx := pstate.Context{}

			first, ok := routing.SelectNextEdge(g, "a", outcome, ctx)
			if !ok {
				return false
			}
			for i := 0; i < 20; i++ {
				again, ok := routing.SelectNextEdge(g, "a", outcome, ctx)
				if !ok || again.To != first.To {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
