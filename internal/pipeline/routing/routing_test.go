package routing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/pipeline/routing"
)

func edgeAttrs(label string, weight int64, condition string) graph.AttrSet {
	a := graph.NewAttrSet()
	if label != "" {
		a.Set("label", graph.AttrValue{Kind: graph.AttrString, Str: label})
	}
	if weight != 0 {
		a.Set("weight", graph.AttrValue{Kind: graph.AttrInteger, Int: weight})
	}
	if condition != "" {
		a.Set("condition", graph.AttrValue{Kind: graph.AttrString, Str: condition})
	}
	return a
}

func buildGraph(t *testing.T, edges []graph.Edge) graph.Graph {
	t.Helper()
	nodes := map[graph.NodeId]graph.Node{"a": {ID: "a", Attrs: graph.NewAttrSet()}}
	for _, e := range edges {
		nodes[e.To] = graph.Node{ID: e.To, Attrs: graph.NewAttrSet()}
	}
	return graph.Graph{ID: "g", Attrs: graph.NewAttrSet(), Nodes: nodes, Edges: edges}
}

func TestSelectNextEdgeConditionMatchWinsOverLabelAndWeight(t *testing.T) {
	edges := []graph.Edge{
		{From: "a", To: "low", Attrs: edgeAttrs("", 1, "")},
		{From: "a", To: "matched", Attrs: edgeAttrs("", 0, "context.ready = true")},
	}
	g := buildGraph(t, edges)
	ctx := pstate.Context{"ready": true}

	e, ok := routing.SelectNextEdge(g, "a", pstate.SuccessOutcome(), ctx)
	require.True(t, ok)
	assert.Equal(t, graph.NodeId("matched"), e.To)
}

func TestSelectNextEdgeConditionTieBreaksByWeightThenLexical(t *testing.T) {
	edges := []graph.Edge{
		{From: "a", To: "zeta", Attrs: edgeAttrs("", 5, "context.ok = true")},
		{From: "a", To: "alpha", Attrs: edgeAttrs("", 5, "context.ok = true")},
		{From: "a", To: "low", Attrs: edgeAttrs("", 1, "context.ok = true")},
	}
	g := buildGraph(t, edges)
	ctx := pstate.Context{"ok": true}

	e, ok := routing.SelectNextEdge(g, "a", pstate.SuccessOutcome(), ctx)
	require.True(t, ok)
	assert.Equal(t, graph.NodeId("zeta"), e.To, "equal weight ties break to lexically largest To")
}

func TestSelectNextEdgePreferredLabelMatch(t *testing.T) {
	edges := []graph.Edge{
		{From: "a", To: "no", Attrs: edgeAttrs("No", 0, "")},
		{From: "a", To: "yes", Attrs: edgeAttrs("Yes", 0, "")},
	}
	g := buildGraph(t, edges)

	outcome := pstate.Outcome{Status: pstate.Success, PreferredLabel: "[Y] Yes"}
	e, ok := routing.SelectNextEdge(g, "a", outcome, pstate.Context{})
	require.True(t, ok)
	assert.Equal(t, graph.NodeId("yes"), e.To)
}

func TestSelectNextEdgeSuggestedNextIDsInOrder(t *testing.T) {
	edges := []graph.Edge{
		{From: "a", To: "third", Attrs: graph.NewAttrSet()},
		{From: "a", To: "second", Attrs: graph.NewAttrSet()},
	}
	g := buildGraph(t, edges)

	outcome := pstate.Outcome{Status: pstate.Success, SuggestedNextIDs: []string{"first", "second", "third"}}
	e, ok := routing.SelectNextEdge(g, "a", outcome, pstate.Context{})
	require.True(t, ok)
	assert.Equal(t, graph.NodeId("second"), e.To)
}

func TestSelectNextEdgeUnconditionalFallback(t *testing.T) {
	edges := []graph.Edge{
		{From: "a", To: "b", Attrs: edgeAttrs("", 2, "")},
		{From: "a", To: "c", Attrs: edgeAttrs("", 9, "")},
	}
	g := buildGraph(t, edges)

	e, ok := routing.SelectNextEdge(g, "a", pstate.SuccessOutcome(), pstate.Context{})
	require.True(t, ok)
	assert.Equal(t, graph.NodeId("c"), e.To)
}

func TestSelectNextEdgeNoOutgoingEdges(t *testing.T) {
	g := buildGraph(t, nil)
	_, ok := routing.SelectNextEdge(g, "a", pstate.SuccessOutcome(), pstate.Context{})
	assert.False(t, ok)
}

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]string{
		"[Y] Yes":  "yes",
		"1) Yes":   "yes",
		"a - Yes":  "yes",
		"  Yes  ":  "yes",
		"yes":      "yes",
	}
	for input, want := range cases {
		assert.Equalf(t, want, routing.NormalizeLabel(input), "input %q", input)
	}
}

func TestEvaluateConjunctionAllClausesMustPass(t *testing.T) {
	outcome := pstate.Outcome{Status: pstate.Success}
	ctx := pstate.Context{"score": int64(5), "name": "ok"}

	ok, err := routing.Evaluate(`outcome = "success" && context.score = 5 && context.name != "bad"`, outcome, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = routing.Evaluate(`outcome = "success" && context.score = 6`, outcome, ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateExistsClauseTruthiness(t *testing.T) {
	ok, err := routing.Evaluate("context.flag", pstate.SuccessOutcome(), pstate.Context{"flag": true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = routing.Evaluate("context.flag", pstate.SuccessOutcome(), pstate.Context{"flag": false})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = routing.Evaluate("context.missing", pstate.SuccessOutcome(), pstate.Context{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateExpressionRejectsUnknownKey(t *testing.T) {
	err := routing.ValidateExpression("bogus_key = 1")
	assert.Error(t, err)
}

func TestValidateExpressionRejectsEmptyValue(t *testing.T) {
	err := routing.ValidateExpression("outcome = ")
	assert.Error(t, err)
}

func TestValidateExpressionAcceptsWellFormed(t *testing.T) {
	err := routing.ValidateExpression(`outcome = "success" && context.ready`)
	assert.NoError(t, err)
}
