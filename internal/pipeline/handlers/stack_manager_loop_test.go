package handlers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/handlers"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

func managerNode(attrs map[string]graph.AttrValue) graph.Node {
	a := graph.NewAttrSet()
	for k, v := range attrs {
		a.Set(k, v)
	}
	return graph.Node{ID: "manager", Attrs: a}
}

func strAttr(s string) graph.AttrValue { return graph.AttrValue{Kind: graph.AttrString, Str: s} }
func intAttr(n int64) graph.AttrValue  { return graph.AttrValue{Kind: graph.AttrInteger, Int: n} }

func TestStackManagerLoopSucceedsWhenChildCompletesViaSequence(t *testing.T) {
	store := pstate.NewStore()
	require.NoError(t, store.Set("stack.child.status_sequence", []any{"running", "completed"}))
	require.NoError(t, store.Set("stack.child.outcome_sequence", []any{"", "success"}))

	node := managerNode(map[string]graph.AttrValue{"manager.max_cycles": intAttr(5)})
	outcome, err := handlers.StackManagerLoopHandler{}.Execute(context.Background(), node, store, graph.Graph{})
	require.NoError(t, err)

	assert.Equal(t, pstate.Success, outcome.Status)
	assert.Equal(t, int64(2), outcome.ContextUpdates["stack.manager.cycles"])
}

func TestStackManagerLoopSucceedsOnStopCondition(t *testing.T) {
	store := pstate.NewStore()
	require.NoError(t, store.Set("stack.ready", true))

	node := managerNode(map[string]graph.AttrValue{
		"manager.max_cycles":     intAttr(10),
		"manager.stop_condition": strAttr("context.stack.ready = true"),
	})
	outcome, err := handlers.StackManagerLoopHandler{}.Execute(context.Background(), node, store, graph.Graph{})
	require.NoError(t, err)

	assert.Equal(t, pstate.Success, outcome.Status)
	assert.Contains(t, outcome.Notes, "Stop condition")
}

func TestStackManagerLoopFailsWhenMaxCyclesExceeded(t *testing.T) {
	store := pstate.NewStore()
	node := managerNode(map[string]graph.AttrValue{"manager.max_cycles": intAttr(2)})
	outcome, err := handlers.StackManagerLoopHandler{}.Execute(context.Background(), node, store, graph.Graph{})
	require.NoError(t, err)

	assert.Equal(t, pstate.Fail, outcome.Status)
	assert.Equal(t, "Max cycles exceeded", outcome.Notes)
}

func TestStackManagerLoopAppliesSteerDecision(t *testing.T) {
	store := pstate.NewStore()
	require.NoError(t, store.Set("stack.manager.steer_decision", "retry with smaller scope"))

	node := managerNode(map[string]graph.AttrValue{
		"manager.max_cycles": intAttr(5),
		"manager.actions":    strAttr("observe,steer,wait"),
	})
	outcome, err := handlers.StackManagerLoopHandler{}.Execute(context.Background(), node, store, graph.Graph{})
	require.NoError(t, err)

	assert.Equal(t, pstate.Success, outcome.Status)
	assert.Equal(t, "retry with smaller scope", outcome.ContextUpdates["stack.manager.last_steer"])
}
