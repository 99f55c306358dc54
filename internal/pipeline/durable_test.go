package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/pipeline"
	"github.com/forgehq/forge/internal/pipeline/engine/inmem"
	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

func twoNodeGraph(t *testing.T) graph.Graph {
	t.Helper()
	b := graph.NewBuilder("durable-demo")
	start := graph.NewAttrSet()
	start.Set("shape", graph.AttrValue{Kind: graph.AttrString, Str: "Mdiamond"})
	exit := graph.NewAttrSet()
	exit.Set("shape", graph.AttrValue{Kind: graph.AttrString, Str: "Msquare"})
	g, err := b.Node("start", start).
		Node("work", graph.NewAttrSet()).
		Node("exit", exit).
		Edge("start", "work", graph.NewAttrSet()).
		Edge("work", "exit", graph.NewAttrSet()).
		Build()
	require.NoError(t, err)
	return g
}

func TestDurableRunThroughInmemEngine(t *testing.T) {
	ctx := context.Background()
	eng := inmem.New()
	require.NoError(t, pipeline.RegisterDurable(ctx, eng))

	h, err := pipeline.StartDurableRun(ctx, eng, "run-1", twoNodeGraph(t), pipeline.RunConfig{RunID: "run-1"})
	require.NoError(t, err)

	var out any
	require.NoError(t, h.Wait(ctx, &out))

	result, ok := out.(pstate.RunResult)
	require.True(t, ok, "expected pstate.RunResult, got %T", out)
	require.Equal(t, pstate.RunSuccess, result.Status)
	require.Contains(t, result.CompletedNodes, "exit")
}
