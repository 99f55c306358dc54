package checkpoint_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/pipeline/checkpoint"
	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := checkpoint.FilePath(dir)

	state := checkpoint.State{
		Metadata:       checkpoint.Metadata{SchemaVersion: 1, RunID: "run-1", CheckpointID: "cp-1", SequenceNo: 3},
		CurrentNode:    "b",
		CompletedNodes: []string{"a"},
		NodeRetries:    map[string]uint32{"a": 0},
		NodeOutcomes:   map[string]checkpoint.NodeOutcome{"a": checkpoint.FromOutcome(pstate.SuccessOutcome())},
		ContextValues:  pstate.Context{"k": "v"},
	}

	require.NoError(t, checkpoint.SaveToPath(state, path))

	loaded, err := checkpoint.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, state.Metadata.RunID, loaded.Metadata.RunID)
	assert.Equal(t, state.CurrentNode, loaded.CurrentNode)
	assert.Equal(t, state.CompletedNodes, loaded.CompletedNodes)
	assert.Equal(t, "v", loaded.ContextValues["k"])
}

func TestFromOutcomeToOutcomeRoundTrip(t *testing.T) {
	outcome := pstate.Outcome{
		Status:           pstate.PartialSuccess,
		Notes:            "partial",
		PreferredLabel:   "Yes",
		SuggestedNextIDs: []string{"x", "y"},
	}
	back, err := checkpoint.FromOutcome(outcome).ToOutcome()
	require.NoError(t, err)
	assert.Equal(t, outcome.Status, back.Status)
	assert.Equal(t, outcome.Notes, back.Notes)
	assert.Equal(t, outcome.PreferredLabel, back.PreferredLabel)
	assert.Equal(t, outcome.SuggestedNextIDs, back.SuggestedNextIDs)
}

func TestToOutcomeRejectsUnknownStatus(t *testing.T) {
	_, err := checkpoint.NodeOutcome{Status: "bogus"}.ToOutcome()
	assert.Error(t, err)
}

func twoNodeGraph(t *testing.T) graph.Graph {
	t.Helper()
	start := graph.NewAttrSet()
	start.Set("shape", graph.AttrValue{Kind: graph.AttrString, Str: "Mdiamond"})
	b := graph.NewBuilder("g")
	g, err := b.Node("start", start).
		Node("next", graph.NewAttrSet()).
		Edge("start", "next", graph.NewAttrSet()).
		Build()
	require.NoError(t, err)
	return g
}

func TestResolveResumeStateUsesExplicitNextNode(t *testing.T) {
	dir := t.TempDir()
	path := checkpoint.FilePath(dir)
	next := "next"
	state := checkpoint.State{
		Metadata:       checkpoint.Metadata{RunID: "run-1"},
		CompletedNodes: []string{"start"},
		NextNode:       &next,
	}
	require.NoError(t, checkpoint.SaveToPath(state, path))

	resume, err := checkpoint.ResolveResumeState(twoNodeGraph(t), path)
	require.NoError(t, err)
	assert.True(t, resume.HasNextNode)
	assert.Equal(t, "next", resume.NextNodeID)
	assert.Nil(t, resume.TerminalStatus)
}

func TestResolveResumeStateInfersNextNodeFromOutcome(t *testing.T) {
	dir := t.TempDir()
	path := checkpoint.FilePath(dir)
	state := checkpoint.State{
		Metadata:       checkpoint.Metadata{RunID: "run-1"},
		CompletedNodes: []string{"start"},
		NodeOutcomes:   map[string]checkpoint.NodeOutcome{"start": checkpoint.FromOutcome(pstate.SuccessOutcome())},
	}
	require.NoError(t, checkpoint.SaveToPath(state, path))

	resume, err := checkpoint.ResolveResumeState(twoNodeGraph(t), path)
	require.NoError(t, err)
	assert.True(t, resume.HasNextNode)
	assert.Equal(t, "next", resume.NextNodeID)
}

func TestResolveResumeStateRejectsUnknownNextNode(t *testing.T) {
	dir := t.TempDir()
	path := checkpoint.FilePath(dir)
	next := "does-not-exist"
	state := checkpoint.State{
		Metadata: checkpoint.Metadata{RunID: "run-1"},
		NextNode: &next,
	}
	require.NoError(t, checkpoint.SaveToPath(state, path))

	_, err := checkpoint.ResolveResumeState(twoNodeGraph(t), path)
	assert.Error(t, err)
}

func TestResolveResumeStateHonorsTerminalStatus(t *testing.T) {
	dir := t.TempDir()
	path := checkpoint.FilePath(dir)
	terminal := "success"
	state := checkpoint.State{
		Metadata:       checkpoint.Metadata{RunID: "run-1"},
		TerminalStatus: &terminal,
	}
	require.NoError(t, checkpoint.SaveToPath(state, path))

	resume, err := checkpoint.ResolveResumeState(twoNodeGraph(t), path)
	require.NoError(t, err)
	require.NotNil(t, resume.TerminalStatus)
	assert.Equal(t, pstate.RunSuccess, *resume.TerminalStatus)
	assert.False(t, resume.HasNextNode)
}

func TestEffectiveNodeFidelityPrecedence(t *testing.T) {
	g := graph.Graph{Attrs: graph.NewAttrSet(), Nodes: map[graph.NodeId]graph.Node{}}
	g.Attrs.Set("default_fidelity", graph.AttrValue{Kind: graph.AttrString, Str: "summary"})

	assert.Equal(t, "summary", checkpoint.EffectiveNodeFidelity(g, "missing", ""))

	nodeAttrs := graph.NewAttrSet()
	nodeAttrs.Set("fidelity", graph.AttrValue{Kind: graph.AttrString, Str: "full"})
	g.Nodes["b"] = graph.Node{ID: "b", Attrs: nodeAttrs}
	assert.Equal(t, "full", checkpoint.EffectiveNodeFidelity(g, "b", ""))

	edgeAttrs := graph.NewAttrSet()
	edgeAttrs.Set("fidelity", graph.AttrValue{Kind: graph.AttrString, Str: "compact"})
	g.Edges = append(g.Edges, graph.Edge{From: "a", To: "b", Attrs: edgeAttrs})
	assert.Equal(t, "compact", checkpoint.EffectiveNodeFidelity(g, "b", "a"))
}

func TestPathForRun(t *testing.T) {
	path, ok := checkpoint.PathForRun("", "")
	assert.False(t, ok)
	assert.Empty(t, path)

	path, ok = checkpoint.PathForRun("", "/explicit/path.json")
	assert.True(t, ok)
	assert.Equal(t, "/explicit/path.json", path)

	path, ok = checkpoint.PathForRun("/logs", "")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join("/logs", checkpoint.FileName), path)
}
