package pipeline

import (
	"context"
	"fmt"

	"github.com/forgehq/forge/internal/pipeline/engine"
	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// PipelineWorkflowName and ExecuteGraphActivityName are the registered names
// an engine.Engine binds PipelineWorkflow and ExecuteGraphActivity under.
const (
	PipelineWorkflowName    = "PipelineWorkflow"
	ExecuteGraphActivityName = "ExecuteGraph"
)

// DurableInput is the payload StartWorkflow passes into PipelineWorkflow,
// and that PipelineWorkflow in turn forwards unchanged into
// ExecuteGraphActivity.
type DurableInput struct {
	Graph  graph.Graph
	Config RunConfig
}

// PipelineWorkflow adapts a graph run to the engine.WorkflowFunc contract.
// It performs no work itself beyond a single activity call: all IO,
// retries, and checkpointing happen inside ExecuteGraphActivity (and, one
// level deeper, inside Runner.Run), which is the only place non-determinism
// is allowed to live once this runs under the Temporal adapter.
func PipelineWorkflow(wctx engine.WorkflowContext, input any) (any, error) {
	in, ok := input.(DurableInput)
	if !ok {
		return nil, fmt.Errorf("pipeline: PipelineWorkflow: unexpected input type %T", input)
	}
	var result pstate.RunResult
	err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{
		Name:  ExecuteGraphActivityName,
		Input: in,
	}, &result)
	return result, err
}

// ExecuteGraphActivity drives in to completion via a fresh Runner. Safe to
// retry: Runner.Run resumes from in.Config.LogsRoot's checkpoint (if any)
// rather than restarting the graph from its start node.
func ExecuteGraphActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(DurableInput)
	if !ok {
		return nil, fmt.Errorf("pipeline: ExecuteGraphActivity: unexpected input type %T", input)
	}
	runner := NewRunner(in.Config)
	return runner.Run(ctx, in.Graph)
}

// RegisterDurable binds PipelineWorkflow and ExecuteGraphActivity onto eng
// under their canonical names, so StartDurableRun can be used against it.
func RegisterDurable(ctx context.Context, eng engine.Engine) error {
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:    PipelineWorkflowName,
		Handler: PipelineWorkflow,
	}); err != nil {
		return err
	}
	return eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    ExecuteGraphActivityName,
		Handler: ExecuteGraphActivity,
	})
}

// StartDurableRun launches g through eng under runID, returning the handle
// and, once Wait completes, a decoded pstate.RunResult.
func StartDurableRun(ctx context.Context, eng engine.Engine, runID string, g graph.Graph, cfg RunConfig) (engine.WorkflowHandle, error) {
	return eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       runID,
		Workflow: PipelineWorkflowName,
		Input:    DurableInput{Graph: g, Config: cfg},
	})
}
