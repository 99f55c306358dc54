// Package temporal adapts engine.Engine onto a real Temporal client/worker
// pair, so a pipeline run can survive a process crash mid-execution: the
// workflow schedules exactly one activity (the graph-executing run), and
// Temporal's own history replay is what makes that activity's retry and
// completion durable, layered underneath the pipeline.Runner's own
// checkpoint file.
// Grounded on runtime/agent/engine/temporal/{engine.go,workflow_context.go},
// trimmed to the single-workflow/single-activity engine.Engine contract.
package temporal

import (
	"context"
	"fmt"
	"time"

	sdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/forgehq/forge/internal/pipeline/engine"
)

// Engine wraps a Temporal client + worker into the engine.Engine contract.
type Engine struct {
	client    sdkclient.Client
	worker    worker.Worker
	taskQueue string
}

// New dials the Temporal frontend at hostPort and builds a worker bound to
// taskQueue. Call Start to begin polling and Close to release both.
func New(hostPort, namespace, taskQueue string) (*Engine, error) {
	c, err := sdkclient.Dial(sdkclient.Options{HostPort: hostPort, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("temporal: dial: %w", err)
	}
	return &Engine{client: c, worker: worker.New(c, taskQueue, worker.Options{}), taskQueue: taskQueue}, nil
}

// Start begins polling taskQueue for workflow and activity tasks; it blocks
// until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	return e.worker.Run(stop)
}

// Close stops the worker and releases the client connection.
func (e *Engine) Close() {
	e.worker.Stop()
	e.client.Close()
}

func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	e.worker.RegisterWorkflowWithOptions(wrapWorkflow(def.Handler), workflow.RegisterOptions{Name: def.Name})
	return nil
}

func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	e.worker.RegisterActivityWithOptions(wrapActivity(def.Handler), activity.RegisterOptions{Name: def.Name})
	return nil
}

func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	queue := req.TaskQueue
	if queue == "" {
		queue = e.taskQueue
	}
	run, err := e.client.ExecuteWorkflow(ctx, sdkclient.StartWorkflowOptions{
		ID:          req.ID,
		TaskQueue:   queue,
		RetryPolicy: toSDKRetryPolicy(req.RetryPolicy),
	}, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporal: start workflow %q: %w", req.Workflow, err)
	}
	return &handle{client: e.client, run: run}, nil
}

func toSDKRetryPolicy(p engine.RetryPolicy) *sdktemporal.RetryPolicy {
	if p == (engine.RetryPolicy{}) {
		return nil
	}
	coeff := p.BackoffCoefficient
	if coeff < 1 {
		coeff = 1
	}
	return &sdktemporal.RetryPolicy{
		InitialInterval:    p.InitialInterval,
		BackoffCoefficient: coeff,
		MaximumAttempts:    int32(p.MaxAttempts),
	}
}

// wrapWorkflow adapts an engine.WorkflowFunc into Temporal's workflow entry
// point signature; registered by name, never invoked directly.
func wrapWorkflow(fn engine.WorkflowFunc) func(workflow.Context, any) (any, error) {
	return func(ctx workflow.Context, input any) (any, error) {
		return fn(newWorkflowContext(ctx), input)
	}
}

// wrapActivity adapts an engine.ActivityFunc into a plain Temporal activity
// function: activities already receive a standard context.Context.
func wrapActivity(fn engine.ActivityFunc) func(context.Context, any) (any, error) {
	return func(ctx context.Context, input any) (any, error) {
		return fn(ctx, input)
	}
}

type workflowContext struct {
	ctx        workflow.Context
	workflowID string
	runID      string
	// baseCtx stands in for Context(); it is NOT wired to Temporal's
	// cancellation signal (workflow.Context isn't a context.Context, and
	// there is no deterministic, replay-safe way to bridge the two), matching
	// the teacher's own documented limitation for this same adapter shape.
	baseCtx context.Context
}

func newWorkflowContext(ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	return &workflowContext{
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		baseCtx:    context.Background(),
	}
}

func (w *workflowContext) Context() context.Context { return w.baseCtx }
func (w *workflowContext) WorkflowID() string        { return w.workflowID }
func (w *workflowContext) RunID() string             { return w.runID }
func (w *workflowContext) Now() time.Time            { return workflow.Now(w.ctx) }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	actCtx := workflow.WithActivityOptions(w.ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         toSDKRetryPolicy(req.RetryPolicy),
	})
	return workflow.ExecuteActivity(actCtx, req.Name, req.Input).Get(actCtx, result)
}

type handle struct {
	client sdkclient.Client
	run    sdkclient.WorkflowRun
}

func (h *handle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
