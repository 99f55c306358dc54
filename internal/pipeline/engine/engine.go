// Package engine abstracts the durable-execution backend a Pipeline Engine
// run executes against, so a graph can be driven in-process (inmem, for
// local development and tests) or on a durable workflow engine (temporal,
// for crash-safe production runs) without the run loop itself changing.
// Trimmed from the teacher's runtime/agent/engine contract: a pipeline run
// has exactly one workflow (drive the graph) backed by exactly one activity
// (execute it), so the richer multi-activity/signal/future surface the
// teacher exposes for arbitrary agent workflows has no pipeline analogue.
package engine

import (
	"context"
	"time"
)

type (
	// Engine registers a workflow and its activity, then starts runs of it.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the durable entry point. It must be deterministic:
	// every side effect (I/O, sleeps, clocks) goes through an activity via
	// WorkflowContext.ExecuteActivity, never performed directly.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes the engine operations a WorkflowFunc needs.
	WorkflowContext interface {
		// Context returns the Go context for the workflow, to pass to
		// ExecuteActivity. On the Temporal adapter it is context.Background():
		// neither replay-aware nor cancelled with the workflow.
		Context() context.Context
		WorkflowID() string
		RunID() string
		// ExecuteActivity schedules req and blocks until it completes,
		// decoding its return value into result (a non-nil pointer).
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		// Now returns a replay-safe current time.
		Now() time.Time
	}

	// ActivityDefinition registers an activity handler.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs the actual side-effecting work (here: driving a
	// graph.Graph to completion via a pipeline.Runner).
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout for an activity invocation.
	ActivityOptions struct {
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID          string
		Workflow    string
		TaskQueue   string
		Input       any
		RetryPolicy RetryPolicy
	}

	// ActivityRequest schedules one activity call from within a workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets a caller wait on, signal, or cancel a started run.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy is shared retry configuration for workflows and
	// activities. Zero-valued fields mean "use the engine's default".
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}
)
