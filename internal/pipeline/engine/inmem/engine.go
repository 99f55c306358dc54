// Package inmem is a single-process Engine implementation for local
// development and tests: workflows run as a goroutine, activities run as a
// direct call from that goroutine. Not replay-safe; a crash mid-run loses
// the in-flight workflow (the pipeline.Runner's own checkpoint file is what
// survives a crash, independent of which Engine drove it).
// Grounded on runtime/agent/engine/inmem/engine.go, trimmed to the
// single-workflow/single-activity shape engine.Engine now exposes.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/forgehq/forge/internal/pipeline/engine"
)

type eng struct {
	mu         sync.RWMutex
	workflows  map[string]engine.WorkflowDefinition
	activities map[string]engine.ActivityDefinition
}

// New returns an in-memory Engine.
func New() engine.Engine {
	return &eng{
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]engine.ActivityDefinition),
	}
}

func (e *eng) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem: invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("inmem: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem: invalid activity definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("inmem: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = def
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem: workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("inmem: workflow id is required")
	}

	h := &handle{done: make(chan struct{})}
	wctx := &wfCtx{ctx: ctx, id: req.ID, runID: req.ID, eng: e}

	go func() {
		defer close(h.done)
		h.result, h.err = def.Handler(wctx, req.Input)
	}()
	return h, nil
}

type wfCtx struct {
	ctx   context.Context
	id    string
	runID string
	eng   *eng
}

func (w *wfCtx) Context() context.Context { return w.ctx }
func (w *wfCtx) WorkflowID() string       { return w.id }
func (w *wfCtx) RunID() string            { return w.runID }
func (w *wfCtx) Now() time.Time           { return time.Now() }

func (w *wfCtx) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return fmt.Errorf("inmem: activity %q not registered", req.Name)
	}
	out, err := def.Handler(ctx, req.Input)
	if err != nil {
		return err
	}
	assign(result, out)
	return nil
}

type handle struct {
	done   chan struct{}
	result any
	err    error
}

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		assign(result, h.result)
		return h.err
	}
}

// Signal has no receiver in the single-activity pipeline workflow; the
// in-memory engine accepts it as a no-op rather than erroring so callers
// written against the general Engine contract don't need an inmem special
// case.
func (h *handle) Signal(ctx context.Context, name string, payload any) error { return nil }

func (h *handle) Cancel(ctx context.Context) error { return nil }

// assign copies src into the pointer dst, when dst's pointee type is
// assignable from src (result is always a pointer produced by the caller).
// Grounded on runtime/agent/engine/inmem/engine.go's assignResult, since
// ExecuteActivity/Wait callers pass a concrete *T (e.g. *pstate.RunResult),
// not always *any.
func assign(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
