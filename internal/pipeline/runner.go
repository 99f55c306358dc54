// Package pipeline implements the Pipeline Engine's run loop: the
// node-by-node driver that resolves handlers, applies retry/back-off,
// special-cases parallel fan-out/fan-in, writes checkpoints, and selects
// the next edge. The loop itself has no direct original_source
// counterpart (forge-attractor/src/runtime.rs defines only the
// RunConfig/PipelineRunResult shapes the loop produces); grounded on those
// shapes plus the teacher's runtime/agent/engine driver-loop idiom and
// internal/session/submit.go's own state-machine driver.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/forgehq/forge/internal/pipeline/checkpoint"
	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/handlers"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/pipeline/retry"
	"github.com/forgehq/forge/internal/pipeline/routing"
)

// RunConfig customizes one Run call, mirrored from forge-attractor's
// runtime.rs RunConfig (run_id, storage, executor, retry_backoff,
// logs_root).
type RunConfig struct {
	RunID      string
	LogsRoot   string
	ResumePath string // explicit checkpoint path; overrides LogsRoot-derived default
	Backoff    retry.BackoffConfig
	JitterSeed uint64
	Registry   *handlers.Registry
	Emitter    Emitter
	Sleep      func(ctx context.Context, d time.Duration) error // overridable for deterministic tests
}

// Runner drives one Graph to completion (or failure), persisting
// checkpoints and emitting RuntimeEvents as it goes.
type Runner struct {
	cfg   RunConfig
	runID string
	seq   uint64
}

// NewRunner builds a Runner, filling in defaults for an unset Registry,
// Emitter, Backoff, and Sleep.
func NewRunner(cfg RunConfig) *Runner {
	if cfg.Registry == nil {
		cfg.Registry = defaultRegistry()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NewNoopEmitter()
	}
	if cfg.Backoff == (retry.BackoffConfig{}) {
		cfg.Backoff = retry.DefaultBackoffConfig()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = ctxSleep
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Runner{cfg: cfg, runID: runID}
}

func defaultRegistry() *handlers.Registry {
	r := handlers.NewRegistry()
	r.RegisterType("start", handlers.StartHandler{})
	r.RegisterType("exit", handlers.ExitHandler{})
	r.RegisterType("conditional", handlers.ConditionalHandler{})
	r.RegisterType("tool", handlers.ToolHandler{})
	r.RegisterType("wait.human", handlers.NewWaitHumanHandler(nil))
	r.RegisterType("parallel.fan_in", handlers.ParallelFanInHandler{})
	r.RegisterType("codergen", handlers.CodergenHandler{})
	r.RegisterType("stack.manager_loop", handlers.StackManagerLoopHandler{})
	return r
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// runState is the mutable bookkeeping a Run call threads through the loop.
// nodeRetries is guarded by retriesMu because parallel branches execute
// concurrently against a shared runState with only store swapped out.
type runState struct {
	store          *pstate.Store
	completedNodes []string
	retriesMu      *sync.Mutex
	nodeRetries    map[string]uint32
	nodeOutcomes   map[string]pstate.Outcome
	lastNodeID     string
}

func (st *runState) recordAttempt(nodeID string, attempt uint32) {
	st.retriesMu.Lock()
	defer st.retriesMu.Unlock()
	st.nodeRetries[nodeID] = attempt
}

// Run drives g from its start node (or a resumed checkpoint's next node)
// to a terminal node, returning the final pstate.RunResult.
func (r *Runner) Run(ctx context.Context, g graph.Graph) (pstate.RunResult, error) {
	st := &runState{
		store:        pstate.NewStore(),
		retriesMu:    &sync.Mutex{},
		nodeRetries:  make(map[string]uint32),
		nodeOutcomes: make(map[string]pstate.Outcome),
	}

	current, ok := g.StartNodeID()
	resuming := false
	degradePending := false
	if r.cfg.ResumePath != "" || r.cfg.LogsRoot != "" {
		if path, has := checkpoint.PathForRun(r.cfg.LogsRoot, r.cfg.ResumePath); has {
			if rt, err := checkpoint.BuildRuntimeState(g, path); err == nil {
				resuming = true
				st.store = pstate.NewStoreFromValues(rt.Context)
				st.completedNodes = rt.CompletedNodes
				if rt.NodeRetries != nil {
					st.nodeRetries = rt.NodeRetries
				}
				for id, outcome := range rt.NodeOutcomes {
					st.nodeOutcomes[id] = outcome
				}
				if rt.TerminalStatus != nil {
					return r.finalize(*rt.TerminalStatus, rt.TerminalFailureReason, st), nil
				}
				if rt.HasNextNode {
					current = graph.NodeId(rt.NextNodeID)
					ok = true
				}
				if len(st.completedNodes) > 0 {
					st.lastNodeID = st.completedNodes[len(st.completedNodes)-1]
				}
				if err := checkpoint.ApplyResumeFidelityOverride(st.store, rt.DegradeFidelityOnce); err != nil {
					return pstate.RunResult{}, err
				}
				degradePending = rt.DegradeFidelityOnce
			}
		}
	}
	if !ok {
		return pstate.RunResult{}, fmt.Errorf("graph %q has no resolvable start node", g.ID)
	}

	if resuming {
		r.emit(EventPipelineResumed, map[string]any{"graph_id": g.ID})
	} else {
		r.emit(EventPipelineStarted, map[string]any{"graph_id": g.ID})
	}

	for {
		if g.IsTerminal(current) {
			st.completedNodes = append(st.completedNodes, string(current))
			st.lastNodeID = string(current)
			r.saveCheckpoint(g, st, current, "", nil)
			r.emit(EventPipelineComplete, map[string]any{"graph_id": g.ID})
			return r.finalize(pstate.RunSuccess, "", st), nil
		}

		node, ok := g.Nodes[current]
		if !ok {
			reason := fmt.Sprintf("node %q not found in graph", current)
			r.emit(EventPipelineFailed, map[string]any{"graph_id": g.ID, "reason": reason})
			return r.finalize(pstate.RunFail, reason, st), nil
		}

		outcome, err := r.executeWithRetry(ctx, node, g, st)
		if err != nil {
			return pstate.RunResult{}, err
		}
		if degradePending {
			// The resume fidelity override covers only the first hop.
			degradePending = false
			if err := checkpoint.ApplyResumeFidelityOverride(st.store, false); err != nil {
				return pstate.RunResult{}, err
			}
		}
		st.nodeOutcomes[string(current)] = outcome
		st.completedNodes = append(st.completedNodes, string(current))
		st.lastNodeID = string(current)

		if outcome.Status == pstate.Fail {
			r.saveCheckpoint(g, st, current, "", &outcome)
			r.emit(EventPipelineFailed, map[string]any{"graph_id": g.ID, "node_id": string(current), "reason": outcome.Notes})
			return r.finalize(pstate.RunFail, outcome.Notes, st), nil
		}

		values, _ := st.store.Snapshot()
		edge, ok := routing.SelectNextEdge(g, current, outcome, values)
		if !ok {
			if g.IsTerminal(current) {
				r.saveCheckpoint(g, st, current, "", &outcome)
				r.emit(EventPipelineComplete, map[string]any{"graph_id": g.ID})
				return r.finalize(pstate.RunSuccess, "", st), nil
			}
			reason := fmt.Sprintf("no outgoing edge matched for node %q", current)
			r.saveCheckpoint(g, st, current, "", &outcome)
			r.emit(EventPipelineFailed, map[string]any{"graph_id": g.ID, "reason": reason})
			return r.finalize(pstate.RunFail, reason, st), nil
		}

		r.saveCheckpoint(g, st, current, string(edge.To), &outcome)
		current = edge.To
	}
}

// executeWithRetry dispatches one node's handler, special-casing the
// "parallel" type before consulting the registry (handlers.Registry never
// holds a "parallel" entry — fan-out needs to recursively invoke sibling
// node execution, which a single-node Handler cannot do), and drives the
// node's retry/back-off loop around a single attempt.
func (r *Runner) executeWithRetry(ctx context.Context, node graph.Node, g graph.Graph, st *runState) (pstate.Outcome, error) {
	policy := retry.BuildPolicy(node, g, r.cfg.Backoff)
	for attempt := uint32(1); attempt <= policy.MaxAttempts; attempt++ {
		r.emit(EventStageStarted, map[string]any{"node_id": string(node.ID), "attempt": attempt})
		outcome, err := r.executeOnce(ctx, node, g, st)
		if err != nil {
			return pstate.Outcome{}, err
		}
		st.recordAttempt(string(node.ID), attempt)

		if !retry.ShouldRetry(outcome) {
			r.emit(EventStageCompleted, map[string]any{"node_id": string(node.ID), "attempt": attempt, "status": outcome.Status.String()})
			return outcome, nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		delay := retry.DelayForAttempt(attempt+1, policy.Backoff, r.cfg.JitterSeed)
		r.emit(EventStageRetrying, map[string]any{
			"node_id": string(node.ID), "attempt": attempt, "next_attempt": attempt + 1, "delay_ms": delay,
		})
		if err := r.cfg.Sleep(ctx, time.Duration(delay)*time.Millisecond); err != nil {
			return pstate.Outcome{}, err
		}
	}
	exhausted := retry.FinalizeExhausted(node)
	r.emit(EventStageFailed, map[string]any{
		"node_id": string(node.ID), "attempt": policy.MaxAttempts, "status": exhausted.Status.String(), "will_retry": false,
	})
	return exhausted, nil
}

// executeOnce runs a node's handler exactly once, applying its context
// updates to the shared store, special-casing shape/type "parallel".
func (r *Runner) executeOnce(ctx context.Context, node graph.Node, g graph.Graph, st *runState) (pstate.Outcome, error) {
	switch r.cfg.Registry.ResolveType(node) {
	case "parallel":
		return r.executeParallel(ctx, node, g, st)
	}
	handler, err := r.cfg.Registry.Resolve(node)
	if err != nil {
		return pstate.Outcome{}, err
	}
	outcome, err := handler.Execute(ctx, node, st.store, g)
	if err != nil {
		return pstate.Outcome{}, err
	}
	if len(outcome.ContextUpdates) > 0 {
		if err := st.store.ApplyUpdates(outcome.ContextUpdates); err != nil {
			return pstate.Outcome{}, err
		}
	}
	return outcome, nil
}

// JoinPolicy controls how a parallel node's branch outcomes combine into
// its own Outcome.
type JoinPolicy struct {
	Kind    string // all_success | any_success | quorum | ignore
	Quorum  int
}

func parseJoinPolicy(node graph.Node) JoinPolicy {
	raw := strings.TrimSpace(node.Attrs.GetString("join_policy", "all_success"))
	if strings.HasPrefix(raw, "quorum:") {
		n := int64(0)
		fmt.Sscanf(strings.TrimPrefix(raw, "quorum:"), "%d", &n)
		return JoinPolicy{Kind: "quorum", Quorum: int(n)}
	}
	return JoinPolicy{Kind: raw}
}

type branchResult struct {
	branchID string
	outcome  pstate.Outcome
}

// executeParallel fans out to every outgoing edge's target node
// concurrently, each against an isolated snapshot of the shared context,
// then joins: it writes "parallel.results" to the shared store for a
// downstream parallel.fan_in node to rank, and derives its own status from
// the node's join_policy attribute (default all_success).
func (r *Runner) executeParallel(ctx context.Context, node graph.Node, g graph.Graph, st *runState) (pstate.Outcome, error) {
	branches := g.OutgoingEdges(node.ID)
	if len(branches) == 0 {
		return pstate.FailureOutcome("parallel node has no outgoing branches"), nil
	}
	r.emit(EventParallelStarted, map[string]any{"node_id": string(node.ID), "branch_count": len(branches)})

	results := make([]branchResult, len(branches))
	group, gctx := errgroup.WithContext(ctx)
	for i, edge := range branches {
		i, edge := i, edge
		group.Go(func() error {
			r.emit(EventParallelBranchStarted, map[string]any{
				"node_id": string(node.ID), "branch_id": string(edge.To), "branch_index": i, "target_node": string(edge.To),
			})
			branchStore := st.store.CloneIsolated()
			target, ok := g.Nodes[edge.To]
			if !ok {
				results[i] = branchResult{branchID: string(edge.To), outcome: pstate.FailureOutcome(fmt.Sprintf("branch target %q not found", edge.To))}
				return nil
			}
			scoped := *st
			scoped.store = branchStore
			outcome, err := r.executeWithRetry(gctx, target, g, &scoped)
			results[i] = branchResult{branchID: string(edge.To), outcome: outcome}
			r.emit(EventParallelBranchComplete, map[string]any{
				"node_id": string(node.ID), "branch_id": string(edge.To), "branch_index": i,
				"target_node": string(edge.To), "status": outcome.Status.String(), "notes": outcome.Notes,
			})
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return pstate.Outcome{}, multierr.Append(nil, err)
	}

	resultValues := make([]any, len(results))
	successCount, failureCount := 0, 0
	for i, res := range results {
		score := 0.0
		if raw, ok := res.outcome.ContextUpdates["score"]; ok {
			switch n := raw.(type) {
			case float64:
				score = n
			case int:
				score = float64(n)
			}
		}
		resultValues[i] = map[string]any{
			"branch_id": res.branchID,
			"status":    res.outcome.Status.String(),
			"score":     score,
		}
		if res.outcome.Status.IsSuccessLike() {
			successCount++
		} else {
			failureCount++
		}
	}
	if err := st.store.Set("parallel.results", resultValues); err != nil {
		return pstate.Outcome{}, err
	}
	r.emit(EventParallelCompleted, map[string]any{
		"node_id": string(node.ID), "success_count": successCount, "failure_count": failureCount,
	})

	policy := parseJoinPolicy(node)
	status := joinStatus(policy, successCount, len(results))
	return pstate.Outcome{
		Status: status,
		Notes:  fmt.Sprintf("parallel join (%s): %d/%d branches succeeded", policy.Kind, successCount, len(results)),
	}, nil
}

func joinStatus(policy JoinPolicy, successCount, total int) pstate.Status {
	switch policy.Kind {
	case "any_success":
		if successCount > 0 {
			return pstate.Success
		}
		return pstate.Fail
	case "quorum":
		if successCount >= policy.Quorum {
			return pstate.Success
		}
		return pstate.PartialSuccess
	case "ignore":
		return pstate.Success
	default: // all_success
		if successCount == total {
			return pstate.Success
		}
		if successCount > 0 {
			return pstate.PartialSuccess
		}
		return pstate.Fail
	}
}

func (r *Runner) saveCheckpoint(g graph.Graph, st *runState, current graph.NodeId, next string, outcome *pstate.Outcome) {
	if r.cfg.LogsRoot == "" {
		return
	}
	values, logs := st.store.Snapshot()
	nodeOutcomes := make(map[string]checkpoint.NodeOutcome, len(st.nodeOutcomes))
	for id, o := range st.nodeOutcomes {
		nodeOutcomes[id] = checkpoint.FromOutcome(o)
	}
	var nextPtr *string
	if next != "" {
		nextPtr = &next
	}
	state := checkpoint.State{
		Metadata: checkpoint.Metadata{
			SchemaVersion: 1,
			RunID:         r.runID,
			CheckpointID:  uuid.NewString(),
			SequenceNo:    r.seq,
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		},
		CurrentNode:    string(current),
		NextNode:       nextPtr,
		CompletedNodes: append([]string(nil), st.completedNodes...),
		NodeRetries:    st.nodeRetries,
		NodeOutcomes:   nodeOutcomes,
		ContextValues:  values,
		Logs:           logs,
	}
	if outcome != nil {
		fidelity := checkpoint.EffectiveNodeFidelity(g, current, st.lastNodeID)
		state.CurrentNodeFidelity = &fidelity
	}
	path := checkpoint.FilePath(r.cfg.LogsRoot)
	if err := checkpoint.SaveToPath(state, path); err == nil {
		r.emit(EventCheckpointSaved, map[string]any{"checkpoint_id": state.Metadata.CheckpointID, "sequence_no": state.Metadata.SequenceNo})
	}
}

func (r *Runner) finalize(status pstate.RunStatus, failureReason string, st *runState) pstate.RunResult {
	values, _ := st.store.Snapshot()
	if r.cfg.LogsRoot != "" {
		terminal := status.String()
		var reasonPtr *string
		if failureReason != "" {
			reasonPtr = &failureReason
		}
		nodeOutcomes := make(map[string]checkpoint.NodeOutcome, len(st.nodeOutcomes))
		for id, o := range st.nodeOutcomes {
			nodeOutcomes[id] = checkpoint.FromOutcome(o)
		}
		state := checkpoint.State{
			Metadata: checkpoint.Metadata{
				SchemaVersion: 1,
				RunID:         r.runID,
				CheckpointID:  uuid.NewString(),
				SequenceNo:    r.seq,
				Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
			},
			CurrentNode:           st.lastNodeID,
			CompletedNodes:        append([]string(nil), st.completedNodes...),
			NodeRetries:           st.nodeRetries,
			NodeOutcomes:          nodeOutcomes,
			ContextValues:         values,
			TerminalStatus:        &terminal,
			TerminalFailureReason: reasonPtr,
		}
		_ = checkpoint.SaveToPath(state, checkpoint.FilePath(r.cfg.LogsRoot))
	}
	return pstate.RunResult{
		RunID:          r.runID,
		Status:         status,
		FailureReason:  failureReason,
		CompletedNodes: st.completedNodes,
		NodeOutcomes:   st.nodeOutcomes,
		Context:        values,
	}
}
