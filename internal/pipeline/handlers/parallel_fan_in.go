package handlers

import (
	"context"
	"fmt"
	"sort"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// ParallelFanInHandler reads "parallel.results" (populated by the runner's
// special-cased "parallel" dispatch) and picks the best candidate by
// (status rank, higher score, lower id). Grounded bit-exact on
// forge-attractor/src/handlers/parallel_fan_in.rs.
type ParallelFanInHandler struct{}

type fanInCandidate struct {
	id     string
	status pstate.Status
	score  float64
}

func (ParallelFanInHandler) Execute(_ context.Context, _ graph.Node, store *pstate.Store, _ graph.Graph) (pstate.Outcome, error) {
	raw, ok := store.Get("parallel.results")
	if !ok {
		return pstate.FailureOutcome("No parallel results to evaluate"), nil
	}
	results, ok := raw.([]any)
	if !ok || len(results) == 0 {
		return pstate.FailureOutcome("No parallel results to evaluate"), nil
	}

	var candidates []fanInCandidate
	for _, entry := range results {
		if c, ok := candidateFromValue(entry); ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return pstate.FailureOutcome("No parseable parallel results to evaluate"), nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := candidates[i], candidates[j]
		if rank(left.status) != rank(right.status) {
			return rank(left.status) < rank(right.status)
		}
		if left.score != right.score {
			return left.score > right.score
		}
		return left.id < right.id
	})
	best := candidates[0]

	allFailed := true
	for _, c := range candidates {
		if c.status != pstate.Fail {
			allFailed = false
			break
		}
	}
	status := pstate.Success
	if allFailed {
		status = pstate.Fail
	}

	return pstate.Outcome{
		Status: status,
		Notes:  fmt.Sprintf("Selected best candidate: %s (%s)", best.id, best.status),
		ContextUpdates: map[string]any{
			"parallel.fan_in.best_id":         best.id,
			"parallel.fan_in.best_outcome":    best.status.String(),
			"parallel.fan_in.best_score":      best.score,
			"parallel.fan_in.candidate_count": len(candidates),
		},
	}, nil
}

func candidateFromValue(v any) (fanInCandidate, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return fanInCandidate{}, false
	}
	id, ok := stringField(obj, "branch_id")
	if !ok {
		id, ok = stringField(obj, "target_node")
	}
	if !ok {
		return fanInCandidate{}, false
	}
	status := pstate.Fail
	if raw, ok := stringField(obj, "status"); ok {
		if parsed, ok := pstate.ParseStatus(raw); ok {
			status = parsed
		}
	}
	var score float64
	switch n := obj["score"].(type) {
	case float64:
		score = n
	case int:
		score = float64(n)
	}
	return fanInCandidate{id: id, status: status, score: score}, true
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key].(string)
	return v, ok
}

func rank(s pstate.Status) int {
	switch s {
	case pstate.Success:
		return 0
	case pstate.PartialSuccess:
		return 1
	case pstate.Retry:
		return 2
	default:
		return 3
	}
}
