package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/pipeline/routing"
)

// Defaults for a stack.manager_loop node's polling attributes, per
// forge-attractor/src/handlers/stack_manager_loop.rs.
const (
	defaultManagerMaxCycles      int64 = 1000
	defaultManagerPollIntervalMs int64 = 45_000
)

// StackManagerLoopHandler is a supervisor poll loop: each cycle it may
// observe a child/subagent's reported status and outcome, evaluate a
// stop_condition through the condition language, and apply a steer
// decision, bounded by manager.max_cycles/manager.poll_interval.
// Supplements the shape map's house->stack.manager_loop entry (spec.md
// names only the mapping, not the behavior). Grounded on original_source
// forge-attractor/src/handlers/stack_manager_loop.rs.
type StackManagerLoopHandler struct{}

type managerActions struct {
	observe bool
	steer   bool
	wait    bool
}

func (h StackManagerLoopHandler) Execute(_ context.Context, node graph.Node, store *pstate.Store, _ graph.Graph) (pstate.Outcome, error) {
	maxCycles := attrInt(node, "manager.max_cycles", "manager_max_cycles", defaultManagerMaxCycles)
	if maxCycles < 1 {
		maxCycles = 1
	}
	pollIntervalMs := attrDurationMs(node, "manager.poll_interval", "manager_poll_interval", defaultManagerPollIntervalMs)
	actions := parseActions(node)
	stopCondition := strings.TrimSpace(attrString(node, "manager.stop_condition", "manager_stop_condition", ""))

	var lastStatus, lastOutcome string
	for cycle := int64(1); cycle <= maxCycles; cycle++ {
		if actions.observe {
			if status, ok := childStatusAtCycle(store, cycle); ok {
				lastStatus = status
			}
			if outcome, ok := childOutcomeAtCycle(store, cycle); ok {
				lastOutcome = outcome
			}
		}

		if lastStatus == "completed" && lastOutcome == "success" {
			return successWithUpdates(cycle, pollIntervalMs, "Child completed"), nil
		}
		if lastStatus == "failed" {
			return pstate.FailureOutcome("Child failed"), nil
		}

		if stopCondition != "" {
			values, _ := store.Snapshot()
			satisfied, err := routing.Evaluate(stopCondition, pstate.SuccessOutcome(), pstate.Context(values))
			if err != nil {
				return pstate.FailureOutcome(fmt.Sprintf("stop_condition invalid: %s", err)), nil
			}
			if satisfied {
				return successWithUpdates(cycle, pollIntervalMs, "Stop condition satisfied"), nil
			}
		}

		if actions.steer {
			if raw, ok := store.Get("stack.manager.steer_decision"); ok {
				decision := strings.TrimSpace(fmt.Sprintf("%v", raw))
				if decision != "" {
					outcome := successWithUpdates(cycle, pollIntervalMs, fmt.Sprintf("Steering decision applied: %s", decision))
					outcome.ContextUpdates["stack.manager.last_steer"] = decision
					return outcome, nil
				}
			}
		}

		// actions.wait records polling cadence; deterministic runtime
		// behavior means no actual sleep happens here.
		_ = actions.wait
	}

	return pstate.FailureOutcome("Max cycles exceeded"), nil
}

func successWithUpdates(cycle, pollIntervalMs int64, notes string) pstate.Outcome {
	return pstate.Outcome{
		Status: pstate.Success,
		Notes:  notes,
		ContextUpdates: map[string]any{
			"stack.manager.cycles":           cycle,
			"stack.manager.poll_interval_ms": pollIntervalMs,
		},
	}
}

// childStatusAtCycle reads stack.child.status_sequence[cycle-1] if
// present, else falls back to the flat stack.child.status key.
func childStatusAtCycle(store *pstate.Store, cycle int64) (string, bool) {
	return sequenceOrScalarAt(store, "stack.child.status_sequence", "stack.child.status", cycle)
}

// childOutcomeAtCycle mirrors childStatusAtCycle for outcomes.
func childOutcomeAtCycle(store *pstate.Store, cycle int64) (string, bool) {
	return sequenceOrScalarAt(store, "stack.child.outcome_sequence", "stack.child.outcome", cycle)
}

func sequenceOrScalarAt(store *pstate.Store, sequenceKey, scalarKey string, cycle int64) (string, bool) {
	if raw, ok := store.Get(sequenceKey); ok {
		if seq, ok := raw.([]any); ok {
			idx := int(cycle - 1)
			if idx >= 0 && idx < len(seq) {
				if s, ok := stringify(seq[idx]); ok {
					return s, true
				}
			}
		}
	}
	if raw, ok := store.Get(scalarKey); ok {
		return stringify(raw)
	}
	return "", false
}

func stringify(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// parseActions reads manager.actions as a comma-separated list of
// observe/steer/wait. If none of the three are recognized, it defaults to
// observe+wait, matching forge-attractor's parse_actions.
func parseActions(node graph.Node) managerActions {
	raw := attrString(node, "manager.actions", "manager_actions", "")
	var actions managerActions
	var recognized bool
	for _, part := range strings.Split(raw, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "observe":
			actions.observe = true
			recognized = true
		case "steer":
			actions.steer = true
			recognized = true
		case "wait":
			actions.wait = true
			recognized = true
		}
	}
	if !recognized {
		actions.observe = true
		actions.wait = true
	}
	return actions
}

// attrString looks up a node attribute under its dotted key, falling back
// to the underscored variant, then def.
func attrString(node graph.Node, dotted, underscored, def string) string {
	if v, ok := node.Attrs.Get(dotted); ok {
		return v.String()
	}
	if v, ok := node.Attrs.Get(underscored); ok {
		return v.String()
	}
	return def
}

// attrInt is attrString's integer counterpart, accepting an AttrInteger
// value directly or parsing an AttrString's digits.
func attrInt(node graph.Node, dotted, underscored string, def int64) int64 {
	for _, key := range [2]string{dotted, underscored} {
		if v, ok := node.Attrs.Get(key); ok {
			switch v.Kind {
			case graph.AttrInteger:
				return v.Int
			case graph.AttrString:
				if n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64); err == nil {
					return n
				}
			}
		}
	}
	return def
}

// attrDurationMs resolves a duration attribute to milliseconds: an
// AttrDuration's resolved DurMs, an AttrInteger taken as raw milliseconds,
// or an AttrString parsed with a ms/s/m/h/d suffix (bare digits are
// milliseconds), per forge-attractor's parse_duration_attr_ms.
func attrDurationMs(node graph.Node, dotted, underscored string, def int64) int64 {
	for _, key := range [2]string{dotted, underscored} {
		v, ok := node.Attrs.Get(key)
		if !ok {
			continue
		}
		switch v.Kind {
		case graph.AttrDuration:
			return v.DurMs
		case graph.AttrInteger:
			return v.Int
		case graph.AttrString:
			if ms, ok := parseDurationSuffix(v.Str); ok {
				return ms
			}
		}
	}
	return def
}

func parseDurationSuffix(raw string) (int64, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, false
	}
	unitMs := map[string]int64{
		"ms": 1,
		"s":  1_000,
		"m":  60_000,
		"h":  3_600_000,
		"d":  86_400_000,
	}
	for _, suffix := range []string{"ms", "s", "m", "h", "d"} {
		if strings.HasSuffix(text, suffix) {
			digits := strings.TrimSpace(strings.TrimSuffix(text, suffix))
			if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
				return n * unitMs[suffix], true
			}
		}
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	return 0, false
}
