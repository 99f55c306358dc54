// Package routing implements the Pipeline Engine's four-step edge-selection
// rule and the condition language it evaluates edges against. Grounded
// bit-exact on original_source forge-attractor/src/{routing,condition}.rs.
package routing

import (
	"strings"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// SelectNextEdge picks the outgoing edge of fromNodeID to follow, given the
// handler's Outcome and the current runtime Context, per spec.md §4.11.2:
//
//  1. Condition match: collect edges whose condition evaluates true,
//     tie-break by max weight then max-lexical "to".
//  2. Preferred label: among unconditional (or condition=true) edges, match
//     normalized labels.
//  3. Suggested next id: among the same eligible set, match by outcome's
//     suggested_next_ids in order.
//  4. Unconditional fallback: max weight then max-lexical "to" over
//     unconditional edges, or over all edges if none are unconditional.
func SelectNextEdge(g graph.Graph, fromNodeID graph.NodeId, outcome pstate.Outcome, ctx pstate.Context) (graph.Edge, bool) {
	edges := g.OutgoingEdges(fromNodeID)
	if len(edges) == 0 {
		return graph.Edge{}, false
	}

	var conditionMatched []graph.Edge
	for _, e := range edges {
		cond := strings.TrimSpace(e.Attrs.GetString("condition", ""))
		if cond == "" {
			continue
		}
		if ok, _ := Evaluate(cond, outcome, ctx); ok {
			conditionMatched = append(conditionMatched, e)
		}
	}
	if len(conditionMatched) > 0 {
		return bestByWeightThenLexical(conditionMatched), true
	}

	var eligible []graph.Edge
	for _, e := range edges {
		cond := strings.TrimSpace(e.Attrs.GetString("condition", ""))
		if cond == "" {
			eligible = append(eligible, e)
			continue
		}
		if ok, _ := Evaluate(cond, outcome, ctx); ok {
			eligible = append(eligible, e)
		}
	}

	if outcome.PreferredLabel != "" {
		want := NormalizeLabel(outcome.PreferredLabel)
		for _, e := range eligible {
			if NormalizeLabel(e.Attrs.GetString("label", "")) == want {
				return e, true
			}
		}
	}

	if len(outcome.SuggestedNextIDs) > 0 {
		for _, suggested := range outcome.SuggestedNextIDs {
			for _, e := range eligible {
				if string(e.To) == suggested {
					return e, true
				}
			}
		}
	}

	var unconditional []graph.Edge
	for _, e := range edges {
		if strings.TrimSpace(e.Attrs.GetString("condition", "")) == "" {
			unconditional = append(unconditional, e)
		}
	}
	if len(unconditional) > 0 {
		return bestByWeightThenLexical(unconditional), true
	}
	return bestByWeightThenLexical(edges), true
}

// bestByWeightThenLexical picks the max-weight edge, breaking ties by the
// lexically largest "to" id.
func bestByWeightThenLexical(edges []graph.Edge) graph.Edge {
	best := edges[0]
	bestWeight := edgeWeight(best)
	for _, e := range edges[1:] {
		w := edgeWeight(e)
		if w > bestWeight || (w == bestWeight && e.To > best.To) {
			best = e
			bestWeight = w
		}
	}
	return best
}

func edgeWeight(e graph.Edge) int64 {
	return e.Attrs.GetInt("weight", 0)
}

// NormalizeLabel strips a leading "[X]" bracket prefix or a single-character
// "X) "/"X - " prefix and lower-cases the remainder, so labels like
// "[Y] Yes", "1) Yes", and "yes" all compare equal.
func NormalizeLabel(input string) string {
	trimmed := strings.ToLower(strings.TrimSpace(input))

	if strings.HasPrefix(trimmed, "[") {
		if idx := strings.Index(trimmed, "]"); idx >= 0 {
			return strings.TrimSpace(trimmed[idx+1:])
		}
	}

	if len(trimmed) >= 2 && isAlphaNumeric(trimmed[0]) && trimmed[1] == ')' {
		return strings.TrimSpace(trimmed[2:])
	}

	if len(trimmed) >= 3 && isAlphaNumeric(trimmed[0]) && trimmed[1] == ' ' && trimmed[2] == '-' {
		return strings.TrimSpace(trimmed[3:])
	}

	return trimmed
}
