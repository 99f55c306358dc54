package checkpoint

import (
	"fmt"
	"strings"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/pipeline/routing"
)

// ResumeState is the result of loading a checkpoint and reconciling it
// against the graph being resumed: which node to continue from, whether the
// run already reached a terminal status, and whether the first hop after
// resume must degrade fidelity.
type ResumeState struct {
	Checkpoint            State
	NextNodeID            string
	HasNextNode           bool
	TerminalStatus        *pstate.RunStatus
	TerminalFailureReason string
	DegradeFidelityOnce   bool
}

// ResolveResumeState loads the checkpoint at path and determines where a
// resumed run should continue, per spec.md §4.11.6.
func ResolveResumeState(g graph.Graph, path string) (ResumeState, error) {
	cp, err := LoadFromPath(path)
	if err != nil {
		return ResumeState{}, err
	}
	terminal, err := cp.TerminalPipelineStatus()
	if err != nil {
		return ResumeState{}, err
	}

	var nextNodeID string
	var hasNext bool
	if terminal == nil {
		if cp.NextNode != nil {
			nextNodeID, hasNext = *cp.NextNode, true
		} else if inferred, ok, err := inferNextNodeFromCheckpoint(g, cp); err != nil {
			return ResumeState{}, err
		} else if ok {
			nextNodeID, hasNext = inferred, true
		}
	}

	if hasNext {
		if _, ok := g.Nodes[graph.NodeId(nextNodeID)]; !ok {
			return ResumeState{}, fmt.Errorf("resume checkpoint points to unknown next node %q", nextNodeID)
		}
	}

	var failureReason string
	if cp.TerminalFailureReason != nil {
		failureReason = *cp.TerminalFailureReason
	}

	return ResumeState{
		Checkpoint:            cp,
		NextNodeID:            nextNodeID,
		HasNextNode:           hasNext,
		TerminalStatus:        terminal,
		TerminalFailureReason: failureReason,
		DegradeFidelityOnce:   cp.CurrentNodeFidelity != nil && *cp.CurrentNodeFidelity == "full" && hasNext,
	}, nil
}

// PathForRun resolves the checkpoint path to use for a run: an explicit
// path if given, else logs_root/checkpoint.json.
func PathForRun(logsRoot, explicitPath string) (string, bool) {
	if explicitPath != "" {
		return explicitPath, true
	}
	if logsRoot != "" {
		return FilePath(logsRoot), true
	}
	return "", false
}

// ApplyResumeFidelityOverride sets (or clears) the one-shot fidelity
// override context keys a resumed run's first hop must honor.
func ApplyResumeFidelityOverride(store *pstate.Store, degradeFidelityOnce bool) error {
	if degradeFidelityOnce {
		if err := store.Set("internal.resume.fidelity_override_once", "summary:high"); err != nil {
			return err
		}
		return store.Set("internal.resume.fidelity_degrade_pending", true)
	}
	store.Remove("internal.resume.fidelity_override_once")
	store.Remove("internal.resume.fidelity_degrade_pending")
	return nil
}

// EffectiveNodeFidelity resolves a node's fidelity by the precedence in
// spec.md §4.11.6: incoming edge > node > graph default > "compact".
func EffectiveNodeFidelity(g graph.Graph, targetNodeID graph.NodeId, incomingFromNodeID string) string {
	if incomingFromNodeID != "" {
		for _, e := range g.OutgoingEdges(graph.NodeId(incomingFromNodeID)) {
			if e.To != targetNodeID {
				continue
			}
			if fidelity := strings.TrimSpace(e.Attrs.GetString("fidelity", "")); fidelity != "" {
				return fidelity
			}
		}
	}
	if node, ok := g.Nodes[targetNodeID]; ok {
		if fidelity := strings.TrimSpace(node.Attrs.GetString("fidelity", "")); fidelity != "" {
			return fidelity
		}
	}
	if fidelity := strings.TrimSpace(g.Attrs.GetString("default_fidelity", "")); fidelity != "" {
		return fidelity
	}
	return "compact"
}

// RuntimeState is the reconstructed in-memory state a resumed run begins
// from — the checkpoint's persisted fields converted back to their runtime
// types.
type RuntimeState struct {
	CheckpointRunID       string
	Context               pstate.Context
	CompletedNodes        []string
	NodeRetries           map[string]uint32
	NodeOutcomes          map[string]pstate.Outcome
	NextNodeID            string
	HasNextNode           bool
	TerminalStatus        *pstate.RunStatus
	TerminalFailureReason string
	DegradeFidelityOnce   bool
}

// BuildRuntimeState resolves resume state and converts it into the runtime
// types the runner operates on.
func BuildRuntimeState(g graph.Graph, path string) (RuntimeState, error) {
	resume, err := ResolveResumeState(g, path)
	if err != nil {
		return RuntimeState{}, err
	}

	nodeOutcomes := make(map[string]pstate.Outcome, len(resume.Checkpoint.NodeOutcomes))
	for nodeID, stored := range resume.Checkpoint.NodeOutcomes {
		outcome, err := stored.ToOutcome()
		if err != nil {
			return RuntimeState{}, err
		}
		nodeOutcomes[nodeID] = outcome
	}

	return RuntimeState{
		CheckpointRunID:       resume.Checkpoint.Metadata.RunID,
		Context:               resume.Checkpoint.ContextValues,
		CompletedNodes:        resume.Checkpoint.CompletedNodes,
		NodeRetries:           resume.Checkpoint.NodeRetries,
		NodeOutcomes:          nodeOutcomes,
		NextNodeID:            resume.NextNodeID,
		HasNextNode:           resume.HasNextNode,
		TerminalStatus:        resume.TerminalStatus,
		TerminalFailureReason: resume.TerminalFailureReason,
		DegradeFidelityOnce:   resume.DegradeFidelityOnce,
	}, nil
}

func inferNextNodeFromCheckpoint(g graph.Graph, cp State) (string, bool, error) {
	if cp.NextNode != nil {
		return *cp.NextNode, true, nil
	}
	if len(cp.CompletedNodes) == 0 {
		return "", false, nil
	}
	current := cp.CompletedNodes[len(cp.CompletedNodes)-1]
	stored, ok := cp.NodeOutcomes[current]
	if !ok {
		return "", false, nil
	}
	outcome, err := stored.ToOutcome()
	if err != nil {
		return "", false, err
	}
	edge, ok := routing.SelectNextEdge(g, graph.NodeId(current), outcome, cp.ContextValues)
	if !ok {
		return "", false, nil
	}
	return string(edge.To), true, nil
}
