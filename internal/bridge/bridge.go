// Package bridge implements the Agent-as-Handler bridge: the
// stage_to_agent_link envelope a codergen node writes to correlate a
// pipeline stage with the Agent Engine session that executed it, and the
// query helpers that walk a context's turns to recover that correlation
// after the fact. Grounded on the teacher's runtime/agent/hooks
// event-to-turn bridging pattern (hooks/bus.go's publish/subscribe shape,
// hooks/codec.go's event<->envelope encoding), generalized here to
// cross-engine correlation via turnstore.CorrelationMetadata.
package bridge

import (
	"context"
	"fmt"

	"github.com/forgehq/forge/internal/turnstore"
)

// StageToAgentLinkTypeID is the turn type a stage_to_agent_link envelope is
// appended under.
const StageToAgentLinkTypeID = "forge.bridge.stage_to_agent_link"

// StageToAgentLink is the payload a codergen node persists once its bridged
// agent session has run, correlating the pipeline stage with the session
// and the agent context it wrote to.
type StageToAgentLink struct {
	RunID          string `json:"run_id"`
	NodeID         string `json:"node_id"`
	StageAttemptID string `json:"stage_attempt_id,omitempty"`
	SessionID      string `json:"session_id"`
	AgentContextID turnstore.ContextId `json:"agent_context_id"`
	ThreadKey      string `json:"thread_key,omitempty"`
}

// RecordStageToAgentLink appends a stage_to_agent_link envelope to the
// pipeline's own context, so QueryStageToAgentLinkage can recover it later
// without the pipeline and agent stores needing a shared schema beyond this
// one envelope.
func RecordStageToAgentLink(ctx context.Context, store turnstore.TypedTurnStore, pipelineContextID turnstore.ContextId, link StageToAgentLink) (turnstore.Turn, error) {
	env := turnstore.StoredTurnEnvelope{
		SchemaVersion: turnstore.CurrentSchemaVersion,
		RunID:         link.RunID,
		SessionID:     link.SessionID,
		NodeID:        link.NodeID,
		StageAttemptID: link.StageAttemptID,
		EventKind:     StageToAgentLinkTypeID,
		Correlation: turnstore.CorrelationMetadata{
			RunID:          link.RunID,
			NodeID:         link.NodeID,
			StageAttemptID: link.StageAttemptID,
			SessionID:      link.SessionID,
			AgentContextID: link.AgentContextID.String(),
			ThreadKey:      link.ThreadKey,
		},
	}
	idempotencyKey := fmt.Sprintf("bridge:%s:%s:%s", link.RunID, link.NodeID, link.SessionID)
	return store.AppendEnvelope(ctx, pipelineContextID, nil, StageToAgentLinkTypeID, 1, env, idempotencyKey)
}

// StageEvent is one entry of a stage's timeline, reconstructed from the
// envelopes a Pipeline Engine run appends to its context.
type StageEvent struct {
	Turn     turnstore.Turn
	Envelope turnstore.StoredTurnEnvelope
}

// QueryStageTimeline returns every envelope in contextID whose NodeID
// matches nodeID, oldest-to-newest, walking pages of the context's turns.
func QueryStageTimeline(ctx context.Context, store turnstore.TypedTurnStore, contextID turnstore.ContextId, nodeID string) ([]StageEvent, error) {
	turns, err := listAllTurns(ctx, store, contextID)
	if err != nil {
		return nil, err
	}
	var out []StageEvent
	for _, t := range turns {
		env, err := store.DecodeEnvelope(t)
		if err != nil {
			continue
		}
		if env.NodeID == nodeID {
			out = append(out, StageEvent{Turn: t, Envelope: env})
		}
	}
	return out, nil
}

// QueryStageToAgentLinkage returns the stage_to_agent_link envelope for
// nodeID in contextID, if one was recorded.
func QueryStageToAgentLinkage(ctx context.Context, store turnstore.TypedTurnStore, contextID turnstore.ContextId, nodeID string) (StageToAgentLink, bool, error) {
	turns, err := listAllTurns(ctx, store, contextID)
	if err != nil {
		return StageToAgentLink{}, false, err
	}
	for _, t := range turns {
		if t.TypeID != StageToAgentLinkTypeID {
			continue
		}
		env, err := store.DecodeEnvelope(t)
		if err != nil {
			continue
		}
		if env.NodeID != nodeID {
			continue
		}
		var agentContextID turnstore.ContextId
		fmt.Sscanf(env.Correlation.AgentContextID, "%d", &agentContextID)
		return StageToAgentLink{
			RunID:          env.Correlation.RunID,
			NodeID:         env.Correlation.NodeID,
			StageAttemptID: env.Correlation.StageAttemptID,
			SessionID:      env.Correlation.SessionID,
			AgentContextID: agentContextID,
			ThreadKey:      env.Correlation.ThreadKey,
		}, true, nil
	}
	return StageToAgentLink{}, false, nil
}

// CheckpointSnapshot is the latest checkpoint-saved envelope recorded for a
// run's context.
type CheckpointSnapshot struct {
	Turn      turnstore.Turn
	Envelope  turnstore.StoredTurnEnvelope
}

// CheckpointSavedTypeID is the turn type QueryLatestCheckpointSnapshot looks
// for: an envelope recording that a checkpoint write happened at a given
// sequence number (the checkpoint file itself remains the source of truth
// for resume). pipeline.Runner does not append these turns; it writes only
// the checkpoint file.
const CheckpointSavedTypeID = "forge.bridge.checkpoint_saved"

// QueryLatestCheckpointSnapshot returns the most recent checkpoint_saved
// envelope in contextID, if any.
func QueryLatestCheckpointSnapshot(ctx context.Context, store turnstore.TypedTurnStore, contextID turnstore.ContextId) (CheckpointSnapshot, bool, error) {
	turns, err := listAllTurns(ctx, store, contextID)
	if err != nil {
		return CheckpointSnapshot{}, false, err
	}
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.TypeID != CheckpointSavedTypeID {
			continue
		}
		env, err := store.DecodeEnvelope(t)
		if err != nil {
			continue
		}
		return CheckpointSnapshot{Turn: t, Envelope: env}, true, nil
	}
	return CheckpointSnapshot{}, false, nil
}

// RunMetadata summarizes a run's context: its id, turn count, and the
// distinct node ids observed in it.
type RunMetadata struct {
	ContextID turnstore.ContextId
	TurnCount int
	NodeIDs   []string
}

// QueryRunMetadata walks contextID's turns and summarizes them.
func QueryRunMetadata(ctx context.Context, store turnstore.TypedTurnStore, contextID turnstore.ContextId) (RunMetadata, error) {
	turns, err := listAllTurns(ctx, store, contextID)
	if err != nil {
		return RunMetadata{}, err
	}
	seen := make(map[string]bool)
	var nodeIDs []string
	for _, t := range turns {
		env, err := store.DecodeEnvelope(t)
		if err != nil {
			continue
		}
		if env.NodeID != "" && !seen[env.NodeID] {
			seen[env.NodeID] = true
			nodeIDs = append(nodeIDs, env.NodeID)
		}
	}
	return RunMetadata{ContextID: contextID, TurnCount: len(turns), NodeIDs: nodeIDs}, nil
}

const listPageSize = 256

// listAllTurns pages backward from the newest turn (ListTurns's nil-cursor
// convention) through contextID's full turn history, reassembling it
// oldest-to-newest.
func listAllTurns(ctx context.Context, store turnstore.TypedTurnStore, contextID turnstore.ContextId) ([]turnstore.Turn, error) {
	var all []turnstore.Turn
	var before *turnstore.TurnId
	for {
		page, err := store.ListTurns(ctx, contextID, before, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list turns for context %d: %w", contextID, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(append([]turnstore.Turn(nil), page...), all...)
		oldest := page[0].TurnID
		before = &oldest
		if len(page) < listPageSize {
			break
		}
	}
	return all, nil
}
