package turnstore

import (
	"encoding/hex"
	"fmt"
)

// DefaultKey computes the deterministic idempotency key used when a caller
// supplies an empty one to AppendTurn. Format (bit-exact):
//
//	forge-cxdb:v1|ctx=<u64>|parent=<u64>|type=<len>:<id>:<ver>|hash=<hex>
func DefaultKey(ctxID ContextId, parentID TurnId, typeID string, typeVersion uint32, payload []byte) string {
	hash := HashBlob(payload)
	return fmt.Sprintf("forge-cxdb:v1|ctx=%d|parent=%d|type=%d:%s:%d|hash=%s",
		uint64(ctxID), uint64(parentID), len(typeID), typeID, typeVersion, hash)
}

// AgentKey computes the idempotency key the Agent Engine uses for its own
// event turns. Format (bit-exact, test-verified against the original):
//
//	forge-agent:v1|<len>:<session_id>|<local_turn_index>|<len>:<event_kind>
func AgentKey(sessionID string, localTurnIndex uint64, eventKind string) string {
	return fmt.Sprintf("forge-agent:v1|%d:%s|%d|%d:%s",
		len(sessionID), sessionID, localTurnIndex, len(eventKind), eventKind)
}

// PipelineKey computes the idempotency key the Pipeline Engine uses for its
// own stage turns. Format (bit-exact):
//
//	forge-attractor:v1|<len>:<run_id>|<len>:<node_id>|<len>:<stage_attempt_id>|<len>:<event_kind>|<sequence_no>
func PipelineKey(runID, nodeID, stageAttemptID, eventKind string, sequenceNo uint64) string {
	return fmt.Sprintf("forge-attractor:v1|%d:%s|%d:%s|%d:%s|%d:%s|%d",
		len(runID), runID,
		len(nodeID), nodeID,
		len(stageAttemptID), stageAttemptID,
		len(eventKind), eventKind,
		sequenceNo)
}

// hexHash is a tiny helper kept local to this file for symmetry with the
// wire protocol's raw 32-byte hash fields (cxdb package reuses HashBlob
// directly; this exists only so callers that already hold a raw digest can
// render it without re-hashing).
func hexHash(raw [32]byte) BlobHash { return BlobHash(hex.EncodeToString(raw[:])) }
