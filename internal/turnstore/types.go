// Package turnstore implements the durable, content-addressed turn log
// shared by the Session and Pipeline engines: contexts (append-only chains
// of turns), idempotent appends, a content-addressed blob store, and FS-tree
// snapshot attachments. See store.go for the TurnStore/TypedTurnStore/
// ArtifactStore contracts and memory/, fsstore/, cxdb/ for concrete backends.
package turnstore

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

type (
	// ContextId identifies an append-only chain of turns.
	ContextId uint64

	// TurnId identifies a single persisted turn within a context.
	TurnId uint64

	// BlobHash is a lowercase-hex-rendered 32-byte BLAKE3 digest.
	BlobHash string
)

// String renders the id in decimal, matching the remote-store wire form.
func (c ContextId) String() string { return fmt.Sprintf("%d", uint64(c)) }

// String renders the id in decimal, matching the remote-store wire form.
func (t TurnId) String() string { return fmt.Sprintf("%d", uint64(t)) }

// HashBlob computes the content-addressed BlobHash for raw bytes.
func HashBlob(data []byte) BlobHash {
	sum := blake3.Sum256(data)
	return BlobHash(hex.EncodeToString(sum[:]))
}

// Turn is a typed, ordered record within a Context.
type Turn struct {
	ContextID     ContextId
	TurnID        TurnId
	ParentTurnID  TurnId // 0 for root
	Depth         uint32 // 1 + parent depth
	TypeID        string // namespaced, e.g. "forge.agent.user_turn"
	TypeVersion   uint32
	Payload       []byte
	IdempotencyKey string // optional; empty means none supplied
	ContentHash   BlobHash
}

// CorrelationMetadata carries cross-engine identifiers linking an agent
// session turn to a pipeline run/node/stage, or vice versa.
type CorrelationMetadata struct {
	RunID           string `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	NodeID          string `json:"node_id,omitempty" msgpack:"node_id,omitempty"`
	StageAttemptID  string `json:"stage_attempt_id,omitempty" msgpack:"stage_attempt_id,omitempty"`
	SessionID       string `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	AgentContextID  string `json:"agent_context_id,omitempty" msgpack:"agent_context_id,omitempty"`
	ThreadKey       string `json:"thread_key,omitempty" msgpack:"thread_key,omitempty"`
}

// StoredTurnEnvelope is the canonical structure persisted as turn payload by
// higher layers (Session event turns, pipeline stage turns, bridge links).
type StoredTurnEnvelope struct {
	SchemaVersion  uint32               `json:"schema_version" msgpack:"schema_version"`
	RunID          string               `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	SessionID      string               `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	NodeID         string               `json:"node_id,omitempty" msgpack:"node_id,omitempty"`
	StageAttemptID string               `json:"stage_attempt_id,omitempty" msgpack:"stage_attempt_id,omitempty"`
	EventKind      string               `json:"event_kind" msgpack:"event_kind"`
	Timestamp      time.Time            `json:"timestamp" msgpack:"timestamp"`
	Payload        []byte               `json:"payload" msgpack:"payload"`
	Correlation    CorrelationMetadata  `json:"correlation" msgpack:"correlation"`
}

// CurrentSchemaVersion is the StoredTurnEnvelope schema version written by
// this implementation.
const CurrentSchemaVersion = 1

// TurnRef is a lightweight pointer to a turn used by get_head.
type TurnRef struct {
	ContextID ContextId
	TurnID    TurnId
	Depth     uint32
}

// AppendRequest is the input to TurnStore.AppendTurn.
type AppendRequest struct {
	ContextID      ContextId
	ParentTurnID   *TurnId // nil means "current head"
	TypeID         string
	TypeVersion    uint32
	Payload        []byte
	IdempotencyKey string // empty triggers the deterministic fallback format
}

// RegistryBundle is an opaque, versioned schema bundle published by
// collaborators (e.g. tool-schema bundles) and fetched by id.
type RegistryBundle struct {
	ID   string
	Data []byte
}
