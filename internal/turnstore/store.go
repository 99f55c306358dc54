package turnstore

import "context"

// TurnStore is the core contract shared by every backend (memory, fsstore,
// cxdb). All operations are safe for concurrent use by multiple Sessions and
// PipelineRunners.
type TurnStore interface {
	// CreateContext allocates a new Context. If baseTurnID is non-nil the new
	// context's head starts at that turn (a synthetic zero head otherwise).
	CreateContext(ctx context.Context, baseTurnID *TurnId) (ContextId, error)

	// ForkContext allocates a new Context whose head is fromTurnID. Returns
	// NewNotFound if fromTurnID does not exist.
	ForkContext(ctx context.Context, fromTurnID TurnId) (ContextId, error)

	// AppendTurn appends a turn to a context. Idempotent on
	// (context_id, idempotency_key): a repeat append with the same key
	// returns the originally stored turn unchanged. A repeat with the same
	// key but a different payload hash returns a KindConflict error.
	AppendTurn(ctx context.Context, req AppendRequest) (Turn, error)

	// GetHead returns the current head of a context.
	GetHead(ctx context.Context, contextID ContextId) (TurnRef, error)

	// ListTurns lists turns in a context page by page, oldest-to-newest
	// within the page. beforeTurnID nil means "start from the newest turn".
	// Returns an empty slice once the cursor is exhausted.
	ListTurns(ctx context.Context, contextID ContextId, beforeTurnID *TurnId, limit int) ([]Turn, error)

	// AttachFS attaches an FS-tree snapshot root hash to a turn.
	AttachFS(ctx context.Context, turnID TurnId, fsRootHash BlobHash) error

	// PublishRegistryBundle stores an opaque schema bundle under an id.
	PublishRegistryBundle(ctx context.Context, id string, data []byte) error

	// GetRegistryBundle fetches a previously published bundle. Returns
	// KindNotFound if absent.
	GetRegistryBundle(ctx context.Context, id string) (RegistryBundle, error)
}

// ArtifactStore is the content-addressed blob sub-interface shared by every
// TurnStore backend.
type ArtifactStore interface {
	// PutBlob stores raw bytes and returns their BlobHash. Idempotent: storing
	// the same bytes twice returns the same hash without duplicating storage.
	PutBlob(ctx context.Context, data []byte) (BlobHash, error)

	// GetBlob fetches bytes by hash. ok is false if the hash is unknown.
	GetBlob(ctx context.Context, hash BlobHash) (data []byte, ok bool, err error)
}

// TypedTurnStore layers StoredTurnEnvelope encode/decode on top of a
// TurnStore so the Session and Pipeline engines never hand-encode payload
// bytes themselves.
type TypedTurnStore interface {
	TurnStore
	ArtifactStore

	// AppendEnvelope encodes env as the turn payload (MsgPack, canonical key
	// ordering per spec.md §6.6) and appends it with the given type and
	// idempotency key.
	AppendEnvelope(ctx context.Context, contextID ContextId, parentTurnID *TurnId, typeID string, typeVersion uint32, env StoredTurnEnvelope, idempotencyKey string) (Turn, error)

	// DecodeEnvelope decodes a turn's payload back into a StoredTurnEnvelope.
	DecodeEnvelope(turn Turn) (StoredTurnEnvelope, error)
}
