package turnstore

import (
	"bytes"
	"context"

	"github.com/vmihailenco/msgpack/v5"
)

// typedStore adapts any TurnStore+ArtifactStore backend into a
// TypedTurnStore by layering canonical MsgPack envelope encoding on top.
type typedStore struct {
	TurnStore
	ArtifactStore
}

// NewTypedStore wraps a backend's TurnStore and ArtifactStore implementations
// into a TypedTurnStore. Every concrete backend (memory, fsstore, cxdb)
// constructs its typed view this way rather than re-implementing envelope
// codec logic.
func NewTypedStore(store TurnStore, artifacts ArtifactStore) TypedTurnStore {
	return &typedStore{TurnStore: store, ArtifactStore: artifacts}
}

func (s *typedStore) AppendEnvelope(ctx context.Context, contextID ContextId, parentTurnID *TurnId, typeID string, typeVersion uint32, env StoredTurnEnvelope, idempotencyKey string) (Turn, error) {
	if env.SchemaVersion == 0 {
		env.SchemaVersion = CurrentSchemaVersion
	}
	payload, err := encodeCanonical(env)
	if err != nil {
		return Turn{}, NewError(KindSerialization, "encode envelope").Wrap(err)
	}
	return s.TurnStore.AppendTurn(ctx, AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   parentTurnID,
		TypeID:         typeID,
		TypeVersion:    typeVersion,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	})
}

func (s *typedStore) DecodeEnvelope(turn Turn) (StoredTurnEnvelope, error) {
	var env StoredTurnEnvelope
	if err := msgpack.Unmarshal(turn.Payload, &env); err != nil {
		return StoredTurnEnvelope{}, NewError(KindSerialization, "decode envelope").Wrap(err)
	}
	return env, nil
}

// encodeCanonical MsgPack-encodes v with map keys sorted, per spec.md §6.6
// ("string keys sorted by byte order of their encoded form").
func encodeCanonical(v any) ([]byte, error) {
	// Struct fields encode in declaration order, so round-trip through a
	// generic map first; every nested map's keys are then sorted on encode.
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := msgpack.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
