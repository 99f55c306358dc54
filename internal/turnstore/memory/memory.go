// Package memory provides an in-process TurnStore implementation. It is
// suitable for tests, demos, and single-process runs where durability across
// restarts is not required.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/forgehq/forge/internal/turnstore"
)

type context_ struct {
	head  turnstore.TurnId
	turns []turnstore.Turn // append order == depth order within this context
}

// Store is an in-memory TurnStore + ArtifactStore. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	nextCtx  uint64
	nextTurn uint64

	contexts map[turnstore.ContextId]*context_
	byID     map[turnstore.TurnId]turnstore.Turn
	byKey    map[keyRef]turnstore.TurnId // (context, idempotency_key) -> turn

	blobs    map[turnstore.BlobHash][]byte
	bundles  map[string][]byte
	fsAttach map[turnstore.TurnId]turnstore.BlobHash
}

type keyRef struct {
	ctx turnstore.ContextId
	key string
}

// Compile-time checks that Store implements the turnstore contracts.
var (
	_ turnstore.TurnStore     = (*Store)(nil)
	_ turnstore.ArtifactStore = (*Store)(nil)
)

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		contexts: make(map[turnstore.ContextId]*context_),
		byID:     make(map[turnstore.TurnId]turnstore.Turn),
		byKey:    make(map[keyRef]turnstore.TurnId),
		blobs:    make(map[turnstore.BlobHash][]byte),
		bundles:  make(map[string][]byte),
		fsAttach: make(map[turnstore.TurnId]turnstore.BlobHash),
	}
}

func (s *Store) CreateContext(ctx context.Context, baseTurnID *turnstore.TurnId) (turnstore.ContextId, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := turnstore.ContextId(atomic.AddUint64(&s.nextCtx, 1))
	head := turnstore.TurnId(0)
	if baseTurnID != nil {
		head = *baseTurnID
	}
	s.contexts[id] = &context_{head: head}
	return id, nil
}

func (s *Store) ForkContext(ctx context.Context, fromTurnID turnstore.TurnId) (turnstore.ContextId, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if fromTurnID != 0 {
		if _, ok := s.byID[fromTurnID]; !ok {
			return 0, turnstore.NewNotFound("turn", fromTurnID.String())
		}
	}
	id := turnstore.ContextId(atomic.AddUint64(&s.nextCtx, 1))
	s.contexts[id] = &context_{head: fromTurnID}
	return id, nil
}

func (s *Store) AppendTurn(ctx context.Context, req turnstore.AppendRequest) (turnstore.Turn, error) {
	select {
	case <-ctx.Done():
		return turnstore.Turn{}, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[req.ContextID]
	if !ok {
		return turnstore.Turn{}, turnstore.NewNotFound("context", req.ContextID.String())
	}

	parent := c.head
	if req.ParentTurnID != nil {
		parent = *req.ParentTurnID
	}

	key := req.IdempotencyKey
	if key == "" {
		key = turnstore.DefaultKey(req.ContextID, parent, req.TypeID, req.TypeVersion, req.Payload)
	}
	hash := turnstore.HashBlob(req.Payload)

	if existingID, ok := s.byKey[keyRef{ctx: req.ContextID, key: key}]; ok {
		existing := s.byID[existingID]
		if existing.ContentHash != hash {
			return turnstore.Turn{}, turnstore.NewError(turnstore.KindConflict,
				"idempotency key reused with a different payload")
		}
		return existing, nil
	}

	var depth uint32 = 1
	if parent != 0 {
		p, ok := s.byID[parent]
		if !ok {
			return turnstore.Turn{}, turnstore.NewNotFound("turn", parent.String())
		}
		depth = p.Depth + 1
	}

	id := turnstore.TurnId(atomic.AddUint64(&s.nextTurn, 1))
	turn := turnstore.Turn{
		ContextID:      req.ContextID,
		TurnID:         id,
		ParentTurnID:   parent,
		Depth:          depth,
		TypeID:         req.TypeID,
		TypeVersion:    req.TypeVersion,
		Payload:        req.Payload,
		IdempotencyKey: key,
		ContentHash:    hash,
	}
	s.byID[id] = turn
	s.byKey[keyRef{ctx: req.ContextID, key: key}] = id
	c.turns = append(c.turns, turn)
	c.head = id
	return turn, nil
}

func (s *Store) GetHead(ctx context.Context, contextID turnstore.ContextId) (turnstore.TurnRef, error) {
	select {
	case <-ctx.Done():
		return turnstore.TurnRef{}, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[contextID]
	if !ok {
		return turnstore.TurnRef{}, turnstore.NewNotFound("context", contextID.String())
	}
	var depth uint32
	if t, ok := s.byID[c.head]; ok {
		depth = t.Depth
	}
	return turnstore.TurnRef{ContextID: contextID, TurnID: c.head, Depth: depth}, nil
}

func (s *Store) ListTurns(ctx context.Context, contextID turnstore.ContextId, beforeTurnID *turnstore.TurnId, limit int) ([]turnstore.Turn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[contextID]
	if !ok {
		return nil, turnstore.NewNotFound("context", contextID.String())
	}

	// c.turns is already oldest->newest (append order). The page is the last
	// `limit` turns before the cursor, copied out in that same order.
	end := len(c.turns)
	if beforeTurnID != nil {
		end = sort.Search(len(c.turns), func(i int) bool {
			return c.turns[i].TurnID >= *beforeTurnID
		})
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]turnstore.Turn, end-start)
	copy(page, c.turns[start:end])
	return page, nil
}

func (s *Store) AttachFS(ctx context.Context, turnID turnstore.TurnId, fsRootHash turnstore.BlobHash) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[turnID]; !ok {
		return turnstore.NewNotFound("turn", turnID.String())
	}
	s.fsAttach[turnID] = fsRootHash
	return nil
}

func (s *Store) PublishRegistryBundle(ctx context.Context, id string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.bundles[id] = cp
	return nil
}

func (s *Store) GetRegistryBundle(ctx context.Context, id string) (turnstore.RegistryBundle, error) {
	select {
	case <-ctx.Done():
		return turnstore.RegistryBundle{}, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.bundles[id]
	if !ok {
		return turnstore.RegistryBundle{}, turnstore.NewNotFound("registry_bundle", id)
	}
	return turnstore.RegistryBundle{ID: id, Data: data}, nil
}

func (s *Store) PutBlob(ctx context.Context, data []byte) (turnstore.BlobHash, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	hash := turnstore.HashBlob(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[hash]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.blobs[hash] = cp
	}
	return hash, nil
}

func (s *Store) GetBlob(ctx context.Context, hash turnstore.BlobHash) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	return data, ok, nil
}
