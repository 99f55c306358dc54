// Package fsstore implements a filesystem-backed TurnStore: one JSON file
// per context under <root>/contexts/, content-addressed blobs under
// <root>/blobs/, and registry bundles under <root>/bundles/. Context, blob and
// bundle writes flush atomically via write-temp-then-rename, mirroring the
// logs_root/checkpoint.json rule in spec.md §6.3. AttachFS records are held
// in memory only and are not restored by Open.
package fsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/forgehq/forge/internal/turnstore"
)

type contextFile struct {
	Head  turnstore.TurnId    `json:"head"`
	Turns []turnstore.Turn    `json:"turns"`
}

// Store is a filesystem-backed TurnStore + ArtifactStore.
type Store struct {
	root string

	mu sync.RWMutex

	nextCtx  uint64
	nextTurn uint64

	contexts map[turnstore.ContextId]*contextFile
	byID     map[turnstore.TurnId]turnstore.Turn
	byKey    map[string]turnstore.TurnId // "<ctx>|<key>"
	fsAttach map[turnstore.TurnId]turnstore.BlobHash
}

var (
	_ turnstore.TurnStore     = (*Store)(nil)
	_ turnstore.ArtifactStore = (*Store)(nil)
)

// Open creates or resumes a Store rooted at dir, replaying any existing
// context files found under dir/contexts.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{"contexts", "blobs", "bundles"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, turnstore.NewError(turnstore.KindBackend, "create store directories").Wrap(err)
		}
	}
	s := &Store{
		root:     dir,
		contexts: make(map[turnstore.ContextId]*contextFile),
		byID:     make(map[turnstore.TurnId]turnstore.Turn),
		byKey:    make(map[string]turnstore.TurnId),
		fsAttach: make(map[turnstore.TurnId]turnstore.BlobHash),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) replay() error {
	entries, err := os.ReadDir(filepath.Join(s.root, "contexts"))
	if err != nil {
		return turnstore.NewError(turnstore.KindBackend, "read contexts directory").Wrap(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var id uint64
		if _, err := parseContextFileName(e.Name(), &id); err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.root, "contexts", e.Name()))
		if err != nil {
			return turnstore.NewError(turnstore.KindBackend, "read context file").Wrap(err)
		}
		var cf contextFile
		if err := json.Unmarshal(raw, &cf); err != nil {
			return turnstore.NewError(turnstore.KindSerialization, "decode context file").Wrap(err)
		}
		cid := turnstore.ContextId(id)
		s.contexts[cid] = &cf
		for _, t := range cf.Turns {
			s.byID[t.TurnID] = t
			s.byKey[keyFor(cid, t.IdempotencyKey)] = t.TurnID
			if uint64(t.TurnID) > s.nextTurn {
				s.nextTurn = uint64(t.TurnID)
			}
		}
		if id > s.nextCtx {
			s.nextCtx = id
		}
	}
	return nil
}

func keyFor(ctxID turnstore.ContextId, key string) string {
	return ctxID.String() + "|" + key
}

func (s *Store) contextPath(id turnstore.ContextId) string {
	return filepath.Join(s.root, "contexts", "ctx-"+id.String()+".json")
}

func (s *Store) flushContext(id turnstore.ContextId, cf *contextFile) error {
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return turnstore.NewError(turnstore.KindSerialization, "encode context file").Wrap(err)
	}
	path := s.contextPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return turnstore.NewError(turnstore.KindBackend, "write context temp file").Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return turnstore.NewError(turnstore.KindBackend, "rename context file").Wrap(err)
	}
	return nil
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
	cf := &contextFile{Head: head}
	s.contexts[id] = cf
	if err := s.flushContext(id, cf); err != nil {
		return 0, err
	}
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
	cf := &contextFile{Head: fromTurnID}
	s.contexts[id] = cf
	if err := s.flushContext(id, cf); err != nil {
		return 0, err
	}
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

	cf, ok := s.contexts[req.ContextID]
	if !ok {
		return turnstore.Turn{}, turnstore.NewNotFound("context", req.ContextID.String())
	}

	parent := cf.Head
	if req.ParentTurnID != nil {
		parent = *req.ParentTurnID
	}

	key := req.IdempotencyKey
	if key == "" {
		key = turnstore.DefaultKey(req.ContextID, parent, req.TypeID, req.TypeVersion, req.Payload)
	}
	hash := turnstore.HashBlob(req.Payload)

	if existingID, ok := s.byKey[keyFor(req.ContextID, key)]; ok {
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
	cf.Turns = append(cf.Turns, turn)
	cf.Head = id
	if err := s.flushContext(req.ContextID, cf); err != nil {
		return turnstore.Turn{}, err
	}
	s.byID[id] = turn
	s.byKey[keyFor(req.ContextID, key)] = id
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
	cf, ok := s.contexts[contextID]
	if !ok {
		return turnstore.TurnRef{}, turnstore.NewNotFound("context", contextID.String())
	}
	var depth uint32
	if t, ok := s.byID[cf.Head]; ok {
		depth = t.Depth
	}
	return turnstore.TurnRef{ContextID: contextID, TurnID: cf.Head, Depth: depth}, nil
}

func (s *Store) ListTurns(ctx context.Context, contextID turnstore.ContextId, beforeTurnID *turnstore.TurnId, limit int) ([]turnstore.Turn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cf, ok := s.contexts[contextID]
	if !ok {
		return nil, turnstore.NewNotFound("context", contextID.String())
	}
	end := len(cf.Turns)
	if beforeTurnID != nil {
		end = sort.Search(len(cf.Turns), func(i int) bool {
			return cf.Turns[i].TurnID >= *beforeTurnID
		})
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]turnstore.Turn, end-start)
	copy(page, cf.Turns[start:end])
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
	path := filepath.Join(s.root, "bundles", id+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return turnstore.NewError(turnstore.KindBackend, "write bundle temp file").Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return turnstore.NewError(turnstore.KindBackend, "rename bundle file").Wrap(err)
	}
	return nil
}

func (s *Store) GetRegistryBundle(ctx context.Context, id string) (turnstore.RegistryBundle, error) {
	select {
	case <-ctx.Done():
		return turnstore.RegistryBundle{}, ctx.Err()
	default:
	}
	data, err := os.ReadFile(filepath.Join(s.root, "bundles", id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return turnstore.RegistryBundle{}, turnstore.NewNotFound("registry_bundle", id)
		}
		return turnstore.RegistryBundle{}, turnstore.NewError(turnstore.KindBackend, "read bundle file").Wrap(err)
	}
	return turnstore.RegistryBundle{ID: id, Data: data}, nil
}

func (s *Store) blobPath(hash turnstore.BlobHash) string {
	return filepath.Join(s.root, "blobs", string(hash))
}

func (s *Store) PutBlob(ctx context.Context, data []byte) (turnstore.BlobHash, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	hash := turnstore.HashBlob(data)
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", turnstore.NewError(turnstore.KindBackend, "write blob temp file").Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", turnstore.NewError(turnstore.KindBackend, "rename blob file").Wrap(err)
	}
	return hash, nil
}

func (s *Store) GetBlob(ctx context.Context, hash turnstore.BlobHash) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}
	data, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, turnstore.NewError(turnstore.KindBackend, "read blob file").Wrap(err)
	}
	return data, true, nil
}

func parseContextFileName(name string, out *uint64) (bool, error) {
	const prefix, suffix = "ctx-", ".json"
	if len(name) <= len(prefix)+len(suffix) || name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return false, turnstore.NewError(turnstore.KindInvalidInput, "not a context file")
	}
	numStr := name[len(prefix) : len(name)-len(suffix)]
	var v uint64
	for _, r := range numStr {
		if r < '0' || r > '9' {
			return false, turnstore.NewError(turnstore.KindInvalidInput, "not a context file")
		}
		v = v*10 + uint64(r-'0')
	}
	*out = v
	return true, nil
}
