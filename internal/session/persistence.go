package session

import (
	"context"
	"encoding/json"

	"github.com/forgehq/forge/internal/turnstore"
)

// EnsureContext lazily creates the Session's turn-store Context on first
// use. Safe to call repeatedly; subsequent calls are no-ops.
func (s *Session) EnsureContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureContextLocked(ctx)
}

func (s *Session) ensureContextLocked(ctx context.Context) error {
	if s.config.Persistence == PersistenceOff || s.store == nil {
		return nil
	}
	if s.contextID != 0 {
		return nil
	}
	contextID, err := s.store.CreateContext(ctx, nil)
	if err != nil {
		return err
	}
	s.contextID = contextID
	return nil
}

// persistLastTurn encodes the most recently appended HistoryTurn as a
// StoredTurnEnvelope and appends it to the Turn Store, per the session-level
// idempotency key format in spec.md §4.1. Honors Config.Persistence:
// Off skips entirely, BestEffort logs (by swallowing) backend errors,
// Required propagates them to the caller of the enclosing submit.
func (s *Session) persistLastTurn(ctx context.Context, typeID string) error {
	if s.config.Persistence == PersistenceOff || s.store == nil {
		return nil
	}

	s.mu.Lock()
	if err := s.ensureContextLocked(ctx); err != nil {
		s.mu.Unlock()
		return s.handlePersistError(err)
	}
	if len(s.history) == 0 {
		s.mu.Unlock()
		return nil
	}
	turn := s.history[len(s.history)-1]
	localIx := s.localTurnIx
	s.localTurnIx++
	contextID := s.contextID
	var parentPtr *turnstore.TurnId
	if s.headTurnID != 0 {
		head := s.headTurnID
		parentPtr = &head
	}
	s.mu.Unlock()

	payload, err := json.Marshal(historyTurnPayload(turn))
	if err != nil {
		return s.handlePersistError(err)
	}

	env := turnstore.StoredTurnEnvelope{
		SessionID: s.ID,
		EventKind: typeID,
		Timestamp: turn.Timestamp,
		Payload:   payload,
	}
	key := turnstore.AgentKey(s.ID, localIx, typeID)

	stored, err := s.store.AppendEnvelope(ctx, contextID, parentPtr, typeID, 1, env, key)
	if err != nil {
		return s.handlePersistError(err)
	}

	s.mu.Lock()
	s.headTurnID = stored.TurnID
	s.mu.Unlock()
	return nil
}

func (s *Session) handlePersistError(err error) error {
	if err == nil {
		return nil
	}
	switch s.config.Persistence {
	case PersistenceRequired:
		return err
	default: // BestEffort
		return nil
	}
}

// historyTurnPayload projects a HistoryTurn into a JSON-serializable shape
// for the turn-store payload.
func historyTurnPayload(t HistoryTurn) map[string]any {
	m := map[string]any{"kind": int(t.Kind)}
	switch t.Kind {
	case TurnUser, TurnSystem, TurnSteering:
		m["text"] = t.Text
	case TurnAssistant:
		m["assistant_text"] = t.AssistantText
		m["reasoning"] = t.Reasoning
		m["response_id"] = t.ResponseID
		calls := make([]map[string]any, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			calls[i] = map[string]any{"id": c.ID, "name": c.Name, "payload": c.Payload}
		}
		m["tool_calls"] = calls
	case TurnToolResults:
		results := make([]map[string]any, len(t.Results))
		for i, r := range t.Results {
			results[i] = map[string]any{"call_id": r.CallID, "content": r.Content, "is_error": r.IsError}
		}
		m["results"] = results
	}
	return m
}
