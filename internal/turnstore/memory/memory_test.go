package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/turnstore"
	"github.com/forgehq/forge/internal/turnstore/memory"
)

func TestAppendTurnIdempotentSameKeySamePayload(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	cid, err := s.CreateContext(ctx, nil)
	require.NoError(t, err)

	req := turnstore.AppendRequest{
		ContextID:      cid,
		TypeID:         "forge.agent.user_turn",
		TypeVersion:    1,
		Payload:        []byte("hello"),
		IdempotencyKey: "fixed-key",
	}
	first, err := s.AppendTurn(ctx, req)
	require.NoError(t, err)
	second, err := s.AppendTurn(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.TurnID, second.TurnID)
	assert.Equal(t, first.ContentHash, second.ContentHash)

	head, err := s.GetHead(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, first.TurnID, head.TurnID, "a repeat append must not advance head")
}

func TestAppendTurnConflictingPayloadSameKey(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	cid, err := s.CreateContext(ctx, nil)
	require.NoError(t, err)

	base := turnstore.AppendRequest{ContextID: cid, TypeID: "t", TypeVersion: 1, IdempotencyKey: "dup-key"}
	first := base
	first.Payload = []byte("a")
	_, err = s.AppendTurn(ctx, first)
	require.NoError(t, err)

	second := base
	second.Payload = []byte("b")
	_, err = s.AppendTurn(ctx, second)
	require.Error(t, err)

	var tsErr *turnstore.Error
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, turnstore.KindConflict, tsErr.Kind())
}

func TestAppendTurnHeadMonotonic(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	cid, err := s.CreateContext(ctx, nil)
	require.NoError(t, err)

	var lastID turnstore.TurnId
	for i := 0; i < 5; i++ {
		turn, err := s.AppendTurn(ctx, turnstore.AppendRequest{
			ContextID:   cid,
			TypeID:      "t",
			TypeVersion: 1,
			Payload:     []byte{byte(i)},
		})
		require.NoError(t, err)
		assert.Greater(t, uint64(turn.TurnID), uint64(lastID))
		assert.Equal(t, uint32(i+1), turn.Depth)
		lastID = turn.TurnID
	}
	head, err := s.GetHead(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, lastID, head.TurnID)
}

func TestPutBlobContentAddressedDedup(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	h1, err := s.PutBlob(ctx, []byte("same content"))
	require.NoError(t, err)
	h2, err := s.PutBlob(ctx, []byte("same content"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := s.PutBlob(ctx, []byte("different content"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	data, ok, err := s.GetBlob(ctx, h1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "same content", string(data))
}

func TestAppendTurnUnknownContextNotFound(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.AppendTurn(ctx, turnstore.AppendRequest{ContextID: 999, TypeID: "t"})
	require.Error(t, err)
	var tsErr *turnstore.Error
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, turnstore.KindNotFound, tsErr.Kind())
}

func TestListTurnsPagesOldestToNewest(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	cid, err := s.CreateContext(ctx, nil)
	require.NoError(t, err)

	var ids []turnstore.TurnId
	for i := 0; i < 3; i++ {
		turn, err := s.AppendTurn(ctx, turnstore.AppendRequest{ContextID: cid, TypeID: "t", Payload: []byte{byte(i)}})
		require.NoError(t, err)
		ids = append(ids, turn.TurnID)
	}

	page, err := s.ListTurns(ctx, cid, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	for i, turn := range page {
		assert.Equal(t, ids[i], turn.TurnID)
	}
}
