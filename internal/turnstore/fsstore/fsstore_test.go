package fsstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/turnstore"
	"github.com/forgehq/forge/internal/turnstore/fsstore"
)

func TestAppendTurnPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := fsstore.Open(dir)
	require.NoError(t, err)
	cid, err := s.CreateContext(ctx, nil)
	require.NoError(t, err)

	turn, err := s.AppendTurn(ctx, turnstore.AppendRequest{
		ContextID:   cid,
		TypeID:      "t",
		TypeVersion: 1,
		Payload:     []byte("persisted"),
	})
	require.NoError(t, err)

	reopened, err := fsstore.Open(dir)
	require.NoError(t, err)

	head, err := reopened.GetHead(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, turn.TurnID, head.TurnID)

	page, err := reopened.ListTurns(ctx, cid, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "persisted", string(page[0].Payload))
}

func TestAppendTurnIdempotentAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := fsstore.Open(dir)
	require.NoError(t, err)
	cid, err := s.CreateContext(ctx, nil)
	require.NoError(t, err)

	req := turnstore.AppendRequest{
		ContextID:      cid,
		TypeID:         "t",
		TypeVersion:    1,
		Payload:        []byte("hello"),
		IdempotencyKey: "fixed-key",
	}
	first, err := s.AppendTurn(ctx, req)
	require.NoError(t, err)

	reopened, err := fsstore.Open(dir)
	require.NoError(t, err)
	second, err := reopened.AppendTurn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TurnID, second.TurnID, "replaying the same append after a reopen must not create a new turn")
}

func TestAppendTurnConflictingPayloadSameKey(t *testing.T) {
	ctx := context.Background()
	s, err := fsstore.Open(t.TempDir())
	require.NoError(t, err)
	cid, err := s.CreateContext(ctx, nil)
	require.NoError(t, err)

	base := turnstore.AppendRequest{ContextID: cid, TypeID: "t", TypeVersion: 1, IdempotencyKey: "dup-key"}
	a := base
	a.Payload = []byte("a")
	_, err = s.AppendTurn(ctx, a)
	require.NoError(t, err)

	b := base
	b.Payload = []byte("b")
	_, err = s.AppendTurn(ctx, b)
	require.Error(t, err)
	var tsErr *turnstore.Error
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, turnstore.KindConflict, tsErr.Kind())
}

func TestPutBlobContentAddressedAndPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := fsstore.Open(dir)
	require.NoError(t, err)

	h1, err := s.PutBlob(ctx, []byte("payload"))
	require.NoError(t, err)
	h2, err := s.PutBlob(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	reopened, err := fsstore.Open(dir)
	require.NoError(t, err)
	data, ok, err := reopened.GetBlob(ctx, h1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(data))
}

func TestGetBlobMissingReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	s, err := fsstore.Open(t.TempDir())
	require.NoError(t, err)
	_, ok, err := s.GetBlob(ctx, turnstore.BlobHash("does-not-exist"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryBundleRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := fsstore.Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.PublishRegistryBundle(ctx, "bundle-1", []byte(`{"v":1}`)))

	reopened, err := fsstore.Open(dir)
	require.NoError(t, err)
	bundle, err := reopened.GetRegistryBundle(ctx, "bundle-1")
	require.NoError(t, err)
	assert.Equal(t, "bundle-1", bundle.ID)
	assert.JSONEq(t, `{"v":1}`, string(bundle.Data))
}

func TestGetRegistryBundleMissingNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := fsstore.Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.GetRegistryBundle(ctx, "missing")
	require.Error(t, err)
	var tsErr *turnstore.Error
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, turnstore.KindNotFound, tsErr.Kind())
}
