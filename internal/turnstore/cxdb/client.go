package cxdb

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/forgehq/forge/internal/turnstore"
)

// Client is a TurnStore + ArtifactStore backed by a CXDB server over the
// framed binary protocol. Paging (ListTurns) and registry bundles are
// served by HTTPClient instead, per spec.md §4.1's routing note: cursor
// ordering must match server semantics, so those calls go over HTTP.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex
	nextReq uint64

	mu      sync.Mutex
	pending map[uint64]chan frameOrErr

	http *HTTPClient
}

type frameOrErr struct {
	frame Frame
	err   error
}

var (
	_ turnstore.TurnStore     = (*Client)(nil)
	_ turnstore.ArtifactStore = (*Client)(nil)
)

// Dial connects to a CXDB server at addr and sends the HELLO handshake.
// httpBaseURL is the base URL of the server's HTTP API, used for ListTurns
// and registry bundle operations.
func Dial(ctx context.Context, addr, httpBaseURL string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, turnstore.NewError(turnstore.KindBackend, "dial cxdb server").Wrap(err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan frameOrErr),
		http:    NewHTTPClient(httpBaseURL),
	}
	go c.readLoop()
	if _, err := c.roundTrip(ctx, MsgHello, 0, nil); err != nil {
		conn.Close()
		return nil, turnstore.NewError(turnstore.KindBackend, "cxdb handshake failed").Wrap(err)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) readLoop() {
	for {
		f, err := ReadFrame(c.conn)
		if err != nil {
			c.broadcastErr(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ReqID]
		if ok {
			delete(c.pending, f.ReqID)
		}
		c.mu.Unlock()
		if ok {
			ch <- frameOrErr{frame: f}
		}
	}
}

func (c *Client) broadcastErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- frameOrErr{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) roundTrip(ctx context.Context, msgType MsgType, flags uint16, payload []byte) (Frame, error) {
	reqID := atomic.AddUint64(&c.nextReq, 1)
	ch := make(chan frameOrErr, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := WriteFrame(c.conn, Frame{MsgType: msgType, Flags: flags, ReqID: reqID, Payload: payload})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return Frame{}, err
	}

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return Frame{}, res.err
		}
		if res.frame.MsgType == MsgError {
			errResp, decErr := DecodeErrorResponse(res.frame.Payload)
			if decErr != nil {
				return Frame{}, decErr
			}
			return Frame{}, errResp
		}
		return res.frame, nil
	}
}

func (c *Client) CreateContext(ctx context.Context, baseTurnID *turnstore.TurnId) (turnstore.ContextId, error) {
	var base uint64
	var flags uint16
	if baseTurnID != nil {
		base = uint64(*baseTurnID)
		flags = 1
	}
	f, err := c.roundTrip(ctx, MsgCtxCreate, flags, appendU64(nil, base))
	if err != nil {
		return 0, translateErr(err)
	}
	r := reader{buf: f.Payload}
	id := r.u64()
	if r.err != nil {
		return 0, turnstore.NewError(turnstore.KindSerialization, "decode CTX_CREATE response").Wrap(r.err)
	}
	return turnstore.ContextId(id), nil
}

func (c *Client) ForkContext(ctx context.Context, fromTurnID turnstore.TurnId) (turnstore.ContextId, error) {
	f, err := c.roundTrip(ctx, MsgCtxFork, 0, appendU64(nil, uint64(fromTurnID)))
	if err != nil {
		return 0, translateErr(err)
	}
	r := reader{buf: f.Payload}
	id := r.u64()
	if r.err != nil {
		return 0, turnstore.NewError(turnstore.KindSerialization, "decode CTX_FORK response").Wrap(r.err)
	}
	return turnstore.ContextId(id), nil
}

func (c *Client) AppendTurn(ctx context.Context, req turnstore.AppendRequest) (turnstore.Turn, error) {
	parent := uint64(0)
	if req.ParentTurnID != nil {
		parent = uint64(*req.ParentTurnID)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = turnstore.DefaultKey(req.ContextID, turnstore.TurnId(parent), req.TypeID, req.TypeVersion, req.Payload)
	}

	encoded, err := msgpack.Marshal(req.Payload)
	if err != nil {
		return turnstore.Turn{}, turnstore.NewError(turnstore.KindSerialization, "encode payload").Wrap(err)
	}
	compressed, comp := maybeCompress(encoded)
	hash := turnstore.HashBlob(req.Payload)

	wireReq := AppendTurnRequest{
		ContextID:       uint64(req.ContextID),
		ParentTurnID:    parent,
		TypeID:          req.TypeID,
		TypeVersion:     req.TypeVersion,
		Encoding:        EncodingMsgPack,
		Compression:     comp,
		UncompressedLen: uint32(len(encoded)),
		BlobHash:        [32]byte(mustDecodeHash(hash)),
		Payload:         compressed,
		IdempotencyKey:  key,
	}
	payload, flags := wireReq.Encode()
	f, err := c.roundTrip(ctx, MsgAppendTurn, flags, payload)
	if err != nil {
		return turnstore.Turn{}, translateErr(err)
	}
	resp, err := DecodeAppendTurnResponse(f.Payload)
	if err != nil {
		return turnstore.Turn{}, turnstore.NewError(turnstore.KindSerialization, "decode APPEND_TURN response").Wrap(err)
	}
	return turnstore.Turn{
		ContextID:      turnstore.ContextId(resp.ContextID),
		TurnID:         turnstore.TurnId(resp.TurnID),
		ParentTurnID:   turnstore.TurnId(parent),
		Depth:          resp.Depth,
		TypeID:         req.TypeID,
		TypeVersion:    req.TypeVersion,
		Payload:        req.Payload,
		IdempotencyKey: key,
		ContentHash:    hash,
	}, nil
}

func (c *Client) GetHead(ctx context.Context, contextID turnstore.ContextId) (turnstore.TurnRef, error) {
	f, err := c.roundTrip(ctx, MsgGetHead, 0, appendU64(nil, uint64(contextID)))
	if err != nil {
		return turnstore.TurnRef{}, translateErr(err)
	}
	r := reader{buf: f.Payload}
	turnID := r.u64()
	depth := r.u32()
	if r.err != nil {
		return turnstore.TurnRef{}, turnstore.NewError(turnstore.KindSerialization, "decode GET_HEAD response").Wrap(r.err)
	}
	return turnstore.TurnRef{ContextID: contextID, TurnID: turnstore.TurnId(turnID), Depth: depth}, nil
}

// ListTurns is served by the HTTP API: cursor-paged ordering must match
// server-side semantics (spec.md §4.1).
func (c *Client) ListTurns(ctx context.Context, contextID turnstore.ContextId, beforeTurnID *turnstore.TurnId, limit int) ([]turnstore.Turn, error) {
	return c.http.ListTurns(ctx, contextID, beforeTurnID, limit)
}

// GetLast is the unbounded-list binary counterpart used when no paging
// cursor is needed.
func (c *Client) GetLast(ctx context.Context, contextID turnstore.ContextId, limit int, includePayload bool) ([]turnstore.Turn, error) {
	req := GetLastRequest{ContextID: uint64(contextID), Limit: uint32(limit), IncludePayload: includePayload}
	f, err := c.roundTrip(ctx, MsgGetLast, 0, req.Encode())
	if err != nil {
		return nil, translateErr(err)
	}
	resp, err := DecodeGetLastResponse(f.Payload)
	if err != nil {
		return nil, turnstore.NewError(turnstore.KindSerialization, "decode GET_LAST response").Wrap(err)
	}
	turns := make([]turnstore.Turn, 0, len(resp.Records))
	for _, rec := range resp.Records {
		payload, err := decodePayload(rec.Payload, rec.Encoding, rec.Compression, rec.UncompressedLen)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turnstore.Turn{
			ContextID:    contextID,
			TurnID:       turnstore.TurnId(rec.TurnID),
			ParentTurnID: turnstore.TurnId(rec.ParentID),
			Depth:        rec.Depth,
			TypeID:       rec.TypeID,
			TypeVersion:  rec.TypeVersion,
			Payload:      payload,
			ContentHash:  turnstore.HashBlob(payload),
		})
	}
	return turns, nil
}

func (c *Client) AttachFS(ctx context.Context, turnID turnstore.TurnId, fsRootHash turnstore.BlobHash) error {
	req := AttachFSRequest{TurnID: uint64(turnID), FSRootHash: [32]byte(mustDecodeHash(fsRootHash))}
	_, err := c.roundTrip(ctx, MsgAttachFS, 0, req.Encode())
	return translateErr(err)
}

func (c *Client) PublishRegistryBundle(ctx context.Context, id string, data []byte) error {
	return c.http.PublishRegistryBundle(ctx, id, data)
}

func (c *Client) GetRegistryBundle(ctx context.Context, id string) (turnstore.RegistryBundle, error) {
	return c.http.GetRegistryBundle(ctx, id)
}

func (c *Client) PutBlob(ctx context.Context, data []byte) (turnstore.BlobHash, error) {
	hash := turnstore.HashBlob(data)
	req := PutBlobRequest{Hash: [32]byte(mustDecodeHash(hash)), Data: data}
	f, err := c.roundTrip(ctx, MsgPutBlob, 0, req.Encode())
	if err != nil {
		return "", translateErr(err)
	}
	if _, err := DecodePutBlobResponse(f.Payload); err != nil {
		return "", turnstore.NewError(turnstore.KindSerialization, "decode PUT_BLOB response").Wrap(err)
	}
	return hash, nil
}

func (c *Client) GetBlob(ctx context.Context, hash turnstore.BlobHash) ([]byte, bool, error) {
	req := GetBlobRequest{Hash: [32]byte(mustDecodeHash(hash))}
	f, err := c.roundTrip(ctx, MsgGetBlob, 0, req.Encode())
	if err != nil {
		return nil, false, translateErr(err)
	}
	resp, err := DecodeGetBlobResponse(f.Payload)
	if err != nil {
		return nil, false, turnstore.NewError(turnstore.KindSerialization, "decode GET_BLOB response").Wrap(err)
	}
	return resp.Data, resp.Present, nil
}

func maybeCompress(data []byte) ([]byte, Compression) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return data, CompressionNone
	}
	defer enc.Close()
	compressed := enc.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return data, CompressionNone
	}
	return compressed, CompressionZstd
}

func decodePayload(raw []byte, encoding Encoding, compression Compression, uncompressedLen uint32) ([]byte, error) {
	data := raw
	if compression == CompressionZstd {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, turnstore.NewError(turnstore.KindSerialization, "create zstd reader").Wrap(err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(raw, make([]byte, 0, uncompressedLen))
		if err != nil {
			return nil, turnstore.NewError(turnstore.KindSerialization, "decompress payload").Wrap(err)
		}
		data = out
	}
	if encoding == EncodingMsgPack {
		var payload []byte
		if err := msgpack.Unmarshal(data, &payload); err != nil {
			return nil, turnstore.NewError(turnstore.KindSerialization, "decode msgpack payload").Wrap(err)
		}
		return payload, nil
	}
	return data, nil
}

func mustDecodeHash(h turnstore.BlobHash) []byte {
	raw := make([]byte, 32)
	n := 0
	for i := 0; i+1 < len(h) && n < 32; i += 2 {
		raw[n] = hexNibble(h[i])<<4 | hexNibble(h[i+1])
		n++
	}
	return raw
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errResp, ok := err.(ErrorResponse); ok {
		return turnstore.NewError(turnstore.KindBackend, fmt.Sprintf("remote error %d", errResp.Code)).Wrap(errResp)
	}
	return turnstore.NewError(turnstore.KindBackend, "cxdb round trip failed").Wrap(err)
}
