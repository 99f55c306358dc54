package cxdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/forgehq/forge/internal/turnstore"
)

// HTTPClient serves the cursor-paged and registry-bundle surfaces of the
// CXDB HTTP API (spec.md §6.2). Kept separate from the binary Client
// because ordering guarantees for paged listing are defined server-side,
// not by the framed protocol's request-id demultiplexing.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL (e.g.
// "http://cxdb.internal:8088").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, hc: http.DefaultClient}
}

type listTurnsResponse struct {
	Turns []wireTurn `json:"turns"`
}

type wireTurn struct {
	ContextID      uint64 `json:"context_id"`
	TurnID         uint64 `json:"turn_id"`
	ParentTurnID   uint64 `json:"parent_turn_id"`
	Depth          uint32 `json:"depth"`
	TypeID         string `json:"type_id"`
	TypeVersion    uint32 `json:"type_version"`
	Payload        []byte `json:"payload"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	ContentHash    string `json:"content_hash"`
}

// ListTurns fetches one page of turns via GET
// /v1/contexts/:id/turns?before_turn_id=<u64>&limit=<u32>, oldest-to-newest
// within the page.
func (h *HTTPClient) ListTurns(ctx context.Context, contextID turnstore.ContextId, beforeTurnID *turnstore.TurnId, limit int) ([]turnstore.Turn, error) {
	q := url.Values{}
	if beforeTurnID != nil {
		q.Set("before_turn_id", strconv.FormatUint(uint64(*beforeTurnID), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	reqURL := fmt.Sprintf("%s/v1/contexts/%s/turns?%s", h.baseURL, contextID, q.Encode())

	var out listTurnsResponse
	if err := h.doJSON(ctx, http.MethodGet, reqURL, nil, &out); err != nil {
		return nil, err
	}
	turns := make([]turnstore.Turn, 0, len(out.Turns))
	for _, t := range out.Turns {
		turns = append(turns, turnstore.Turn{
			ContextID:      turnstore.ContextId(t.ContextID),
			TurnID:         turnstore.TurnId(t.TurnID),
			ParentTurnID:   turnstore.TurnId(t.ParentTurnID),
			Depth:          t.Depth,
			TypeID:         t.TypeID,
			TypeVersion:    t.TypeVersion,
			Payload:        t.Payload,
			IdempotencyKey: t.IdempotencyKey,
			ContentHash:    turnstore.BlobHash(t.ContentHash),
		})
	}
	return turns, nil
}

// PublishRegistryBundle stores an opaque schema bundle via
// PUT /v1/registry/bundles/:bundle_id.
func (h *HTTPClient) PublishRegistryBundle(ctx context.Context, id string, data []byte) error {
	reqURL := fmt.Sprintf("%s/v1/registry/bundles/%s", h.baseURL, url.PathEscape(id))
	body := struct {
		Data []byte `json:"data"`
	}{Data: data}
	return h.doJSON(ctx, http.MethodPut, reqURL, body, nil)
}

// GetRegistryBundle fetches a previously published bundle via
// GET /v1/registry/bundles/:bundle_id.
func (h *HTTPClient) GetRegistryBundle(ctx context.Context, id string) (turnstore.RegistryBundle, error) {
	reqURL := fmt.Sprintf("%s/v1/registry/bundles/%s", h.baseURL, url.PathEscape(id))
	var out struct {
		Data []byte `json:"data"`
	}
	if err := h.doJSON(ctx, http.MethodGet, reqURL, nil, &out); err != nil {
		return turnstore.RegistryBundle{}, err
	}
	return turnstore.RegistryBundle{ID: id, Data: out.Data}, nil
}

// GetTurnFS fetches the FS-tree snapshot attached to a turn. An empty
// relPath fetches the root manifest; a non-empty one fetches that path's
// raw bytes, per spec.md §6.2's GET /v1/turns/:turn_id/fs[/<path>].
func (h *HTTPClient) GetTurnFS(ctx context.Context, turnID turnstore.TurnId, relPath string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/v1/turns/%s/fs", h.baseURL, turnID)
	if relPath != "" {
		reqURL += "/" + url.PathEscape(relPath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, turnstore.NewError(turnstore.KindBackend, "build fs request").Wrap(err)
	}
	resp, err := h.hc.Do(req)
	if err != nil {
		return nil, turnstore.NewError(turnstore.KindBackend, "fetch turn fs").Wrap(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, turnstore.NewError(turnstore.KindBackend, "read fs response body").Wrap(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, turnstore.NewNotFound("turn_fs", turnID.String())
	}
	if resp.StatusCode >= 300 {
		return nil, turnstore.NewError(turnstore.KindBackend, fmt.Sprintf("cxdb http %d: %s", resp.StatusCode, body))
	}
	return body, nil
}

func (h *HTTPClient) doJSON(ctx context.Context, method, reqURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return turnstore.NewError(turnstore.KindSerialization, "encode http request body").Wrap(err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return turnstore.NewError(turnstore.KindBackend, "build http request").Wrap(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.hc.Do(req)
	if err != nil {
		return turnstore.NewError(turnstore.KindBackend, "cxdb http request failed").Wrap(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return turnstore.NewError(turnstore.KindSerialization, "read http response body").Wrap(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return turnstore.NewNotFound("registry_bundle", reqURL)
	}
	if resp.StatusCode >= 300 {
		return turnstore.NewError(turnstore.KindBackend, fmt.Sprintf("cxdb http %d: %s", resp.StatusCode, respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return turnstore.NewError(turnstore.KindSerialization, "decode http response body").Wrap(err)
	}
	return nil
}
