package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/provider"
)

type fakeClient struct {
	completeErr   error
	completeCalls int
}

func (f *fakeClient) Complete(_ context.Context, _ provider.Request) (provider.Response, error) {
	f.completeCalls++
	return provider.Response{}, f.completeErr
}

func (f *fakeClient) Stream(_ context.Context, _ provider.Request) (provider.Streamer, error) {
	return nil, nil
}

func testRequest() provider.Request {
	return provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart{Text: "hello"}}},
		},
	}
}

func TestAdaptiveRateLimiterBacksOffOnRateLimited(t *testing.T) {
	limiter := New(60_000, 60_000)
	initialTPM := limiter.currentTPM

	client := &fakeClient{
		completeErr: provider.NewError("anthropic", "complete", 429, provider.ErrorKindRateLimited, "", "", "", true, nil),
	}
	wrapped := limiter.Wrap(client)

	_, err := wrapped.Complete(context.Background(), testRequest())
	require.Error(t, err)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Less(t, limiter.currentTPM, initialTPM)
}

func TestAdaptiveRateLimiterProbesOnSuccess(t *testing.T) {
	limiter := New(60_000, 120_000)

	client := &fakeClient{}
	wrapped := limiter.Wrap(client)

	_, err := wrapped.Complete(context.Background(), testRequest())
	require.NoError(t, err)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Greater(t, limiter.currentTPM, 60_000.0)
}

func TestWrapFromConfigNoOpWithoutRateLimitKey(t *testing.T) {
	client := &fakeClient{}
	wrapped := WrapFromConfig(map[string]any{}, client)
	assert.Same(t, provider.Client(client), wrapped)
}

func TestWrapFromConfigWrapsWhenConfigured(t *testing.T) {
	client := &fakeClient{}
	wrapped := WrapFromConfig(map[string]any{"rate_limit_tpm": 1000.0}, client)
	assert.NotSame(t, provider.Client(client), wrapped)
}
