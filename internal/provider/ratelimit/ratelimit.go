// Package ratelimit provides an AIMD-adaptive token bucket middleware for a
// provider.Client, grounded on features/model/middleware/ratelimit.go's
// AdaptiveRateLimiter from the teacher repo. The cluster-coordination half
// of the teacher's version (a Pulse replicated map keeping the budget in
// sync across processes) is dropped — see DESIGN.md — so this is the
// process-local limiter only.
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/forgehq/forge/internal/provider"
)

// AdaptiveRateLimiter applies an AIMD-style token bucket on top of a
// provider.Client: it estimates the token cost of each request, blocks the
// caller until capacity is available, halves its effective tokens-per-
// minute budget on a rate_limited provider error, and recovers it
// gradually on success.
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// New constructs an AdaptiveRateLimiter configured with an initial
// tokens-per-minute budget and an upper bound. When maxTPM is zero or below
// initialTPM, it is clamped to initialTPM.
func New(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60_000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a provider.Client that enforces the limiter in front of
// next's Complete/Stream calls.
func (l *AdaptiveRateLimiter) Wrap(next provider.Client) provider.Client {
	if next == nil {
		return nil
	}
	return &limitedClient{next: next, limiter: l}
}

type limitedClient struct {
	next    provider.Client
	limiter *AdaptiveRateLimiter
}

func (c *limitedClient) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return provider.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (c *limitedClient) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	stream, err := c.next.Stream(ctx, req)
	c.limiter.observe(err)
	return stream, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req provider.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Kind() == provider.ErrorKindRateLimited {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// WrapFromConfig wraps client in an AdaptiveRateLimiter when config carries
// a "rate_limit_tpm" entry, used by the provider adapter Factory functions
// so rate limiting is opt-in per configured client. "rate_limit_max_tpm"
// sets the recovery ceiling (defaults to rate_limit_tpm when absent).
func WrapFromConfig(config map[string]any, client provider.Client) provider.Client {
	tpm, ok := configFloat(config, "rate_limit_tpm")
	if !ok || tpm <= 0 {
		return client
	}
	maxTPM, _ := configFloat(config, "rate_limit_max_tpm")
	return New(tpm, maxTPM).Wrap(client)
}

func configFloat(config map[string]any, key string) (float64, bool) {
	switch v := config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// estimateTokens is a cheap heuristic: count characters across text parts,
// convert at a fixed ratio, and add a fixed buffer for system prompt and
// provider framing overhead.
func estimateTokens(req provider.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if tp, ok := p.(provider.TextPart); ok {
				charCount += len(tp.Text)
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
