// Package retry implements the Pipeline Engine's retry/back-off policy:
// per-node attempt budgets and jittered exponential delay. Grounded
// bit-exact on original_source forge-attractor/src/retry.rs.
package retry

import (
	"math"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// BackoffConfig controls the shape of the retry delay curve.
type BackoffConfig struct {
	InitialDelayMs uint64
	BackoffFactor  float64
	MaxDelayMs     uint64
	Jitter         bool
}

// DefaultBackoffConfig matches spec.md §4.11.2's defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelayMs: 200,
		BackoffFactor:  2.0,
		MaxDelayMs:     60_000,
		Jitter:         true,
	}
}

// Policy is a node's resolved retry budget.
type Policy struct {
	MaxAttempts uint32
	Backoff     BackoffConfig
}

// BuildPolicy resolves max_attempts from the node's max_retries attribute,
// falling back to the graph's default_max_retry only when max_retries is
// absent — an explicit negative max_retries is honored as zero retries
// rather than falling back, matching build_retry_policy's
// Option::or_else-on-None semantics.
func BuildPolicy(node graph.Node, g graph.Graph, backoff BackoffConfig) Policy {
	var maxRetries int64
	if v, ok := node.Attrs.Get("max_retries"); ok && v.Kind == graph.AttrInteger {
		maxRetries = v.Int
	} else {
		maxRetries = g.Attrs.GetInt("default_max_retry", 0)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Policy{MaxAttempts: uint32(maxRetries) + 1, Backoff: backoff}
}

// ShouldRetry reports whether outcome warrants another attempt.
func ShouldRetry(outcome pstate.Outcome) bool {
	return outcome.Status == pstate.Retry || outcome.Status == pstate.Fail
}

// FinalizeExhausted builds the terminal outcome once a node's retry budget
// is spent: PartialSuccess if the node opted into allow_partial, else Fail.
func FinalizeExhausted(node graph.Node) pstate.Outcome {
	if v, ok := node.Attrs.Get("allow_partial"); ok && v.Kind == graph.AttrBoolean && v.Bool {
		return pstate.Outcome{
			Status: pstate.PartialSuccess,
			Notes:  "retries exhausted, partial accepted",
		}
	}
	return pstate.FailureOutcome("max retries exceeded")
}

// DelayForAttempt computes the back-off delay in milliseconds for attempt
// (1-indexed), applying jitter deterministically from (attempt, jitterSeed)
// when config.Jitter is set.
func DelayForAttempt(attempt uint32, config BackoffConfig, jitterSeed uint64) uint64 {
	exp := 0
	if attempt > 1 {
		exp = int(attempt - 1)
	}
	base := float64(config.InitialDelayMs) * math.Pow(config.BackoffFactor, float64(exp))
	delay := math.Min(base, float64(config.MaxDelayMs))
	if config.Jitter {
		delay *= jitterFactor(attempt, jitterSeed)
	}
	if delay < 0 {
		delay = 0
	}
	return uint64(math.Round(delay))
}

// jitterFactor maps (attempt, jitterSeed) to a deterministic multiplier in
// [0.5, 1.5) via a splitmix64-style mix, so repeated runs of the same
// attempt/seed produce the same delay (spec.md IP6/IP7 determinism).
func jitterFactor(attempt uint32, jitterSeed uint64) float64 {
	x := jitterSeed ^ (uint64(attempt) << 32) ^ 0x9E3779B97F4A7C15
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	r := x * 0x2545F4914F6CDD1D
	unit := float64(r) / float64(^uint64(0))
	return 0.5 + unit
}
