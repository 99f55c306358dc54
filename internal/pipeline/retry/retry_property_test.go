package retry_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/forgehq/forge/internal/pipeline/retry"
)

// TestDelayForAttemptProperties verifies spec.md §8 IP7's supporting
// back-off math: delay never exceeds max_delay_ms, and jitter is
// deterministic given (attempt, seed) — required for resumed runs to
// reproduce the same schedule.
func TestDelayForAttemptProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cfg := retry.BackoffConfig{
		InitialDelayMs: 200,
		BackoffFactor:  2.0,
		MaxDelayMs:     60_000,
		Jitter:         true,
	}

	properties.Property("delay never exceeds 1.5x max_delay_ms", prop.ForAll(
		func(attempt, seed int) bool {
			d := retry.DelayForAttempt(uint32(attempt), cfg, uint64(seed))
			return d <= uint64(float64(cfg.MaxDelayMs)*1.5)+1
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 1<<30),
	))

	properties.Property("same (attempt, seed) reproduces the same delay", prop.ForAll(
		func(attempt, seed int) bool {
			a := retry.DelayForAttempt(uint32(attempt), cfg, uint64(seed))
			b := retry.DelayForAttempt(uint32(attempt), cfg, uint64(seed))
			return a == b
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 1<<30),
	))

	properties.Property("no jitter: delay never exceeds max_delay_ms", prop.ForAll(
		func(attempt int) bool {
			noJitter := cfg
			noJitter.Jitter = false
			d := retry.DelayForAttempt(uint32(attempt), noJitter, 0)
			return d <= noJitter.MaxDelayMs
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
