package retry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/pipeline/retry"
)

func nodeWithMaxRetries(v int64, set bool) graph.Node {
	attrs := graph.NewAttrSet()
	if set {
		attrs.Set("max_retries", graph.AttrValue{Kind: graph.AttrInteger, Int: v})
	}
	return graph.Node{ID: "n", Attrs: attrs}
}

func TestBuildPolicyUsesNodeMaxRetries(t *testing.T) {
	g := graph.Graph{Attrs: graph.NewAttrSet()}
	p := retry.BuildPolicy(nodeWithMaxRetries(3, true), g, retry.DefaultBackoffConfig())
	assert.Equal(t, uint32(4), p.MaxAttempts)
}

func TestBuildPolicyFallsBackToGraphDefault(t *testing.T) {
	g := graph.Graph{Attrs: graph.NewAttrSet()}
	g.Attrs.Set("default_max_retry", graph.AttrValue{Kind: graph.AttrInteger, Int: 2})
	p := retry.BuildPolicy(nodeWithMaxRetries(0, false), g, retry.DefaultBackoffConfig())
	assert.Equal(t, uint32(3), p.MaxAttempts)
}

func TestBuildPolicyDefaultsToOneAttempt(t *testing.T) {
	g := graph.Graph{Attrs: graph.NewAttrSet()}
	p := retry.BuildPolicy(nodeWithMaxRetries(0, false), g, retry.DefaultBackoffConfig())
	assert.Equal(t, uint32(1), p.MaxAttempts)
}

func TestBuildPolicyExplicitNegativeMaxRetriesOverridesGraphDefault(t *testing.T) {
	g := graph.Graph{Attrs: graph.NewAttrSet()}
	g.Attrs.Set("default_max_retry", graph.AttrValue{Kind: graph.AttrInteger, Int: 5})
	p := retry.BuildPolicy(nodeWithMaxRetries(-1, true), g, retry.DefaultBackoffConfig())
	assert.Equal(t, uint32(1), p.MaxAttempts, "an explicit negative max_retries is honored as zero retries, not the graph default")
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, retry.ShouldRetry(pstate.Outcome{Status: pstate.Retry}))
	assert.True(t, retry.ShouldRetry(pstate.Outcome{Status: pstate.Fail}))
	assert.False(t, retry.ShouldRetry(pstate.Outcome{Status: pstate.Success}))
	assert.False(t, retry.ShouldRetry(pstate.Outcome{Status: pstate.PartialSuccess}))
}

func TestFinalizeExhaustedAllowPartial(t *testing.T) {
	attrs := graph.NewAttrSet()
	attrs.Set("allow_partial", graph.AttrValue{Kind: graph.AttrBoolean, Bool: true})
	outcome := retry.FinalizeExhausted(graph.Node{ID: "n", Attrs: attrs})
	assert.Equal(t, pstate.PartialSuccess, outcome.Status)
}

func TestFinalizeExhaustedDefaultsToFail(t *testing.T) {
	outcome := retry.FinalizeExhausted(graph.Node{ID: "n", Attrs: graph.NewAttrSet()})
	assert.Equal(t, pstate.Fail, outcome.Status)
}

func TestDelayForAttemptExponentialWithoutJitter(t *testing.T) {
	cfg := retry.BackoffConfig{InitialDelayMs: 200, BackoffFactor: 2.0, MaxDelayMs: 60_000, Jitter: false}
	assert.Equal(t, uint64(200), retry.DelayForAttempt(1, cfg, 0))
	assert.Equal(t, uint64(400), retry.DelayForAttempt(2, cfg, 0))
	assert.Equal(t, uint64(800), retry.DelayForAttempt(3, cfg, 0))
}

func TestDelayForAttemptCapsAtMaxDelay(t *testing.T) {
	cfg := retry.BackoffConfig{InitialDelayMs: 200, BackoffFactor: 2.0, MaxDelayMs: 500, Jitter: false}
	assert.Equal(t, uint64(500), retry.DelayForAttempt(10, cfg, 0))
}

func TestDelayForAttemptJitterIsDeterministicAndBounded(t *testing.T) {
	cfg := retry.DefaultBackoffConfig()
	base := float64(cfg.InitialDelayMs)

	d1 := retry.DelayForAttempt(1, cfg, 42)
	d2 := retry.DelayForAttempt(1, cfg, 42)
	assert.Equal(t, d1, d2, "same attempt/seed must yield the same delay")

	assert.GreaterOrEqual(t, float64(d1), base*0.5)
	assert.Less(t, float64(d1), base*1.5)
}

func TestDelayForAttemptJitterVariesBySeed(t *testing.T) {
	cfg := retry.DefaultBackoffConfig()
	d1 := retry.DelayForAttempt(1, cfg, 1)
	d2 := retry.DelayForAttempt(1, cfg, 2)
	assert.NotEqual(t, d1, d2)
}
