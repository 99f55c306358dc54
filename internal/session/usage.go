package session

import (
	"strings"
)

// EstimateTokens approximates a token count from text. spec.md §9 leaves
// the exact estimator to the implementer as long as it is ≥4 chars/token;
// this uses the simplest such estimator, rune-counted so multi-byte text
// isn't over-counted (SPEC_FULL.md §13 Open Question decision).
func EstimateTokens(text string) int {
	return len([]rune(text)) / 4
}

// approxContextTokens sums EstimateTokens over every piece of text in the
// Session's history: user/system/steering text, assistant text and
// reasoning, and tool result content.
func (s *Session) approxContextTokens() int {
	var b strings.Builder
	for _, t := range s.history {
		switch t.Kind {
		case TurnUser, TurnSystem, TurnSteering:
			b.WriteString(t.Text)
		case TurnAssistant:
			b.WriteString(t.AssistantText)
			b.WriteString(t.Reasoning)
		case TurnToolResults:
			for _, r := range t.Results {
				b.WriteString(r.Content)
			}
		}
	}
	return EstimateTokens(b.String())
}

// ContextCapability is the subset of a provider's capability surface the
// Agent Engine needs to decide whether to emit a ContextUsageWarning.
type ContextCapability interface {
	ContextWindowSize() int
}

// maybeEmitContextUsageWarning emits EventContextUsageWarning when the
// approximate token load exceeds 80% of the provider's advertised context
// window (spec.md §4.10). No-op if cap is nil or reports a non-positive
// window size.
func (s *Session) maybeEmitContextUsageWarning(cap ContextCapability) {
	if cap == nil {
		return
	}
	window := cap.ContextWindowSize()
	if window <= 0 {
		return
	}
	approx := s.approxContextTokens()
	usagePct := float64(approx) / float64(window)
	if usagePct > 0.8 {
		s.emit(EventContextUsageWarning, map[string]any{
			"approx_tokens":  approx,
			"window_size":    window,
			"usage_percent":  usagePct,
		})
	}
}
