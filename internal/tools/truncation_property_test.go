package tools_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/forgehq/forge/internal/tools"
)

// TestTruncateCharsProperties verifies the truncation engine never alters
// output under budget, and always preserves the exact trailing runes it
// promises to keep (spec.md §4.8, IP5's non-event-stream half).
func TestTruncateCharsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("strings at or under the limit are returned unchanged", prop.ForAll(
		func(s string, extra int) bool {
			limit := len([]rune(s)) + extra
			if limit <= 0 {
				limit = len([]rune(s)) + 1
			}
			out := tools.TruncateChars(s, limit, tools.ModeTail)
			return out == s
		},
		gen.AlphaString(),
		gen.IntRange(0, 20),
	))

	properties.Property("ModeTail output always ends with the exact kept tail", prop.ForAll(
		func(s string, limit int) bool {
			r := []rune(s)
			if limit <= 0 || limit >= len(r) {
				return true
			}
			out := tools.TruncateChars(s, limit, tools.ModeTail)
			wantTail := string(r[len(r)-limit:])
			return strings.HasSuffix(out, wantTail)
		},
		gen.AlphaString(),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
