package tools_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/tools"
)

func TestTruncateCharsUnderLimitReturnsUnchanged(t *testing.T) {
	out := tools.TruncateChars("short", 100, tools.ModeHeadTail)
	assert.Equal(t, "short", out)
}

func TestTruncateCharsHeadTailEmbedsWarningAndRemovedCount(t *testing.T) {
	s := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	out := tools.TruncateChars(s, 20, tools.ModeHeadTail)

	assert.Contains(t, out, "[WARNING: Tool output was truncated. 80 characters were removed from the middle.")
	assert.Contains(t, out, "The full output is available in the event stream.")
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("b", 10)))
}

func TestTruncateCharsTailKeepsOnlyEnd(t *testing.T) {
	s := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	out := tools.TruncateChars(s, 20, tools.ModeTail)

	assert.Contains(t, out, "[WARNING: Tool output was truncated. First 80 characters were removed.")
	assert.True(t, strings.HasSuffix(out, strings.Repeat("b", 20)))
}

func TestTruncateCharsZeroLimitIsNoLimit(t *testing.T) {
	s := strings.Repeat("x", 1000)
	assert.Equal(t, s, tools.TruncateChars(s, 0, tools.ModeHeadTail))
}

func TestTruncateLinesOmitsMiddleMarker(t *testing.T) {
	lines := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		lines = append(lines, strings.Repeat("x", 2))
	}
	content := strings.Join(lines, "\n")

	out := tools.Truncate(content, tools.Limits{LineLimit: 4}, tools.ModeHeadTail)
	assert.Contains(t, out, "[... 16 lines omitted ...]")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestTruncateAppliesCharThenLineAndKeepsBothWarnings(t *testing.T) {
	lines := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		lines = append(lines, strings.Repeat("z", 20))
	}
	content := strings.Join(lines, "\n")

	out := tools.Truncate(content, tools.Limits{CharLimit: 100, LineLimit: 5}, tools.ModeHeadTail)
	assert.Contains(t, out, "characters were removed from the middle")
	assert.Contains(t, out, "lines omitted")
}

func TestModeForToolMapping(t *testing.T) {
	tailTools := []string{"grep", "glob", "edit_file", "apply_patch", "write_file"}
	for _, name := range tailTools {
		assert.Equalf(t, tools.ModeTail, tools.ModeForTool(name), "tool %s", name)
	}
	headTailTools := []string{"read_file", "shell", "subagent", "unknown_tool"}
	for _, name := range headTailTools {
		assert.Equalf(t, tools.ModeHeadTail, tools.ModeForTool(name), "tool %s", name)
	}
}

func TestTruncateLinesUnderLimitUnchanged(t *testing.T) {
	content := "a\nb\nc"
	out := tools.Truncate(content, tools.Limits{LineLimit: 10}, tools.ModeHeadTail)
	require.Equal(t, content, out)
}
