// Package tools implements the Tool Registry, dispatch contract, truncation
// engine, and built-in tool executors shared by the Agent Engine. See
// spec.md §4.3/§4.8 and SPEC_FULL.md §8. Grounded on
// forge-agent/src/truncation.rs for the exact warning strings and
// head/tail split.
package tools

import (
	"fmt"
	"strings"
)

// Mode selects how a tool's output is truncated when it exceeds budget.
type Mode int

const (
	// ModeHeadTail drops from the middle, keeping a head and a tail.
	ModeHeadTail Mode = iota
	// ModeTail drops from the front, keeping only a tail.
	ModeTail
)

// Limits bounds one tool's output by character and line count. A zero value
// means "no limit" for that dimension.
type Limits struct {
	CharLimit int
	LineLimit int
}

const truncWarnSuffix = "The full output is available in the event stream. If you need to see specific parts, re-run the tool with more targeted parameters.]"

// TruncateChars truncates s to at most limit runes per mode, returning the
// formatted string (warning included) when truncation occurred, or s
// unchanged otherwise. Exposed standalone per spec.md §8 scenario S4.
func TruncateChars(s string, limit int, mode Mode) string {
	out, _, _ := truncateCharsRaw(s, limit, mode)
	return out
}

// truncateCharsRaw returns the formatted (warning-embedded) string, whether
// truncation happened, and the warning line alone (empty if none).
func truncateCharsRaw(s string, limit int, mode Mode) (formatted string, truncated bool, warning string) {
	if limit <= 0 {
		return s, false, ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s, false, ""
	}
	removed := len(r) - limit
	switch mode {
	case ModeTail:
		tail := string(r[len(r)-limit:])
		warning = fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed. %s", removed, truncWarnSuffix)
		return warning + "\n\n" + tail, true, warning
	default: // ModeHeadTail
		headN := limit / 2
		tailN := limit - headN
		head := string(r[:headN])
		tail := string(r[len(r)-tailN:])
		warning = fmt.Sprintf("[WARNING: Tool output was truncated. %d characters were removed from the middle. %s", removed, truncWarnSuffix)
		return head + "\n" + warning + "\n" + tail, true, warning
	}
}

// truncateLines applies a line-count budget to content, embedding a
// "[... N lines omitted ...]" marker between the kept head and tail lines
// (ModeHeadTail) or before the kept tail lines (ModeTail).
func truncateLines(content string, limit int, mode Mode) (string, bool) {
	if limit <= 0 {
		return content, false
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= limit {
		return content, false
	}
	removed := len(lines) - limit
	marker := fmt.Sprintf("[... %d lines omitted ...]", removed)
	var kept []string
	switch mode {
	case ModeTail:
		kept = append([]string{marker}, lines[len(lines)-limit:]...)
	default: // ModeHeadTail
		headN := limit / 2
		tailN := limit - headN
		kept = make([]string, 0, limit+1)
		kept = append(kept, lines[:headN]...)
		kept = append(kept, marker)
		kept = append(kept, lines[len(lines)-tailN:]...)
	}
	return strings.Join(kept, "\n"), true
}

// Truncate applies char truncation then line truncation per spec.md §4.8.
// If line truncation additionally fires after a char-truncation warning was
// produced, that warning is re-inserted at the top so observers see both.
func Truncate(output string, limits Limits, mode Mode) string {
	charResult, charTruncated, charWarning := truncateCharsRaw(output, limits.CharLimit, mode)

	lineResult, lineTruncated := truncateLines(charResult, limits.LineLimit, mode)
	if !lineTruncated {
		return charResult
	}
	if charTruncated {
		return charWarning + "\n\n" + lineResult
	}
	return lineResult
}

// ModeForTool returns the truncation Mode a built-in tool uses per
// spec.md §4.8: grep/glob/edit_file/apply_patch/write_file use Tail; all
// others (read_file, shell, subagent tools) use HeadTail.
func ModeForTool(toolName string) Mode {
	switch toolName {
	case "grep", "glob", "edit_file", "apply_patch", "write_file":
		return ModeTail
	default:
		return ModeHeadTail
	}
}
