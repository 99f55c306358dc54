// Package editing implements the fuzzy string-replace ("edit_file") and
// textual patch ("apply_patch") engines. Grounded bit-exact on
// original_source forge-agent/src/patch/{edit.rs,parser.rs,apply.rs}; see
// spec.md §4.4/§4.5.
package editing

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxFuzzyOldLen rejects old strings longer than this before building a
// fuzzy regex, per spec.md §4.4 step 2.
const MaxFuzzyOldLen = 20000

// maxFuzzyMatches caps how many fuzzy matches are collected before giving up.
const maxFuzzyMatches = 128

// equivalence classes: ASCII quote/dash characters treated as equal to a
// small set of Unicode look-alikes, per spec.md §4.4 step 2.
var equivClasses = map[rune]string{
	'\'': "'’‘ʼ",
	'"':  "\"“”",
	'-':  "-‐‑‒–—−",
}

// Replace performs the precise-then-fuzzy replacement described in
// spec.md §4.4. replaceAll forces replacement of every match instead of
// requiring uniqueness.
func Replace(content, oldStr, newStr string, replaceAll bool) (string, error) {
	if oldStr == "" {
		return "", fmt.Errorf("edit_file: old_string must not be empty")
	}

	exactCount := strings.Count(content, oldStr)
	if exactCount >= 1 {
		if exactCount > 1 && !replaceAll {
			return "", fmt.Errorf("edit_file: old_string is not unique in the file, found %d matches", exactCount)
		}
		if replaceAll {
			return strings.ReplaceAll(content, oldStr, newStr), nil
		}
		return strings.Replace(content, oldStr, newStr, 1), nil
	}

	return fuzzyReplace(content, oldStr, newStr, replaceAll)
}

func fuzzyReplace(content, oldStr, newStr string, replaceAll bool) (string, error) {
	if len([]rune(oldStr)) > MaxFuzzyOldLen {
		return "", fmt.Errorf("edit_file: old_string too long for fuzzy matching (%d runes > %d)", len([]rune(oldStr)), MaxFuzzyOldLen)
	}

	pattern := buildFuzzyPattern(oldStr)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("edit_file: internal fuzzy pattern error: %w", err)
	}

	locs := re.FindAllStringIndex(content, maxFuzzyMatches)
	if len(locs) == 0 {
		return "", fmt.Errorf("edit_file: old_string not found in file (exact or fuzzy)")
	}
	if len(locs) > 1 && !replaceAll {
		return "", fmt.Errorf("edit_file: fuzzy match found %d locations", len(locs))
	}

	// Apply back-to-front so earlier indices stay valid.
	out := content
	for i := len(locs) - 1; i >= 0; i-- {
		start, end := locs[i][0], locs[i][1]
		out = out[:start] + newStr + out[end:]
	}
	return out, nil
}

// buildFuzzyPattern collapses whitespace runs in old to \s+ and escapes
// everything else, substituting equivalence-class character groups for
// quote/dash look-alikes. Compiled with dot-matches-newline ((?s)).
func buildFuzzyPattern(old string) string {
	var b strings.Builder
	b.WriteString("(?s)")
	runes := []rune(old)
	i := 0
	for i < len(runes) {
		r := runes[i]
		if isSpace(r) {
			for i < len(runes) && isSpace(runes[i]) {
				i++
			}
			b.WriteString(`\s+`)
			continue
		}
		if class, ok := classFor(r); ok {
			b.WriteString(class)
			i++
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
		i++
	}
	return b.String()
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func classFor(r rune) (string, bool) {
	switch {
	case r == '\'' || r == '’' || r == '‘' || r == 'ʼ':
		return "[" + regexp.QuoteMeta(equivClasses['\'']) + "]", true
	case r == '"' || r == '“' || r == '”':
		return "[" + regexp.QuoteMeta(equivClasses['"']) + "]", true
	case r == '-' || r == '‐' || r == '‑' || r == '‒' || r == '–' || r == '—' || r == '−':
		return "[" + regexp.QuoteMeta(equivClasses['-']) + "]", true
	}
	return "", false
}
