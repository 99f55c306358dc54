package editing

import (
	"fmt"
	"strings"
)

// OpKind distinguishes the three patch operation kinds.
type OpKind int

const (
	OpAdd OpKind = iota
	OpDelete
	OpUpdate
)

// HunkLine is one line of an Update hunk: a context (' '), removed ('-'), or
// added ('+') line.
type HunkLine struct {
	Kind byte // ' ', '-', '+'
	Text string
}

// Hunk is one "@@ ..." block within an Update operation.
type Hunk struct {
	Header string
	Lines  []HunkLine
}

// Operation is one Add/Delete/Update block within a Patch.
type Operation struct {
	Kind     OpKind
	Path     string
	MoveTo   string   // Update only, optional
	AddLines []string // Add only
	Hunks    []Hunk   // Update only
}

// Patch is a fully parsed "*** Begin Patch" ... "*** End Patch" document.
type Patch struct {
	Operations []Operation
}

const (
	markerBegin  = "*** Begin Patch"
	markerEnd    = "*** End Patch"
	prefixAdd    = "*** Add File: "
	prefixDelete = "*** Delete File: "
	prefixUpdate = "*** Update File: "
	prefixMove   = "*** Move to: "
	markerEOF    = "*** End of File"
	hunkPrefix   = "@@"
)

// Parse parses the custom textual patch format described in spec.md §4.5.
// Parsing is strict: the document must begin and end with the sentinel
// markers, Update operations require at least one non-empty hunk, and
// every hunk line must carry one of the ' '|'-'|'+' prefixes or be the
// literal "*** End of File" terminator.
func Parse(text string) (Patch, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	lines = trimBlankEdges(lines)
	if len(lines) < 2 {
		return Patch{}, fmt.Errorf("apply_patch: empty patch")
	}
	if strings.TrimSpace(lines[0]) != markerBegin {
		return Patch{}, fmt.Errorf("apply_patch: patch must begin with %q", markerBegin)
	}
	if strings.TrimSpace(lines[len(lines)-1]) != markerEnd {
		return Patch{}, fmt.Errorf("apply_patch: patch must end with %q", markerEnd)
	}
	body := lines[1 : len(lines)-1]

	var ops []Operation
	i := 0
	for i < len(body) {
		line := body[i]
		switch {
		case strings.HasPrefix(line, prefixAdd):
			op, next, err := parseAdd(body, i)
			if err != nil {
				return Patch{}, err
			}
			ops = append(ops, op)
			i = next
		case strings.HasPrefix(line, prefixDelete):
			path := strings.TrimPrefix(line, prefixDelete)
			ops = append(ops, Operation{Kind: OpDelete, Path: path})
			i++
		case strings.HasPrefix(line, prefixUpdate):
			op, next, err := parseUpdate(body, i)
			if err != nil {
				return Patch{}, err
			}
			ops = append(ops, op)
			i = next
		case strings.TrimSpace(line) == "":
			i++
		default:
			return Patch{}, fmt.Errorf("apply_patch: unexpected line %q", line)
		}
	}
	if len(ops) == 0 {
		return Patch{}, fmt.Errorf("apply_patch: patch contains no operations")
	}
	return Patch{Operations: ops}, nil
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}

func parseAdd(body []string, i int) (Operation, int, error) {
	path := strings.TrimPrefix(body[i], prefixAdd)
	op := Operation{Kind: OpAdd, Path: path}
	i++
	for i < len(body) && !isOperationStart(body[i]) {
		line := body[i]
		if line == "" {
			i++
			continue
		}
		if !strings.HasPrefix(line, "+") {
			return Operation{}, 0, fmt.Errorf("apply_patch: Add File %q: line %q missing '+' prefix", path, line)
		}
		op.AddLines = append(op.AddLines, strings.TrimPrefix(line, "+"))
		i++
	}
	return op, i, nil
}

func parseUpdate(body []string, i int) (Operation, int, error) {
	path := strings.TrimPrefix(body[i], prefixUpdate)
	op := Operation{Kind: OpUpdate, Path: path}
	i++
	if i < len(body) && strings.HasPrefix(body[i], prefixMove) {
		op.MoveTo = strings.TrimPrefix(body[i], prefixMove)
		i++
	}
	for i < len(body) && !isOperationStart(body[i]) {
		if strings.TrimSpace(body[i]) == "" {
			i++
			continue
		}
		if !strings.HasPrefix(body[i], hunkPrefix) {
			return Operation{}, 0, fmt.Errorf("apply_patch: Update File %q: expected hunk header, got %q", path, body[i])
		}
		header := strings.TrimSpace(strings.TrimPrefix(body[i], hunkPrefix))
		i++
		var hunkLines []HunkLine
		for i < len(body) {
			line := body[i]
			if line == markerEOF {
				i++
				break
			}
			if isOperationStart(line) || strings.HasPrefix(line, hunkPrefix) {
				break
			}
			if line == "" {
				hunkLines = append(hunkLines, HunkLine{Kind: ' ', Text: ""})
				i++
				continue
			}
			switch line[0] {
			case ' ', '-', '+':
				hunkLines = append(hunkLines, HunkLine{Kind: line[0], Text: line[1:]})
			default:
				return Operation{}, 0, fmt.Errorf("apply_patch: Update File %q: invalid hunk line %q", path, line)
			}
			i++
		}
		if len(hunkLines) == 0 {
			return Operation{}, 0, fmt.Errorf("apply_patch: Update File %q: empty hunk", path)
		}
		op.Hunks = append(op.Hunks, Hunk{Header: header, Lines: hunkLines})
	}
	if len(op.Hunks) == 0 {
		return Operation{}, 0, fmt.Errorf("apply_patch: Update File %q: at least one hunk is required", path)
	}
	return op, i, nil
}

func isOperationStart(line string) bool {
	return strings.HasPrefix(line, prefixAdd) || strings.HasPrefix(line, prefixDelete) || strings.HasPrefix(line, prefixUpdate)
}

// Serialize renders p back into the textual patch format Parse accepts.
// Parse(Serialize(p)) is structurally equal to p (IP9).
func Serialize(p Patch) string {
	var b strings.Builder
	b.WriteString(markerBegin + "\n")
	for _, op := range p.Operations {
		switch op.Kind {
		case OpAdd:
			b.WriteString(prefixAdd + op.Path + "\n")
			for _, line := range op.AddLines {
				b.WriteString("+" + line + "\n")
			}
		case OpDelete:
			b.WriteString(prefixDelete + op.Path + "\n")
		case OpUpdate:
			b.WriteString(prefixUpdate + op.Path + "\n")
			if op.MoveTo != "" {
				b.WriteString(prefixMove + op.MoveTo + "\n")
			}
			for _, h := range op.Hunks {
				b.WriteString(hunkPrefix)
				if h.Header != "" {
					b.WriteString(" " + h.Header)
				}
				b.WriteString("\n")
				for _, l := range h.Lines {
					b.WriteString(string(l.Kind) + l.Text + "\n")
				}
			}
		}
	}
	b.WriteString(markerEnd + "\n")
	return b.String()
}

// FileIO is the minimal filesystem surface Apply needs; built-in
// apply_patch wires this to sandbox.ExecutionEnvironment.
type FileIO interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	DeleteFile(path string) error
	MoveFile(from, to string) error
	FileExists(path string) (bool, error)
}

// Apply applies every operation in p via fio, returning one summary line
// per operation ("A path", "D path", "M path", "R from -> to") in order.
func Apply(p Patch, fio FileIO) ([]string, error) {
	var summary []string
	for _, op := range p.Operations {
		line, err := applyOne(op, fio)
		if err != nil {
			return nil, err
		}
		summary = append(summary, line)
	}
	return summary, nil
}

func applyOne(op Operation, fio FileIO) (string, error) {
	switch op.Kind {
	case OpAdd:
		exists, err := fio.FileExists(op.Path)
		if err != nil {
			return "", err
		}
		if exists {
			return "", fmt.Errorf("apply_patch: Add File %q: already exists", op.Path)
		}
		content := strings.Join(op.AddLines, "\n")
		if len(op.AddLines) > 0 {
			content += "\n"
		}
		if err := fio.WriteFile(op.Path, content); err != nil {
			return "", err
		}
		return "A " + op.Path, nil

	case OpDelete:
		exists, err := fio.FileExists(op.Path)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", fmt.Errorf("apply_patch: Delete File %q: does not exist", op.Path)
		}
		if err := fio.DeleteFile(op.Path); err != nil {
			return "", err
		}
		return "D " + op.Path, nil

	case OpUpdate:
		original, err := fio.ReadFile(op.Path)
		if err != nil {
			return "", fmt.Errorf("apply_patch: Update File %q: %w", op.Path, err)
		}
		updated, err := applyHunks(original, op.Hunks)
		if err != nil {
			return "", fmt.Errorf("apply_patch: Update File %q: %w", op.Path, err)
		}
		if err := fio.WriteFile(op.Path, updated); err != nil {
			return "", err
		}
		if op.MoveTo != "" {
			targetExists, err := fio.FileExists(op.MoveTo)
			if err != nil {
				return "", err
			}
			if targetExists {
				return "", fmt.Errorf("apply_patch: Move to %q: already exists", op.MoveTo)
			}
			if err := fio.MoveFile(op.Path, op.MoveTo); err != nil {
				return "", err
			}
			return fmt.Sprintf("R %s -> %s", op.Path, op.MoveTo), nil
		}
		return "M " + op.Path, nil
	}
	return "", fmt.Errorf("apply_patch: unknown operation kind")
}

// applyHunks runs every hunk against content in order, preserving the
// file's trailing-newline state.
func applyHunks(content string, hunks []Hunk) (string, error) {
	trailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}

	searchFrom := 0
	for _, h := range hunks {
		oldLines, newLines := hunkLineSets(h)
		pos, err := locate(lines, oldLines, searchFrom)
		if err != nil {
			return "", err
		}
		lines = append(lines[:pos:pos], append(append([]string{}, newLines...), lines[pos+len(oldLines):]...)...)
		searchFrom = pos + len(newLines)
	}

	out := strings.Join(lines, "\n")
	if trailingNewline || out == "" {
		out += "\n"
	}
	return out, nil
}

func hunkLineSets(h Hunk) (oldLines, newLines []string) {
	for _, l := range h.Lines {
		switch l.Kind {
		case ' ':
			oldLines = append(oldLines, l.Text)
			newLines = append(newLines, l.Text)
		case '-':
			oldLines = append(oldLines, l.Text)
		case '+':
			newLines = append(newLines, l.Text)
		}
	}
	return oldLines, newLines
}

// locate finds where oldLines occurs in lines: exact subsequence match
// starting at searchFrom, else exact match from index 0, else a unique
// fuzzy (whitespace-normalized) match. Empty oldLines means pure insertion
// at searchFrom.
func locate(lines, oldLines []string, searchFrom int) (int, error) {
	if len(oldLines) == 0 {
		if searchFrom > len(lines) {
			return len(lines), nil
		}
		return searchFrom, nil
	}
	if pos, ok := findSubsequence(lines, oldLines, searchFrom); ok {
		return pos, nil
	}
	if pos, ok := findSubsequence(lines, oldLines, 0); ok {
		return pos, nil
	}
	positions := findFuzzySubsequence(lines, oldLines)
	if len(positions) == 0 {
		return 0, fmt.Errorf("hunk context not found")
	}
	if len(positions) > 1 {
		return 0, fmt.Errorf("hunk context is ambiguous, found %d locations", len(positions))
	}
	return positions[0], nil
}

func findSubsequence(lines, want []string, from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	for start := from; start+len(want) <= len(lines); start++ {
		if matches(lines[start:start+len(want)], want, false) {
			return start, true
		}
	}
	return -1, false
}

func findFuzzySubsequence(lines, want []string) []int {
	var positions []int
	for start := 0; start+len(want) <= len(lines); start++ {
		if matches(lines[start:start+len(want)], want, true) {
			positions = append(positions, start)
		}
	}
	return positions
}

func matches(got, want []string, fuzzy bool) bool {
	for i := range want {
		g, w := got[i], want[i]
		if fuzzy {
			g, w = normalizeWhitespace(g), normalizeWhitespace(w)
		}
		if g != w {
			return false
		}
	}
	return true
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
