package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/forgehq/forge/internal/sandbox"
	"github.com/forgehq/forge/internal/tools/editing"
)

// RegisterBuiltins adds the full built-in tool set from spec.md §4.3 to reg:
// read_file, write_file, shell, grep, glob, edit_file, apply_patch, and the
// four subagent management tools.
func RegisterBuiltins(reg *Registry) error {
	builtins := []Tool{
		readFileTool(),
		writeFileTool(),
		shellTool(),
		grepTool(),
		globTool(),
		editFileTool(),
		applyPatchTool(),
		spawnAgentTool(),
		sendInputTool(),
		waitTool(),
		closeAgentTool(),
	}
	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func readFileTool() Tool {
	return Tool{
		Name:        "read_file",
		Description: "Read a file's contents, returning line-numbered text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
				"offset":    map[string]any{"type": "integer"},
				"limit":     map[string]any{"type": "integer"},
			},
			"required": []any{"file_path"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			path, err := stringArg(args, "file_path")
			if err != nil {
				return "", err
			}
			offset := intArgDefault(args, "offset", 1)
			var limitPtr *int
			if v, ok := intArg(args, "limit"); ok {
				limitPtr = &v
			}
			offPtr := &offset
			content, err := env.Exec().ReadFile(ctx, path, offPtr, limitPtr)
			if err != nil {
				return "", err
			}
			return numberLines(content, offset), nil
		},
	}
}

func numberLines(content string, startAt int) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strconv.Itoa(startAt+i) + " | " + l
	}
	return strings.Join(out, "\n")
}

func writeFileTool() Tool {
	return Tool{
		Name:        "write_file",
		Description: "Write full content to a file, creating or overwriting it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
				"content":   map[string]any{"type": "string"},
			},
			"required": []any{"file_path", "content"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			path, err := stringArg(args, "file_path")
			if err != nil {
				return "", err
			}
			content, _ := stringArgOptional(args, "content")
			if err := env.Exec().WriteFile(ctx, path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	}
}

func shellTool() Tool {
	return Tool{
		Name:        "shell",
		Description: "Execute a shell command in the sandboxed environment.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":     map[string]any{"type": "string"},
				"timeout_ms":  map[string]any{"type": "integer"},
				"description": map[string]any{"type": "string"},
			},
			"required": []any{"command"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			command, err := stringArg(args, "command")
			if err != nil {
				return "", err
			}
			// timeout_ms is passed to ExecCommand as given (0 when absent); no
			// configured default or maximum command timeout is applied here.
			timeoutMs := int64(intArgDefault(args, "timeout_ms", 0))
			res, err := env.Exec().ExecCommand(ctx, command, timeoutMs, "", nil)
			if err != nil {
				return "", err
			}
			return formatExecResult(res), nil
		},
	}
}

func formatExecResult(res sandbox.ExecResult) string {
	var b strings.Builder
	if res.TimedOut {
		fmt.Fprintf(&b, "command timed out after %dms\n", res.DurationMs)
	}
	b.WriteString(res.Stdout)
	if res.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString(res.Stderr)
	}
	fmt.Fprintf(&b, "\n[exit code: %d]", res.ExitCode)
	return b.String()
}

func grepTool() Tool {
	return Tool{
		Name:        "grep",
		Description: "Search file contents for a pattern.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern":     map[string]any{"type": "string"},
				"path":        map[string]any{"type": "string"},
				"ignore_case": map[string]any{"type": "boolean"},
				"max_results": map[string]any{"type": "integer"},
				"glob":        map[string]any{"type": "string"},
			},
			"required": []any{"pattern"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			pattern, err := stringArg(args, "pattern")
			if err != nil {
				return "", err
			}
			path, _ := stringArgOptional(args, "path")
			opts := sandbox.GrepOptions{
				IgnoreCase: boolArg(args, "ignore_case"),
				MaxResults: intArgDefault(args, "max_results", 100),
				GlobFilter: stringOr(args, "glob", ""),
			}
			out, err := env.Exec().Grep(ctx, pattern, path, opts)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) == "" {
				return "No matches found", nil
			}
			return out, nil
		},
	}
}

func globTool() Tool {
	return Tool{
		Name:        "glob",
		Description: "Find files matching a glob pattern.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"path":    map[string]any{"type": "string"},
			},
			"required": []any{"pattern"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			pattern, err := stringArg(args, "pattern")
			if err != nil {
				return "", err
			}
			path, _ := stringArgOptional(args, "path")
			matches, err := env.Exec().Glob(ctx, pattern, path)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No files matched", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

func editFileTool() Tool {
	return Tool{
		Name:        "edit_file",
		Description: "Replace an exact or fuzzy-matched string within a file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path":    map[string]any{"type": "string"},
				"old_string":   map[string]any{"type": "string"},
				"new_string":   map[string]any{"type": "string"},
				"replace_all":  map[string]any{"type": "boolean"},
			},
			"required": []any{"file_path", "old_string", "new_string"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			path, err := stringArg(args, "file_path")
			if err != nil {
				return "", err
			}
			oldStr, err := stringArg(args, "old_string")
			if err != nil {
				return "", err
			}
			newStr, _ := stringArgOptional(args, "new_string")
			replaceAll := boolArg(args, "replace_all")

			content, err := env.Exec().ReadFile(ctx, path, nil, nil)
			if err != nil {
				return "", err
			}
			updated, err := editing.Replace(content, oldStr, newStr, replaceAll)
			if err != nil {
				return "", err
			}
			if err := env.Exec().WriteFile(ctx, path, updated); err != nil {
				return "", err
			}
			return fmt.Sprintf("Edited %s", path), nil
		},
	}
}

func applyPatchTool() Tool {
	return Tool{
		Name:        "apply_patch",
		Description: "Apply a multi-file textual patch (Add/Delete/Update File blocks).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"patch": map[string]any{"type": "string"},
			},
			"required": []any{"patch"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			raw, err := stringArg(args, "patch")
			if err != nil {
				return "", err
			}
			p, err := editing.Parse(raw)
			if err != nil {
				return "", err
			}
			summary, err := editing.Apply(p, newEnvFileIO(ctx, env.Exec()))
			if err != nil {
				return "", err
			}
			return strings.Join(summary, "\n"), nil
		},
	}
}

// envFileIO adapts sandbox.ExecutionEnvironment to editing.FileIO.
type envFileIO struct {
	ctx context.Context
	env sandbox.ExecutionEnvironment
}

func newEnvFileIO(ctx context.Context, env sandbox.ExecutionEnvironment) *envFileIO {
	return &envFileIO{ctx: ctx, env: env}
}

func (f *envFileIO) ReadFile(path string) (string, error) {
	return f.env.ReadFile(f.ctx, path, nil, nil)
}
func (f *envFileIO) WriteFile(path, content string) error {
	return f.env.WriteFile(f.ctx, path, content)
}
func (f *envFileIO) DeleteFile(path string) error { return f.env.DeleteFile(f.ctx, path) }
func (f *envFileIO) MoveFile(from, to string) error {
	return f.env.MoveFile(f.ctx, from, to)
}
func (f *envFileIO) FileExists(path string) (bool, error) { return f.env.FileExists(f.ctx, path) }

func spawnAgentTool() Tool {
	return Tool{
		Name:        "spawn_agent",
		Description: "Spawn a subagent session owned by the current session.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"system_prompt": map[string]any{"type": "string"},
				"initial_input": map[string]any{"type": "string"},
			},
			"required": []any{"initial_input"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			sub := env.Subagents()
			if sub == nil {
				return "", fmt.Errorf("spawn_agent: subagent management is unavailable outside a session dispatcher")
			}
			systemPrompt, _ := stringArgOptional(args, "system_prompt")
			initial, err := stringArg(args, "initial_input")
			if err != nil {
				return "", err
			}
			id, err := sub.Spawn(ctx, systemPrompt, initial)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Spawned subagent %s", id), nil
		},
	}
}

func sendInputTool() Tool {
	return Tool{
		Name:        "send_input",
		Description: "Send follow-up input to a running subagent.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subagent_id": map[string]any{"type": "string"},
				"input":       map[string]any{"type": "string"},
			},
			"required": []any{"subagent_id", "input"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			sub := env.Subagents()
			if sub == nil {
				return "", fmt.Errorf("send_input: subagent management is unavailable outside a session dispatcher")
			}
			id, err := stringArg(args, "subagent_id")
			if err != nil {
				return "", err
			}
			input, err := stringArg(args, "input")
			if err != nil {
				return "", err
			}
			if err := sub.SendInput(ctx, id, input); err != nil {
				return "", err
			}
			return "ok", nil
		},
	}
}

func waitTool() Tool {
	return Tool{
		Name:        "wait",
		Description: "Wait for a subagent to finish its current turn and return its result.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subagent_id": map[string]any{"type": "string"},
			},
			"required": []any{"subagent_id"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			sub := env.Subagents()
			if sub == nil {
				return "", fmt.Errorf("wait: subagent management is unavailable outside a session dispatcher")
			}
			id, err := stringArg(args, "subagent_id")
			if err != nil {
				return "", err
			}
			return sub.Wait(ctx, id)
		},
	}
}

func closeAgentTool() Tool {
	return Tool{
		Name:        "close_agent",
		Description: "Close a subagent session and release its resources.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subagent_id": map[string]any{"type": "string"},
			},
			"required": []any{"subagent_id"},
		},
		Execute: func(ctx context.Context, env Env, args map[string]any) (string, error) {
			sub := env.Subagents()
			if sub == nil {
				return "", fmt.Errorf("close_agent: subagent management is unavailable outside a session dispatcher")
			}
			id, err := stringArg(args, "subagent_id")
			if err != nil {
				return "", err
			}
			if err := sub.Close(ctx, id); err != nil {
				return "", err
			}
			return fmt.Sprintf("Closed subagent %s", id), nil
		},
	}
}

// --- argument helpers ---

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func stringArgOptional(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringOr(args map[string]any, key, def string) string {
	if s, ok := stringArgOptional(args, key); ok {
		return s
	}
	return def
}

func intArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func intArgDefault(args map[string]any, key string, def int) int {
	if v, ok := intArg(args, key); ok {
		return v
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
