// Package sandbox implements the Execution Environment: the filesystem and
// process surface every built-in tool delegates to. See spec.md §4.2 and
// §5's cancellation/timeout rules. Grounded on the process-management idiom
// in features/mcp/runtime/stdiocaller.go (CommandContext, pipe teardown,
// best-effort kill) and original_source forge-runtime/src/env/local.rs.
package sandbox

import "context"

// DirEntry is one child of a listed directory.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  *int64 // nil for directories
}

// ExecResult is the outcome of exec_command.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	TimedOut   bool
	DurationMs int64
}

// GrepOptions configures grep.
type GrepOptions struct {
	IgnoreCase bool
	MaxResults int // 0 means caller-default; the registry layer applies 100
	GlobFilter string
}

// ExecutionEnvironment is the filesystem/process contract every built-in
// tool executor calls through. A concrete implementation owns the notion of
// "current working directory" used to resolve relative paths.
type ExecutionEnvironment interface {
	ReadFile(ctx context.Context, path string, offset, limit *int) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	DeleteFile(ctx context.Context, path string) error
	MoveFile(ctx context.Context, from, to string) error
	FileExists(ctx context.Context, path string) (bool, error)
	ListDirectory(ctx context.Context, path string, depth int) ([]DirEntry, error)
	ExecCommand(ctx context.Context, command string, timeoutMs int64, cwd string, env map[string]string) (ExecResult, error)
	Grep(ctx context.Context, pattern, path string, opts GrepOptions) (string, error)
	Glob(ctx context.Context, pattern, path string) ([]string, error)

	// Initialize prepares the environment for use (e.g. creating a workdir).
	Initialize(ctx context.Context) error
	// Cleanup releases any resources Initialize acquired.
	Cleanup(ctx context.Context) error
	// TerminateAllCommands kills every in-flight exec_command invocation,
	// best-effort. Called from close() per spec.md §5.
	TerminateAllCommands()
}
