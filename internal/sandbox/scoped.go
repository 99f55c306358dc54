package sandbox

import (
	"context"
	"path/filepath"
)

// Scoped wraps an ExecutionEnvironment and rewrites every relative path so
// it resolves against Base before delegating to Inner. Used when a subagent
// or pipeline stage must be confined to a subdirectory of a shared
// environment without spinning up a second OS-backed Local. Per spec.md
// §4.2: "any relative path is resolved against it before delegation".
type Scoped struct {
	Inner ExecutionEnvironment
	Base  string
}

var _ ExecutionEnvironment = (*Scoped)(nil)

// NewScoped builds a Scoped environment delegating to inner with base as its
// fixed working directory.
func NewScoped(inner ExecutionEnvironment, base string) *Scoped {
	return &Scoped{Inner: inner, Base: base}
}

func (s *Scoped) rewrite(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.Base, path)
}

func (s *Scoped) Initialize(ctx context.Context) error { return s.Inner.Initialize(ctx) }
func (s *Scoped) Cleanup(ctx context.Context) error     { return s.Inner.Cleanup(ctx) }
func (s *Scoped) TerminateAllCommands()                 { s.Inner.TerminateAllCommands() }

func (s *Scoped) ReadFile(ctx context.Context, path string, offset, limit *int) (string, error) {
	return s.Inner.ReadFile(ctx, s.rewrite(path), offset, limit)
}

func (s *Scoped) WriteFile(ctx context.Context, path, content string) error {
	return s.Inner.WriteFile(ctx, s.rewrite(path), content)
}

func (s *Scoped) DeleteFile(ctx context.Context, path string) error {
	return s.Inner.DeleteFile(ctx, s.rewrite(path))
}

func (s *Scoped) MoveFile(ctx context.Context, from, to string) error {
	return s.Inner.MoveFile(ctx, s.rewrite(from), s.rewrite(to))
}

func (s *Scoped) FileExists(ctx context.Context, path string) (bool, error) {
	return s.Inner.FileExists(ctx, s.rewrite(path))
}

func (s *Scoped) ListDirectory(ctx context.Context, path string, depth int) ([]DirEntry, error) {
	return s.Inner.ListDirectory(ctx, s.rewrite(path), depth)
}

// ExecCommand uses the scope base as cwd when the caller supplies none,
// per spec.md §4.2.
func (s *Scoped) ExecCommand(ctx context.Context, command string, timeoutMs int64, cwd string, env map[string]string) (ExecResult, error) {
	effectiveCwd := cwd
	if effectiveCwd == "" {
		effectiveCwd = s.Base
	} else {
		effectiveCwd = s.rewrite(cwd)
	}
	return s.Inner.ExecCommand(ctx, command, timeoutMs, effectiveCwd, env)
}

func (s *Scoped) Grep(ctx context.Context, pattern, path string, opts GrepOptions) (string, error) {
	return s.Inner.Grep(ctx, pattern, s.rewrite(path), opts)
}

func (s *Scoped) Glob(ctx context.Context, pattern, path string) ([]string, error) {
	return s.Inner.Glob(ctx, pattern, s.rewrite(path))
}
