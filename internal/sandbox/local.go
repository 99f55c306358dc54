package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gobwas/glob"
)

// Local is an OS-backed ExecutionEnvironment rooted at a working directory.
// All relative paths are resolved against WorkDir.
type Local struct {
	WorkDir string

	mu      sync.Mutex
	running map[*exec.Cmd]struct{}
}

var _ ExecutionEnvironment = (*Local)(nil)

// NewLocal builds a Local environment rooted at workDir.
func NewLocal(workDir string) *Local {
	return &Local{WorkDir: workDir, running: make(map[*exec.Cmd]struct{})}
}

func (l *Local) resolve(path string) string {
	if path == "" {
		return l.WorkDir
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.WorkDir, path)
}

func (l *Local) Initialize(ctx context.Context) error {
	return os.MkdirAll(l.WorkDir, 0o755)
}

func (l *Local) Cleanup(ctx context.Context) error {
	l.TerminateAllCommands()
	return nil
}

func (l *Local) ReadFile(ctx context.Context, path string, offset, limit *int) (string, error) {
	f, err := os.Open(l.resolve(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	start := 1
	if offset != nil && *offset > 0 {
		start = *offset
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < start {
			continue
		}
		if limit != nil && len(lines) >= *limit {
			break
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func (l *Local) WriteFile(ctx context.Context, path, content string) error {
	full := l.resolve(path)
	if dir := filepath.Dir(full); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

func (l *Local) DeleteFile(ctx context.Context, path string) error {
	return os.Remove(l.resolve(path))
}

func (l *Local) MoveFile(ctx context.Context, from, to string) error {
	dst := l.resolve(to)
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.Rename(l.resolve(from), dst)
}

func (l *Local) FileExists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(l.resolve(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *Local) ListDirectory(ctx context.Context, path string, depth int) ([]DirEntry, error) {
	root := l.resolve(path)
	var entries []DirEntry
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		level := strings.Count(rel, string(filepath.Separator)) + 1
		if depth > 0 && level > depth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entry := DirEntry{Name: rel, IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, statErr := d.Info(); statErr == nil {
				size := info.Size()
				entry.Size = &size
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (l *Local) ExecCommand(ctx context.Context, command string, timeoutMs int64, cwd string, env map[string]string) (ExecResult, error) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = l.WorkDir
	if cwd != "" {
		cmd.Dir = l.resolve(cwd)
	}
	if len(env) > 0 {
		merged := os.Environ()
		for k, v := range env {
			merged = append(merged, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = merged
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.track(cmd)
	defer l.untrack(cmd)

	err := cmd.Run()
	result := ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if runCtx.Err() != nil {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func (l *Local) track(cmd *exec.Cmd) {
	l.mu.Lock()
	l.running[cmd] = struct{}{}
	l.mu.Unlock()
}

func (l *Local) untrack(cmd *exec.Cmd) {
	l.mu.Lock()
	delete(l.running, cmd)
	l.mu.Unlock()
}

// TerminateAllCommands kills the process group of every tracked in-flight
// command, best-effort.
func (l *Local) TerminateAllCommands() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for cmd := range l.running {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}
}

func (l *Local) Grep(ctx context.Context, pattern, path string, opts GrepOptions) (string, error) {
	re, err := compileGrepPattern(pattern, opts.IgnoreCase)
	if err != nil {
		return "", err
	}
	var filter glob.Glob
	if opts.GlobFilter != "" {
		filter, err = glob.Compile(opts.GlobFilter)
		if err != nil {
			return "", err
		}
	}

	root := l.resolve(path)
	maxResults := opts.MaxResults
	var matches []string

	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filter != nil {
			rel, relErr := filepath.Rel(root, p)
			if relErr == nil && !filter.Match(rel) {
				return nil
			}
		}
		if maxResults > 0 && len(matches) >= maxResults {
			return filepath.SkipAll
		}
		f, openErr := os.Open(p)
		if openErr != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if re.MatchString(scanner.Text()) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", p, lineNo, scanner.Text()))
				if maxResults > 0 && len(matches) >= maxResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return "", err
	}
	return strings.Join(matches, "\n"), nil
}

func compileGrepPattern(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

func (l *Local) Glob(ctx context.Context, pattern, path string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	root := l.resolve(path)
	var matches []string
	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if g.Match(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
