package editing_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/tools/editing"
)

type fakeFS struct {
	files map[string]string
}

func newFakeFS(files map[string]string) *fakeFS {
	return &fakeFS{files: files}
}

func (f *fakeFS) ReadFile(path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("not found: %s", path)
	}
	return content, nil
}

func (f *fakeFS) WriteFile(path, content string) error {
	f.files[path] = content
	return nil
}

func (f *fakeFS) DeleteFile(path string) error {
	delete(f.files, path)
	return nil
}

func (f *fakeFS) MoveFile(from, to string) error {
	f.files[to] = f.files[from]
	delete(f.files, from)
	return nil
}

func (f *fakeFS) FileExists(path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func TestParseAddOperation(t *testing.T) {
	text := "*** Begin Patch\n" +
		"*** Add File: new.txt\n" +
		"+line one\n" +
		"+line two\n" +
		"*** End Patch\n"

	p, err := editing.Parse(text)
	require.NoError(t, err)
	require.Len(t, p.Operations, 1)
	op := p.Operations[0]
	assert.Equal(t, editing.OpAdd, op.Kind)
	assert.Equal(t, "new.txt", op.Path)
	assert.Equal(t, []string{"line one", "line two"}, op.AddLines)
}

func TestParseRejectsMissingMarkers(t *testing.T) {
	_, err := editing.Parse("*** Add File: a.txt\n+x\n")
	assert.Error(t, err)
}

func TestParseUpdateRequiresAtLeastOneHunk(t *testing.T) {
	text := "*** Begin Patch\n*** Update File: a.txt\n*** End Patch\n"
	_, err := editing.Parse(text)
	assert.Error(t, err)
}

func TestApplyAddCreatesFile(t *testing.T) {
	text := "*** Begin Patch\n" +
		"*** Add File: new.txt\n" +
		"+hello\n" +
		"*** End Patch\n"
	p, err := editing.Parse(text)
	require.NoError(t, err)

	fs := newFakeFS(map[string]string{})
	summary, err := editing.Apply(p, fs)
	require.NoError(t, err)
	assert.Equal(t, []string{"A new.txt"}, summary)
	assert.Equal(t, "hello\n", fs.files["new.txt"])
}

func TestApplyAddFailsIfFileExists(t *testing.T) {
	text := "*** Begin Patch\n*** Add File: a.txt\n+x\n*** End Patch\n"
	p, err := editing.Parse(text)
	require.NoError(t, err)

	fs := newFakeFS(map[string]string{"a.txt": "already here"})
	_, err = editing.Apply(p, fs)
	assert.Error(t, err)
}

func TestApplyDeleteRemovesFile(t *testing.T) {
	text := "*** Begin Patch\n*** Delete File: a.txt\n*** End Patch\n"
	p, err := editing.Parse(text)
	require.NoError(t, err)

	fs := newFakeFS(map[string]string{"a.txt": "content"})
	summary, err := editing.Apply(p, fs)
	require.NoError(t, err)
	assert.Equal(t, []string{"D a.txt"}, summary)
	_, ok := fs.files["a.txt"]
	assert.False(t, ok)
}

func TestApplyUpdateReplacesHunkContext(t *testing.T) {
	text := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"@@\n" +
		" line1\n" +
		"-line2\n" +
		"+line2-changed\n" +
		" line3\n" +
		"*** End Patch\n"
	p, err := editing.Parse(text)
	require.NoError(t, err)

	fs := newFakeFS(map[string]string{"a.txt": "line1\nline2\nline3\n"})
	summary, err := editing.Apply(p, fs)
	require.NoError(t, err)
	assert.Equal(t, []string{"M a.txt"}, summary)
	assert.Equal(t, "line1\nline2-changed\nline3\n", fs.files["a.txt"])
}

func TestApplyUpdateWithMoveTo(t *testing.T) {
	text := "*** Begin Patch\n" +
		"*** Update File: old.txt\n" +
		"*** Move to: new.txt\n" +
		"@@\n" +
		"-old content\n" +
		"+new content\n" +
		"*** End Patch\n"
	p, err := editing.Parse(text)
	require.NoError(t, err)

	fs := newFakeFS(map[string]string{"old.txt": "old content\n"})
	summary, err := editing.Apply(p, fs)
	require.NoError(t, err)
	assert.Equal(t, []string{"R old.txt -> new.txt"}, summary)
	assert.Equal(t, "new content\n", fs.files["new.txt"])
	_, ok := fs.files["old.txt"]
	assert.False(t, ok)
}

func TestApplyUpdateDuplicateContextMatchesFirstOccurrence(t *testing.T) {
	text := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"@@\n" +
		"-dup\n" +
		"+changed\n" +
		"*** End Patch\n"
	p, err := editing.Parse(text)
	require.NoError(t, err)

	fs := newFakeFS(map[string]string{"a.txt": "dup\ndup\n"})
	_, err = editing.Apply(p, fs)
	require.NoError(t, err)
	assert.Equal(t, "changed\ndup\n", fs.files["a.txt"])
}

func TestApplyUpdateContextNotFoundFails(t *testing.T) {
	text := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"@@\n" +
		"-missing\n" +
		"+changed\n" +
		"*** End Patch\n"
	p, err := editing.Parse(text)
	require.NoError(t, err)

	fs := newFakeFS(map[string]string{"a.txt": "other\n"})
	_, err = editing.Apply(p, fs)
	assert.Error(t, err)
}
