package fstree_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/fstree"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestCaptureIsDeterministicOverUnchangedTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.txt":        "bbb",
		"a.txt":        "aaa",
		"dir/c.txt":    "ccc",
		"dir/sub/d.go": "package d",
	})

	snap1, err := fstree.Capture(root)
	require.NoError(t, err)
	snap2, err := fstree.Capture(root)
	require.NoError(t, err)

	assert.Equal(t, snap1.RootHash, snap2.RootHash)
}

func TestCaptureDifferentContentDifferentHash(t *testing.T) {
	rootA := t.TempDir()
	writeTree(t, rootA, map[string]string{"a.txt": "aaa"})
	rootB := t.TempDir()
	writeTree(t, rootB, map[string]string{"a.txt": "zzz"})

	snapA, err := fstree.Capture(rootA)
	require.NoError(t, err)
	snapB, err := fstree.Capture(rootB)
	require.NoError(t, err)

	assert.NotEqual(t, snapA.RootHash, snapB.RootHash)
}

func TestCaptureDedupsIdenticalFileContent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.txt": "same bytes",
		"two.txt": "same bytes",
	})

	snap, err := fstree.Capture(root)
	require.NoError(t, err)

	var hashes []string
	fstree.Walk(snap, func(_ string, e fstree.TreeEntry) {
		if e.Kind == fstree.KindFile {
			hashes = append(hashes, string(e.Hash))
		}
	})
	require.Len(t, hashes, 2)
	assert.Equal(t, hashes[0], hashes[1])
	assert.Len(t, snap.Blobs, 1, "identical content must be stored once")
}

func TestDiffDetectsAddedRemovedModified(t *testing.T) {
	rootA := t.TempDir()
	writeTree(t, rootA, map[string]string{
		"keep.txt":   "same",
		"change.txt": "before",
		"remove.txt": "gone-soon",
	})
	snapA, err := fstree.Capture(rootA)
	require.NoError(t, err)

	rootB := t.TempDir()
	writeTree(t, rootB, map[string]string{
		"keep.txt":   "same",
		"change.txt": "after",
		"added.txt":  "new",
	})
	snapB, err := fstree.Capture(rootB)
	require.NoError(t, err)

	diff := fstree.Diff(snapA, snapB)
	assert.Equal(t, []string{"added.txt"}, diff.Added)
	assert.Equal(t, []string{"remove.txt"}, diff.Removed)
	assert.Equal(t, []string{"change.txt"}, diff.Modified)
	assert.Equal(t, 3, diff.TotalChanges())
	assert.False(t, diff.IsEmpty())
}

func TestDiffOfIdenticalSnapshotsIsEmpty(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "aaa"})
	snap, err := fstree.Capture(root)
	require.NoError(t, err)

	diff := fstree.Diff(snap, snap)
	assert.True(t, diff.IsEmpty())
	assert.Equal(t, 0, diff.TotalChanges())
}
