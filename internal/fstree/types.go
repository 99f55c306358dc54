// Package fstree captures a deterministic Merkle snapshot of a workspace
// directory tree: entries sorted lexicographically by name so the resulting
// root hash is reproducible, and duplicate file content deduplicated by
// content hash. See spec.md §3 "FS-Tree Snapshot" and
// original_source forge-cxdb/src/fstree/{snapshot.rs,types.rs}, which the
// distilled spec.md names only by invariant.
package fstree

import "github.com/forgehq/forge/internal/turnstore"

// EntryKind distinguishes the three node kinds a tree entry may represent.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindSymlink
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// TreeEntry is one named child within a TreeObject.
type TreeEntry struct {
	Name string
	Kind EntryKind
	Mode uint32
	Size uint64
	Hash turnstore.BlobHash // BLAKE3 digest of file bytes, or of the serialized child TreeObject for directories
}

// TreeObject is a directory: its entries, sorted by Name.
type TreeObject struct {
	Entries []TreeEntry
}

// Snapshot is a captured, content-addressed view of a workspace at a point
// in time.
type Snapshot struct {
	RootHash turnstore.BlobHash
	Root     TreeObject
	// Blobs maps every unique file content hash encountered in the tree to
	// its bytes, so identical file contents are stored once regardless of
	// how many paths reference them.
	Blobs map[turnstore.BlobHash][]byte
}

// SnapshotDiff is the set of path-level changes between two snapshots.
type SnapshotDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// IsEmpty reports whether the diff has no changes.
func (d SnapshotDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// TotalChanges returns the number of changed paths across all three
// categories.
func (d SnapshotDiff) TotalChanges() int {
	return len(d.Added) + len(d.Removed) + len(d.Modified)
}
