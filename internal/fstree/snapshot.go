package fstree

import (
	"encoding/binary"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/forgehq/forge/internal/turnstore"
)

// Capture walks root and builds a deterministic Snapshot. Two successive
// captures over an unchanged tree return an equal RootHash (IP8).
func Capture(root string) (Snapshot, error) {
	blobs := make(map[turnstore.BlobHash][]byte)
	tree, hash, err := captureDir(root, blobs)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{RootHash: hash, Root: tree, Blobs: blobs}, nil
}

func captureDir(dir string, blobs map[turnstore.BlobHash][]byte) (TreeObject, turnstore.BlobHash, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return TreeObject{}, "", err
	}
	names := make([]string, len(dirEntries))
	for i, e := range dirEntries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	entries := make([]TreeEntry, 0, len(names))
	for _, name := range names {
		full := filepath.Join(dir, name)
		info, err := os.Lstat(full)
		if err != nil {
			return TreeObject{}, "", err
		}
		entry, err := captureEntry(full, name, info, blobs)
		if err != nil {
			return TreeObject{}, "", err
		}
		entries = append(entries, entry)
	}
	tree := TreeObject{Entries: entries}
	return tree, hashTree(tree), nil
}

func captureEntry(full, name string, info fs.FileInfo, blobs map[turnstore.BlobHash][]byte) (TreeEntry, error) {
	mode := uint32(info.Mode().Perm())
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(full)
		if err != nil {
			return TreeEntry{}, err
		}
		hash := turnstore.HashBlob([]byte(target))
		blobs[hash] = []byte(target)
		return TreeEntry{Name: name, Kind: KindSymlink, Mode: mode, Size: uint64(len(target)), Hash: hash}, nil
	case info.IsDir():
		_, hash, err := captureDir(full, blobs)
		if err != nil {
			return TreeEntry{}, err
		}
		return TreeEntry{Name: name, Kind: KindDirectory, Mode: mode, Hash: hash}, nil
	default:
		data, err := os.ReadFile(full)
		if err != nil {
			return TreeEntry{}, err
		}
		hash := turnstore.HashBlob(data)
		blobs[hash] = data
		return TreeEntry{Name: name, Kind: KindFile, Mode: mode, Size: uint64(len(data)), Hash: hash}, nil
	}
}

// hashTree computes the BLAKE3 digest of a TreeObject's canonical
// serialization: entries already sorted by name, each encoded as
// kind|mode|size|name_len:name|hash.
func hashTree(t TreeObject) turnstore.BlobHash {
	return turnstore.HashBlob(serializeTree(t))
}

func serializeTree(t TreeObject) []byte {
	var buf []byte
	var scratch [8]byte
	for _, e := range t.Entries {
		buf = append(buf, byte(e.Kind))
		binary.LittleEndian.PutUint32(scratch[:4], e.Mode)
		buf = append(buf, scratch[:4]...)
		binary.LittleEndian.PutUint64(scratch[:], e.Size)
		buf = append(buf, scratch[:]...)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(e.Name)))
		buf = append(buf, scratch[:4]...)
		buf = append(buf, e.Name...)
		buf = append(buf, []byte(e.Hash)...)
	}
	return buf
}

// Walk invokes fn for each top-level entry of the snapshot's Root, with
// fullPath being the entry's name. Nested directory contents are not
// visited: a Snapshot holds only the root TreeObject.
func Walk(snap Snapshot, fn func(fullPath string, entry TreeEntry)) {
	walkObj(snap.Root, "", fn)
}

func walkObj(obj TreeObject, prefix string, fn func(string, TreeEntry)) {
	for _, e := range obj.Entries {
		full := e.Name
		if prefix != "" {
			full = path.Join(prefix, e.Name)
		}
		fn(full, e)
	}
}

// Diff compares two snapshots at the path level: files present only in b are
// Added, present only in a are Removed, present in both with a different
// hash are Modified. Only the top-level Root entries are compared, so a
// top-level directory is reported as a single entry and the files under it
// are not listed individually.
func Diff(a, b Snapshot) SnapshotDiff {
	av := leafHashes(a)
	bv := leafHashes(b)

	var diff SnapshotDiff
	for p, h := range bv {
		if ah, ok := av[p]; !ok {
			diff.Added = append(diff.Added, p)
		} else if ah != h {
			diff.Modified = append(diff.Modified, p)
		}
	}
	for p := range av {
		if _, ok := bv[p]; !ok {
			diff.Removed = append(diff.Removed, p)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)
	return diff
}

// leafHashes flattens the top-level Root entries into path->hash. A
// directory's hash already commits to its entire subtree (hashTree folds
// children in), so a changed nested file shows up as a Modified entry at the
// name of its top-level ancestor directory rather than at the deep path; callers
// that need deep paths should re-capture and compare the Blobs maps instead.
func leafHashes(snap Snapshot) map[string]turnstore.BlobHash {
	out := make(map[string]turnstore.BlobHash)
	for _, e := range snap.Root.Entries {
		out[e.Name] = e.Hash
	}
	return out
}
