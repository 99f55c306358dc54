package fstree_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/forgehq/forge/internal/fstree"
)

// TestCaptureRootHashIsDeterministicProperty verifies IP8 over arbitrarily
// generated file trees: capturing an unchanged tree twice always yields the
// same root hash.
func TestCaptureRootHashIsDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated capture of an unchanged tree is stable", prop.ForAll(
		func(names []string, content string) bool {
			if len(names) == 0 {
				return true
			}
			root := t.TempDir()
			seen := make(map[string]bool)
			for i, n := range names {
				name := filepath.Join("d", n+string(rune('a'+i%26))+".txt")
				if seen[name] {
					continue
				}
				seen[name] = true
				full := filepath.Join(root, name)
				if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
					return false
				}
				if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
					return false
				}
			}
			snap1, err := fstree.Capture(root)
			if err != nil {
				return false
			}
			snap2, err := fstree.Capture(root)
			if err != nil {
				return false
			}
			return snap1.RootHash == snap2.RootHash
		},
		gen.SliceOfN(6, gen.Identifier()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
