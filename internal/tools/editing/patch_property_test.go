package editing_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/tools/editing"
)

// TestPatchRoundTripProperty verifies IP9: for any valid generated patch,
// Parse(Serialize(patch)) is structurally equal to the original.
func TestPatchRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Add/Delete/Update patches survive Parse(Serialize(p))", prop.ForAll(
		func(addPath string, addLines []string, delPath string, updatePath, moveTo, context, removed, added string) bool {
			if addPath == "" || delPath == "" || updatePath == "" {
				return true
			}
			p := editing.Patch{Operations: []editing.Operation{
				{Kind: editing.OpAdd, Path: addPath, AddLines: addLines},
				{Kind: editing.OpDelete, Path: delPath},
				{Kind: editing.OpUpdate, Path: updatePath, MoveTo: moveTo, Hunks: []editing.Hunk{
					{
						Header: "",
						Lines: []editing.HunkLine{
							{Kind: ' ', Text: context},
							{Kind: '-', Text: removed},
							{Kind: '+', Text: added},
						},
					},
				}},
			}}

			serialized := editing.Serialize(p)
			reparsed, err := editing.Parse(serialized)
			if err != nil {
				return false
			}
			return assertPatchesEqual(p, reparsed)
		},
		gen.Identifier(),
		gen.SliceOfN(3, gen.AlphaString()),
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func assertPatchesEqual(a, b editing.Patch) bool {
	if len(a.Operations) != len(b.Operations) {
		return false
	}
	for i := range a.Operations {
		oa, ob := a.Operations[i], b.Operations[i]
		if oa.Kind != ob.Kind || oa.Path != ob.Path || oa.MoveTo != ob.MoveTo {
			return false
		}
		if len(oa.AddLines) != len(ob.AddLines) {
			return false
		}
		for j := range oa.AddLines {
			if oa.AddLines[j] != ob.AddLines[j] {
				return false
			}
		}
		if len(oa.Hunks) != len(ob.Hunks) {
			return false
		}
		for h := range oa.Hunks {
			if len(oa.Hunks[h].Lines) != len(ob.Hunks[h].Lines) {
				return false
			}
			for l := range oa.Hunks[h].Lines {
				if oa.Hunks[h].Lines[l] != ob.Hunks[h].Lines[l] {
					return false
				}
			}
		}
	}
	return true
}

func TestSerializeThenApplyProducesExpectedContent(t *testing.T) {
	p := editing.Patch{Operations: []editing.Operation{
		{Kind: editing.OpUpdate, Path: "file.txt", Hunks: []editing.Hunk{
			{Lines: []editing.HunkLine{
				{Kind: ' ', Text: "line1"},
				{Kind: '-', Text: "line2"},
				{Kind: '+', Text: "line-two"},
			}},
		}},
	}}
	text := editing.Serialize(p)
	reparsed, err := editing.Parse(text)
	require.NoError(t, err)
	assert.True(t, assertPatchesEqual(p, reparsed))
}
