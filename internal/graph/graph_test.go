package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeLuceneEscapesSpecialCharacters(t *testing.T) {
	require.Equal(t, `acme \(holdings\)`, escapeLucene("acme (holdings)"))
	require.Equal(t, `foo\:bar`, escapeLucene("foo:bar"))
	require.Equal(t, "plain text", escapeLucene("plain text"))
}

func TestFlattenPropertiesKeepsStringsVerbatim(t *testing.T) {
	out := flattenProperties(map[string]any{"role": "CEO", "founded": 1999})
	require.Equal(t, "CEO", out["prop_role"])
	require.Equal(t, "1999", out["prop_founded"])
}

func TestUnionAliasesDeduplicatesAndPreservesOrder(t *testing.T) {
	merged := unionAliases("Acme Corp", []string{"Acme", "Acme Corp"}, []string{"Acme Holdings"})
	require.Equal(t, []string{"Acme Holdings", "Acme Corp", "Acme"}, merged)
}

func TestAsJSONStringSliceHandlesEmptyAndInvalid(t *testing.T) {
	require.Nil(t, asJSONStringSlice(""))
	require.Nil(t, asJSONStringSlice(nil))
	require.Equal(t, []string{"a", "b"}, asJSONStringSlice(`["a","b"]`))
}
