package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"autosint/internal/graph"
)

func TestTruncateResultsAppendsOmittedNote(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	env := truncateResults(items, 3)
	require.Equal(t, []int{1, 2, 3}, env.Results)
	require.Equal(t, 5, env.Total)
	require.Equal(t, "… 2 more omitted", env.Note)
}

func TestTruncateResultsNoOpUnderLimit(t *testing.T) {
	items := []int{1, 2}
	env := truncateResults(items, 5)
	require.Equal(t, items, env.Results)
	require.Empty(t, env.Note)
}

func TestTruncateEntityDetailTruncatesPropertiesBeforeSummary(t *testing.T) {
	e := graph.Entity{
		Properties: map[string]any{"k1": strings.Repeat("x", 200), "k2": strings.Repeat("y", 200)},
		Summary:    strings.Repeat("s", 200),
	}
	detail := truncateEntityDetail(e, 50)
	require.True(t, detail.PropertiesTruncated)
	require.Contains(t, detail.Entity.Properties, "_omitted")
}

func TestTruncateEntityDetailLeavesSmallEntityUntouched(t *testing.T) {
	e := graph.Entity{Summary: "short", Properties: map[string]any{"k": "v"}}
	detail := truncateEntityDetail(e, 1000)
	require.False(t, detail.PropertiesTruncated)
	require.False(t, detail.SummaryTruncated)
	require.Equal(t, "short", detail.Entity.Summary)
}

func TestTruncateClaimPreviewTruncatesContentAndRecordsOriginalLength(t *testing.T) {
	c := graph.Claim{Content: strings.Repeat("a", 100)}
	preview := truncateClaimPreview(c, 10)
	require.Equal(t, strings.Repeat("a", 10)+"…", preview.Content)
	require.Equal(t, 100, preview.OriginalChars)
}
