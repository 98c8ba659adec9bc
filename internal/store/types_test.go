package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInvestigationStatusTerminal(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusAnalystRunning.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.False(t, StatusSuspended.Terminal())
}

func TestSourceGuidanceRoundTrips(t *testing.T) {
	g := SourceGuidance{
		PreferredSourceIDs: []string{"src-1", "src-2"},
		Freeform:           map[string]string{"region": "eu"},
	}
	raw, err := json.Marshal(g)
	require.NoError(t, err)

	var out SourceGuidance
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, g, out)
}
