package syncq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_StringAndParse(t *testing.T) {
	require.Equal(t, "pending", StatusPending.String())
	require.Equal(t, "processing", StatusProcessing.String())
	require.Equal(t, "completed", StatusCompleted.String())
	require.Equal(t, "failed", StatusFailed.String())

	for _, s := range AllStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err, "parse valid status %q", s)
		require.Equal(t, s, got)
	}

	_, err := ParseStatus("weird")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestStatus_Stored(t *testing.T) {
	require.True(t, StatusPending.Stored())
	require.True(t, StatusProcessing.Stored())
	require.True(t, StatusFailed.Stored())
	require.False(t, StatusCompleted.Stored(), "completed items are deleted, never stored")
	require.False(t, Status("").Stored())
	require.Len(t, StoredStatuses, 3)
}

func TestNormalizeMethod(t *testing.T) {
	for _, m := range []string{"get", "Post", "PATCH", " put ", "delete"} {
		_, ok := normalizeMethod(m)
		require.True(t, ok, m)
	}
	got, _ := normalizeMethod(" patch ")
	require.Equal(t, "PATCH", got)
	for _, m := range []string{"", "HEAD", "OPTIONS", "CONNECT"} {
		_, ok := normalizeMethod(m)
		require.False(t, ok, m)
	}
}
