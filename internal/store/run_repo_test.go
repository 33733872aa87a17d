package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRunStatus(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"queued", "running", "succeeded", "failed"} {
		got, err := ParseRunStatus(in)
		require.NoError(t, err)
		require.Equal(t, RunStatus(in), got)
	}
	_, err := ParseRunStatus("done")
	require.Error(t, err)
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, RunQueued.Terminal())
	require.False(t, RunRunning.Terminal())
	require.True(t, RunSucceeded.Terminal())
	require.True(t, RunFailed.Terminal())
}
