package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

type recordingLauncher struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (l *recordingLauncher) Launch(_ context.Context, trigger string) (store.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.triggers = append(l.triggers, trigger)
	if l.err != nil {
		return store.Run{}, l.err
	}
	return store.Run{ID: "run-1", Trigger: trigger}, nil
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	_, err := New("every ten minutes", &recordingLauncher{}, nil)
	require.Error(t, err)
	_, err = New("*/10 * * * * *", &recordingLauncher{}, nil)
	require.Error(t, err, "six-field specs are not accepted")
}

func TestNextFollowsSpec(t *testing.T) {
	t.Parallel()

	s, err := New("*/10 * * * *", &recordingLauncher{}, nil)
	require.NoError(t, err)
	from := time.Date(2025, 1, 1, 10, 3, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 1, 1, 10, 10, 0, 0, time.UTC), s.Next(from))
}

func TestFireLaunchesScheduledRun(t *testing.T) {
	t.Parallel()

	launcher := &recordingLauncher{}
	s, err := New("@every 1h", launcher, nil)
	require.NoError(t, err)

	s.fire()
	require.Equal(t, []string{"schedule"}, launcher.triggers)
}

func TestFireLogsLaunchFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	launcher := &recordingLauncher{err: errors.New("queue full")}
	s, err := New("@hourly", launcher, zap.New(core))
	require.NoError(t, err)

	s.fire()
	require.Equal(t, 1, logs.FilterMessage("scheduled run not started").Len())
}

func TestFireSkipsAfterShutdown(t *testing.T) {
	t.Parallel()

	launcher := &recordingLauncher{}
	s, err := New("@hourly", launcher, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	s.fire()
	require.Empty(t, launcher.triggers)
}

func TestCronLoggerAdapter(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	l := zapCronLogger{logger: zap.New(core).Sugar()}
	l.Info("wake", "now", "x")
	l.Error(errors.New("boom"), "panic", "job", 1)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	require.Equal(t, "boom", entries[1].ContextMap()["error"])
}
