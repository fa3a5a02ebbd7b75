package schedule

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

	"github.com/nalpari/jppc/internal/crawler"
)

type fakeStarter struct {
	mu       sync.Mutex
	err      error
	triggers []crawler.Trigger
	codes    [][]string
}

func (f *fakeStarter) Start(_ context.Context, codes []string, trigger crawler.Trigger) (crawler.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	f.codes = append(f.codes, codes)
	if f.err != nil {
		return crawler.CrawlJob{}, f.err
	}
	return crawler.CrawlJob{ID: "job-1"}, nil
}

func TestDefaultScheduleIsMondayTwoAMTokyo(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, &fakeStarter{}, nil)
	require.NoError(t, err)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	// Wednesday 2024-04-03 10:00 JST.
	next := s.Next(time.Date(2024, 4, 3, 10, 0, 0, 0, tokyo))
	require.True(t, next.Equal(time.Date(2024, 4, 8, 2, 0, 0, 0, tokyo)), "got %s", next)
	require.Equal(t, time.Monday, next.Weekday())
	require.Equal(t, 2, next.Hour())

	// The same instant expressed in UTC resolves to the same Tokyo time.
	next = s.Next(time.Date(2024, 4, 7, 16, 30, 0, 0, time.UTC))
	require.True(t, next.Equal(time.Date(2024, 4, 8, 2, 0, 0, 0, tokyo)))
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Spec: "not a spec"}, &fakeStarter{}, nil)
	require.Error(t, err)
	_, err = New(Config{Timezone: "Mars/Olympus"}, &fakeStarter{}, nil)
	require.Error(t, err)
	_, err = New(Config{}, nil, nil)
	require.Error(t, err)
}

func TestTriggerStartsScheduledJob(t *testing.T) {
	t.Parallel()

	starter := &fakeStarter{}
	s, err := New(Config{Sources: []string{"tepco"}}, starter, nil)
	require.NoError(t, err)

	s.Trigger(context.Background())
	require.Equal(t, []crawler.Trigger{crawler.TriggerScheduled}, starter.triggers)
	require.Equal(t, [][]string{{"tepco"}}, starter.codes)
}

func TestTriggerSkipsWhenRunning(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	starter := &fakeStarter{err: crawler.ErrJobRunning}
	s, err := New(Config{}, starter, zap.New(core))
	require.NoError(t, err)

	s.Trigger(context.Background())
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	require.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	starter.err = errors.New("store offline")
	s.Trigger(context.Background())
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestTriggerIgnoresCancelledContext(t *testing.T) {
	t.Parallel()

	starter := &fakeStarter{}
	s, err := New(Config{}, starter, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Trigger(ctx)
	require.Empty(t, starter.triggers)
}

func TestRunReturnsOnCancel(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, &fakeStarter{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
