package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsRegisteredTaskOnEveryTick(t *testing.T) {
	s := New()
	var runs int32
	s.Add(&Task{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))

	status := s.Status()
	require.Len(t, status, 1)
	require.Equal(t, "tick", status[0].Name)
	require.GreaterOrEqual(t, status[0].TotalRuns, uint64(2))
	require.False(t, status[0].IsRunning)
}

func TestScheduler_SkipsTickWhilePreviousRunStillInFlight(t *testing.T) {
	s := New()
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	var runs int32
	s.Add(&Task{
		Name:     "slow",
		Interval: 3 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			started <- struct{}{}
			<-release
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	<-started
	time.Sleep(20 * time.Millisecond) // several ticks elapse while the first run blocks
	close(release)
	cancel()
	s.Stop()

	require.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_RecordsLastError(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.Add(&Task{
		Name:     "failing",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			return boom
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Millisecond)
	defer cancel()
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()

	status := s.Status()
	require.Len(t, status, 1)
	require.ErrorIs(t, status[0].LastError, boom)
}

func TestTaskMetrics_IsConsistentlySlowRequiresThreeSlowRuns(t *testing.T) {
	m := newTaskMetrics(10 * time.Millisecond)
	require.False(t, m.IsConsistentlySlow())

	m.addDuration(20 * time.Millisecond)
	m.addDuration(20 * time.Millisecond)
	require.False(t, m.IsConsistentlySlow())

	m.addDuration(20 * time.Millisecond)
	require.True(t, m.IsConsistentlySlow())

	m.addDuration(1 * time.Millisecond)
	require.False(t, m.IsConsistentlySlow())
}

func TestTaskMetrics_AverageDuration(t *testing.T) {
	m := newTaskMetrics(time.Second)
	require.Equal(t, time.Duration(0), m.AverageDuration())
	m.addDuration(10 * time.Millisecond)
	m.addDuration(20 * time.Millisecond)
	require.Equal(t, 15*time.Millisecond, m.AverageDuration())
}
