// Package scheduler runs the daemon's background tasks (delta poll, sync
// drain, download drain) each on its own
// fixed-interval ticker, tracking enough per-task state to answer the D-Bus
// status surface's questions without a shared priority heap.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/onedrivefs/onedrivefs/internal/logging"
)

// maxRecentDurations bounds the ring buffer used to decide whether a task
// has become consistently slow.
const maxRecentDurations = 5

// TaskMetrics is a small ring buffer of recent run durations for one task,
// used to detect a task that has drifted from "occasionally slow" to
// "consistently slow" (spec §4.6).
type TaskMetrics struct {
	recent        []time.Duration
	slowThreshold time.Duration
}

func newTaskMetrics(slowThreshold time.Duration) *TaskMetrics {
	return &TaskMetrics{slowThreshold: slowThreshold}
}

func (m *TaskMetrics) addDuration(d time.Duration) {
	m.recent = append(m.recent, d)
	if len(m.recent) > maxRecentDurations {
		m.recent = m.recent[1:]
	}
}

// IsConsistentlySlow reports whether every one of the last (at least three)
// recorded runs exceeded the slow threshold.
func (m *TaskMetrics) IsConsistentlySlow() bool {
	if len(m.recent) < 3 {
		return false
	}
	for _, d := range m.recent {
		if d <= m.slowThreshold {
			return false
		}
	}
	return true
}

// AverageDuration returns the mean of the recorded recent durations, or zero
// if none have been recorded yet.
func (m *TaskMetrics) AverageDuration() time.Duration {
	if len(m.recent) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range m.recent {
		total += d
	}
	return total / time.Duration(len(m.recent))
}

// TaskState is one task's observable status: whether it's currently running,
// its last start/completion times, and its run/duration totals - the shape
// the D-Bus status surface (component 8) reports per task.
type TaskState struct {
	Name          string
	Interval      time.Duration
	IsRunning     bool
	LastStart     time.Time
	LastCompleted time.Time
	TotalRuns     uint64
	TotalDuration time.Duration
	LastError     error
	Metrics       *TaskMetrics
}

// Task is one named unit of periodic work: a function run on Interval,
// skipped (with a warning) if the previous run of the same task is still in
// flight when the next tick fires.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns one goroutine per registered task, each driven by its own
// time.Ticker rather than a shared min-heap, matching the daemon's existing
// per-purpose-ticker style (DeltaProcessor.Run) generalized to an arbitrary
// task list (spec §4.6).
type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task
	state map[string]*TaskState

	wg   sync.WaitGroup
	stop chan struct{}
}

// New constructs an empty scheduler. Register tasks with Add before calling Start.
func New() *Scheduler {
	return &Scheduler{
		state: make(map[string]*TaskState),
		stop:  make(chan struct{}),
	}
}

// Add registers a task. Must be called before Start; tasks added afterward
// are not picked up.
func (s *Scheduler) Add(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	s.state[task.Name] = &TaskState{
		Name:     task.Name,
		Interval: task.Interval,
		Metrics:  newTaskMetrics(task.Interval),
	}
}

// Start launches one ticker-driven goroutine per registered task. It returns
// immediately; tasks run until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, task := range tasks {
		s.wg.Add(1)
		go s.run(ctx, task)
	}
}

// Stop signals every task goroutine to exit and waits for them to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, task *Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.markRunning(task.Name) {
			logging.Warn().Str("task", task.Name).Msg("previous run still in flight, skipping this tick")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			start := time.Now()
			err := task.Run(ctx)
			duration := time.Since(start)

			s.recordCompletion(task, duration, err)

			if err != nil {
				logging.Error().Err(err).Str("task", task.Name).Msg("periodic task failed")
			}
		}()
	}
}

// markRunning flips a task to running and reports whether it was already
// running (in which case the caller should skip this tick entirely).
func (s *Scheduler) markRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[name]
	if st.IsRunning {
		return true
	}
	st.IsRunning = true
	st.LastStart = time.Now()
	return false
}

func (s *Scheduler) recordCompletion(task *Task, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[task.Name]
	st.IsRunning = false
	st.LastCompleted = time.Now()
	st.TotalRuns++
	st.TotalDuration += duration
	st.LastError = err
	st.Metrics.addDuration(duration)

	if duration > task.Interval {
		logging.Warn().Str("task", task.Name).Dur("duration", duration).Dur("interval", task.Interval).Msg("task run exceeded its own interval")
	}
	if st.Metrics.IsConsistentlySlow() {
		logging.Warn().Str("task", task.Name).Dur("average", st.Metrics.AverageDuration()).Msg("task has become consistently slow")
	}
}

// Status returns a snapshot of every registered task's state, for the D-Bus
// status surface to report (spec §6.3).
func (s *Scheduler) Status() []TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskState, 0, len(s.state))
	for _, task := range s.tasks {
		st := *s.state[task.Name]
		out = append(out, st)
	}
	return out
}
