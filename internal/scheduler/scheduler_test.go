package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/dagflow/internal/clock"
	"github.com/shaiso/dagflow/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeRegistry struct {
	mu          sync.Mutex
	executor    *domain.ExecutorInfo
	dispatchErr error
	dispatched  []string
}

func (f *fakeRegistry) GetExecutorForNode(string, domain.CommunicationType) (domain.ExecutorInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.executor == nil {
		return domain.ExecutorInfo{}, errors.New("no executor available")
	}
	return *f.executor, nil
}

func (f *fakeRegistry) Dispatch(_ context.Context, task *domain.ScheduledTask, _ domain.ExecutorInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.dispatched = append(f.dispatched, task.ID)
	return nil
}

func newTask(runID uuid.UUID, node string, attempt, maxAttempts int) *domain.ScheduledTask {
	return &domain.ScheduledTask{
		ID:           domain.TaskID(runID, node, attempt),
		RunID:        runID,
		TenantID:     "acme",
		NodeID:       node,
		ExecutorType: "default",
		Attempt:      attempt,
		RetryPolicy: domain.RetryPolicy{
			MaxAttempts:       maxAttempts,
			InitialDelayMs:    1000,
			MaxDelayMs:        60000,
			BackoffMultiplier: 2,
		},
	}
}

func newScheduler(reg ExecutorRegistry, clk clock.Clock) *Scheduler {
	return New(Config{Registry: reg, Clock: clk, Retention: time.Hour})
}

// --- MemoryRetryQueue Tests ---

func TestMemoryRetryQueue_OrderAndUpsert(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryRetryQueue()
	run := uuid.New()

	require.NoError(t, q.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: "b", ExecuteAt: t0.Add(2 * time.Second)}))
	require.NoError(t, q.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: "a", ExecuteAt: t0.Add(3 * time.Second)}))
	require.NoError(t, q.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: "c", ExecuteAt: t0.Add(time.Hour)}))

	// Замена записи для (run, a)
	require.NoError(t, q.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: "a", ExecuteAt: t0.Add(time.Second), Attempt: 3}))

	n, _ := q.Len(ctx)
	assert.Equal(t, 3, n)

	due, err := q.PopDue(ctx, t0.Add(5*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].NodeID)
	assert.Equal(t, 3, due[0].Attempt)
	assert.Equal(t, "b", due[1].NodeID)

	n, _ = q.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryRetryQueue_PopDueLimitAndRemoveRun(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryRetryQueue()
	runA, runB := uuid.New(), uuid.New()

	for i, node := range []string{"x", "y", "z"} {
		_ = q.Schedule(ctx, domain.RetryEntry{RunID: runA, NodeID: node, ExecuteAt: t0.Add(time.Duration(i) * time.Second)})
	}
	_ = q.Schedule(ctx, domain.RetryEntry{RunID: runB, NodeID: "x", ExecuteAt: t0})

	removed, err := q.RemoveRun(ctx, runB)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	due, _ := q.PopDue(ctx, t0.Add(time.Minute), 2)
	require.Len(t, due, 2)
	assert.Equal(t, []string{"x", "y"}, []string{due[0].NodeID, due[1].NodeID})
}

func TestMemoryRetryQueue_ConcurrentPopNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryRetryQueue()
	run := uuid.New()
	for i := range 200 {
		_ = q.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: uuid.NewString(), ExecuteAt: t0.Add(time.Duration(i))})
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				due, _ := q.PopDue(ctx, t0.Add(time.Hour), 7)
				if len(due) == 0 {
					return
				}
				mu.Lock()
				for _, e := range due {
					seen[e.NodeID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 200)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

// --- ScheduleTask Tests ---

func TestScheduleTask_Dispatched(t *testing.T) {
	reg := &fakeRegistry{executor: &domain.ExecutorInfo{ID: "exec-1", Type: "default"}}
	s := newScheduler(reg, clock.NewMock(t0))
	task := newTask(uuid.New(), "a", 1, 3)

	out, err := s.ScheduleTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, out.Status)
	assert.Equal(t, "exec-1", out.ExecutorID)

	tracked, ok := s.Task(task.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusRunning, tracked.Status)
	assert.Equal(t, "exec-1", tracked.ExecutorID)

	_, err = s.ScheduleTask(context.Background(), task)
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestScheduleTask_NoExecutorSchedulesRetry(t *testing.T) {
	clk := clock.NewMock(t0)
	s := newScheduler(&fakeRegistry{}, clk)
	task := newTask(uuid.New(), "a", 1, 3)

	out, err := s.ScheduleTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryScheduled, out.Status)
	require.NotNil(t, out.Retry)
	assert.Equal(t, 2, out.Retry.Attempt)
	// CalculateDelay(1) = 1000 * 2^1 ms
	assert.Equal(t, t0.Add(2*time.Second), out.Retry.ExecuteAt)

	tracked, _ := s.Task(task.ID)
	assert.Equal(t, domain.TaskStatusFailed, tracked.Status)

	n, _ := s.queue.Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestScheduleTask_MaxAttemptsOneDeadLetters(t *testing.T) {
	reg := &fakeRegistry{
		executor:    &domain.ExecutorInfo{ID: "exec-1"},
		dispatchErr: errors.New("connection refused"),
	}
	s := newScheduler(reg, clock.NewMock(t0))

	out, err := s.ScheduleTask(context.Background(), newTask(uuid.New(), "a", 1, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, out.Status)
	assert.Contains(t, out.Reason, "connection refused")

	n, _ := s.queue.Len(context.Background())
	assert.Zero(t, n)
}

func TestScheduleTask_CancelledContextGoesThroughRetryPolicy(t *testing.T) {
	reg := &fakeRegistry{executor: &domain.ExecutorInfo{ID: "exec-1"}}
	s := newScheduler(reg, clock.NewMock(t0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := s.ScheduleTask(ctx, newTask(uuid.New(), "a", 1, 3))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryScheduled, out.Status)
	assert.Contains(t, out.Reason, "dispatch rate limit")
	assert.Empty(t, reg.dispatched)

	n, _ := s.queue.Len(context.Background())
	assert.Equal(t, 1, n, "retry must be enqueued despite the cancelled context")

	out, err = s.ScheduleTask(ctx, newTask(uuid.New(), "a", 1, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, out.Status)
}

func TestScheduleTask_RateLimitDeadline(t *testing.T) {
	reg := &fakeRegistry{executor: &domain.ExecutorInfo{ID: "exec-1"}}
	s := New(Config{Registry: reg, Clock: clock.NewMock(t0), DispatchRate: 0.001, DispatchBurst: 1})
	run := uuid.New()

	out, err := s.ScheduleTask(context.Background(), newTask(run, "a", 1, 3))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, out.Status)

	// Следующий токен через ~1000s, дедлайн раньше
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err = s.ScheduleTask(ctx, newTask(run, "b", 1, 3))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryScheduled, out.Status)
	assert.Equal(t, []string{domain.TaskID(run, "a", 1)}, reg.dispatched)
}

func TestCancelTask_AllowsRedispatch(t *testing.T) {
	reg := &fakeRegistry{executor: &domain.ExecutorInfo{ID: "exec-1"}}
	s := newScheduler(reg, clock.NewMock(t0))
	task := newTask(uuid.New(), "a", 2, 3)

	_, err := s.ScheduleTask(context.Background(), task)
	require.NoError(t, err)

	assert.True(t, s.CancelTask(task.ID))
	assert.False(t, s.CancelTask(task.ID), "second cancel is a no-op")
	assert.False(t, s.CancelTask("unknown"))

	out, err := s.ScheduleTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, out.Status)
	assert.Len(t, reg.dispatched, 2)
}

// --- Sweep Tests ---

func TestSweep_TriggersDueAndReenqueuesFailures(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(t0)
	s := newScheduler(&fakeRegistry{}, clk)

	_, err := s.Sweep(ctx)
	assert.ErrorIs(t, err, ErrNoTrigger)

	run := uuid.New()
	_ = s.queue.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: "ok", ExecuteAt: t0})
	_ = s.queue.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: "bad", ExecuteAt: t0})
	_ = s.queue.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: "later", ExecuteAt: t0.Add(time.Minute)})

	var triggered []string
	s.SetTrigger(func(_ context.Context, e domain.RetryEntry) error {
		triggered = append(triggered, e.NodeID)
		if e.NodeID == "bad" {
			return errors.New("run locked")
		}
		return nil
	})

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"ok", "bad"}, triggered)

	// "bad" вернулся в очередь, "later" ещё не наступил
	size, _ := s.queue.Len(ctx)
	assert.Equal(t, 2, size)

	clk.Advance(time.Minute)
	triggered = nil
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"bad", "later"}, triggered)
}

// --- Cancel / Cleanup Tests ---

func TestCancelTasksForRun(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(t0)
	reg := &fakeRegistry{executor: &domain.ExecutorInfo{ID: "exec-1"}}
	s := newScheduler(reg, clk)

	run, other := uuid.New(), uuid.New()
	_, _ = s.ScheduleTask(ctx, newTask(run, "a", 1, 3))
	_, _ = s.ScheduleTask(ctx, newTask(other, "a", 1, 3))
	_ = s.queue.Schedule(ctx, domain.RetryEntry{RunID: run, NodeID: "b", ExecuteAt: t0})

	n, err := s.CancelTasksForRun(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, _ := s.Task(domain.TaskID(run, "a", 1))
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)
	task, _ = s.Task(domain.TaskID(other, "a", 1))
	assert.Equal(t, domain.TaskStatusRunning, task.Status)

	size, _ := s.queue.Len(ctx)
	assert.Zero(t, size)

	// Поздний результат отменённой задачи не применяется
	applied, err := s.CompleteTask(domain.TaskID(run, "a", 1), true, "")
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = s.CompleteTask("missing", true, "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCleanup_RemovesOldTerminalTasks(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(t0)
	reg := &fakeRegistry{executor: &domain.ExecutorInfo{ID: "exec-1"}}
	s := newScheduler(reg, clk)

	run := uuid.New()
	done := newTask(run, "done", 1, 3)
	live := newTask(run, "live", 1, 3)
	_, _ = s.ScheduleTask(ctx, done)
	_, _ = s.ScheduleTask(ctx, live)
	_, _ = s.CompleteTask(done.ID, true, "")

	clk.Advance(30 * time.Minute)
	assert.Zero(t, s.Cleanup())

	clk.Advance(31 * time.Minute)
	assert.Equal(t, 1, s.Cleanup())

	_, ok := s.Task(done.ID)
	assert.False(t, ok)
	_, ok = s.Task(live.ID)
	assert.True(t, ok)
}

func TestEverySpec(t *testing.T) {
	assert.Equal(t, "@every 5s", everySpec(5*time.Second))
}
