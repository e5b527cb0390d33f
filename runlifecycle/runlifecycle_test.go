package runlifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbital-run/jobctl/approval"
	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/lease"
	"github.com/orbital-run/jobctl/logbus"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/quota"
	"github.com/orbital-run/jobctl/retry"
	"github.com/orbital-run/jobctl/scheduler"
	"github.com/orbital-run/jobctl/store"
)

func newTestLifecycle(t *testing.T, st store.Store, clock platform.Clock, policy retry.Policy) (*Lifecycle, *lease.Manager) {
	t.Helper()
	bus := logbus.NewBus()
	lm := lease.New(st, bus, clock, platform.NewStdLogger("test"), 30*time.Second, policy)
	gate := approval.New(st, clock, false)
	meter := quota.New(clock)
	sched := scheduler.New(st, gate, meter, clock, platform.NewStdLogger("test"))
	return New(st, bus, lm, sched, clock, policy), lm
}

func claimedRun(t *testing.T, st store.Store, lm *lease.Manager, workItemID, runID, projectID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, &domain.Project{ID: projectID}))
	require.NoError(t, st.CreateWorkItem(ctx, &domain.WorkItem{ID: workItemID, ProjectID: projectID}))
	e := &domain.QueueEntry{ID: "entry-" + runID, WorkItemID: workItemID, State: domain.QueueEntryQueued}
	require.NoError(t, st.CreateQueueEntry(ctx, e))
	run := &domain.Run{ID: runID, WorkItemID: workItemID, State: domain.RunQueued, Attempt: 1}
	require.NoError(t, st.PromoteQueueEntry(ctx, e.ID, run))
	_, err := lm.Claim(ctx, runID, "agent-a", 0)
	require.NoError(t, err)
}

func TestLifecycle_CompleteSuccess(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	clock := platform.NewFakeClock(time.Now())
	policy := retry.Default(3, 1.0, 0)
	l, lm := newTestLifecycle(t, st, clock, policy)
	claimedRun(t, st, lm, "w1", "r1", "p1")

	run, err := l.Complete(ctx, "r1", "agent-a", true)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.State)

	queue, err := st.ListQueueEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, queue, 1, "a successful completion must not enqueue a retry")
}

func TestLifecycle_CompleteFailureEnqueuesRetry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	clock := platform.NewFakeClock(time.Now())
	policy := retry.Default(3, 1.0, 0)
	l, lm := newTestLifecycle(t, st, clock, policy)
	claimedRun(t, st, lm, "w1", "r1", "p1")

	run, err := l.Complete(ctx, "r1", "agent-a", false)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.State)

	queue, err := st.ListQueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 2, "a failed run within budget must enqueue a fresh entry")

	var retryEntry *domain.QueueEntry
	for _, e := range queue {
		if e.State == domain.QueueEntryQueued {
			retryEntry = e
		}
	}
	require.NotNil(t, retryEntry)
	assert.Equal(t, clock.Now().Add(time.Second), retryEntry.ScheduledFor,
		"the first failed attempt must schedule the retry at now+B*2^0 = now+1s")
}

func TestLifecycle_CompleteFailureExhaustedDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	clock := platform.NewFakeClock(time.Now())
	policy := retry.Default(0, 1.0, 0)
	l, lm := newTestLifecycle(t, st, clock, policy)
	claimedRun(t, st, lm, "w1", "r1", "p1")

	_, err := l.Complete(ctx, "r1", "agent-a", false)
	require.NoError(t, err)

	queue, err := st.ListQueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1, "an exhausted retry budget must not enqueue another attempt")
}

func TestLifecycle_CompleteRejectsWrongAgent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	clock := platform.NewFakeClock(time.Now())
	l, lm := newTestLifecycle(t, st, clock, retry.Default(3, 1.0, 0))
	claimedRun(t, st, lm, "w1", "r1", "p1")

	_, err := l.Complete(ctx, "r1", "agent-b", true)
	require.Error(t, err, "completion from a non-holder must be rejected")
}

func TestLifecycle_AppendLogPublishesOnBus(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	clock := platform.NewFakeClock(time.Now())
	bus := logbus.NewBus()
	policy := retry.Default(3, 1.0, 0)
	lm := lease.New(st, bus, clock, platform.NewStdLogger("test"), 30*time.Second, policy)
	gate := approval.New(st, clock, false)
	meter := quota.New(clock)
	sched := scheduler.New(st, gate, meter, clock, platform.NewStdLogger("test"))
	l := New(st, bus, lm, sched, clock, policy)

	sub := bus.Subscribe("r1")
	defer sub.Close()

	entry, err := l.AppendLog(ctx, "r1", domain.StreamStdout, "hi")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Seq)

	select {
	case ev := <-sub.C:
		require.NotNil(t, ev.Log)
		assert.Equal(t, "hi", ev.Log.Text)
	case <-time.After(time.Second):
		t.Fatal("expected log event was not published")
	}
}

func TestLifecycle_CancelForcesTerminalRegardlessOfLease(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	clock := platform.NewFakeClock(time.Now())
	l, lm := newTestLifecycle(t, st, clock, retry.Default(3, 1.0, 0))
	claimedRun(t, st, lm, "w1", "r1", "p1")

	run, err := l.Cancel(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCancelled, run.State)

	queue, err := st.ListQueueEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, queue, 1, "cancel must never trigger a retry enqueue")
}

func TestLifecycle_CreateAndUpdateStep(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	clock := platform.NewFakeClock(time.Now())
	l, lm := newTestLifecycle(t, st, clock, retry.Default(3, 1.0, 0))
	claimedRun(t, st, lm, "w1", "r1", "p1")

	step, err := l.CreateStep(ctx, "r1", 0, "build")
	require.NoError(t, err)
	assert.Equal(t, domain.StepPending, step.Status)

	clock.Advance(time.Second)
	updated, err := l.UpdateStep(ctx, step.ID, domain.StepRunning, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.StartedAt)

	clock.Advance(2 * time.Second)
	done, err := l.UpdateStep(ctx, step.ID, domain.StepSucceeded, map[string]interface{}{"exit_code": 0})
	require.NoError(t, err)
	require.NotNil(t, done.DurationSeconds)
	assert.InDelta(t, 2.0, *done.DurationSeconds, 0.001)
}
