package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/logbus"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/retry"
	"github.com/orbital-run/jobctl/store"
)

func newTestRun(t *testing.T, st store.Store, workItemID, runID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateWorkItem(ctx, &domain.WorkItem{ID: workItemID, ProjectID: "p1"}))
	e := &domain.QueueEntry{ID: "entry-" + runID, WorkItemID: workItemID, State: domain.QueueEntryQueued}
	require.NoError(t, st.CreateQueueEntry(ctx, e))
	run := &domain.Run{ID: runID, WorkItemID: workItemID, State: domain.RunQueued, Attempt: 1}
	require.NoError(t, st.PromoteQueueEntry(ctx, e.ID, run))
}

func TestManager_ClaimGrantsExclusiveLease(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	newTestRun(t, st, "w1", "r1")
	clock := platform.NewFakeClock(time.Now())
	m := New(st, logbus.NewBus(), clock, platform.NewStdLogger("test"), 30*time.Second, retry.Default(3, 1.0, 0))

	res, err := m.Claim(ctx, "r1", "agent-a", 0)
	require.NoError(t, err)
	require.True(t, res.Granted)

	res2, err := m.Claim(ctx, "r1", "agent-b", 0)
	require.NoError(t, err)
	assert.False(t, res2.Granted, "a second agent must not be able to claim a held lease")
}

func TestManager_HeartbeatExtendsLease(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	newTestRun(t, st, "w1", "r1")
	clock := platform.NewFakeClock(time.Now())
	m := New(st, logbus.NewBus(), clock, platform.NewStdLogger("test"), 30*time.Second, retry.Default(3, 1.0, 0))

	_, err := m.Claim(ctx, "r1", "agent-a", 0)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	run, ok, err := m.Heartbeat(ctx, "r1", "agent-a", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, run.ClaimExpiresAt.After(clock.Now().Add(29*time.Second)))

	_, ok, err = m.Heartbeat(ctx, "r1", "agent-b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat from a non-holder must fail")
}

func TestManager_ReleaseRequiresTerminalState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	newTestRun(t, st, "w1", "r1")
	clock := platform.NewFakeClock(time.Now())
	m := New(st, logbus.NewBus(), clock, platform.NewStdLogger("test"), 30*time.Second, retry.Default(3, 1.0, 0))

	_, err := m.Claim(ctx, "r1", "agent-a", 0)
	require.NoError(t, err)

	_, _, err = m.Release(ctx, "r1", "agent-a", domain.RunRunning)
	require.Error(t, err, "release must reject a non-terminal outcome")

	run, ok, err := m.Release(ctx, "r1", "agent-a", domain.RunSucceeded)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RunSucceeded, run.State)
}

func TestManager_ExpireScanReclaimsAndLogs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	newTestRun(t, st, "w1", "r1")
	clock := platform.NewFakeClock(time.Now())
	bus := logbus.NewBus()
	m := New(st, bus, clock, platform.NewStdLogger("test"), time.Second, retry.Default(3, 1.0, 0))

	_, err := m.Claim(ctx, "r1", "agent-a", 0)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	reclaimed, err := m.ExpireScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	run, err := st.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunQueued, run.State)
	assert.Equal(t, 2, run.Attempt)

	logs, err := st.ListLogs(ctx, "r1", 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.StreamSystem, logs[0].Stream)
}

func TestManager_ExpireScanFailsRunWhenRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	require.NoError(t, st.CreateWorkItem(ctx, &domain.WorkItem{ID: "w1", ProjectID: "p1"}))
	e := &domain.QueueEntry{ID: "entry-r1", WorkItemID: "w1", State: domain.QueueEntryQueued}
	require.NoError(t, st.CreateQueueEntry(ctx, e))
	// Attempt 3 against a MaxRetries=2 policy: the budget is already
	// exhausted, so an expired claim must go straight to failed rather than
	// requeue.
	run := &domain.Run{ID: "r1", WorkItemID: "w1", State: domain.RunQueued, Attempt: 3}
	require.NoError(t, st.PromoteQueueEntry(ctx, e.ID, run))

	clock := platform.NewFakeClock(time.Now())
	bus := logbus.NewBus()
	m := New(st, bus, clock, platform.NewStdLogger("test"), time.Second, retry.Default(2, 1.0, 0))

	_, err := m.Claim(ctx, "r1", "agent-a", 0)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	reclaimed, err := m.ExpireScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	got, err := st.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.State, "an expired claim past the retry budget must fail, not requeue")
}
