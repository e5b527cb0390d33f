package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbital-run/jobctl/domain"
)

func TestMemStore_PromoteQueueEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	entry := &domain.QueueEntry{ID: "e1", WorkItemID: "w1", State: domain.QueueEntryQueued}
	require.NoError(t, s.CreateQueueEntry(ctx, entry))

	run := &domain.Run{ID: "r1", WorkItemID: "w1", State: domain.RunQueued, Attempt: 1}
	require.NoError(t, s.PromoteQueueEntry(ctx, "e1", run))

	got, err := s.GetQueueEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueEntryConsumed, got.State)

	gotRun, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunQueued, gotRun.State)

	t.Run("already consumed is a conflict", func(t *testing.T) {
		err := s.PromoteQueueEntry(ctx, "e1", &domain.Run{ID: "r2", WorkItemID: "w1"})
		require.Error(t, err, "promoting an already-consumed entry must fail")
	})
}

func TestMemStore_ClaimHeartbeatRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()

	run := &domain.Run{ID: "r1", WorkItemID: "w1", State: domain.RunQueued, Attempt: 1}
	require.NoError(t, s.PromoteQueueEntry(ctx, mustEntry(t, s, ctx, "w1"), run))

	claimed, granted, err := s.ClaimRun(ctx, "r1", "agent-a", 30*time.Second, now)
	require.NoError(t, err)
	require.True(t, granted)
	assert.Equal(t, "agent-a", claimed.ClaimedBy)
	assert.Equal(t, domain.RunRunning, claimed.State)

	_, granted, err = s.ClaimRun(ctx, "r1", "agent-b", 30*time.Second, now)
	require.NoError(t, err)
	assert.False(t, granted, "a second agent must not be able to claim a held lease")

	hb, ok, err := s.HeartbeatRun(ctx, "r1", "agent-a", 30*time.Second, now.Add(10*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, hb.ClaimExpiresAt.After(now.Add(30*time.Second)))

	_, ok, err = s.HeartbeatRun(ctx, "r1", "agent-b", 30*time.Second, now)
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat from a non-holder must be rejected")

	released, ok, err := s.ReleaseRun(ctx, "r1", "agent-a", domain.RunSucceeded, now.Add(20*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RunSucceeded, released.State)
	assert.NotNil(t, released.DurationSeconds)
}

func TestMemStore_ClaimRun_ExpiredLeaseReclaimed(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()

	run := &domain.Run{ID: "r1", WorkItemID: "w1", State: domain.RunQueued, Attempt: 1}
	require.NoError(t, s.PromoteQueueEntry(ctx, mustEntry(t, s, ctx, "w1"), run))

	_, granted, err := s.ClaimRun(ctx, "r1", "agent-a", time.Second, now)
	require.NoError(t, err)
	require.True(t, granted)

	later := now.Add(5 * time.Second)
	reclaimed, granted, err := s.ClaimRun(ctx, "r1", "agent-b", 30*time.Second, later)
	require.NoError(t, err)
	require.True(t, granted, "an expired lease must be reclaimable by a new agent")
	assert.Equal(t, "agent-b", reclaimed.ClaimedBy)
	assert.Equal(t, 2, reclaimed.Attempt, "reclaiming an expired lease increments attempt")
}

func TestMemStore_ExpireRun_ToQueued(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()

	run := &domain.Run{ID: "r1", WorkItemID: "w1", State: domain.RunQueued, Attempt: 1}
	require.NoError(t, s.PromoteQueueEntry(ctx, mustEntry(t, s, ctx, "w1"), run))
	_, _, err := s.ClaimRun(ctx, "r1", "agent-a", time.Second, now)
	require.NoError(t, err)

	later := now.Add(5 * time.Second)
	expired, err := s.ListRunningExpired(ctx, later)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	reclaimed, ok, err := s.ExpireRun(ctx, "r1", domain.RunQueued, later)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RunQueued, reclaimed.State)
	assert.Equal(t, 2, reclaimed.Attempt)
	assert.Empty(t, reclaimed.ClaimedBy)
}

func TestMemStore_ForceTerminal_RejectsDoubleTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	run := &domain.Run{ID: "r1", WorkItemID: "w1", State: domain.RunQueued, Attempt: 1}
	require.NoError(t, s.PromoteQueueEntry(ctx, mustEntry(t, s, ctx, "w1"), run))

	_, err := s.ForceTerminal(ctx, "r1", domain.RunCancelled, time.Now())
	require.NoError(t, err)

	_, err = s.ForceTerminal(ctx, "r1", domain.RunCancelled, time.Now())
	require.Error(t, err, "a run already terminal cannot be force-terminated again")
}

func TestMemStore_AppendLog_MonotonicSeq(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	e1, err := s.AppendLog(ctx, "r1", domain.StreamStdout, "hello", time.Now())
	require.NoError(t, err)
	e2, err := s.AppendLog(ctx, "r1", domain.StreamStdout, "world", time.Now())
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.Seq)
	assert.Equal(t, int64(2), e2.Seq)

	logs, err := s.ListLogs(ctx, "r1", 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "hello", logs[0].Text)
	assert.Equal(t, "world", logs[1].Text)
}

func TestMemStore_GetMostRecentTerminalRun(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	ids := []string{"e1", "e2", "e3"}
	for i, id := range ids {
		e := &domain.QueueEntry{ID: id, WorkItemID: "w1", State: domain.QueueEntryQueued}
		require.NoError(t, s.CreateQueueEntry(ctx, e))
		run := &domain.Run{ID: "r" + id, WorkItemID: "w1", State: domain.RunFailed, Attempt: i + 1}
		require.NoError(t, s.PromoteQueueEntry(ctx, e.ID, run))
	}

	best, err := s.GetMostRecentTerminalRun(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 3, best.Attempt)
}

func mustEntry(t *testing.T, s *MemStore, ctx context.Context, workItemID string) string {
	t.Helper()
	e := &domain.QueueEntry{ID: "entry-" + workItemID, WorkItemID: workItemID, State: domain.QueueEntryQueued}
	require.NoError(t, s.CreateQueueEntry(ctx, e))
	return e.ID
}
