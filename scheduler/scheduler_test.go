package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbital-run/jobctl/approval"
	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/quota"
	"github.com/orbital-run/jobctl/store"
)

func newScheduler(t *testing.T, st store.Store, clock platform.Clock, requireApproval bool) *Scheduler {
	t.Helper()
	gate := approval.New(st, clock, requireApproval)
	meter := quota.New(clock)
	return New(st, gate, meter, clock, platform.NewStdLogger("test"))
}

func seedProjectAndWorkItem(t *testing.T, st store.Store, projectID, workItemID string, q domain.Quota) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, &domain.Project{ID: projectID, Quota: q}))
	require.NoError(t, st.CreateWorkItem(ctx, &domain.WorkItem{ID: workItemID, ProjectID: projectID}))
}

func TestScheduler_TickPromotesReadyEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedProjectAndWorkItem(t, st, "p1", "w1", domain.Quota{})
	clock := platform.NewFakeClock(time.Now())
	s := newScheduler(t, st, clock, false)

	_, err := s.Enqueue(ctx, "w1", nil, 0, 0)
	require.NoError(t, err)

	summary, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.PromotedEntryIDs, 1)

	running, err := st.GetRunningRunForWorkItem(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, running, "a promoted run starts queued, not running, until claimed")
}

func TestScheduler_DoesNotDoublePromoteWhileRunInFlight(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedProjectAndWorkItem(t, st, "p1", "w1", domain.Quota{})
	clock := platform.NewFakeClock(time.Now())
	s := newScheduler(t, st, clock, false)

	_, err := s.Enqueue(ctx, "w1", nil, 0, 0)
	require.NoError(t, err)
	summary, err := s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, summary.PromotedEntryIDs, 1)

	runs, err := st.ListRunsForWorkItem(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	_, _, err = st.ClaimRun(ctx, runs[0].ID, "agent-a", 30*time.Second, clock.Now())
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, "w1", nil, 0, 0)
	require.NoError(t, err)
	summary, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.PromotedEntryIDs, "a second entry must not promote while a run for the work item is in flight")
}

func TestScheduler_RespectsDependencyOnTerminalRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedProjectAndWorkItem(t, st, "p1", "upstream", domain.Quota{})
	seedProjectAndWorkItem(t, st, "p1", "downstream", domain.Quota{})
	clock := platform.NewFakeClock(time.Now())
	s := newScheduler(t, st, clock, false)

	upstream := "upstream"
	_, err := s.Enqueue(ctx, "downstream", &upstream, 0, 0)
	require.NoError(t, err)

	summary, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.PromotedEntryIDs, "downstream must not promote before upstream has a terminal run")

	_, err = s.Enqueue(ctx, "upstream", nil, 0, 0)
	require.NoError(t, err)
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	upstreamRuns, err := st.ListRunsForWorkItem(ctx, "upstream")
	require.NoError(t, err)
	require.Len(t, upstreamRuns, 1)
	_, _, err = st.ClaimRun(ctx, upstreamRuns[0].ID, "agent-a", 30*time.Second, clock.Now())
	require.NoError(t, err)
	_, _, err = st.ReleaseRun(ctx, upstreamRuns[0].ID, "agent-a", domain.RunSucceeded, clock.Now())
	require.NoError(t, err)

	summary, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.PromotedEntryIDs, 1, "downstream must promote once upstream has succeeded")
}

func TestScheduler_ApprovalGateBlocksPromotion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedProjectAndWorkItem(t, st, "p1", "w1", domain.Quota{})
	clock := platform.NewFakeClock(time.Now())
	s := newScheduler(t, st, clock, true)

	_, err := s.Enqueue(ctx, "w1", nil, 0, 0)
	require.NoError(t, err)

	summary, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.PromotedEntryIDs, "promotion must block without an approval")
}

func TestScheduler_QuotaBlocksPromotion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedProjectAndWorkItem(t, st, "p1", "w1", domain.Quota{MaxRuns: 0, WindowSeconds: 60})
	clock := platform.NewFakeClock(time.Now())
	s := newScheduler(t, st, clock, false)

	// MaxRuns 0 means unlimited per the Meter's own contract, so force
	// exhaustion by recording usage directly against a tighter quota.
	q := domain.Quota{MaxRuns: 1, WindowSeconds: 60}
	require.NoError(t, st.UpdateProjectQuota(ctx, "p1", q))
	s.quota.Record("p1", q, clock.Now())

	_, err := s.Enqueue(ctx, "w1", nil, 0, 0)
	require.NoError(t, err)
	summary, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.PromotedEntryIDs, "promotion must block once quota is exhausted")
}

func TestScheduler_PromotionSetsAttemptToPriorTerminalRunPlusOne(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedProjectAndWorkItem(t, st, "p1", "w1", domain.Quota{})
	clock := platform.NewFakeClock(time.Now())
	s := newScheduler(t, st, clock, false)

	_, err := s.Enqueue(ctx, "w1", nil, 0, 0)
	require.NoError(t, err)
	_, err = s.Tick(ctx)
	require.NoError(t, err)

	runs, err := st.ListRunsForWorkItem(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Attempt, "the first Run for a WorkItem must be attempt 1")

	_, _, err = st.ClaimRun(ctx, runs[0].ID, "agent-a", 30*time.Second, clock.Now())
	require.NoError(t, err)
	_, _, err = st.ReleaseRun(ctx, runs[0].ID, "agent-a", domain.RunFailed, clock.Now())
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, "w1", nil, 0, 0)
	require.NoError(t, err)
	_, err = s.Tick(ctx)
	require.NoError(t, err)

	runs, err = st.ListRunsForWorkItem(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	var retryRun *domain.Run
	for _, r := range runs {
		if r.Attempt == 2 {
			retryRun = r
		}
	}
	require.NotNil(t, retryRun, "a Run re-promoted after a failed terminal Run must exist")
}

func TestScheduler_TickOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedProjectAndWorkItem(t, st, "p1", "low", domain.Quota{})
	seedProjectAndWorkItem(t, st, "p1", "high", domain.Quota{})
	clock := platform.NewFakeClock(time.Now())
	s := newScheduler(t, st, clock, false)

	_, err := s.Enqueue(ctx, "low", nil, 0, 0)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.Enqueue(ctx, "high", nil, 10, 0)
	require.NoError(t, err)

	ready, err := s.Peek(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "high", ready[0].WorkItemID, "higher priority must be ordered first regardless of enqueue time")

	seedProjectAndWorkItem(t, st, "p1", "high-later", domain.Quota{})
	clock.Advance(time.Second)
	_, err = s.Enqueue(ctx, "high-later", nil, 10, 0)
	require.NoError(t, err)

	ready, err = s.Peek(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, "high", ready[0].WorkItemID, "equal priority must be ordered by enqueue time")
	assert.Equal(t, "high-later", ready[1].WorkItemID)
}
