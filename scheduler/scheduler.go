// Package scheduler implements the Scheduler: enqueue, the atomic
// promotion tick, and the explicit operator re-enqueue paths. Promotion
// ordering is deterministic (priority DESC, enqueued_at ASC, id ASC), so
// a tick against an unchanging Store snapshot always promotes the same set
// in the same order.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbital-run/jobctl/approval"
	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/quota"
	"github.com/orbital-run/jobctl/retry"
	"github.com/orbital-run/jobctl/store"
)

// maxTickPasses bounds the fixpoint re-evaluation within one tick so a
// pathological queue can never make tick() loop unboundedly.
const maxTickPasses = 8

// Scheduler is the Scheduler component.
type Scheduler struct {
	store   store.Store
	gate    *approval.Gate
	quota   *quota.Meter
	clock   platform.Clock
	logger  platform.Logger
	tickMu  sync.Mutex // single-flight guard for the background loop
}

// New builds a Scheduler.
func New(st store.Store, gate *approval.Gate, meter *quota.Meter, clock platform.Clock, logger platform.ComponentLogger) *Scheduler {
	return &Scheduler{store: st, gate: gate, quota: meter, clock: clock, logger: logger.WithComponent("scheduler")}
}

// Enqueue creates a new QueueEntry. Duplicate entries for the same
// WorkItem are allowed; parallel dependency fan-in is modelled by
// multiple entries, not deduplicated.
func (s *Scheduler) Enqueue(ctx context.Context, workItemID string, dependsOn *string, priority int, delaySeconds float64) (*domain.QueueEntry, error) {
	now := s.clock.Now()
	e := &domain.QueueEntry{
		ID:                  uuid.NewString(),
		WorkItemID:          workItemID,
		DependsOnWorkItemID: dependsOn,
		Priority:            priority,
		ScheduledFor:        now.Add(time.Duration(delaySeconds * float64(time.Second))),
		EnqueuedAt:          now,
		State:               domain.QueueEntryQueued,
	}
	if err := s.store.CreateQueueEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// TickSummary reports what a tick() call promoted.
type TickSummary struct {
	PromotedEntryIDs []string
	CreatedRunIDs    []string
	Passes           int
}

// Tick performs one atomic promotion pass: selects queued entries with
// scheduled_for<=now, orders them deterministically, and promotes every
// entry whose predicate holds. Promoting one entry can unblock another in
// the same tick (e.g. two fan-in entries on the same dependency), so passes
// repeat until nothing new promotes or maxTickPasses is hit.
func (s *Scheduler) Tick(ctx context.Context) (*TickSummary, error) {
	summary := &TickSummary{}
	for pass := 0; pass < maxTickPasses; pass++ {
		summary.Passes = pass + 1
		now := s.clock.Now()
		ready, err := s.store.ListReadyQueueEntries(ctx, now)
		if err != nil {
			return nil, err
		}
		promotedThisPass := 0
		for _, e := range ready {
			ok, err := s.tryPromote(ctx, e, now, summary)
			if err != nil {
				s.logger.Error("promote failed", map[string]interface{}{"queue_entry_id": e.ID, "error": err.Error()})
				continue
			}
			if ok {
				promotedThisPass++
				summary.PromotedEntryIDs = append(summary.PromotedEntryIDs, e.ID)
			}
		}
		if promotedThisPass == 0 {
			break
		}
	}
	return summary, nil
}

// tryPromote evaluates the full promotion predicate for one QueueEntry and,
// if it holds, atomically consumes the entry and creates a queued Run, whose
// id it records in summary.
func (s *Scheduler) tryPromote(ctx context.Context, e *domain.QueueEntry, now time.Time, summary *TickSummary) (bool, error) {
	wi, err := s.store.GetWorkItem(ctx, e.WorkItemID)
	if err != nil {
		return false, err
	}

	if e.DependsOnWorkItemID != nil {
		dep, err := s.store.GetMostRecentTerminalRun(ctx, *e.DependsOnWorkItemID)
		if err != nil {
			return false, err
		}
		if dep == nil || dep.State != domain.RunSucceeded {
			return false, nil
		}
	}

	admitted, err := s.gate.Admits(ctx, e.WorkItemID)
	if err != nil {
		return false, err
	}
	if !admitted {
		return false, nil
	}

	project, err := s.store.GetProject(ctx, wi.ProjectID)
	if err != nil {
		return false, err
	}
	if !s.quota.Admits(project.ID, project.Quota) {
		return false, nil
	}

	running, err := s.store.GetRunningRunForWorkItem(ctx, e.WorkItemID)
	if err != nil {
		return false, err
	}
	if running != nil {
		return false, nil
	}

	prior, err := s.store.GetMostRecentTerminalRun(ctx, e.WorkItemID)
	if err != nil {
		return false, err
	}
	attempt := 1
	if prior != nil {
		attempt = prior.Attempt + 1
	}

	run := &domain.Run{
		ID:         uuid.NewString(),
		WorkItemID: e.WorkItemID,
		State:      domain.RunQueued,
		Attempt:    attempt,
		TraceID:    uuid.NewString(),
	}
	if err := s.store.PromoteQueueEntry(ctx, e.ID, run); err != nil {
		if platform.KindOf(err) == platform.KindConflict {
			// Already consumed by a concurrent tick; not an error for the caller.
			return false, nil
		}
		return false, err
	}
	s.quota.Record(project.ID, project.Quota, now)
	summary.CreatedRunIDs = append(summary.CreatedRunIDs, run.ID)
	return true, nil
}

// RequeueWorkItem creates a fresh QueueEntry for an operator-triggered
// re-enqueue, independent of any dependency.
func (s *Scheduler) RequeueWorkItem(ctx context.Context, workItemID string, priority int, delaySeconds float64) (*domain.QueueEntry, error) {
	return s.Enqueue(ctx, workItemID, nil, priority, delaySeconds)
}

// RequeueRun re-enqueues the WorkItem owning runID, optionally computing the
// delay from a RetryPolicy backoff instead of an explicit delaySeconds.
func (s *Scheduler) RequeueRun(ctx context.Context, runID string, priority int, backoffPolicy *retry.Policy, delaySeconds *float64) (*domain.QueueEntry, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	delay := 0.0
	switch {
	case delaySeconds != nil:
		delay = *delaySeconds
	case backoffPolicy != nil:
		delay = backoffPolicy.NextDelay(run.Attempt + 1).Seconds()
	}
	return s.Enqueue(ctx, run.WorkItemID, nil, priority, delay)
}

// ListQueue returns every QueueEntry, for read-only inspection.
func (s *Scheduler) ListQueue(ctx context.Context) ([]*domain.QueueEntry, error) {
	return s.store.ListQueueEntries(ctx)
}

// Peek returns the queued entries currently eligible by scheduled_for,
// in promotion order, without consuming them.
func (s *Scheduler) Peek(ctx context.Context) ([]*domain.QueueEntry, error) {
	return s.store.ListReadyQueueEntries(ctx, s.clock.Now())
}

// RunBackgroundLoop ticks on cadence until ctx is cancelled. It never
// overlaps two ticks (single-flight via tickMu) and tolerates transient
// Store errors with bounded retry.
func (s *Scheduler) RunBackgroundLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

func (s *Scheduler) tickOnce(ctx context.Context) {
	if !s.tickMu.TryLock() {
		return
	}
	defer s.tickMu.Unlock()
	_, err := retry.WithTransientRetry(ctx, 3, func() (*TickSummary, error) {
		return s.Tick(ctx)
	})
	if err != nil {
		s.logger.Error("background tick failed", map[string]interface{}{"error": err.Error()})
	}
}
