// Package runlifecycle implements the Run Lifecycle operations usable by
// the owning agent and by operators: log/step append, completion (which
// consults the Retry Policy), and cancellation. Store errors, transient or
// not, are returned to the caller without a local retry.
package runlifecycle

import (
	"context"

	"github.com/google/uuid"

	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/lease"
	"github.com/orbital-run/jobctl/logbus"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/retry"
	"github.com/orbital-run/jobctl/scheduler"
	"github.com/orbital-run/jobctl/store"
)

// Lifecycle wires together the Store, Log Bus, Lease Manager, Retry Policy,
// and Scheduler to implement the Run state machine's operator-facing
// surface.
type Lifecycle struct {
	store        store.Store
	bus          *logbus.Bus
	lease        *lease.Manager
	scheduler    *scheduler.Scheduler
	clock        platform.Clock
	defaultPolicy retry.Policy
}

// New builds a Lifecycle.
func New(st store.Store, bus *logbus.Bus, lm *lease.Manager, sch *scheduler.Scheduler, clock platform.Clock, defaultPolicy retry.Policy) *Lifecycle {
	return &Lifecycle{store: st, bus: bus, lease: lm, scheduler: sch, clock: clock, defaultPolicy: defaultPolicy}
}

// AppendLog assigns the next seq, persists, and publishes on the Log Bus.
// If persistence fails the fan-out does not fire.
func (l *Lifecycle) AppendLog(ctx context.Context, runID string, stream domain.LogStream, text string) (*domain.LogEntry, error) {
	entry, err := l.store.AppendLog(ctx, runID, stream, text, l.clock.Now())
	if err != nil {
		return nil, err
	}
	l.bus.PublishLog(entry)
	return entry, nil
}

// CreateStep records a new structured step event. idx must be unique and
// dense per run; the Store rejects gaps and duplicates as a conflict.
func (l *Lifecycle) CreateStep(ctx context.Context, runID string, idx int, name string) (*domain.RunStep, error) {
	st := &domain.RunStep{
		ID:     uuid.NewString(),
		RunID:  runID,
		Idx:    idx,
		Name:   name,
		Status: domain.StepPending,
	}
	if err := l.store.CreateStep(ctx, st); err != nil {
		return nil, err
	}
	l.bus.PublishStep(st)
	return st, nil
}

// UpdateStep transitions a step's status/times/metadata and publishes it.
func (l *Lifecycle) UpdateStep(ctx context.Context, stepID string, status domain.StepStatus, metadata map[string]interface{}) (*domain.RunStep, error) {
	st, err := l.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	switch status {
	case domain.StepRunning:
		if st.StartedAt == nil {
			st.StartedAt = &now
		}
	case domain.StepSucceeded, domain.StepFailed, domain.StepSkipped:
		st.FinishedAt = &now
		if st.StartedAt != nil {
			d := now.Sub(*st.StartedAt).Seconds()
			st.DurationSeconds = &d
		}
	}
	st.Status = status
	if metadata != nil {
		st.Metadata = metadata
	}
	if err := l.store.UpdateStep(ctx, st); err != nil {
		return nil, err
	}
	l.bus.PublishStep(st)
	return st, nil
}

// Complete releases the agent's lease with the given outcome. On failure it
// consults the Retry Policy: if budget remains, a fresh QueueEntry is
// created with the computed backoff delay so the WorkItem's next Run will
// share work_item_id but get a new Run id and attempt = attempt+1.
func (l *Lifecycle) Complete(ctx context.Context, runID, agentID string, success bool) (*domain.Run, error) {
	outcome := domain.RunSucceeded
	if !success {
		outcome = domain.RunFailed
	}
	run, ok, err := l.lease.Release(ctx, runID, agentID, outcome)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, platform.NewError("runlifecycle.Complete", platform.KindConflict, "run is terminal or lease not held by caller")
	}
	if success {
		return run, nil
	}

	wi, err := l.store.GetWorkItem(ctx, run.WorkItemID)
	if err != nil {
		return run, err
	}
	policy := l.defaultPolicy.ForWorkItem(wi.Policy)
	if policy.ExhaustedAfter(run.Attempt) {
		return run, nil
	}
	delay := policy.NextDelay(run.Attempt).Seconds()
	if _, err := l.scheduler.Enqueue(ctx, run.WorkItemID, nil, 0, delay); err != nil {
		return run, err
	}
	return run, nil
}

// Cancel forces the Run to terminal cancelled regardless of lease holder;
// this never triggers the Retry Policy.
func (l *Lifecycle) Cancel(ctx context.Context, runID string) (*domain.Run, error) {
	return l.store.ForceTerminal(ctx, runID, domain.RunCancelled, l.clock.Now())
}
