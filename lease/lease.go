// Package lease implements the Lease Manager: exclusive, time-bounded
// ownership of a Run by an agent, enforced by the Store's atomic
// claim/heartbeat/release/expire methods so that within any transaction
// boundary at most one agent ever observes claim=granted for a given Run.
package lease

import (
	"context"
	"strconv"
	"time"

	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/logbus"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/retry"
	"github.com/orbital-run/jobctl/store"
)

// Manager is the Lease Manager.
type Manager struct {
	store         store.Store
	bus           *logbus.Bus
	clock         platform.Clock
	logger        platform.Logger
	defaultTTL    time.Duration
	defaultPolicy retry.Policy
}

// New builds a Lease Manager. defaultTTL is used when claim is called
// without an explicit ttl; defaultPolicy governs whether an expired claim
// goes back to queued or straight to failed, subject to each WorkItem's own
// override.
func New(st store.Store, bus *logbus.Bus, clock platform.Clock, logger platform.ComponentLogger, defaultTTL time.Duration, defaultPolicy retry.Policy) *Manager {
	return &Manager{store: st, bus: bus, clock: clock, logger: logger.WithComponent("lease"), defaultTTL: defaultTTL, defaultPolicy: defaultPolicy}
}

// ClaimResult is returned by Claim.
type ClaimResult struct {
	Granted        bool
	Run            *domain.Run
	ClaimExpiresAt time.Time
}

// Claim attempts to acquire the lease on runID for agentID. If ttl is zero
// the manager's default TTL is used.
func (m *Manager) Claim(ctx context.Context, runID, agentID string, ttl time.Duration) (*ClaimResult, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := m.clock.Now()
	run, granted, err := m.store.ClaimRun(ctx, runID, agentID, ttl, now)
	if err != nil {
		return nil, err
	}
	if !granted {
		return &ClaimResult{Granted: false}, nil
	}
	if err := m.store.TouchAgent(ctx, agentID, now); err != nil {
		m.logger.Warn("touch agent failed after claim", map[string]interface{}{"agent_id": agentID, "error": err.Error()})
	}
	return &ClaimResult{Granted: true, Run: run, ClaimExpiresAt: *run.ClaimExpiresAt}, nil
}

// Heartbeat extends an agent's claim. ok=false means the caller no longer
// holds the lease and must stop work.
func (m *Manager) Heartbeat(ctx context.Context, runID, agentID string, ttl time.Duration) (run *domain.Run, ok bool, err error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := m.clock.Now()
	run, ok, err = m.store.HeartbeatRun(ctx, runID, agentID, ttl, now)
	if err != nil {
		return nil, false, err
	}
	if ok {
		if terr := m.store.TouchAgent(ctx, agentID, now); terr != nil {
			m.logger.Warn("touch agent failed after heartbeat", map[string]interface{}{"agent_id": agentID, "error": terr.Error()})
		}
	}
	return run, ok, nil
}

// Release transitions the Run to a terminal state, clearing the lease.
// ok=false means agentID no longer holds the lease.
func (m *Manager) Release(ctx context.Context, runID, agentID string, terminal domain.RunState) (run *domain.Run, ok bool, err error) {
	if !terminal.IsTerminal() {
		return nil, false, platform.NewError("lease.Release", platform.KindValidation, "outcome must be a terminal run state")
	}
	return m.store.ReleaseRun(ctx, runID, agentID, terminal, m.clock.Now())
}

// ExpireScan is the periodic sweep: it finds Runs whose claim has expired
// and, if retry budget remains, moves them back to queued and increments
// attempt; otherwise it forces the Run straight to failed. Either way it
// publishes a system log entry describing the outcome. The caller
// (scheduler/cmd wiring) decides the cadence.
func (m *Manager) ExpireScan(ctx context.Context) (reclaimed int, err error) {
	now := m.clock.Now()
	expired, err := m.store.ListRunningExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, r := range expired {
		target := domain.RunQueued
		if wi, werr := m.store.GetWorkItem(ctx, r.WorkItemID); werr == nil {
			policy := m.defaultPolicy.ForWorkItem(wi.Policy)
			if policy.ExhaustedAfter(r.Attempt) {
				target = domain.RunFailed
			}
		} else {
			m.logger.Error("load work item failed during expire scan", map[string]interface{}{"run_id": r.ID, "error": werr.Error()})
		}

		run, ok, err := m.store.ExpireRun(ctx, r.ID, target, now)
		if err != nil {
			m.logger.Error("expire run failed", map[string]interface{}{"run_id": r.ID, "error": err.Error()})
			continue
		}
		if !ok {
			continue
		}
		reclaimed++
		var text string
		if target == domain.RunQueued {
			text = "lease expired, run reclaimed to queued (attempt " + strconv.Itoa(run.Attempt) + ")"
		} else {
			text = "lease expired, retry budget exhausted, run failed (attempt " + strconv.Itoa(run.Attempt) + ")"
		}
		entry, aerr := m.store.AppendLog(ctx, run.ID, domain.StreamSystem, text, now)
		if aerr != nil {
			m.logger.Error("append reclaim log failed", map[string]interface{}{"run_id": run.ID, "error": aerr.Error()})
			continue
		}
		m.bus.PublishLog(entry)
	}
	return reclaimed, nil
}
