// Package approval implements the Approval Gate: a global require_approval
// policy that, when on, blocks a WorkItem's promotion unless it holds an
// approved ApprovalRequest and no pending one. Approval is per-WorkItem and
// sticky across retries, not per-Run.
package approval

import (
	"context"

	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/store"
)

// Gate is the Approval Gate.
type Gate struct {
	store   store.Store
	clock   platform.Clock
	enabled bool
}

// New builds a Gate. enabled mirrors the require_approval configuration
// option.
func New(st store.Store, clock platform.Clock, enabled bool) *Gate {
	return &Gate{store: st, clock: clock, enabled: enabled}
}

// Admits reports whether workItemID may be promoted right now.
func (g *Gate) Admits(ctx context.Context, workItemID string) (bool, error) {
	if !g.enabled {
		return true, nil
	}
	approvals, err := g.store.ListApprovalsForWorkItem(ctx, workItemID)
	if err != nil {
		return false, err
	}
	approved := false
	for _, a := range approvals {
		switch a.State {
		case domain.ApprovalPending:
			return false, nil
		case domain.ApprovalApproved:
			approved = true
		}
	}
	return approved, nil
}

// Request creates a new pending ApprovalRequest for workItemID.
func (g *Gate) Request(ctx context.Context, id, workItemID string) (*domain.ApprovalRequest, error) {
	a := &domain.ApprovalRequest{
		ID:         id,
		WorkItemID: workItemID,
		State:      domain.ApprovalPending,
		CreatedAt:  g.clock.Now(),
	}
	if err := g.store.CreateApproval(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Decide approves or rejects a pending ApprovalRequest.
func (g *Gate) Decide(ctx context.Context, approvalID string, approve bool) (*domain.ApprovalRequest, error) {
	return g.store.DecideApproval(ctx, approvalID, approve, g.clock.Now())
}
