// Package store defines the transactional persistence boundary for the
// control plane. All state-changing operations that must be atomic
// cross-entity (promoting a QueueEntry into a Run, claiming/heartbeating/
// releasing a lease, reclaiming an expired lease) are exposed as single
// Store methods so higher layers never have to batch-write across entities
// without a transaction. The relational-store-with-row-locking contract
// from the design is satisfied here by either an in-process mutex
// (MemStore) or Redis WATCH/MULTI (RedisStore); callers depend only on this
// interface.
package store

import (
	"context"
	"time"

	"github.com/orbital-run/jobctl/domain"
)

// Store is the persistence boundary used by every higher-level component.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *domain.Project) error
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	UpdateProjectQuota(ctx context.Context, id string, q domain.Quota) error
	ListProjects(ctx context.Context) ([]*domain.Project, error)

	// WorkItems
	CreateWorkItem(ctx context.Context, w *domain.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error)
	SetToolRecipe(ctx context.Context, id string, recipe *domain.ToolRecipe) error
	SetPolicy(ctx context.Context, id string, policy *domain.RetryPolicy) error

	// Approvals
	CreateApproval(ctx context.Context, a *domain.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	DecideApproval(ctx context.Context, id string, approve bool, at time.Time) (*domain.ApprovalRequest, error)
	ListApprovalsForWorkItem(ctx context.Context, workItemID string) ([]*domain.ApprovalRequest, error)

	// QueueEntries
	CreateQueueEntry(ctx context.Context, e *domain.QueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (*domain.QueueEntry, error)
	ListQueueEntries(ctx context.Context) ([]*domain.QueueEntry, error)
	ListReadyQueueEntries(ctx context.Context, now time.Time) ([]*domain.QueueEntry, error)

	// Runs
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRunsForWorkItem(ctx context.Context, workItemID string) ([]*domain.Run, error)
	GetRunningRunForWorkItem(ctx context.Context, workItemID string) (*domain.Run, error)
	GetMostRecentTerminalRun(ctx context.Context, workItemID string) (*domain.Run, error)

	// Steps
	CreateStep(ctx context.Context, s *domain.RunStep) error
	UpdateStep(ctx context.Context, s *domain.RunStep) error
	ListSteps(ctx context.Context, runID string) ([]*domain.RunStep, error)
	GetStep(ctx context.Context, id string) (*domain.RunStep, error)

	// Logs
	AppendLog(ctx context.Context, runID string, stream domain.LogStream, text string, at time.Time) (*domain.LogEntry, error)
	ListLogs(ctx context.Context, runID string, offset, limit int) ([]*domain.LogEntry, error)

	// InfoRequests
	CreateInfoRequest(ctx context.Context, ir *domain.InfoRequest) error
	GetInfoRequest(ctx context.Context, id string) (*domain.InfoRequest, error)
	UpdateInfoRequest(ctx context.Context, ir *domain.InfoRequest) error
	ListInfoRequestsForRun(ctx context.Context, runID string) ([]*domain.InfoRequest, error)

	// Agents
	TouchAgent(ctx context.Context, id string, at time.Time) error
	ListAgents(ctx context.Context) ([]*domain.Agent, error)

	// Atomic cross-entity transactions.

	// PromoteQueueEntry atomically marks entry consumed and creates run, iff
	// the entry is still queued. Returns platform ErrConflict-kind error if
	// the entry was already consumed by a concurrent tick.
	PromoteQueueEntry(ctx context.Context, entryID string, run *domain.Run) error

	// ClaimRun atomically grants a lease iff the run is queued or its
	// current claim has expired. granted=false means busy.
	ClaimRun(ctx context.Context, runID, agentID string, ttl time.Duration, now time.Time) (run *domain.Run, granted bool, err error)

	// HeartbeatRun atomically extends the lease iff held by agentID. ok=false means lost.
	HeartbeatRun(ctx context.Context, runID, agentID string, ttl time.Duration, now time.Time) (run *domain.Run, ok bool, err error)

	// ReleaseRun atomically transitions the run to a terminal state iff
	// held by agentID. ok=false means the caller no longer holds the lease.
	ReleaseRun(ctx context.Context, runID, agentID string, terminal domain.RunState, now time.Time) (run *domain.Run, ok bool, err error)

	// ForceTerminal transitions a run to a terminal state regardless of
	// holder (used by cancel()).
	ForceTerminal(ctx context.Context, runID string, terminal domain.RunState, now time.Time) (run *domain.Run, err error)

	// ExpireRun atomically reclaims a running run whose claim has expired,
	// moving it back to queued and bumping attempt, or finishing it as failed
	// (decided by the caller via targetState) with attempt unchanged.
	// reclaimed=false if nothing to do.
	ExpireRun(ctx context.Context, runID string, targetState domain.RunState, now time.Time) (run *domain.Run, reclaimed bool, err error)

	// ListRunningExpired returns runs in state running whose claim_expires_at < now.
	ListRunningExpired(ctx context.Context, now time.Time) ([]*domain.Run, error)
}
