// Package domain defines the entities of the job lifecycle engine: Project,
// WorkItem, ApprovalRequest, QueueEntry, Run, RunStep, LogEntry, InfoRequest,
// and Agent. These are plain data types; behavior lives in the component
// packages (scheduler, lease, runlifecycle, ...) that operate on them under
// a Store transaction.
package domain

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Quota is a Project's admission budget for the Quota Meter.
type Quota struct {
	WindowSeconds int `json:"window_seconds"`
	MaxRuns       int `json:"max_runs"`
}

// Project is the top-level scope for work items and quota accounting.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quota       Quota  `json:"quota"`
}

// RetryPolicy overrides the project/global Retry Policy defaults for a
// single WorkItem.
type RetryPolicy struct {
	MaxRetries         int     `json:"max_retries"`
	BackoffBaseSeconds float64 `json:"backoff_base_seconds"`
	BackoffJitterSeconds float64 `json:"backoff_jitter_seconds"`
}

// ToolRecipe is an opaque, already-validated recipe value. The control plane
// never interprets it; recipe YAML parsing is an external concern. It is
// carried as a yaml.Node so it round-trips untouched through the Store.
type ToolRecipe struct {
	Raw *yaml.Node `json:"raw,omitempty"`
}

// WorkItem is a unit of work with an optional override policy and an
// optional opaque tool recipe.
type WorkItem struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ToolRecipe  *ToolRecipe  `json:"tool_recipe,omitempty"`
	Policy      *RetryPolicy `json:"policy,omitempty"`
}

// ApprovalState is the lifecycle of an ApprovalRequest.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// ApprovalRequest gates a risky WorkItem when the global approval policy is
// on. Decided once; terminal states are immutable.
type ApprovalRequest struct {
	ID         string        `json:"id"`
	WorkItemID string        `json:"work_item_id"`
	State      ApprovalState `json:"state"`
	CreatedAt  time.Time     `json:"created_at"`
	DecidedAt  *time.Time    `json:"decided_at,omitempty"`
}

// IsTerminal reports whether the approval has been decided.
func (a *ApprovalRequest) IsTerminal() bool {
	return a.State == ApprovalApproved || a.State == ApprovalRejected
}

// QueueEntryState is the lifecycle of a scheduled task tuple.
type QueueEntryState string

const (
	QueueEntryQueued   QueueEntryState = "queued"
	QueueEntryConsumed QueueEntryState = "consumed"
)

// QueueEntry (ScheduledTask) is the queue tuple the Scheduler promotes into a Run.
type QueueEntry struct {
	ID                   string          `json:"id"`
	WorkItemID           string          `json:"work_item_id"`
	DependsOnWorkItemID  *string         `json:"depends_on_work_item_id,omitempty"`
	Priority             int             `json:"priority"`
	ScheduledFor         time.Time       `json:"scheduled_for"`
	EnqueuedAt           time.Time       `json:"enqueued_at"`
	State                QueueEntryState `json:"state"`
}

// RunState is the lifecycle of a Run.
type RunState string

const (
	RunQueued    RunState = "queued"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// IsTerminal reports whether the Run has reached a final state.
func (s RunState) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// Run is an execution instance of a WorkItem.
type Run struct {
	ID               string     `json:"id"`
	WorkItemID       string     `json:"work_item_id"`
	State            RunState   `json:"state"`
	Attempt          int        `json:"attempt"`
	TraceID          string     `json:"trace_id"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	DurationSeconds  *float64   `json:"duration_seconds,omitempty"`
	ClaimedBy        string     `json:"claimed_by,omitempty"`
	ClaimExpiresAt   *time.Time `json:"claim_expires_at,omitempty"`
	LastHeartbeatAt  *time.Time `json:"last_heartbeat_at,omitempty"`
}

// Finish stamps the Run terminal and computes DurationSeconds when possible.
func (r *Run) Finish(state RunState, at time.Time) {
	r.State = state
	r.FinishedAt = &at
	r.ClaimedBy = ""
	r.ClaimExpiresAt = nil
	if r.StartedAt != nil {
		d := at.Sub(*r.StartedAt).Seconds()
		r.DurationSeconds = &d
	}
}

// StepStatus is the lifecycle of a RunStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RunStep is an ordered, structured event within a Run; idx is dense and
// unique per run.
type RunStep struct {
	ID              string                 `json:"id"`
	RunID           string                 `json:"run_id"`
	Idx             int                    `json:"idx"`
	Name            string                 `json:"name"`
	Status          StepStatus             `json:"status"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	FinishedAt      *time.Time             `json:"finished_at,omitempty"`
	DurationSeconds *float64               `json:"duration_seconds,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// LogStream distinguishes the three log channels a Run can emit on.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
	StreamSystem LogStream = "system"
)

// LogEntry is an append-only, strictly ordered log line for a Run.
type LogEntry struct {
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Stream    LogStream `json:"stream"`
	Text      string    `json:"text"`
}

// InfoRequestState is the lifecycle of an InfoRequest.
type InfoRequestState string

const (
	InfoRequestPending   InfoRequestState = "pending"
	InfoRequestAnswered  InfoRequestState = "answered"
	InfoRequestCancelled InfoRequestState = "cancelled"
)

// RequestedKey describes one required input name and any hint metadata for it.
type RequestedKey struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// InfoRequest is the side channel from an agent to a user for pending
// inputs (credentials, region, ...). Responses may be stored plaintext or
// as opaque ciphertext + a nonce/salt blob the core never interprets.
type InfoRequest struct {
	ID                string           `json:"id"`
	RunID             string           `json:"run_id"`
	Keys              []RequestedKey   `json:"keys"`
	State             InfoRequestState `json:"state"`
	Response          map[string]string `json:"response,omitempty"`
	ResponseEncrypted []byte           `json:"response_encrypted,omitempty"`
	EncryptionNonce   []byte           `json:"encryption_nonce,omitempty"`
}

// Agent is an advisory identity for claims; registered implicitly by its
// first heartbeat.
type Agent struct {
	ID         string    `json:"id"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
