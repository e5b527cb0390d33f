package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orbital-run/jobctl/domain"
)

// MemStore is an in-process Store guarded by a single mutex. It is both the
// default lightweight production backend and the workhorse for unit tests,
// grounded on the teacher's in-memory test doubles, generalized into a real
// implementation of the Store contract (every atomic method here holds the
// same lock for its whole critical section, which is the in-process
// equivalent of a row-locked transaction).
type MemStore struct {
	mu sync.Mutex

	projects  map[string]*domain.Project
	workItems map[string]*domain.WorkItem
	approvals map[string]*domain.ApprovalRequest
	entries   map[string]*domain.QueueEntry
	runs      map[string]*domain.Run
	steps     map[string]*domain.RunStep
	logs      map[string][]*domain.LogEntry
	infoReqs  map[string]*domain.InfoRequest
	agents    map[string]*domain.Agent
}

// NewMemStore builds an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		projects:  make(map[string]*domain.Project),
		workItems: make(map[string]*domain.WorkItem),
		approvals: make(map[string]*domain.ApprovalRequest),
		entries:   make(map[string]*domain.QueueEntry),
		runs:      make(map[string]*domain.Run),
		steps:     make(map[string]*domain.RunStep),
		logs:      make(map[string][]*domain.LogEntry),
		infoReqs:  make(map[string]*domain.InfoRequest),
		agents:    make(map[string]*domain.Agent),
	}
}

// ---- Projects ----

func (s *MemStore) CreateProject(ctx context.Context, p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *MemStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, notFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) UpdateProjectQuota(ctx context.Context, id string, q domain.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return notFound("project", id)
	}
	p.Quota = q
	return nil
}

func (s *MemStore) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- WorkItems ----

func (s *MemStore) CreateWorkItem(ctx context.Context, w *domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workItems[w.ID] = &cp
	return nil
}

func (s *MemStore) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workItems[id]
	if !ok {
		return nil, notFound("work_item", id)
	}
	cp := *w
	return &cp, nil
}

func (s *MemStore) SetToolRecipe(ctx context.Context, id string, recipe *domain.ToolRecipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workItems[id]
	if !ok {
		return notFound("work_item", id)
	}
	w.ToolRecipe = recipe
	return nil
}

func (s *MemStore) SetPolicy(ctx context.Context, id string, policy *domain.RetryPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workItems[id]
	if !ok {
		return notFound("work_item", id)
	}
	w.Policy = policy
	return nil
}

// ---- Approvals ----

func (s *MemStore) CreateApproval(ctx context.Context, a *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.approvals[a.ID] = &cp
	return nil
}

func (s *MemStore) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, notFound("approval", id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemStore) DecideApproval(ctx context.Context, id string, approve bool, at time.Time) (*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, notFound("approval", id)
	}
	if a.IsTerminal() {
		return nil, conflict("approval.Decide", "approval", id, "approval already decided")
	}
	if approve {
		a.State = domain.ApprovalApproved
	} else {
		a.State = domain.ApprovalRejected
	}
	a.DecidedAt = &at
	cp := *a
	return &cp, nil
}

func (s *MemStore) ListApprovalsForWorkItem(ctx context.Context, workItemID string) ([]*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ApprovalRequest
	for _, a := range s.approvals {
		if a.WorkItemID == workItemID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- QueueEntries ----

func (s *MemStore) CreateQueueEntry(ctx context.Context, e *domain.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *MemStore) GetQueueEntry(ctx context.Context, id string) (*domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, notFound("queue_entry", id)
	}
	cp := *e
	return &cp, nil
}

func (s *MemStore) ListQueueEntries(ctx context.Context) ([]*domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.QueueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	sortQueueEntries(out)
	return out, nil
}

func (s *MemStore) ListReadyQueueEntries(ctx context.Context, now time.Time) ([]*domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.QueueEntry
	for _, e := range s.entries {
		if e.State == domain.QueueEntryQueued && !e.ScheduledFor.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortQueueEntries(out)
	return out, nil
}

// sortQueueEntries orders by (priority DESC, enqueued_at ASC, id ASC) per
// the Scheduler's deterministic promotion ordering.
func sortQueueEntries(entries []*domain.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.ID < b.ID
	})
}

// ---- Runs ----

func (s *MemStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) ListRunsForWorkItem(ctx context.Context, workItemID string) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Run
	for _, r := range s.runs {
		if r.WorkItemID == workItemID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (s *MemStore) GetRunningRunForWorkItem(ctx context.Context, workItemID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.WorkItemID == workItemID && r.State == domain.RunRunning {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

// GetMostRecentTerminalRun returns the WorkItem's most recent terminal Run,
// using Attempt as the ordering (higher attempt = more recent), per the
// adopted reading of the dependency-satisfaction open question.
func (s *MemStore) GetMostRecentTerminalRun(ctx context.Context, workItemID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Run
	for _, r := range s.runs {
		if r.WorkItemID != workItemID || !r.State.IsTerminal() {
			continue
		}
		if best == nil || r.Attempt > best.Attempt {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// ---- Steps ----

func (s *MemStore) CreateStep(ctx context.Context, st *domain.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.steps {
		if existing.RunID == st.RunID && existing.Idx == st.Idx {
			return conflict("run.CreateStep", "run_step", st.ID, "duplicate idx for run")
		}
	}
	cp := *st
	s.steps[st.ID] = &cp
	return nil
}

func (s *MemStore) UpdateStep(ctx context.Context, st *domain.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[st.ID]; !ok {
		return notFound("run_step", st.ID)
	}
	cp := *st
	s.steps[st.ID] = &cp
	return nil
}

func (s *MemStore) GetStep(ctx context.Context, id string) (*domain.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, notFound("run_step", id)
	}
	cp := *st
	return &cp, nil
}

func (s *MemStore) ListSteps(ctx context.Context, runID string) ([]*domain.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.RunStep
	for _, st := range s.steps {
		if st.RunID == runID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out, nil
}

// ---- Logs ----

func (s *MemStore) AppendLog(ctx context.Context, runID string, stream domain.LogStream, text string, at time.Time) (*domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := int64(len(s.logs[runID])) + 1
	entry := &domain.LogEntry{RunID: runID, Seq: seq, Timestamp: at, Stream: stream, Text: text}
	s.logs[runID] = append(s.logs[runID], entry)
	cp := *entry
	return &cp, nil
}

func (s *MemStore) ListLogs(ctx context.Context, runID string, offset, limit int) ([]*domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.logs[runID]
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*domain.LogEntry, 0, end-offset)
	for _, e := range all[offset:end] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// ---- InfoRequests ----

func (s *MemStore) CreateInfoRequest(ctx context.Context, ir *domain.InfoRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ir
	s.infoReqs[ir.ID] = &cp
	return nil
}

func (s *MemStore) GetInfoRequest(ctx context.Context, id string) (*domain.InfoRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ir, ok := s.infoReqs[id]
	if !ok {
		return nil, notFound("info_request", id)
	}
	cp := *ir
	return &cp, nil
}

func (s *MemStore) UpdateInfoRequest(ctx context.Context, ir *domain.InfoRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.infoReqs[ir.ID]; !ok {
		return notFound("info_request", ir.ID)
	}
	cp := *ir
	s.infoReqs[ir.ID] = &cp
	return nil
}

func (s *MemStore) ListInfoRequestsForRun(ctx context.Context, runID string) ([]*domain.InfoRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.InfoRequest
	for _, ir := range s.infoReqs {
		if ir.RunID == runID {
			cp := *ir
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Agents ----

func (s *MemStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[id] = &domain.Agent{ID: id, LastSeenAt: at}
	return nil
}

func (s *MemStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Atomic cross-entity transactions ----

func (s *MemStore) PromoteQueueEntry(ctx context.Context, entryID string, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return notFound("queue_entry", entryID)
	}
	if e.State != domain.QueueEntryQueued {
		return conflict("scheduler.Promote", "queue_entry", entryID, "entry already consumed")
	}
	e.State = domain.QueueEntryConsumed
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemStore) ClaimRun(ctx context.Context, runID, agentID string, ttl time.Duration, now time.Time) (*domain.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, false, notFound("run", runID)
	}
	expired := r.State == domain.RunRunning && r.ClaimExpiresAt != nil && r.ClaimExpiresAt.Before(now)
	if r.State != domain.RunQueued && !expired {
		return nil, false, nil
	}
	reclaim := expired
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	if reclaim {
		r.Attempt++
	}
	r.State = domain.RunRunning
	r.ClaimedBy = agentID
	expiresAt := now.Add(ttl)
	r.ClaimExpiresAt = &expiresAt
	r.LastHeartbeatAt = nil
	cp := *r
	return &cp, true, nil
}

func (s *MemStore) HeartbeatRun(ctx context.Context, runID, agentID string, ttl time.Duration, now time.Time) (*domain.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, false, notFound("run", runID)
	}
	if r.State != domain.RunRunning || r.ClaimedBy != agentID {
		return nil, false, nil
	}
	expiresAt := now.Add(ttl)
	r.ClaimExpiresAt = &expiresAt
	r.LastHeartbeatAt = &now
	cp := *r
	return &cp, true, nil
}

func (s *MemStore) ReleaseRun(ctx context.Context, runID, agentID string, terminal domain.RunState, now time.Time) (*domain.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, false, notFound("run", runID)
	}
	if r.State.IsTerminal() {
		return nil, false, nil
	}
	if r.ClaimedBy != agentID {
		return nil, false, nil
	}
	r.Finish(terminal, now)
	cp := *r
	return &cp, true, nil
}

func (s *MemStore) ForceTerminal(ctx context.Context, runID string, terminal domain.RunState, now time.Time) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, notFound("run", runID)
	}
	if r.State.IsTerminal() {
		return nil, conflict("run.Cancel", "run", runID, "run already terminal")
	}
	r.Finish(terminal, now)
	cp := *r
	return &cp, nil
}

func (s *MemStore) ExpireRun(ctx context.Context, runID string, targetState domain.RunState, now time.Time) (*domain.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, false, notFound("run", runID)
	}
	if r.State != domain.RunRunning || r.ClaimExpiresAt == nil || !r.ClaimExpiresAt.Before(now) {
		return nil, false, nil
	}
	if targetState == domain.RunQueued {
		r.State = domain.RunQueued
		r.Attempt++
		r.ClaimedBy = ""
		r.ClaimExpiresAt = nil
		r.LastHeartbeatAt = nil
	} else {
		r.Finish(targetState, now)
	}
	cp := *r
	return &cp, true, nil
}

func (s *MemStore) ListRunningExpired(ctx context.Context, now time.Time) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Run
	for _, r := range s.runs {
		if r.State == domain.RunRunning && r.ClaimExpiresAt != nil && r.ClaimExpiresAt.Before(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Store = (*MemStore)(nil)
