package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/orbital-run/jobctl/domain"
)

// RedisStore implements Store on top of Redis, using WATCH/MULTI for the
// cross-entity atomic methods. Grounded on the teacher's
// RedisStateStore.UpdateStepExecution pattern (read-under-watch, mutate,
// TxPipelined write-back). Entities are JSON blobs under one key per entity;
// set/list membership keys provide the index structures (per-work-item run
// list, per-run log list, the queue-entry set, the agent set).
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a Store backed by the given Redis client. ttl is
// applied to entity keys as a retention bound; pass 0 to keep entries
// forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func projectKey(id string) string       { return fmt.Sprintf("jobctl:project:%s", id) }
func projectSetKey() string             { return "jobctl:projects" }
func workItemKey(id string) string      { return fmt.Sprintf("jobctl:workitem:%s", id) }
func approvalKey(id string) string      { return fmt.Sprintf("jobctl:approval:%s", id) }
func approvalsByWIKey(wi string) string { return fmt.Sprintf("jobctl:workitem:%s:approvals", wi) }
func entryKey(id string) string         { return fmt.Sprintf("jobctl:entry:%s", id) }
func entrySetKey() string               { return "jobctl:entries" }
func runKey(id string) string           { return fmt.Sprintf("jobctl:run:%s", id) }
func runsByWIKey(wi string) string      { return fmt.Sprintf("jobctl:workitem:%s:runs", wi) }
func stepKey(id string) string          { return fmt.Sprintf("jobctl:step:%s", id) }
func stepsByRunKey(run string) string   { return fmt.Sprintf("jobctl:run:%s:steps", run) }
func logsKey(run string) string         { return fmt.Sprintf("jobctl:run:%s:logs", run) }
func infoReqKey(id string) string       { return fmt.Sprintf("jobctl:inforeq:%s", id) }
func infoReqsByRunKey(run string) string { return fmt.Sprintf("jobctl:run:%s:inforeqs", run) }
func agentKey(id string) string         { return fmt.Sprintf("jobctl:agent:%s", id) }
func agentSetKey() string               { return "jobctl:agents" }

func (s *RedisStore) set(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisStore) get(ctx context.Context, key string, entity, id string, v interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return notFound(entity, id)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return json.Unmarshal(data, v)
}

// ---- Projects ----

func (s *RedisStore) CreateProject(ctx context.Context, p *domain.Project) error {
	if err := s.set(ctx, projectKey(p.ID), p); err != nil {
		return err
	}
	return s.client.SAdd(ctx, projectSetKey(), p.ID).Err()
}

func (s *RedisStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var p domain.Project
	if err := s.get(ctx, projectKey(id), "project", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) UpdateProjectQuota(ctx context.Context, id string, q domain.Quota) error {
	key := projectKey(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		var p domain.Project
		if err := s.get(ctx, key, "project", id, &p); err != nil {
			return err
		}
		p.Quota = q
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&p)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	ids, err := s.client.SMembers(ctx, projectSetKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Project, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProject(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- WorkItems ----

func (s *RedisStore) CreateWorkItem(ctx context.Context, w *domain.WorkItem) error {
	return s.set(ctx, workItemKey(w.ID), w)
}

func (s *RedisStore) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	var w domain.WorkItem
	if err := s.get(ctx, workItemKey(id), "work_item", id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *RedisStore) SetToolRecipe(ctx context.Context, id string, recipe *domain.ToolRecipe) error {
	key := workItemKey(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		var w domain.WorkItem
		if err := s.get(ctx, key, "work_item", id, &w); err != nil {
			return err
		}
		w.ToolRecipe = recipe
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&w)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) SetPolicy(ctx context.Context, id string, policy *domain.RetryPolicy) error {
	key := workItemKey(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		var w domain.WorkItem
		if err := s.get(ctx, key, "work_item", id, &w); err != nil {
			return err
		}
		w.Policy = policy
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&w)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
}

// ---- Approvals ----

func (s *RedisStore) CreateApproval(ctx context.Context, a *domain.ApprovalRequest) error {
	if err := s.set(ctx, approvalKey(a.ID), a); err != nil {
		return err
	}
	return s.client.SAdd(ctx, approvalsByWIKey(a.WorkItemID), a.ID).Err()
}

func (s *RedisStore) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	var a domain.ApprovalRequest
	if err := s.get(ctx, approvalKey(id), "approval", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *RedisStore) DecideApproval(ctx context.Context, id string, approve bool, at time.Time) (*domain.ApprovalRequest, error) {
	key := approvalKey(id)
	var result *domain.ApprovalRequest
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var a domain.ApprovalRequest
		if err := s.get(ctx, key, "approval", id, &a); err != nil {
			return err
		}
		if a.IsTerminal() {
			return conflict("approval.Decide", "approval", id, "approval already decided")
		}
		if approve {
			a.State = domain.ApprovalApproved
		} else {
			a.State = domain.ApprovalRejected
		}
		a.DecidedAt = &at
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&a)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = &a
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) ListApprovalsForWorkItem(ctx context.Context, workItemID string) ([]*domain.ApprovalRequest, error) {
	ids, err := s.client.SMembers(ctx, approvalsByWIKey(workItemID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ApprovalRequest, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetApproval(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- QueueEntries ----

func (s *RedisStore) CreateQueueEntry(ctx context.Context, e *domain.QueueEntry) error {
	if err := s.set(ctx, entryKey(e.ID), e); err != nil {
		return err
	}
	return s.client.SAdd(ctx, entrySetKey(), e.ID).Err()
}

func (s *RedisStore) GetQueueEntry(ctx context.Context, id string) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	if err := s.get(ctx, entryKey(id), "queue_entry", id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *RedisStore) allEntries(ctx context.Context) ([]*domain.QueueEntry, error) {
	ids, err := s.client.SMembers(ctx, entrySetKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.QueueEntry, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetQueueEntry(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) ListQueueEntries(ctx context.Context) ([]*domain.QueueEntry, error) {
	out, err := s.allEntries(ctx)
	if err != nil {
		return nil, err
	}
	sortQueueEntries(out)
	return out, nil
}

func (s *RedisStore) ListReadyQueueEntries(ctx context.Context, now time.Time) ([]*domain.QueueEntry, error) {
	all, err := s.allEntries(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.QueueEntry
	for _, e := range all {
		if e.State == domain.QueueEntryQueued && !e.ScheduledFor.After(now) {
			out = append(out, e)
		}
	}
	sortQueueEntries(out)
	return out, nil
}

// ---- Runs ----

func (s *RedisStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	var r domain.Run
	if err := s.get(ctx, runKey(id), "run", id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) ListRunsForWorkItem(ctx context.Context, workItemID string) ([]*domain.Run, error) {
	ids, err := s.client.LRange(ctx, runsByWIKey(workItemID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (s *RedisStore) GetRunningRunForWorkItem(ctx context.Context, workItemID string) (*domain.Run, error) {
	runs, err := s.ListRunsForWorkItem(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.State == domain.RunRunning {
			return r, nil
		}
	}
	return nil, nil
}

func (s *RedisStore) GetMostRecentTerminalRun(ctx context.Context, workItemID string) (*domain.Run, error) {
	runs, err := s.ListRunsForWorkItem(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	var best *domain.Run
	for _, r := range runs {
		if !r.State.IsTerminal() {
			continue
		}
		if best == nil || r.Attempt > best.Attempt {
			best = r
		}
	}
	return best, nil
}

// ---- Steps ----

func (s *RedisStore) CreateStep(ctx context.Context, st *domain.RunStep) error {
	key := stepKey(st.ID)
	listKey := stepsByRunKey(st.RunID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.ListSteps(ctx, st.RunID)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.Idx == st.Idx {
				return conflict("run.CreateStep", "run_step", st.ID, "duplicate idx for run")
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(st)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			pipe.RPush(ctx, listKey, st.ID)
			return nil
		})
		return err
	}, listKey)
}

func (s *RedisStore) UpdateStep(ctx context.Context, st *domain.RunStep) error {
	key := stepKey(st.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return notFound("run_step", st.ID)
	}
	return s.set(ctx, key, st)
}

func (s *RedisStore) GetStep(ctx context.Context, id string) (*domain.RunStep, error) {
	var st domain.RunStep
	if err := s.get(ctx, stepKey(id), "run_step", id, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisStore) ListSteps(ctx context.Context, runID string) ([]*domain.RunStep, error) {
	ids, err := s.client.LRange(ctx, stepsByRunKey(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.RunStep, 0, len(ids))
	for _, id := range ids {
		st, err := s.GetStep(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out, nil
}

// ---- Logs ----

func (s *RedisStore) AppendLog(ctx context.Context, runID string, stream domain.LogStream, text string, at time.Time) (*domain.LogEntry, error) {
	key := logsKey(runID)
	var entry *domain.LogEntry
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		e := &domain.LogEntry{RunID: runID, Seq: n + 1, Timestamp: at, Stream: stream, Text: text}
		data, merr := json.Marshal(e)
		if merr != nil {
			return merr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, data)
			return nil
		})
		if err != nil {
			return err
		}
		entry = e
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *RedisStore) ListLogs(ctx context.Context, runID string, offset, limit int) ([]*domain.LogEntry, error) {
	key := logsKey(runID)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	raw, err := s.client.LRange(ctx, key, int64(offset), stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.LogEntry, 0, len(raw))
	for _, item := range raw {
		var e domain.LogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

// ---- InfoRequests ----

func (s *RedisStore) CreateInfoRequest(ctx context.Context, ir *domain.InfoRequest) error {
	if err := s.set(ctx, infoReqKey(ir.ID), ir); err != nil {
		return err
	}
	return s.client.RPush(ctx, infoReqsByRunKey(ir.RunID), ir.ID).Err()
}

func (s *RedisStore) GetInfoRequest(ctx context.Context, id string) (*domain.InfoRequest, error) {
	var ir domain.InfoRequest
	if err := s.get(ctx, infoReqKey(id), "info_request", id, &ir); err != nil {
		return nil, err
	}
	return &ir, nil
}

func (s *RedisStore) UpdateInfoRequest(ctx context.Context, ir *domain.InfoRequest) error {
	key := infoReqKey(ir.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return notFound("info_request", ir.ID)
	}
	return s.set(ctx, key, ir)
}

func (s *RedisStore) ListInfoRequestsForRun(ctx context.Context, runID string) ([]*domain.InfoRequest, error) {
	ids, err := s.client.LRange(ctx, infoReqsByRunKey(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.InfoRequest, 0, len(ids))
	for _, id := range ids {
		ir, err := s.GetInfoRequest(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, ir)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Agents ----

func (s *RedisStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	if err := s.set(ctx, agentKey(id), &domain.Agent{ID: id, LastSeenAt: at}); err != nil {
		return err
	}
	return s.client.SAdd(ctx, agentSetKey(), id).Err()
}

func (s *RedisStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	ids, err := s.client.SMembers(ctx, agentSetKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Agent, 0, len(ids))
	for _, id := range ids {
		var a domain.Agent
		if err := s.get(ctx, agentKey(id), "agent", id, &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Atomic cross-entity transactions ----

func (s *RedisStore) PromoteQueueEntry(ctx context.Context, entryID string, run *domain.Run) error {
	eKey := entryKey(entryID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		var e domain.QueueEntry
		if err := s.get(ctx, eKey, "queue_entry", entryID, &e); err != nil {
			return err
		}
		if e.State != domain.QueueEntryQueued {
			return conflict("scheduler.Promote", "queue_entry", entryID, "entry already consumed")
		}
		e.State = domain.QueueEntryConsumed
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			eData, merr := json.Marshal(&e)
			if merr != nil {
				return merr
			}
			rData, merr := json.Marshal(run)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, eKey, eData, s.ttl)
			pipe.Set(ctx, runKey(run.ID), rData, s.ttl)
			pipe.RPush(ctx, runsByWIKey(run.WorkItemID), run.ID)
			return nil
		})
		return err
	}, eKey)
}

func (s *RedisStore) ClaimRun(ctx context.Context, runID, agentID string, ttl time.Duration, now time.Time) (*domain.Run, bool, error) {
	key := runKey(runID)
	var result *domain.Run
	granted := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var r domain.Run
		if err := s.get(ctx, key, "run", runID, &r); err != nil {
			return err
		}
		expired := r.State == domain.RunRunning && r.ClaimExpiresAt != nil && r.ClaimExpiresAt.Before(now)
		if r.State != domain.RunQueued && !expired {
			return nil
		}
		if r.StartedAt == nil {
			r.StartedAt = &now
		}
		if expired {
			r.Attempt++
		}
		r.State = domain.RunRunning
		r.ClaimedBy = agentID
		expiresAt := now.Add(ttl)
		r.ClaimExpiresAt = &expiresAt
		r.LastHeartbeatAt = nil
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&r)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = &r
		granted = true
		return nil
	}, key)
	if err != nil {
		return nil, false, err
	}
	return result, granted, nil
}

func (s *RedisStore) HeartbeatRun(ctx context.Context, runID, agentID string, ttl time.Duration, now time.Time) (*domain.Run, bool, error) {
	key := runKey(runID)
	var result *domain.Run
	ok := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var r domain.Run
		if err := s.get(ctx, key, "run", runID, &r); err != nil {
			return err
		}
		if r.State != domain.RunRunning || r.ClaimedBy != agentID {
			return nil
		}
		expiresAt := now.Add(ttl)
		r.ClaimExpiresAt = &expiresAt
		r.LastHeartbeatAt = &now
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&r)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = &r
		ok = true
		return nil
	}, key)
	if err != nil {
		return nil, false, err
	}
	return result, ok, nil
}

func (s *RedisStore) ReleaseRun(ctx context.Context, runID, agentID string, terminal domain.RunState, now time.Time) (*domain.Run, bool, error) {
	key := runKey(runID)
	var result *domain.Run
	ok := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var r domain.Run
		if err := s.get(ctx, key, "run", runID, &r); err != nil {
			return err
		}
		if r.State.IsTerminal() || r.ClaimedBy != agentID {
			return nil
		}
		r.Finish(terminal, now)
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&r)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = &r
		ok = true
		return nil
	}, key)
	if err != nil {
		return nil, false, err
	}
	return result, ok, nil
}

func (s *RedisStore) ForceTerminal(ctx context.Context, runID string, terminal domain.RunState, now time.Time) (*domain.Run, error) {
	key := runKey(runID)
	var result *domain.Run
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var r domain.Run
		if err := s.get(ctx, key, "run", runID, &r); err != nil {
			return err
		}
		if r.State.IsTerminal() {
			return conflict("run.Cancel", "run", runID, "run already terminal")
		}
		r.Finish(terminal, now)
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&r)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = &r
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) ExpireRun(ctx context.Context, runID string, targetState domain.RunState, now time.Time) (*domain.Run, bool, error) {
	key := runKey(runID)
	var result *domain.Run
	reclaimed := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var r domain.Run
		if err := s.get(ctx, key, "run", runID, &r); err != nil {
			return err
		}
		if r.State != domain.RunRunning || r.ClaimExpiresAt == nil || !r.ClaimExpiresAt.Before(now) {
			return nil
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
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(&r)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = &r
		reclaimed = true
		return nil
	}, key)
	if err != nil {
		return nil, false, err
	}
	return result, reclaimed, nil
}

// ListRunningExpired scans the per-workitem run lists since Redis keeps no
// global run index; acceptable at the control plane's scale (bounded by the
// number of distinct work items with any run history) and mirrors how the
// teacher's ListExecutions walks an LRANGE per workflow rather than a global
// SCAN.
func (s *RedisStore) ListRunningExpired(ctx context.Context, now time.Time) ([]*domain.Run, error) {
	wiIDs, err := s.client.Keys(ctx, "jobctl:workitem:*:runs").Result()
	if err != nil {
		return nil, err
	}
	var out []*domain.Run
	for _, listKey := range wiIDs {
		ids, err := s.client.LRange(ctx, listKey, 0, -1).Result()
		if err != nil {
			continue
		}
		for _, id := range ids {
			r, err := s.GetRun(ctx, id)
			if err != nil {
				continue
			}
			if r.State == domain.RunRunning && r.ClaimExpiresAt != nil && r.ClaimExpiresAt.Before(now) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Store = (*RedisStore)(nil)
