package httpapi

import (
	"net/http"

	"github.com/orbital-run/jobctl/retry"
)

func (s *Server) registerSchedulerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /scheduler/enqueue", s.handleEnqueue)
	mux.HandleFunc("POST /scheduler/tick", s.handleTick)
	mux.HandleFunc("GET /scheduler/queue", s.handleListQueue)
	mux.HandleFunc("POST /scheduler/requeue/work-item", s.handleRequeueWorkItem)
	mux.HandleFunc("POST /scheduler/requeue/run/{id}", s.handleRequeueRun)
}

type enqueueRequest struct {
	WorkItemID          string  `json:"work_item_id"`
	DependsOnWorkItemID *string `json:"depends_on_work_item_id,omitempty"`
	Priority            int     `json:"priority"`
	DelaySeconds        float64 `json:"delay_seconds"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WorkItemID == "" {
		writeError(w, validationErr("work_item_id is required"))
		return
	}
	e, err := s.scheduler.Enqueue(r.Context(), req.WorkItemID, req.DependsOnWorkItemID, req.Priority, req.DelaySeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	summary, err := s.scheduler.Tick(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.scheduler.ListQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type requeueWorkItemRequest struct {
	WorkItemID   string  `json:"work_item_id"`
	Priority     int     `json:"priority"`
	DelaySeconds float64 `json:"delay_seconds"`
}

func (s *Server) handleRequeueWorkItem(w http.ResponseWriter, r *http.Request) {
	var req requeueWorkItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	e, err := s.scheduler.RequeueWorkItem(r.Context(), req.WorkItemID, req.Priority, req.DelaySeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type requeueRunRequest struct {
	Priority     int      `json:"priority"`
	DelaySeconds *float64 `json:"delay_seconds,omitempty"`
	Backoff      bool     `json:"backoff"`
}

func (s *Server) handleRequeueRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req requeueRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var policy *retry.Policy
	if req.Backoff {
		p := s.defaultRetryPolicy
		policy = &p
	}
	e, err := s.scheduler.RequeueRun(r.Context(), id, req.Priority, policy, req.DelaySeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}
