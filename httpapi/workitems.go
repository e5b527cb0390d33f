package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/orbital-run/jobctl/domain"
)

func (s *Server) registerWorkItemRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /work-items/", s.handleCreateWorkItem)
	mux.HandleFunc("POST /work-items/{id}/tool-recipe", s.handleSetToolRecipe)
	mux.HandleFunc("POST /work-items/{id}/policy", s.handleSetPolicy)
	mux.HandleFunc("POST /work-items/{id}/approvals", s.handleCreateApproval)
	mux.HandleFunc("POST /work-items/approvals/{id}/approve", s.handleDecideApproval)
	mux.HandleFunc("POST /work-items/{id}/start", s.handleStartWorkItem)
	mux.HandleFunc("GET /work-items/{id}/runs", s.handleListRuns)
}

type createWorkItemRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req createWorkItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ProjectID == "" || req.Title == "" {
		writeError(w, validationErr("project_id and title are required"))
		return
	}
	if _, err := s.store.GetProject(r.Context(), req.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	wi := &domain.WorkItem{ID: uuid.NewString(), ProjectID: req.ProjectID, Title: req.Title, Description: req.Description}
	if err := s.store.CreateWorkItem(r.Context(), wi); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wi)
}

func (s *Server) handleSetToolRecipe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var node yaml.Node
	body, err := decodeYAML(r, &node)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = body
	if err := s.store.SetToolRecipe(r.Context(), id, &domain.ToolRecipe{Raw: &node}); err != nil {
		writeError(w, err)
		return
	}
	wi, err := s.store.GetWorkItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wi)
}

type setPolicyRequest struct {
	MaxRetries           int     `json:"max_retries"`
	BackoffBaseSeconds   float64 `json:"backoff_base_seconds"`
	BackoffJitterSeconds float64 `json:"backoff_jitter_seconds"`
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setPolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	policy := &domain.RetryPolicy{MaxRetries: req.MaxRetries, BackoffBaseSeconds: req.BackoffBaseSeconds, BackoffJitterSeconds: req.BackoffJitterSeconds}
	if err := s.store.SetPolicy(r.Context(), id, policy); err != nil {
		writeError(w, err)
		return
	}
	wi, err := s.store.GetWorkItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wi)
}

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.gate.Request(r.Context(), uuid.NewString(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type decideApprovalRequest struct {
	Approve bool `json:"approve"`
}

func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req decideApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.gate.Decide(r.Context(), id, req.Approve)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type startWorkItemRequest struct {
	Priority     int     `json:"priority"`
	DelaySeconds float64 `json:"delay_seconds"`
}

func (s *Server) handleStartWorkItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req startWorkItemRequest
	_ = decodeJSON(r, &req)
	e, err := s.scheduler.Enqueue(r.Context(), id, nil, req.Priority, req.DelaySeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	runs, err := s.store.ListRunsForWorkItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
