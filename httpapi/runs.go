package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/orbital-run/jobctl/domain"
)

func (s *Server) registerRunRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /work-items/runs/{id}/claim", s.handleClaimRun)
	mux.HandleFunc("POST /work-items/runs/{id}/heartbeat", s.handleHeartbeatRun)
	mux.HandleFunc("POST /work-items/runs/{id}/complete", s.handleCompleteRun)
	mux.HandleFunc("GET /work-items/runs/{id}/logs", s.handleListLogs)
	mux.HandleFunc("POST /work-items/runs/{id}/logs", s.handleAppendLog)
	mux.HandleFunc("GET /work-items/runs/{id}/logs/ws", s.handleLogsWS)
	mux.HandleFunc("POST /work-items/runs/{id}/steps", s.handleCreateStep)
	mux.HandleFunc("POST /work-items/runs/steps/{id}/update", s.handleUpdateStep)
}

type claimRequest struct {
	AgentID    string `json:"agent_id"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

func (s *Server) handleClaimRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AgentID == "" {
		writeError(w, validationErr("agent_id is required"))
		return
	}
	ttl := durationFromSeconds(req.TTLSeconds)
	result, err := s.lease.Claim(r.Context(), id, req.AgentID, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Granted {
		writeJSON(w, http.StatusConflict, errorBody{Error: "run is busy", Reason: "lease_held"})
		return
	}
	writeJSON(w, http.StatusOK, result.Run)
}

type heartbeatRequest struct {
	AgentID    string  `json:"agent_id"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

func (s *Server) handleHeartbeatRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	run, ok, err := s.lease.Heartbeat(r.Context(), id, req.AgentID, durationFromSeconds(req.TTLSeconds))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, errorBody{Error: "lease lost", Reason: "lease_lost"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type completeRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleCompleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	success := r.URL.Query().Get("success") == "true"
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	run, err := s.lifecycle.Complete(r.Context(), id, req.AgentID, success)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)
	q := r.URL.Query().Get("q")

	logs, err := s.store.ListLogs(r.Context(), id, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if q != "" {
		filtered := logs[:0]
		for _, e := range logs {
			if strings.Contains(e.Text, q) {
				filtered = append(filtered, e)
			}
		}
		logs = filtered
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, e := range logs {
			_, _ = w.Write([]byte(e.Text + "\n"))
		}
		return
	}

	dtos := make([]map[string]interface{}, 0, len(logs))
	for _, e := range logs {
		dtos = append(dtos, runLogEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

type appendLogRequest struct {
	Stream domain.LogStream `json:"stream"`
	Text   string           `json:"text"`
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req appendLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.lifecycle.AppendLog(r.Context(), id, req.Stream, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, runLogEntryDTO(entry))
}

type createStepRequest struct {
	Idx  int    `json:"idx"`
	Name string `json:"name"`
}

func (s *Server) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req createStepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.lifecycle.CreateStep(r.Context(), id, req.Idx, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

type updateStepRequest struct {
	Status   domain.StepStatus      `json:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateStepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.lifecycle.UpdateStep(r.Context(), id, req.Status, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func durationFromSeconds(n float64) time.Duration {
	return time.Duration(n * float64(time.Second))
}
