package httpapi

import (
	"net/http"
	"time"
)

func (s *Server) registerObservabilityRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /observability/health", s.handleHealth)
	mux.HandleFunc("GET /observability/metrics", s.handleMetrics)
	mux.HandleFunc("GET /observability/traces", s.handleTraces)
	mux.HandleFunc("GET /observability/runs/{id}", s.handleRunObservability)
	mux.HandleFunc("GET /observability/usage", s.handleUsage)
	mux.HandleFunc("GET /observability/agents", s.handleAgents)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime_seconds": s.clock.Now().Sub(s.startedAt).Seconds(),
	})
}

// handleMetrics is a minimal placeholder. The process exports traces through
// OpenTelemetry (platform.InitTracing) and collects no metrics of its own.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"metrics": "see otel exporter"})
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"traces": "see otel exporter"})
}

func (s *Server) handleRunObservability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	steps, err := s.store.ListSteps(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	infoReqs, err := s.info.ListForRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":           run,
		"steps":         steps,
		"info_requests": infoReqs,
		"subscribers":   s.bus.SubscriberCount(id),
	})
}

// handleUsage reports the Quota Meter's current window usage per project,
// the read side of the Meter's admission counter.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	usage := make([]map[string]interface{}, 0, len(projects))
	for _, p := range projects {
		usage = append(usage, map[string]interface{}{
			"project_id": p.ID,
			"used":       s.quota.Usage(p.ID, p.Quota),
			"max_runs":   p.Quota.MaxRuns,
			"window_seconds": p.Quota.WindowSeconds,
		})
	}
	writeJSON(w, http.StatusOK, usage)
}

// handleAgents reports agents seen via claim/heartbeat and their last
// activity, a supplemented observability feature.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	now := s.clock.Now()
	type agentDTO struct {
		ID           string  `json:"id"`
		LastSeenAt   string  `json:"last_seen_at"`
		IdleSeconds  float64 `json:"idle_seconds"`
	}
	out := make([]agentDTO, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentDTO{
			ID:          a.ID,
			LastSeenAt:  a.LastSeenAt.UTC().Format(time.RFC3339),
			IdleSeconds: now.Sub(a.LastSeenAt).Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
