package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/orbital-run/jobctl/domain"
)

func (s *Server) registerProjectRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /projects/", s.handleCreateProject)
	mux.HandleFunc("GET /projects/", s.handleListProjects)
	mux.HandleFunc("POST /projects/{id}/quota", s.handleUpdateProjectQuota)
}

type createProjectRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Quota       domain.Quota `json:"quota"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, validationErr("name is required"))
		return
	}
	p := &domain.Project{ID: uuid.NewString(), Name: req.Name, Description: req.Description, Quota: req.Quota}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleUpdateProjectQuota(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var q domain.Quota
	if err := decodeJSON(r, &q); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpdateProjectQuota(r.Context(), id, q); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
