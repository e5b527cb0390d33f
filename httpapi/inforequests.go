package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"

	"github.com/orbital-run/jobctl/domain"
)

func (s *Server) registerInfoRequestRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /work-items/runs/{id}/info-requests", s.handleListInfoRequests)
	mux.HandleFunc("POST /work-items/runs/{id}/info-requests", s.handleCreateInfoRequest)
	mux.HandleFunc("POST /work-items/runs/info-requests/{id}/respond", s.handleRespondInfoRequest)
}

func (s *Server) handleListInfoRequests(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	reqs, err := s.info.ListForRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

type createInfoRequestRequest struct {
	Keys []domain.RequestedKey `json:"keys"`
}

func (s *Server) handleCreateInfoRequest(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	var req createInfoRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ir, err := s.info.Create(r.Context(), uuid.NewString(), runID, req.Keys)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ir)
}

// respondInfoRequestRequest carries either plaintext values or an opaque
// base64-encoded ciphertext+nonce pair, never both, and the server never
// interprets the encrypted form.
type respondInfoRequestRequest struct {
	Values            map[string]string `json:"values,omitempty"`
	CiphertextBase64  string            `json:"ciphertext_base64,omitempty"`
	NonceBase64       string            `json:"nonce_base64,omitempty"`
}

func (s *Server) handleRespondInfoRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req respondInfoRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.CiphertextBase64 != "" {
		ciphertext, err := base64.StdEncoding.DecodeString(req.CiphertextBase64)
		if err != nil {
			writeError(w, validationErr("ciphertext_base64 is not valid base64"))
			return
		}
		nonce, err := base64.StdEncoding.DecodeString(req.NonceBase64)
		if err != nil {
			writeError(w, validationErr("nonce_base64 is not valid base64"))
			return
		}
		ir, err := s.info.RespondEncrypted(r.Context(), id, ciphertext, nonce)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ir)
		return
	}

	ir, err := s.info.RespondPlaintext(r.Context(), id, req.Values)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ir)
}
