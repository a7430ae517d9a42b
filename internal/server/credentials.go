package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/dispatch/pool"
)

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.deps.Credentials.Stats())
}

func (s *Server) handleRegisterCredential(w http.ResponseWriter, r *http.Request) {
	var d domain.CredentialDescriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}
	if err := s.deps.Credentials.Register(d); err != nil {
		s.writeCredentialError(w, err)
		return
	}
	s.log.Info("Credential registered via API", "id", d.ID, "provider", d.Provider)
	writeData(w, http.StatusCreated, map[string]string{"id": d.ID})
}

func (s *Server) handleDisableCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Credentials.Disable(id); err != nil {
		s.writeCredentialError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "state": string(domain.CredentialDisabled)})
}

func (s *Server) handleEnableCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Credentials.Enable(id); err != nil {
		s.writeCredentialError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "state": string(domain.CredentialAvailable)})
}

func (s *Server) writeCredentialError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pool.ErrInvalidCredential):
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIAL", err.Error())
	case errors.Is(err, pool.ErrDuplicateCredential):
		writeError(w, http.StatusConflict, "DUPLICATE", err.Error())
	case errors.Is(err, pool.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Credential not found")
	default:
		s.log.Error("Credential request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}
