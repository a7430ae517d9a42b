package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/lingo/internal/jobs"
)

const maxSubmitBytes = 16 << 20

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req jobs.SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}

	handle, err := s.deps.Jobs.SubmitJob(r.Context(), req)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, handle)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.deps.Jobs.List(r.Context(), limit)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Jobs.GetProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Jobs.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Jobs.Cancel(id); err != nil {
		s.writeJobError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
	case errors.Is(err, jobs.ErrJobNotFinished):
		writeError(w, http.StatusConflict, "NOT_FINISHED", "Job is still running")
	case errors.Is(err, jobs.ErrJobFinished):
		writeError(w, http.StatusConflict, "ALREADY_FINISHED", "Job already finished")
	case errors.Is(err, jobs.ErrPoolExhausted):
		writeError(w, http.StatusServiceUnavailable, "POOL_EXHAUSTED", "No credential is usable")
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	default:
		s.log.Error("Job request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}
