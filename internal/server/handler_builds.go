package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/lightci/pkg/model"
)

// listOptions extracts limit/offset/status query parameters.
func listOptions(r *http.Request) model.ListOptions {
	opts := model.ListOptions{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	opts.Status = r.URL.Query().Get("status")
	return opts
}

func (s *Server) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	pipelineID := chi.URLParam(r, "id")

	var req model.TriggerBuildRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, reqID, http.StatusBadRequest, &model.APIError{
				Code:    model.ErrValidation,
				Message: "Invalid JSON body: " + err.Error(),
			})
			return
		}
	}
	req.PipelineID = pipelineID

	build, err := s.engine.TriggerBuild(r.Context(), &req)
	if err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondCreated(w, reqID, build)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	b, err := s.engine.GetBuild(r.Context(), id)
	if err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if b == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("build", id))
		return
	}
	respondOK(w, reqID, b)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptions(r)

	builds, total, err := s.engine.ListBuilds(r.Context(), opts)
	if err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondList(w, reqID, builds, &model.Pagination{
		Limit:  opts.Limit,
		Offset: opts.Offset,
		Total:  total,
	})
}

func (s *Server) handleCancelBuild(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.engine.CancelBuild(r.Context(), id); err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondOK(w, reqID, map[string]string{"id": id, "cancel": "requested"})
}

func (s *Server) handleListStepResults(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	results, err := s.engine.ListStepResults(r.Context(), id)
	if err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondOK(w, reqID, results)
}

func (s *Server) handleGetBuildLogs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	logs, err := s.engine.GetBuildLogs(r.Context(), id)
	if err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondOK(w, reqID, logs)
}
