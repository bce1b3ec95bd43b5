package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/lightci/pkg/model"
)

// errorStatus maps an engine error to an HTTP status and APIError.
func errorStatus(err error) (int, *model.APIError) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrNotFound:
			return http.StatusNotFound, apiErr
		case model.ErrValidation:
			return http.StatusUnprocessableEntity, apiErr
		case model.ErrConflict:
			return http.StatusConflict, apiErr
		default:
			return http.StatusInternalServerError, apiErr
		}
	}

	var engErr *model.EngineError
	if errors.As(err, &engErr) {
		switch engErr.Kind {
		case model.KindValidation, model.KindConfig:
			return http.StatusUnprocessableEntity, model.NewValidationError(err.Error())
		}
	}
	return http.StatusInternalServerError, model.NewInternalError(err.Error())
}

// createPipelineRequest accepts either a raw YAML definition or a structured
// pipeline object.
type createPipelineRequest struct {
	YAML     string          `json:"yaml,omitempty"`
	Pipeline *model.Pipeline `json:"pipeline,omitempty"`
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req createPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	var p *model.Pipeline
	switch {
	case req.YAML != "":
		parsed, err := s.parser.Parse([]byte(req.YAML))
		if err != nil {
			status, apiErr := errorStatus(err)
			respondError(w, reqID, status, apiErr)
			return
		}
		p = parsed
	case req.Pipeline != nil:
		p = req.Pipeline
	default:
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing pipeline definition",
				model.FieldError{Field: "yaml", Message: "either yaml or pipeline is required"}))
		return
	}

	if err := s.engine.CreatePipeline(r.Context(), p); err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondCreated(w, reqID, p)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	p, err := s.engine.GetPipeline(r.Context(), id)
	if err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if p == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("pipeline", id))
		return
	}
	respondOK(w, reqID, p)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptions(r)

	pipelines, total, err := s.engine.ListPipelines(r.Context(), opts)
	if err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondList(w, reqID, pipelines, &model.Pagination{
		Limit:  opts.Limit,
		Offset: opts.Offset,
		Total:  total,
	})
}

func (s *Server) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	existing, err := s.engine.GetPipeline(r.Context(), id)
	if err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if existing == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("pipeline", id))
		return
	}

	var p model.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	p.ID = id
	p.CreatedAt = existing.CreatedAt

	if err := s.engine.UpdatePipeline(r.Context(), &p); err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondOK(w, reqID, &p)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.engine.DeletePipeline(r.Context(), id); err != nil {
		status, apiErr := errorStatus(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondOK(w, reqID, map[string]string{"id": id, "deleted": "true"})
}
