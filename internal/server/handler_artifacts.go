package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/lightci/internal/artifact"
	"github.com/me/lightci/pkg/model"
)

// artifactStoreReady guards the artifact routes when no store is configured.
func (s *Server) artifactStoreReady(w http.ResponseWriter, reqID string) bool {
	if s.artifacts == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			model.NewInternalError("artifact store not configured"))
		return false
	}
	return true
}

// handleUploadArtifact stores the request body under (id, version).
// POST /api/v1/artifacts/{id}/{version}
func (s *Server) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.artifactStoreReady(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")
	version := chi.URLParam(r, "version")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "read body: " + err.Error(),
		})
		return
	}

	meta, err := s.artifacts.Put(id, version, r.URL.Query().Get("name"), data)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondCreated(w, reqID, meta)
}

// handleDownloadArtifact streams the stored bytes.
// GET /api/v1/artifacts/{id}/{version}
func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.artifactStoreReady(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")
	version := chi.URLParam(r, "version")

	data, err := s.artifacts.Get(id, version)
	if errors.Is(err, artifact.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("artifact", id+"_"+version))
		return
	}
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleListArtifacts returns metadata for every stored artifact.
// GET /api/v1/artifacts
func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.artifactStoreReady(w, reqID) {
		return
	}

	metas, err := s.artifacts.List()
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, metas)
}
