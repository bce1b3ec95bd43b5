package server

import (
	"net/http"
	"time"
)

// handleHealth reports server liveness and uptime.
// GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}
