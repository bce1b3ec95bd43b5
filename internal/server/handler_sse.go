package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/lightci/pkg/model"
)

// handleBuildEvents streams step status updates for one build via
// Server-Sent Events, fed from the broadcast channel. Joining mid-build does
// not replay history; clients read recorded step results for that.
// GET /api/v1/builds/{id}/events
func (s *Server) handleBuildEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())

	// Subscribe before reading the initial state so no update is missed.
	sub := s.engine.Subscribe()
	defer sub.Close()

	build, err := s.engine.GetBuild(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if build == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("build", id))
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	if err := sendSSEEvent(w, flusher, "init", build); err != nil {
		s.logger.Debug("sse client disconnected", "id", id, "error", err)
		return
	}

	// A terminal build emits no further updates; serve the snapshot and stop.
	if build.Status.IsTerminal() {
		sendSSEEvent(w, flusher, "complete", build)
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case u, open := <-sub.Updates():
			if !open {
				return
			}
			if u.BuildID != id {
				continue
			}
			if dropped := sub.Dropped(); dropped > 0 {
				// Tell the client it lost updates; it can re-read step results.
				fmt.Fprintf(w, "event: lagged\ndata: {\"dropped\": %d}\n\n", dropped)
				flusher.Flush()
			}
			if err := sendSSEEvent(w, flusher, "update", u); err != nil {
				s.logger.Debug("sse client disconnected", "id", id)
				return
			}
			// The build-level final update closes the stream.
			if u.StepID == "" {
				final, err := s.engine.GetBuild(r.Context(), id)
				if err == nil && final != nil {
					sendSSEEvent(w, flusher, "complete", final)
				}
				return
			}

		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
