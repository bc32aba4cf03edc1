package api

import (
	"net/http"
	"strconv"
)

const (
	defEventsLimit = 100
	maxEventsLimit = 1000
)

// handleDebugEvents handles GET /api/debug/events?limit=N (debug only).
func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	limit := defEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit")
			return
		}
		if n > maxEventsLimit {
			n = maxEventsLimit
		}
		limit = n
	}

	events, err := s.store.RecentEvents(limit)
	if err != nil {
		logFor(r.Context()).Error("debug events", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to retrieve events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleDebugReset handles DELETE /api/debug/reset (debug only): wipes all
// tables and events and resets the event id sequence.
func (s *Server) handleDebugReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(); err != nil {
		logFor(r.Context()).Error("debug reset", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to reset store")
		return
	}
	logFor(r.Context()).Info("store reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
