package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/marcus/tablehub/internal/model"
	tbsync "github.com/marcus/tablehub/internal/sync"
)

// SyncRequest is the JSON body for POST /api/sync.
type SyncRequest struct {
	ClientID   string            `json:"clientId"`
	BaseCursor string            `json:"baseCursor"`
	Ops        []model.Operation `json:"ops"`
}

// SyncResponse is the push envelope. On internal error Success is false and
// Cursor echoes the caller's baseCursor so they can retry.
type SyncResponse struct {
	Success   bool              `json:"success"`
	Cursor    string            `json:"cursor"`
	Deltas    []model.Delta     `json:"deltas"`
	Conflicts []tbsync.Conflict `json:"conflicts"`
	Error     string            `json:"error,omitempty"`
}

// PullResponse is the JSON response for GET /api/sync. Tables is present only
// for a bootstrap pull (since=="0").
type PullResponse struct {
	Cursor string         `json:"cursor"`
	Deltas []model.Delta  `json:"deltas"`
	Tables *[]model.Table `json:"tables,omitempty"`
}

// handleSyncPush handles POST /api/sync.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "clientId is required")
		return
	}
	if req.BaseCursor == "" {
		req.BaseCursor = "0"
	}
	if len(req.Ops) > s.config.MaxSyncBatchSize {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest,
			fmt.Sprintf("batch size %d exceeds max %d", len(req.Ops), s.config.MaxSyncBatchSize))
		return
	}

	result, err := s.engine.ProcessSync(req.ClientID, req.BaseCursor, req.Ops)
	if err != nil {
		logFor(r.Context()).Error("sync push", "client", req.ClientID, "err", err)
		writeJSON(w, http.StatusOK, SyncResponse{
			Success:   false,
			Cursor:    req.BaseCursor,
			Deltas:    []model.Delta{},
			Conflicts: []tbsync.Conflict{},
			Error:     err.Error(),
		})
		return
	}

	s.metrics.RecordPush(int64(len(req.Ops)-len(result.Conflicts)), int64(len(result.Conflicts)))

	writeJSON(w, http.StatusOK, SyncResponse{
		Success:   true,
		Cursor:    result.Cursor,
		Deltas:    result.Deltas,
		Conflicts: result.Conflicts,
	})
}

// handleSyncPull handles GET /api/sync?since=<cursor>.
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordPullRequest()

	since := r.URL.Query().Get("since")
	if since == "" {
		since = "0"
	}

	result, err := s.engine.GetChangesSince(since)
	if err != nil {
		logFor(r.Context()).Error("sync pull", "since", since, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "sync pull failed")
		return
	}

	resp := PullResponse{Cursor: result.Cursor, Deltas: result.Deltas}
	if since == "0" {
		resp.Tables = &result.Tables
	}
	writeJSON(w, http.StatusOK, resp)
}
