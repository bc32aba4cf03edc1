package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/marcus/tablehub/internal/model"
	"github.com/marcus/tablehub/internal/store"
)

// handleListTables handles GET /api/tables.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.GetAllTables()
	if err != nil {
		logFor(r.Context()).Error("list tables", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to retrieve tables")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// handleCreateTable handles POST /api/tables. The id is client-assigned;
// when omitted the server generates one.
func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var t model.Table
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if t.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "name is required")
		return
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Headers == nil {
		t.Headers = []string{}
	}
	if t.Rows == nil {
		t.Rows = []model.Row{}
	}

	if err := s.store.CreateTable(t); err != nil {
		if errors.Is(err, store.ErrTableExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "table id already exists")
			return
		}
		logFor(r.Context()).Error("create table", "table", t.ID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to create table")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": t.ID})
}

// handleGetTable handles GET /api/tables/{id}.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.store.GetTable(id)
	if err != nil {
		logFor(r.Context()).Error("get table", "table", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to retrieve table")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "table not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleUpdateTable handles PUT /api/tables/{id}: a whole-table overwrite.
func (s *Server) handleUpdateTable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var t model.Table
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	ok, err := s.store.UpdateTable(id, t)
	if err != nil {
		logFor(r.Context()).Error("update table", "table", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to update table")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "table not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// tablePatch carries the partial-update fields for PATCH /api/tables/{id}.
type tablePatch struct {
	Name    *string      `json:"name"`
	Headers *[]string    `json:"headers"`
	Rows    *[]model.Row `json:"rows"`
}

// handlePatchTable handles PATCH /api/tables/{id}: merge the provided fields
// onto the current table.
func (s *Server) handlePatchTable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch tablePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	t, err := s.store.GetTable(id)
	if err != nil {
		logFor(r.Context()).Error("patch table", "table", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to retrieve table")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "table not found")
		return
	}

	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Headers != nil {
		t.Headers = *patch.Headers
	}
	if patch.Rows != nil {
		t.Rows = *patch.Rows
	}

	ok, err := s.store.UpdateTable(id, *t)
	if err != nil || !ok {
		logFor(r.Context()).Error("patch table update", "table", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to patch table")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleDeleteTable handles DELETE /api/tables/{id}.
func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.store.DeleteTable(id)
	if err != nil {
		logFor(r.Context()).Error("delete table", "table", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to delete table")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "table not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
