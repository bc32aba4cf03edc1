// Package store provides durable persistence for materialized tables and the
// append-only sync event log. Two backends implement the same interface: an
// embedded SQLite database and a networked PostgreSQL database, selected by
// the DATABASE_URL prefix at construction.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/tablehub/internal/model"
)

// Sentinel errors surfaced by both backends.
var (
	ErrTableExists     = errors.New("table id already exists")
	ErrDuplicateCursor = errors.New("duplicate event cursor")
)

// Store is the persistence contract for tables and sync events.
//
// Event ids are assigned by the backend and are strictly increasing with
// append order; AppendEvent is linearized with respect to itself. The cursor
// sentinel "0" means "before the first event".
type Store interface {
	// Init creates the persistence schema if absent. Idempotent.
	Init() error
	// Close flushes and releases resources.
	Close() error
	// Ping checks the backend is reachable.
	Ping() error

	// GetAllTables returns every table, most recently updated first.
	GetAllTables() ([]model.Table, error)
	// GetTable returns the materialized table, or nil if absent.
	GetTable(id string) (*model.Table, error)
	// CreateTable inserts a table; ErrTableExists on id collision.
	CreateTable(t model.Table) error
	// UpdateTable overwrites a table, bumping version and updatedAt.
	// Reports whether a row matched.
	UpdateTable(id string, t model.Table) (bool, error)
	// DeleteTable removes a table, reporting whether a row matched.
	DeleteTable(id string) (bool, error)

	// AppendEvent inserts an event with a backend-assigned monotonic id and
	// the current server time. ErrDuplicateCursor if the cursor is taken.
	AppendEvent(cursor, clientID string, op model.Operation) (int64, error)
	// EventsSince returns events after the given cursor, id ascending, up to
	// limit. Cursor "0" scans from the beginning; a cursor that resolves to
	// no event yields an empty result.
	EventsSince(cursor string, limit int) ([]model.Event, error)
	// RecentEvents returns events by id descending, up to limit.
	RecentEvents(limit int) ([]model.Event, error)
	// LatestCursor returns the cursor of the highest-id event, or "0".
	LatestCursor() (string, error)
	// PurgeEventsBefore deletes events with server_ts older than cutoff and
	// returns how many were removed.
	PurgeEventsBefore(cutoff time.Time) (int64, error)

	// Reset deletes all tables and events and resets id sequences.
	Reset() error
}

// Open selects a backend from the database URL, opens it, and initializes
// the schema. postgres:// and postgresql:// URLs get the PostgreSQL backend;
// everything else (sqlite:///path, bare paths, :memory:) gets SQLite.
func Open(databaseURL string) (Store, error) {
	var st Store
	var err error
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		st, err = OpenPostgres(databaseURL)
	} else {
		st, err = OpenSQLite(sqlitePath(databaseURL))
	}
	if err != nil {
		return nil, err
	}
	if err := st.Init(); err != nil {
		st.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return st, nil
}

// sqlitePath strips sqlite URL prefixes down to a filesystem path.
func sqlitePath(url string) string {
	for _, prefix := range []string{"sqlite:///", "sqlite://", "sqlite:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix)
		}
	}
	return url
}

// tableData is the shape of the tables.data column: everything except the id
// and name, which live in their own columns.
type tableData struct {
	Headers []string    `json:"headers"`
	Rows    []model.Row `json:"rows"`
}

func encodeTableData(t model.Table) ([]byte, error) {
	data, err := json.Marshal(tableData{Headers: t.Headers, Rows: t.Rows})
	if err != nil {
		return nil, fmt.Errorf("encode table %s: %w", t.ID, err)
	}
	return data, nil
}

func decodeTable(id, name string, data []byte, updatedAt time.Time, version int) (model.Table, error) {
	var td tableData
	if err := json.Unmarshal(data, &td); err != nil {
		return model.Table{}, fmt.Errorf("decode table %s: %w", id, err)
	}
	if td.Headers == nil {
		td.Headers = []string{}
	}
	if td.Rows == nil {
		td.Rows = []model.Row{}
	}
	return model.Table{
		ID:        id,
		Name:      name,
		Headers:   td.Headers,
		Rows:      td.Rows,
		UpdatedAt: updatedAt,
		Version:   version,
	}, nil
}

func encodeOperation(op model.Operation) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}
	return data, nil
}

func decodeEvent(id int64, cursor, clientID string, opJSON []byte, serverTS time.Time, applied bool) (model.Event, error) {
	var op model.Operation
	if err := json.Unmarshal(opJSON, &op); err != nil {
		return model.Event{}, fmt.Errorf("decode event %d operation: %w", id, err)
	}
	return model.Event{
		ID:        id,
		Cursor:    cursor,
		ClientID:  clientID,
		Operation: op,
		ServerTS:  serverTS,
		Applied:   applied,
	}, nil
}

// parseTimestamp tries the timestamp formats SQLite hands back.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
