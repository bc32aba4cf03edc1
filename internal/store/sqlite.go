package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marcus/tablehub/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tables (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sync_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cursor TEXT UNIQUE NOT NULL,
    client_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    server_ts TEXT NOT NULL,
    applied INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_sync_events_cursor ON sync_events(cursor);
CREATE INDEX IF NOT EXISTS idx_sync_events_ts ON sync_events(server_ts);
`

// SQLiteStore is the embedded single-file backend.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens (and creates if needed) the database file.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	return &SQLiteStore{conn: conn, path: path}, nil
}

// Init creates the schema if absent.
func (s *SQLiteStore) Init() error {
	if _, err := s.conn.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (s *SQLiteStore) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Ping checks the database connection is alive.
func (s *SQLiteStore) Ping() error {
	return s.conn.Ping()
}

// GetAllTables returns every table, most recently updated first.
func (s *SQLiteStore) GetAllTables() ([]model.Table, error) {
	rows, err := s.conn.Query(
		`SELECT id, name, data, updated_at, version FROM tables ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	tables := []model.Table{}
	for rows.Next() {
		t, err := s.scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// GetTable returns the materialized table, or nil if absent.
func (s *SQLiteStore) GetTable(id string) (*model.Table, error) {
	rows, err := s.conn.Query(
		`SELECT id, name, data, updated_at, version FROM tables WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query table %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := s.scanTable(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) scanTable(rows *sql.Rows) (model.Table, error) {
	var id, name, updatedAt string
	var data []byte
	var version int
	if err := rows.Scan(&id, &name, &data, &updatedAt, &version); err != nil {
		return model.Table{}, fmt.Errorf("scan table: %w", err)
	}
	ts, err := parseTimestamp(updatedAt)
	if err != nil {
		return model.Table{}, fmt.Errorf("table %s updated_at: %w", id, err)
	}
	return decodeTable(id, name, data, ts, version)
}

// CreateTable inserts a table; ErrTableExists on id collision.
func (s *SQLiteStore) CreateTable(t model.Table) error {
	data, err := encodeTableData(t)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(
		`INSERT INTO tables (id, name, data, updated_at, version) VALUES (?, ?, ?, ?, 1)`,
		t.ID, t.Name, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("create table %s: %w", t.ID, ErrTableExists)
		}
		return fmt.Errorf("create table %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTable overwrites a table, bumping version and updatedAt.
func (s *SQLiteStore) UpdateTable(id string, t model.Table) (bool, error) {
	data, err := encodeTableData(t)
	if err != nil {
		return false, err
	}
	res, err := s.conn.Exec(
		`UPDATE tables SET name = ?, data = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		t.Name, data, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("update table %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteTable removes a table, reporting whether a row matched.
func (s *SQLiteStore) DeleteTable(id string) (bool, error) {
	res, err := s.conn.Exec(`DELETE FROM tables WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete table %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// AppendEvent inserts an event with a monotonic id and the current server time.
func (s *SQLiteStore) AppendEvent(cursor, clientID string, op model.Operation) (int64, error) {
	opJSON, err := encodeOperation(op)
	if err != nil {
		return 0, err
	}
	res, err := s.conn.Exec(
		`INSERT INTO sync_events (cursor, client_id, operation, server_ts) VALUES (?, ?, ?, ?)`,
		cursor, clientID, opJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("append event: %w", ErrDuplicateCursor)
		}
		return 0, fmt.Errorf("append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// EventsSince returns events after the cursor, id ascending, up to limit.
func (s *SQLiteStore) EventsSince(cursor string, limit int) ([]model.Event, error) {
	var rows *sql.Rows
	var err error
	if cursor == "0" {
		rows, err = s.conn.Query(
			`SELECT id, cursor, client_id, operation, server_ts, applied
			 FROM sync_events ORDER BY id ASC LIMIT ?`, limit)
	} else {
		// A cursor that resolves to no event makes the subquery NULL and the
		// scan empty, which is the documented contract.
		rows, err = s.conn.Query(
			`SELECT id, cursor, client_id, operation, server_ts, applied
			 FROM sync_events
			 WHERE id > (SELECT id FROM sync_events WHERE cursor = ?)
			 ORDER BY id ASC LIMIT ?`, cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

// RecentEvents returns events by id descending, up to limit.
func (s *SQLiteStore) RecentEvents(limit int) ([]model.Event, error) {
	rows, err := s.conn.Query(
		`SELECT id, cursor, client_id, operation, server_ts, applied
		 FROM sync_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

func (s *SQLiteStore) scanEvents(rows *sql.Rows) ([]model.Event, error) {
	events := []model.Event{}
	for rows.Next() {
		var id int64
		var cursor, clientID, serverTS string
		var opJSON []byte
		var applied bool
		if err := rows.Scan(&id, &cursor, &clientID, &opJSON, &serverTS, &applied); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ts, err := parseTimestamp(serverTS)
		if err != nil {
			return nil, fmt.Errorf("event %d server_ts: %w", id, err)
		}
		ev, err := decodeEvent(id, cursor, clientID, opJSON, ts, applied)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LatestCursor returns the cursor of the highest-id event, or "0" if empty.
func (s *SQLiteStore) LatestCursor() (string, error) {
	var cursor string
	err := s.conn.QueryRow(
		`SELECT cursor FROM sync_events ORDER BY id DESC LIMIT 1`).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest cursor: %w", err)
	}
	return cursor, nil
}

// PurgeEventsBefore deletes events older than cutoff.
func (s *SQLiteStore) PurgeEventsBefore(cutoff time.Time) (int64, error) {
	res, err := s.conn.Exec(
		`DELETE FROM sync_events WHERE server_ts < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Reset deletes all tables and events and resets the id sequence.
func (s *SQLiteStore) Reset() error {
	for _, q := range []string{`DELETE FROM tables`, `DELETE FROM sync_events`} {
		if _, err := s.conn.Exec(q); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	// sqlite_sequence only exists once an AUTOINCREMENT row has been written.
	if _, err := s.conn.Exec(`DELETE FROM sqlite_sequence WHERE name = 'sync_events'`); err != nil &&
		!strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("reset sequence: %w", err)
	}
	return nil
}
