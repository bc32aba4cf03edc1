package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/marcus/tablehub/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tables (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    data JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sync_events (
    id SERIAL PRIMARY KEY,
    cursor TEXT UNIQUE NOT NULL,
    client_id TEXT NOT NULL,
    operation JSONB NOT NULL,
    server_ts TIMESTAMPTZ NOT NULL DEFAULT now(),
    applied BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_sync_events_cursor ON sync_events(cursor);
CREATE INDEX IF NOT EXISTS idx_sync_events_ts ON sync_events(server_ts);
`

// PostgresStore is the networked relational backend, via lib/pq.
type PostgresStore struct {
	conn *sql.DB
}

// OpenPostgres opens a connection pool to the given database URL.
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)
	return &PostgresStore{conn: conn}, nil
}

// Init creates the schema if absent.
func (p *PostgresStore) Init() error {
	if _, err := p.conn.Exec(postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	return p.conn.Close()
}

// Ping checks the database connection is alive.
func (p *PostgresStore) Ping() error {
	return p.conn.Ping()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetAllTables returns every table, most recently updated first.
func (p *PostgresStore) GetAllTables() ([]model.Table, error) {
	rows, err := p.conn.Query(
		`SELECT id, name, data, updated_at, version FROM tables ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	tables := []model.Table{}
	for rows.Next() {
		t, err := p.scanTable(rows)
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
func (p *PostgresStore) GetTable(id string) (*model.Table, error) {
	rows, err := p.conn.Query(
		`SELECT id, name, data, updated_at, version FROM tables WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query table %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := p.scanTable(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) scanTable(rows *sql.Rows) (model.Table, error) {
	var id, name string
	var data []byte
	var updatedAt time.Time
	var version int
	if err := rows.Scan(&id, &name, &data, &updatedAt, &version); err != nil {
		return model.Table{}, fmt.Errorf("scan table: %w", err)
	}
	return decodeTable(id, name, data, updatedAt, version)
}

// CreateTable inserts a table; ErrTableExists on id collision.
func (p *PostgresStore) CreateTable(t model.Table) error {
	data, err := encodeTableData(t)
	if err != nil {
		return err
	}
	_, err = p.conn.Exec(
		`INSERT INTO tables (id, name, data, updated_at, version) VALUES ($1, $2, $3, now(), 1)`,
		t.ID, t.Name, data)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create table %s: %w", t.ID, ErrTableExists)
		}
		return fmt.Errorf("create table %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTable overwrites a table, bumping version and updatedAt.
func (p *PostgresStore) UpdateTable(id string, t model.Table) (bool, error) {
	data, err := encodeTableData(t)
	if err != nil {
		return false, err
	}
	res, err := p.conn.Exec(
		`UPDATE tables SET name = $2, data = $3, updated_at = now(), version = version + 1 WHERE id = $1`,
		id, t.Name, data)
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
func (p *PostgresStore) DeleteTable(id string) (bool, error) {
	res, err := p.conn.Exec(`DELETE FROM tables WHERE id = $1`, id)
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
func (p *PostgresStore) AppendEvent(cursor, clientID string, op model.Operation) (int64, error) {
	opJSON, err := encodeOperation(op)
	if err != nil {
		return 0, err
	}
	var id int64
	err = p.conn.QueryRow(
		`INSERT INTO sync_events (cursor, client_id, operation, server_ts)
		 VALUES ($1, $2, $3, now()) RETURNING id`,
		cursor, clientID, opJSON).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("append event: %w", ErrDuplicateCursor)
		}
		return 0, fmt.Errorf("append event: %w", err)
	}
	return id, nil
}

// EventsSince returns events after the cursor, id ascending, up to limit.
func (p *PostgresStore) EventsSince(cursor string, limit int) ([]model.Event, error) {
	var rows *sql.Rows
	var err error
	if cursor == "0" {
		rows, err = p.conn.Query(
			`SELECT id, cursor, client_id, operation, server_ts, applied
			 FROM sync_events ORDER BY id ASC LIMIT $1`, limit)
	} else {
		rows, err = p.conn.Query(
			`SELECT id, cursor, client_id, operation, server_ts, applied
			 FROM sync_events
			 WHERE id > (SELECT id FROM sync_events WHERE cursor = $1)
			 ORDER BY id ASC LIMIT $2`, cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return p.scanEvents(rows)
}

// RecentEvents returns events by id descending, up to limit.
func (p *PostgresStore) RecentEvents(limit int) ([]model.Event, error) {
	rows, err := p.conn.Query(
		`SELECT id, cursor, client_id, operation, server_ts, applied
		 FROM sync_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return p.scanEvents(rows)
}

func (p *PostgresStore) scanEvents(rows *sql.Rows) ([]model.Event, error) {
	events := []model.Event{}
	for rows.Next() {
		var id int64
		var cursor, clientID string
		var opJSON []byte
		var serverTS time.Time
		var applied bool
		if err := rows.Scan(&id, &cursor, &clientID, &opJSON, &serverTS, &applied); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := decodeEvent(id, cursor, clientID, opJSON, serverTS, applied)
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
func (p *PostgresStore) LatestCursor() (string, error) {
	var cursor string
	err := p.conn.QueryRow(
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
func (p *PostgresStore) PurgeEventsBefore(cutoff time.Time) (int64, error) {
	res, err := p.conn.Exec(`DELETE FROM sync_events WHERE server_ts < $1`, cutoff.UTC())
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
func (p *PostgresStore) Reset() error {
	if _, err := p.conn.Exec(`TRUNCATE tables, sync_events RESTART IDENTITY`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
