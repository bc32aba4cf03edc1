// Package model defines the wire and storage types for TableHub: materialized
// tables, the operation language clients mutate them with, and the event log
// records the server appends for every accepted operation.
package model

import "time"

// Operation kinds. Clients dispatch on the "op" field; anything else is
// rejected as a conflict, never an error.
const (
	OpSetCell      = "setCell"
	OpAddRow       = "addRow"
	OpDeleteRow    = "deleteRow"
	OpAddColumn    = "addColumn"
	OpDeleteColumn = "deleteColumn"
	OpSetHeader    = "setHeader"
	OpRenameTable  = "renameTable"
	OpDeleteTable  = "deleteTable"
)

// CellMeta records who wrote a cell and when, for last-writer-wins
// tiebreaking. ts is the client clock in milliseconds since epoch.
type CellMeta struct {
	Value string `json:"value"`
	TS    int64  `json:"ts"`
	By    string `json:"by"`
}

// Row is one row of a table. CellMeta entries may be nil (no write recorded
// for that column yet) and the slice may be shorter than Cells; missing
// trailing entries are treated as absent.
type Row struct {
	RowID    string      `json:"rowId"`
	Cells    []string    `json:"cells"`
	CellMeta []*CellMeta `json:"cellMeta"`
}

// Table is a materialized tabular document. Row order is user-controlled and
// significant. Version is bumped by the store on every persisted mutation.
type Table struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Headers   []string  `json:"headers"`
	Rows      []Row     `json:"rows"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

// FindRow returns the index of the row with the given id, or -1.
func (t *Table) FindRow(rowID string) int {
	for i := range t.Rows {
		if t.Rows[i].RowID == rowID {
			return i
		}
	}
	return -1
}

// Operation is a single client mutation. Optional fields are pointers where
// the applier must distinguish "absent" from a zero value (column indexes,
// header text, cell value).
type Operation struct {
	Op         string  `json:"op"`
	TableID    string  `json:"tableId"`
	RowID      string  `json:"rowId,omitempty"`
	Col        *int    `json:"col,omitempty"`
	Value      *string `json:"value,omitempty"`
	AfterRowID string  `json:"afterRowId,omitempty"`
	ColIndex   *int    `json:"colIndex,omitempty"`
	Header     *string `json:"header,omitempty"`
	Name       string  `json:"name,omitempty"`
	TS         int64   `json:"ts,omitempty"`
}

// Event is an immutable record of an applied operation. ID is the log
// sequence number and the authoritative ordering; Cursor is an opaque unique
// handle clients use to resume.
type Event struct {
	ID        int64     `json:"id"`
	Cursor    string    `json:"cursor"`
	ClientID  string    `json:"clientId"`
	Operation Operation `json:"operation"`
	ServerTS  time.Time `json:"serverTs"`
	Applied   bool      `json:"applied"`
}

// Delta is the on-the-wire projection of an Event sent to other clients: the
// operation payload plus the server receipt time and the originator.
type Delta struct {
	Op         string  `json:"op"`
	TableID    string  `json:"tableId"`
	RowID      string  `json:"rowId,omitempty"`
	Col        *int    `json:"col,omitempty"`
	Value      *string `json:"value,omitempty"`
	AfterRowID string  `json:"afterRowId,omitempty"`
	ColIndex   *int    `json:"colIndex,omitempty"`
	Header     *string `json:"header,omitempty"`
	Name       string  `json:"name,omitempty"`
	ServerTS   string  `json:"serverTs"`
	By         string  `json:"by"`
}
