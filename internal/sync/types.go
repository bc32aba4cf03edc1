// Package sync implements the synchronization engine: it linearizes incoming
// client operations, resolves concurrent cell writes with last-writer-wins,
// appends accepted operations to the event log, and computes the catch-up
// deltas clients fold over their local state.
package sync

import "github.com/marcus/tablehub/internal/model"

// Conflict reports an operation that could not be applied. The push as a
// whole still succeeds; the client decides what to do with the loser.
type Conflict struct {
	Operation model.Operation `json:"operation"`
	Reason    string          `json:"reason"`
}

// PushResult is the outcome of processing a push batch.
type PushResult struct {
	Cursor    string
	Deltas    []model.Delta
	Conflicts []Conflict
}

// PullResult is the outcome of a catch-up pull. Tables is non-nil only for a
// bootstrap pull (cursor "0"), where it snapshots the full table set.
type PullResult struct {
	Cursor string
	Deltas []model.Delta
	Tables []model.Table
}

// applyStatus classifies a single operation: applied (logged as an event),
// failed (surfaced as a conflict), or lost the LWW race. A lost race is
// silent; the server already holds the winning write.
type applyStatus int

const (
	statusApplied applyStatus = iota
	statusFailed
	statusLWWLost
)
