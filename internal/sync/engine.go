package sync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/tablehub/internal/model"
	"github.com/marcus/tablehub/internal/store"
)

// pullLimit caps how many events a single push response or pull returns.
// Clients with more to catch up on re-pull with the returned cursor.
const pullLimit = 100

// Engine coordinates push and pull against the store. It has no mutable
// state of its own beyond the per-table locks; all durable state lives in
// the store.
type Engine struct {
	store store.Store
	locks *tableLocks
}

// New creates an Engine on top of the given store.
func New(st store.Store) *Engine {
	return &Engine{store: st, locks: newTableLocks()}
}

// ProcessSync applies a client's batch in input order, appends an event for
// every accepted operation, and returns the new baseline cursor plus the
// deltas other clients produced since baseCursor. Precondition failures are
// collected as conflicts and the push keeps going; storage faults abort with
// an error. Events appended before an abort remain: re-push is safe because
// addRow and deleteRow are idempotent and a setCell re-application loses the
// LWW race against its own metadata.
func (e *Engine) ProcessSync(clientID, baseCursor string, ops []model.Operation) (*PushResult, error) {
	conflicts := []Conflict{}

	for _, op := range ops {
		status, err := e.applyLocked(op, clientID)
		if err != nil {
			return nil, fmt.Errorf("apply %s on %s: %w", op.Op, op.TableID, err)
		}
		switch status {
		case statusApplied:
			cursor := generateCursor(clientID, op)
			if _, err := e.store.AppendEvent(cursor, clientID, op); err != nil {
				return nil, fmt.Errorf("append event: %w", err)
			}
		case statusFailed:
			slog.Debug("operation conflict", "op", op.Op, "table", op.TableID, "client", clientID)
			conflicts = append(conflicts, Conflict{Operation: op, Reason: "Failed to apply"})
		case statusLWWLost:
			// The store already holds the winning write; the client sees it
			// on the next pull. Neither an event nor a conflict.
		}
	}

	// The caller's own writes must be appended before the baseline is read,
	// so the cursor handed back already covers them.
	latest, err := e.store.LatestCursor()
	if err != nil {
		return nil, fmt.Errorf("latest cursor: %w", err)
	}

	events, err := e.store.EventsSince(baseCursor, pullLimit)
	if err != nil {
		return nil, fmt.Errorf("events since %s: %w", baseCursor, err)
	}

	deltas := []model.Delta{}
	for _, ev := range events {
		if ev.ClientID == clientID {
			continue
		}
		deltas = append(deltas, eventToDelta(ev))
	}

	return &PushResult{Cursor: latest, Deltas: deltas, Conflicts: conflicts}, nil
}

// applyLocked serializes the read-apply-write against other operations on
// the same table.
func (e *Engine) applyLocked(op model.Operation, clientID string) (applyStatus, error) {
	if op.TableID == "" {
		return statusFailed, nil
	}
	l := e.locks.forTable(op.TableID)
	l.Lock()
	defer l.Unlock()
	return e.applyOperation(op, clientID)
}

// GetChangesSince returns the deltas for events after the cursor, the latest
// cursor to resume from, and, for a bootstrap pull (cursor "0"), a full
// snapshot of every table so the client can seed state before folding deltas.
func (e *Engine) GetChangesSince(cursor string) (*PullResult, error) {
	events, err := e.store.EventsSince(cursor, pullLimit)
	if err != nil {
		return nil, fmt.Errorf("events since %s: %w", cursor, err)
	}

	deltas := make([]model.Delta, 0, len(events))
	for _, ev := range events {
		deltas = append(deltas, eventToDelta(ev))
	}

	latest, err := e.store.LatestCursor()
	if err != nil {
		return nil, fmt.Errorf("latest cursor: %w", err)
	}

	res := &PullResult{Cursor: latest, Deltas: deltas}
	if cursor == "0" {
		tables, err := e.store.GetAllTables()
		if err != nil {
			return nil, fmt.Errorf("get all tables: %w", err)
		}
		res.Tables = tables
	}
	return res, nil
}

// eventToDelta projects an event into its wire form for other clients.
func eventToDelta(ev model.Event) model.Delta {
	op := ev.Operation
	return model.Delta{
		Op:         op.Op,
		TableID:    op.TableID,
		RowID:      op.RowID,
		Col:        op.Col,
		Value:      op.Value,
		AfterRowID: op.AfterRowID,
		ColIndex:   op.ColIndex,
		Header:     op.Header,
		Name:       op.Name,
		ServerTS:   ev.ServerTS.UTC().Format(time.RFC3339Nano),
		By:         ev.ClientID,
	}
}
