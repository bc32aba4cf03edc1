package sync

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/marcus/tablehub/internal/model"
)

// applyOperation reads the target table, applies one operation, and persists
// the post-image. Precondition failures (missing field, absent target,
// out-of-range index, unknown op) come back as statusFailed; storage faults
// are returned as errors. deleteTable skips the materialization read and goes
// straight to the store.
func (e *Engine) applyOperation(op model.Operation, clientID string) (applyStatus, error) {
	if op.Op == "" || op.TableID == "" {
		return statusFailed, nil
	}

	if op.Op == model.OpDeleteTable {
		ok, err := e.store.DeleteTable(op.TableID)
		if err != nil {
			return statusFailed, fmt.Errorf("delete table: %w", err)
		}
		if !ok {
			return statusFailed, nil
		}
		return statusApplied, nil
	}

	table, err := e.store.GetTable(op.TableID)
	if err != nil {
		return statusFailed, fmt.Errorf("get table: %w", err)
	}
	if table == nil {
		return statusFailed, nil
	}

	var status applyStatus
	persist := true

	switch op.Op {
	case model.OpSetCell:
		status = applySetCell(table, op, clientID)
	case model.OpAddRow:
		status, persist = applyAddRow(table, op)
	case model.OpDeleteRow:
		status = applyDeleteRow(table, op)
	case model.OpAddColumn:
		status = applyAddColumn(table, op)
	case model.OpDeleteColumn:
		status = applyDeleteColumn(table, op)
	case model.OpSetHeader:
		status = applySetHeader(table, op)
	case model.OpRenameTable:
		status = applyRenameTable(table, op)
	default:
		slog.Warn("unknown operation type", "op", op.Op)
		return statusFailed, nil
	}

	if status != statusApplied || !persist {
		return status, nil
	}

	ok, err := e.store.UpdateTable(op.TableID, *table)
	if err != nil {
		return statusFailed, fmt.Errorf("update table: %w", err)
	}
	if !ok {
		return statusFailed, nil
	}
	return statusApplied, nil
}

// applySetCell writes a cell under the last-writer-wins rule. The row's cells
// and cellMeta are padded out to the target column first, so the invariant
// len(cells) == len(headers) is restored lazily for sparse writes.
func applySetCell(t *model.Table, op model.Operation, clientID string) applyStatus {
	if op.RowID == "" || op.Col == nil || *op.Col < 0 {
		return statusFailed
	}
	col := *op.Col

	idx := t.FindRow(op.RowID)
	if idx < 0 {
		return statusFailed
	}
	row := &t.Rows[idx]

	for len(row.Cells) <= col {
		row.Cells = append(row.Cells, "")
	}
	for len(row.CellMeta) <= col {
		row.CellMeta = append(row.CellMeta, nil)
	}

	if !shouldApplyWrite(row.CellMeta[col], op.TS, clientID) {
		return statusLWWLost
	}

	value := ""
	if op.Value != nil {
		value = *op.Value
	}
	row.Cells[col] = value
	row.CellMeta[col] = &model.CellMeta{Value: value, TS: op.TS, By: clientID}
	return statusApplied
}

// shouldApplyWrite is the LWW rule: the incoming write wins iff its (ts,
// clientId) pair is lexicographically greater than the stored one. A missing
// or zero-ts meta always loses to the incoming write. Both replicas converge
// on the same winner regardless of arrival order.
func shouldApplyWrite(current *model.CellMeta, ts int64, clientID string) bool {
	if current == nil || current.TS == 0 {
		return true
	}
	if ts > current.TS {
		return true
	}
	if ts == current.TS {
		return clientID > current.By
	}
	return false
}

// applyAddRow inserts an empty row after afterRowId (or appends). Idempotent:
// an existing rowId is a success without touching the table, so the second
// return reports whether the table needs persisting.
func applyAddRow(t *model.Table, op model.Operation) (applyStatus, bool) {
	if op.RowID == "" {
		return statusFailed, false
	}
	if t.FindRow(op.RowID) >= 0 {
		return statusApplied, false
	}

	row := model.Row{
		RowID:    op.RowID,
		Cells:    make([]string, len(t.Headers)),
		CellMeta: []*model.CellMeta{},
	}

	pos := len(t.Rows)
	if op.AfterRowID != "" {
		if after := t.FindRow(op.AfterRowID); after >= 0 {
			pos = after + 1
		}
	}
	t.Rows = slices.Insert(t.Rows, pos, row)
	return statusApplied, true
}

// applyDeleteRow removes the row by id; a missing id is a no-op success.
func applyDeleteRow(t *model.Table, op model.Operation) applyStatus {
	if op.RowID == "" {
		return statusFailed
	}
	t.Rows = slices.DeleteFunc(t.Rows, func(r model.Row) bool {
		return r.RowID == op.RowID
	})
	return statusApplied
}

// applyAddColumn inserts a column at colIndex, clamped to [0, len(headers)];
// out-of-range or absent indexes append. The default header name is derived
// from the requested index, not the clamped one.
func applyAddColumn(t *model.Table, op model.Operation) applyStatus {
	colIndex := len(t.Headers)
	if op.ColIndex != nil {
		colIndex = *op.ColIndex
	}
	header := fmt.Sprintf("Column %d", colIndex+1)
	if op.Header != nil {
		header = *op.Header
	}

	t.Headers = insertClamped(t.Headers, colIndex, header)
	for i := range t.Rows {
		row := &t.Rows[i]
		row.Cells = insertClamped(row.Cells, colIndex, "")
		row.CellMeta = insertClamped(row.CellMeta, colIndex, nil)
	}
	return statusApplied
}

// insertClamped inserts v at idx when idx is within [0, len(s)], else appends.
func insertClamped[S ~[]E, E any](s S, idx int, v E) S {
	if idx < 0 || idx > len(s) {
		return append(s, v)
	}
	return slices.Insert(s, idx, v)
}

// applyDeleteColumn removes the column at colIndex from the headers and from
// every row where the index is in range.
func applyDeleteColumn(t *model.Table, op model.Operation) applyStatus {
	if op.ColIndex == nil {
		return statusFailed
	}
	colIndex := *op.ColIndex
	if colIndex < 0 || colIndex >= len(t.Headers) {
		return statusFailed
	}

	t.Headers = slices.Delete(t.Headers, colIndex, colIndex+1)
	for i := range t.Rows {
		row := &t.Rows[i]
		if colIndex < len(row.Cells) {
			row.Cells = slices.Delete(row.Cells, colIndex, colIndex+1)
		}
		if colIndex < len(row.CellMeta) {
			row.CellMeta = slices.Delete(row.CellMeta, colIndex, colIndex+1)
		}
	}
	return statusApplied
}

func applySetHeader(t *model.Table, op model.Operation) applyStatus {
	if op.ColIndex == nil {
		return statusFailed
	}
	colIndex := *op.ColIndex
	if colIndex < 0 || colIndex >= len(t.Headers) {
		return statusFailed
	}
	header := ""
	if op.Header != nil {
		header = *op.Header
	}
	t.Headers[colIndex] = header
	return statusApplied
}

func applyRenameTable(t *model.Table, op model.Operation) applyStatus {
	if op.Name == "" {
		return statusFailed
	}
	t.Name = op.Name
	return statusApplied
}
