package sync

import (
	"regexp"
	"testing"

	"github.com/marcus/tablehub/internal/model"
	"github.com/marcus/tablehub/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.CreateTable(model.Table{
		ID:      "t1",
		Name:    "Budget",
		Headers: []string{"Item", "Cost"},
		Rows: []model.Row{
			{RowID: "r1", Cells: []string{"Rent", "1200"}, CellMeta: []*model.CellMeta{}},
		},
	}); err != nil {
		t.Fatalf("seed table: %v", err)
	}
	return New(st), st
}

func TestProcessSyncAppliesAndAdvancesCursor(t *testing.T) {
	e, st := newTestEngine(t)

	res, err := e.ProcessSync("alice", "0", []model.Operation{
		{Op: model.OpSetCell, TableID: "t1", RowID: "r1", Col: intp(1), Value: strp("1300"), TS: 100},
		{Op: model.OpAddRow, TableID: "t1", RowID: "r2"},
	})
	if err != nil {
		t.Fatalf("process sync: %v", err)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
	if res.Cursor == "0" || res.Cursor == "" {
		t.Fatalf("cursor = %q", res.Cursor)
	}
	// The returned cursor covers the pusher's own writes.
	events, err := st.EventsSince(res.Cursor, 100)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events after returned cursor = %d, want 0", len(events))
	}

	tab, err := st.GetTable("t1")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if tab.Rows[0].Cells[1] != "1300" {
		t.Errorf("cell = %q", tab.Rows[0].Cells[1])
	}
	if len(tab.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(tab.Rows))
	}
}

func TestProcessSyncExcludesOwnDeltas(t *testing.T) {
	e, _ := newTestEngine(t)

	first, err := e.ProcessSync("alice", "0", []model.Operation{
		{Op: model.OpAddRow, TableID: "t1", RowID: "ra"},
	})
	if err != nil {
		t.Fatalf("alice push: %v", err)
	}

	if _, err := e.ProcessSync("bob", first.Cursor, []model.Operation{
		{Op: model.OpAddRow, TableID: "t1", RowID: "rb"},
	}); err != nil {
		t.Fatalf("bob push: %v", err)
	}

	// Alice pushes again from her old baseline: she must see bob's row but
	// not her own earlier one.
	res, err := e.ProcessSync("alice", first.Cursor, []model.Operation{
		{Op: model.OpAddRow, TableID: "t1", RowID: "rc"},
	})
	if err != nil {
		t.Fatalf("alice second push: %v", err)
	}
	if len(res.Deltas) != 1 {
		t.Fatalf("deltas = %+v, want exactly bob's", res.Deltas)
	}
	d := res.Deltas[0]
	if d.By != "bob" || d.RowID != "rb" {
		t.Errorf("delta = %+v", d)
	}
	if d.ServerTS == "" {
		t.Error("delta missing serverTs")
	}
}

func TestProcessSyncConflictsDoNotAbort(t *testing.T) {
	e, st := newTestEngine(t)

	res, err := e.ProcessSync("alice", "0", []model.Operation{
		{Op: model.OpSetCell, TableID: "missing", RowID: "r1", Col: intp(0), Value: strp("x"), TS: 1},
		{Op: model.OpAddRow, TableID: "t1", RowID: "r2"},
		{Op: "teleportRow", TableID: "t1", RowID: "r2"},
	})
	if err != nil {
		t.Fatalf("process sync: %v", err)
	}
	if len(res.Conflicts) != 2 {
		t.Fatalf("conflicts = %+v, want 2", res.Conflicts)
	}
	for _, c := range res.Conflicts {
		if c.Reason != "Failed to apply" {
			t.Errorf("reason = %q", c.Reason)
		}
	}
	// The good op in the middle still landed.
	events, err := st.EventsSince("0", 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Operation.RowID != "r2" {
		t.Errorf("events = %+v", events)
	}
}

func TestProcessSyncLWWLossIsSilent(t *testing.T) {
	e, st := newTestEngine(t)

	if _, err := e.ProcessSync("bob", "0", []model.Operation{
		{Op: model.OpSetCell, TableID: "t1", RowID: "r1", Col: intp(0), Value: strp("new"), TS: 200},
	}); err != nil {
		t.Fatalf("bob push: %v", err)
	}

	res, err := e.ProcessSync("alice", "0", []model.Operation{
		{Op: model.OpSetCell, TableID: "t1", RowID: "r1", Col: intp(0), Value: strp("stale"), TS: 100},
	})
	if err != nil {
		t.Fatalf("alice push: %v", err)
	}
	// The losing write is neither an event nor a conflict.
	if len(res.Conflicts) != 0 {
		t.Errorf("conflicts = %+v", res.Conflicts)
	}
	events, err := st.EventsSince("0", 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want only the winning write", len(events))
	}

	tab, err := st.GetTable("t1")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if tab.Rows[0].Cells[0] != "new" {
		t.Errorf("cell = %q, stale write won", tab.Rows[0].Cells[0])
	}
}

func TestProcessSyncDeleteTable(t *testing.T) {
	e, st := newTestEngine(t)

	res, err := e.ProcessSync("alice", "0", []model.Operation{
		{Op: model.OpDeleteTable, TableID: "t1"},
	})
	if err != nil {
		t.Fatalf("process sync: %v", err)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
	tab, err := st.GetTable("t1")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if tab != nil {
		t.Error("table survived deleteTable")
	}

	// A second delete has no target left and conflicts.
	res, err = e.ProcessSync("alice", res.Cursor, []model.Operation{
		{Op: model.OpDeleteTable, TableID: "t1"},
	})
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if len(res.Conflicts) != 1 {
		t.Errorf("conflicts = %+v, want 1", res.Conflicts)
	}
}

func TestGetChangesSinceBootstrap(t *testing.T) {
	e, _ := newTestEngine(t)

	if _, err := e.ProcessSync("alice", "0", []model.Operation{
		{Op: model.OpAddRow, TableID: "t1", RowID: "r2"},
	}); err != nil {
		t.Fatalf("push: %v", err)
	}

	res, err := e.GetChangesSince("0")
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(res.Deltas) != 1 {
		t.Errorf("deltas = %d, want 1", len(res.Deltas))
	}
	if len(res.Tables) != 1 || res.Tables[0].ID != "t1" {
		t.Errorf("bootstrap snapshot = %+v", res.Tables)
	}

	// Resuming from the returned cursor: no snapshot, no deltas.
	next, err := e.GetChangesSince(res.Cursor)
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if next.Tables != nil {
		t.Error("snapshot present on incremental pull")
	}
	if len(next.Deltas) != 0 {
		t.Errorf("deltas = %d, want 0", len(next.Deltas))
	}
	if next.Cursor != res.Cursor {
		t.Errorf("cursor moved with no events: %q -> %q", res.Cursor, next.Cursor)
	}
}

func TestConvergenceUnderReorderedWrites(t *testing.T) {
	// Two stores receive the same two conflicting writes in opposite order
	// and must converge on the same cell value.
	opA := model.Operation{Op: model.OpSetCell, TableID: "t1", RowID: "r1", Col: intp(0), Value: strp("from-a"), TS: 100}
	opB := model.Operation{Op: model.OpSetCell, TableID: "t1", RowID: "r1", Col: intp(0), Value: strp("from-b"), TS: 100}

	run := func(t *testing.T, ops []struct {
		op     model.Operation
		client string
	}) string {
		e, st := newTestEngine(t)
		for _, o := range ops {
			if _, err := e.ProcessSync(o.client, "0", []model.Operation{o.op}); err != nil {
				t.Fatalf("push: %v", err)
			}
		}
		tab, err := st.GetTable("t1")
		if err != nil {
			t.Fatalf("get table: %v", err)
		}
		return tab.Rows[0].Cells[0]
	}

	forward := run(t, []struct {
		op     model.Operation
		client string
	}{{opA, "a"}, {opB, "b"}})
	reverse := run(t, []struct {
		op     model.Operation
		client string
	}{{opB, "b"}, {opA, "a"}})

	if forward != reverse {
		t.Fatalf("replicas diverged: %q vs %q", forward, reverse)
	}
	// Equal ts ties break toward the higher client id.
	if forward != "from-b" {
		t.Errorf("winner = %q, want from-b", forward)
	}
}

func TestGenerateCursor(t *testing.T) {
	op := model.Operation{Op: model.OpAddRow, TableID: "t1", RowID: "r9"}

	c1 := generateCursor("alice", op)
	if !regexp.MustCompile(`^\d+_[0-9a-f]{16}$`).MatchString(c1) {
		t.Fatalf("cursor format: %q", c1)
	}
	// Same-millisecond events from different clients must not collide; the
	// hash half carries the distinction.
	c2 := generateCursor("bob", op)
	if c1 == c2 {
		t.Errorf("cursors collide across clients: %q", c1)
	}
}
