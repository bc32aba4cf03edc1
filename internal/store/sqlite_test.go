package store

import (
	"errors"
	"testing"
	"time"

	"github.com/marcus/tablehub/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := st.Init(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleTable(id string) model.Table {
	return model.Table{
		ID:      id,
		Name:    "Groceries",
		Headers: []string{"Item", "Qty"},
		Rows: []model.Row{
			{RowID: "r1", Cells: []string{"Milk", "2"}, CellMeta: []*model.CellMeta{}},
		},
	}
}

func TestCreateAndGetTable(t *testing.T) {
	st := newTestStore(t)

	if err := st.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("create table: %v", err)
	}

	got, err := st.GetTable("t1")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if got == nil {
		t.Fatal("expected table, got nil")
	}
	if got.Name != "Groceries" {
		t.Errorf("name = %q, want %q", got.Name, "Groceries")
	}
	if len(got.Headers) != 2 || got.Headers[0] != "Item" {
		t.Errorf("headers = %v", got.Headers)
	}
	if len(got.Rows) != 1 || got.Rows[0].RowID != "r1" {
		t.Errorf("rows = %+v", got.Rows)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updatedAt is zero")
	}
}

func TestGetTableMissing(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetTable("nope")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestCreateTableDuplicate(t *testing.T) {
	st := newTestStore(t)

	if err := st.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("create table: %v", err)
	}
	err := st.CreateTable(sampleTable("t1"))
	if !errors.Is(err, ErrTableExists) {
		t.Errorf("err = %v, want ErrTableExists", err)
	}
}

func TestUpdateTable(t *testing.T) {
	st := newTestStore(t)

	if err := st.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tab := sampleTable("t1")
	tab.Name = "Shopping"
	tab.Rows = append(tab.Rows, model.Row{RowID: "r2", Cells: []string{"Eggs", "12"}})

	ok, err := st.UpdateTable("t1", tab)
	if err != nil {
		t.Fatalf("update table: %v", err)
	}
	if !ok {
		t.Fatal("update reported no match")
	}

	got, err := st.GetTable("t1")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if got.Name != "Shopping" {
		t.Errorf("name = %q, want %q", got.Name, "Shopping")
	}
	if len(got.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(got.Rows))
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

func TestUpdateTableMissing(t *testing.T) {
	st := newTestStore(t)

	ok, err := st.UpdateTable("nope", sampleTable("nope"))
	if err != nil {
		t.Fatalf("update table: %v", err)
	}
	if ok {
		t.Error("update reported a match for a missing table")
	}
}

func TestDeleteTable(t *testing.T) {
	st := newTestStore(t)

	if err := st.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("create table: %v", err)
	}

	ok, err := st.DeleteTable("t1")
	if err != nil {
		t.Fatalf("delete table: %v", err)
	}
	if !ok {
		t.Fatal("delete reported no match")
	}

	got, err := st.GetTable("t1")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if got != nil {
		t.Error("table still present after delete")
	}

	ok, err = st.DeleteTable("t1")
	if err != nil {
		t.Fatalf("delete table: %v", err)
	}
	if ok {
		t.Error("second delete reported a match")
	}
}

func appendTestEvent(t *testing.T, st *SQLiteStore, cursor, clientID string) int64 {
	t.Helper()
	id, err := st.AppendEvent(cursor, clientID, model.Operation{Op: model.OpAddRow, TableID: "t1", RowID: "r-" + cursor})
	if err != nil {
		t.Fatalf("append event %s: %v", cursor, err)
	}
	return id
}

func TestAppendEventAssignsIncreasingIDs(t *testing.T) {
	st := newTestStore(t)

	a := appendTestEvent(t, st, "c1", "alice")
	b := appendTestEvent(t, st, "c2", "bob")
	if b <= a {
		t.Errorf("ids not increasing: %d then %d", a, b)
	}
}

func TestAppendEventDuplicateCursor(t *testing.T) {
	st := newTestStore(t)

	appendTestEvent(t, st, "c1", "alice")
	_, err := st.AppendEvent("c1", "bob", model.Operation{Op: model.OpAddRow, TableID: "t1", RowID: "r2"})
	if !errors.Is(err, ErrDuplicateCursor) {
		t.Errorf("err = %v, want ErrDuplicateCursor", err)
	}
}

func TestEventsSinceSentinel(t *testing.T) {
	st := newTestStore(t)

	appendTestEvent(t, st, "c1", "alice")
	appendTestEvent(t, st, "c2", "bob")
	appendTestEvent(t, st, "c3", "alice")

	events, err := st.EventsSince("0", 100)
	if err != nil {
		t.Fatalf("events since 0: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Errorf("events not id-ascending: %d then %d", events[i-1].ID, events[i].ID)
		}
	}
	if events[0].Cursor != "c1" || events[2].Cursor != "c3" {
		t.Errorf("unexpected order: %s .. %s", events[0].Cursor, events[2].Cursor)
	}
	if !events[0].Applied {
		t.Error("applied flag not set")
	}
}

func TestEventsSinceCursor(t *testing.T) {
	st := newTestStore(t)

	appendTestEvent(t, st, "c1", "alice")
	appendTestEvent(t, st, "c2", "bob")
	appendTestEvent(t, st, "c3", "alice")

	events, err := st.EventsSince("c1", 100)
	if err != nil {
		t.Fatalf("events since c1: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Cursor != "c2" {
		t.Errorf("first event cursor = %s, want c2", events[0].Cursor)
	}

	events, err = st.EventsSince("c3", 100)
	if err != nil {
		t.Fatalf("events since c3: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events after latest = %d, want 0", len(events))
	}
}

func TestEventsSinceUnknownCursor(t *testing.T) {
	st := newTestStore(t)

	appendTestEvent(t, st, "c1", "alice")

	events, err := st.EventsSince("purged-away", 100)
	if err != nil {
		t.Fatalf("events since unknown: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 for unresolvable cursor", len(events))
	}
}

func TestEventsSinceLimit(t *testing.T) {
	st := newTestStore(t)

	appendTestEvent(t, st, "c1", "alice")
	appendTestEvent(t, st, "c2", "alice")
	appendTestEvent(t, st, "c3", "alice")

	events, err := st.EventsSince("0", 2)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[1].Cursor != "c2" {
		t.Errorf("limit returned wrong window, last = %s", events[1].Cursor)
	}
}

func TestRecentEvents(t *testing.T) {
	st := newTestStore(t)

	appendTestEvent(t, st, "c1", "alice")
	appendTestEvent(t, st, "c2", "bob")

	events, err := st.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Cursor != "c2" || events[1].Cursor != "c1" {
		t.Errorf("not id-descending: %s, %s", events[0].Cursor, events[1].Cursor)
	}
	if events[0].ClientID != "bob" {
		t.Errorf("clientId = %s, want bob", events[0].ClientID)
	}
	if events[0].Operation.Op != model.OpAddRow {
		t.Errorf("operation op = %s", events[0].Operation.Op)
	}
}

func TestLatestCursor(t *testing.T) {
	st := newTestStore(t)

	cursor, err := st.LatestCursor()
	if err != nil {
		t.Fatalf("latest cursor: %v", err)
	}
	if cursor != "0" {
		t.Errorf("empty log cursor = %q, want \"0\"", cursor)
	}

	appendTestEvent(t, st, "c1", "alice")
	appendTestEvent(t, st, "c2", "bob")

	cursor, err = st.LatestCursor()
	if err != nil {
		t.Fatalf("latest cursor: %v", err)
	}
	if cursor != "c2" {
		t.Errorf("cursor = %q, want c2", cursor)
	}
}

func TestPurgeEventsBefore(t *testing.T) {
	st := newTestStore(t)

	appendTestEvent(t, st, "c1", "alice")
	appendTestEvent(t, st, "c2", "alice")

	n, err := st.PurgeEventsBefore(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 0 {
		t.Errorf("purged %d fresh events", n)
	}

	n, err = st.PurgeEventsBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Errorf("purged = %d, want 2", n)
	}

	events, err := st.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events remain after purge: %d", len(events))
	}
}

func TestReset(t *testing.T) {
	st := newTestStore(t)

	if err := st.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("create table: %v", err)
	}
	appendTestEvent(t, st, "c1", "alice")

	if err := st.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	tables, err := st.GetAllTables()
	if err != nil {
		t.Fatalf("get all tables: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("tables remain after reset: %d", len(tables))
	}

	// The id sequence restarts from 1.
	id := appendTestEvent(t, st, "c2", "alice")
	if id != 1 {
		t.Errorf("post-reset event id = %d, want 1", id)
	}
}

func TestResetOnEmptyStore(t *testing.T) {
	st := newTestStore(t)
	if err := st.Reset(); err != nil {
		t.Fatalf("reset empty store: %v", err)
	}
}

func TestGetAllTablesOrder(t *testing.T) {
	st := newTestStore(t)

	if err := st.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("create t1: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := st.CreateTable(sampleTable("t2")); err != nil {
		t.Fatalf("create t2: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Touching t1 moves it to the front.
	if ok, err := st.UpdateTable("t1", sampleTable("t1")); err != nil || !ok {
		t.Fatalf("update t1: ok=%v err=%v", ok, err)
	}

	tables, err := st.GetAllTables()
	if err != nil {
		t.Fatalf("get all tables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(tables))
	}
	if tables[0].ID != "t1" {
		t.Errorf("most recently updated first: got %s", tables[0].ID)
	}
}
