package store

import (
	"path/filepath"
	"testing"
)

func TestSQLitePath(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"sqlite:///./tablehub.db", "./tablehub.db"},
		{"sqlite:///data/app.db", "data/app.db"},
		{"sqlite://app.db", "app.db"},
		{"sqlite:app.db", "app.db"},
		{"./plain.db", "./plain.db"},
		{":memory:", ":memory:"},
	}
	for _, c := range cases {
		if got := sqlitePath(c.url); got != c.want {
			t.Errorf("sqlitePath(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestOpenDispatchesSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open("sqlite:///" + path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if _, ok := st.(*SQLiteStore); !ok {
		t.Fatalf("backend = %T, want *SQLiteStore", st)
	}
	if err := st.Ping(); err != nil {
		t.Errorf("ping: %v", err)
	}

	// Schema was initialized by Open.
	cursor, err := st.LatestCursor()
	if err != nil {
		t.Fatalf("latest cursor: %v", err)
	}
	if cursor != "0" {
		t.Errorf("cursor = %q, want \"0\"", cursor)
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2026-08-24T10:30:00.123456789Z",
		"2026-08-24T10:30:00Z",
		"2026-08-24 10:30:00.123456789+00:00",
		"2026-08-24 10:30:00",
	} {
		ts, err := parseTimestamp(s)
		if err != nil {
			t.Errorf("parseTimestamp(%q): %v", s, err)
			continue
		}
		if ts.Year() != 2026 {
			t.Errorf("parseTimestamp(%q) year = %d", s, ts.Year())
		}
	}

	if _, err := parseTimestamp("not a timestamp"); err == nil {
		t.Error("expected error for garbage input")
	}
}
