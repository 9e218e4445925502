package catalog

import (
	"testing"

	"github.com/querydeck-io/querydeck/internal/backend"
)

func TestSanitizeTableName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Orders", "orders"},
		{"My Query #2", "my_query__2"},
		{"revenue-2024", "revenue_2024"},
		{"já", "j_"},
		{"", ""},
	}

	for _, c := range cases {
		if got := SanitizeTableName(c.in); got != c.want {
			t.Errorf("SanitizeTableName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCatalog_PutGet(t *testing.T) {
	c := New()

	if c.Version() != 0 {
		t.Errorf("new catalog version = %d, want 0", c.Version())
	}

	c.Put(Table{
		Name:        "orders",
		Columns:     backend.Schema{{Name: "id", Type: "BIGINT"}},
		RowCount:    10,
		OwnerNodeID: 1,
	})

	tbl, ok := c.Get("orders")
	if !ok {
		t.Fatal("expected orders to exist")
	}
	if tbl.RowCount != 10 || tbl.OwnerNodeID != 1 {
		t.Errorf("unexpected table entry: %+v", tbl)
	}
	if tbl.LastUpdated.IsZero() {
		t.Error("LastUpdated should be set on Put")
	}
	if c.Version() != 1 {
		t.Errorf("version after Put = %d, want 1", c.Version())
	}
}

func TestCatalog_CollisionOverwrites(t *testing.T) {
	c := New()

	// Two nodes sanitizing to the same table name: last writer wins.
	c.Put(Table{Name: "orders", OwnerNodeID: 1, RowCount: 5})
	c.Put(Table{Name: "orders", OwnerNodeID: 2, RowCount: 7})

	owner, ok := c.Owner("orders")
	if !ok || owner != 2 {
		t.Errorf("Owner = (%d, %v), want (2, true)", owner, ok)
	}
}

func TestCatalog_UpdateRowCount(t *testing.T) {
	c := New()
	c.Put(Table{Name: "orders", RowCount: 10})

	v := c.Version()
	c.UpdateRowCount("orders", 25)

	tbl, _ := c.Get("orders")
	if tbl.RowCount != 25 {
		t.Errorf("RowCount = %d, want 25", tbl.RowCount)
	}
	if c.Version() != v+1 {
		t.Errorf("version should bump on row count update")
	}

	// Unknown table: ignored, no version bump.
	v = c.Version()
	c.UpdateRowCount("missing", 1)
	if c.Version() != v {
		t.Error("version should not bump for unknown table")
	}
}

func TestCatalog_Remove(t *testing.T) {
	c := New()
	c.Put(Table{Name: "a"})
	c.Put(Table{Name: "b"})

	c.Remove("a")
	if c.Has("a") {
		t.Error("a should be removed")
	}

	names := c.TableNames()
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("TableNames = %v, want [b]", names)
	}
}
