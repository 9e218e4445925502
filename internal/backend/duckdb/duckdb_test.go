package duckdb

import (
	"context"
	"errors"
	"testing"

	"github.com/querydeck-io/querydeck/internal/backend"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(backend.Config{Type: "duckdb"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ExecuteSimpleQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Execute(ctx, "SELECT 1 AS x, 'a' AS y")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if len(res.Schema) != 2 || res.Schema[0].Name != "x" || res.Schema[1].Name != "y" {
		t.Errorf("unexpected schema: %+v", res.Schema)
	}
}

func TestStore_ExecuteInvalidQuery(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Execute(context.Background(), "SELEKT broken")
	if err == nil {
		t.Fatal("expected error for invalid SQL")
	}

	var qe *backend.QueryError
	if !errors.As(err, &qe) {
		t.Errorf("expected QueryError, got %T", err)
	}
}

func TestStore_CreateOrReplaceTableFromQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	count, schema, err := s.CreateOrReplaceTableFromQuery(ctx, "nums", "SELECT * FROM range(5) t(n)")
	if err != nil {
		t.Fatalf("CreateOrReplaceTableFromQuery: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
	if len(schema) != 1 || schema[0].Name != "n" {
		t.Errorf("schema = %+v", schema)
	}

	// Replace is idempotent for a non-side-effecting query.
	count2, schema2, err := s.CreateOrReplaceTableFromQuery(ctx, "nums", "SELECT * FROM range(5) t(n)")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if count2 != count || len(schema2) != len(schema) {
		t.Errorf("replace changed shape: %d rows, %d cols", count2, len(schema2))
	}
}

func TestStore_CreateTableFromRowsAndAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	schema := backend.Schema{{Name: "id", Type: "BIGINT"}, {Name: "name", Type: "VARCHAR"}}
	rows := [][]any{{int64(1), "alice"}, {int64(2), "bob"}}

	n, err := s.CreateTableFromRows(ctx, "people", rows, schema)
	if err != nil {
		t.Fatalf("CreateTableFromRows: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d rows, want 2", n)
	}

	n, err = s.AppendRows(ctx, "people", [][]any{{int64(3), "carol"}}, schema)
	if err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if n != 1 {
		t.Errorf("appended %d rows, want 1", n)
	}

	res, err := s.ReadPage(ctx, "people", 0, 10)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Errorf("ReadPage rows = %d, want 3", len(res.Rows))
	}

	// Offset past the end reads an empty page.
	res, err = s.ReadPage(ctx, "people", 10, 10)
	if err != nil {
		t.Fatalf("ReadPage offset: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("expected empty page, got %d rows", len(res.Rows))
	}
}

func TestStore_CreateTableFromRows_Empty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Empty result sets still create the table with the reported schema.
	schema := backend.Schema{{Name: "id", Type: "BIGINT"}}
	n, err := s.CreateTableFromRows(ctx, "empty_t", nil, schema)
	if err != nil {
		t.Fatalf("CreateTableFromRows: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted %d rows, want 0", n)
	}

	got, err := s.GetTableSchema(ctx, "empty_t")
	if err != nil {
		t.Fatalf("GetTableSchema: %v", err)
	}
	if len(got) != 1 || got[0].Name != "id" {
		t.Errorf("schema = %+v", got)
	}

	// No schema at all is an error.
	if _, err := s.CreateTableFromRows(ctx, "bad", nil, nil); err == nil {
		t.Error("expected error for missing schema")
	}
}

func TestStore_DropTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateOrReplaceTableFromQuery(ctx, "tmp", "SELECT 1 AS x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.DropTable(ctx, "tmp"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, err := s.GetTableSchema(ctx, "tmp"); err == nil {
		t.Error("expected schema lookup to fail after drop")
	}

	// Dropping a missing table is fine.
	if err := s.DropTable(ctx, "tmp"); err != nil {
		t.Errorf("DropTable (missing): %v", err)
	}
}

func TestStorageType(t *testing.T) {
	cases := map[string]string{
		"NUMBER":        "BIGINT",
		"text":          "VARCHAR",
		"TIMESTAMP_NTZ": "TIMESTAMP",
		"bool":          "BOOLEAN",
		"WHATEVER":      "VARCHAR",
	}
	for in, want := range cases {
		if got := storageType(in); got != want {
			t.Errorf("storageType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStore_CountRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.CreateOrReplaceTableFromQuery(ctx, "counted", "SELECT * FROM range(7) t(n)"); err != nil {
		t.Fatalf("CreateOrReplaceTableFromQuery: %v", err)
	}

	count, err := s.CountRows(ctx, "counted")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}

	if _, err := s.CountRows(ctx, "no_such_table"); err == nil {
		t.Error("expected error for missing table")
	}
}
