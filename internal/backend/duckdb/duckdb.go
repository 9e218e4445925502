// Package duckdb implements the local embedded analytic engine on DuckDB.
//
// It is both an execution backend for local node queries and the
// LocalStore the materializer writes remote pages into.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/querydeck-io/querydeck/internal/backend"
)

func init() {
	backend.Register("duckdb", func(cfg backend.Config, logger *slog.Logger) (backend.Backend, error) {
		return Open(cfg, logger)
	})
}

// Store is the DuckDB-backed local analytic store.
type Store struct {
	db     *sql.DB
	cfg    backend.Config
	logger *slog.Logger
}

// Open opens a DuckDB database. An empty path means in-memory.
func Open(cfg backend.Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	logger.Debug("duckdb opened", "path", path)

	return &Store{db: db, cfg: cfg, logger: logger}, nil
}

// ID returns the engine identifier.
func (s *Store) ID() string { return "duckdb" }

// Kind returns the backend kind.
func (s *Store) Kind() backend.Kind { return backend.KindLocal }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return backend.ErrNotConnected
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Execute runs a query and returns the full result set.
func (s *Store) Execute(ctx context.Context, query string) (*backend.Result, error) {
	if s.db == nil {
		return nil, backend.ErrNotConnected
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &backend.QueryError{Backend: s.ID(), Query: query, Err: err}
	}
	defer func() { _ = rows.Close() }()

	return backend.CollectRows(rows)
}

// CreateOrReplaceTableFromQuery materializes a local query as a table and
// returns the resulting row count and schema.
func (s *Store) CreateOrReplaceTableFromQuery(ctx context.Context, table, query string) (int64, backend.Schema, error) {
	if s.db == nil {
		return 0, nil, backend.ErrNotConnected
	}

	createSQL := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", quoteIdent(table), query)
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return 0, nil, &backend.QueryError{Backend: s.ID(), Query: query, Err: err}
	}

	schema, err := s.GetTableSchema(ctx, table)
	if err != nil {
		return 0, nil, err
	}

	count, err := s.CountRows(ctx, table)
	if err != nil {
		return 0, schema, err
	}

	s.logger.Debug("table materialized from query", "table", table, "rows", count)
	return count, schema, nil
}

// CreateTableFromRows replaces the table with the given rows. An empty
// rows slice still creates the table with zero rows so dependents can
// introspect columns before any data exists.
func (s *Store) CreateTableFromRows(ctx context.Context, table string, rowsIn [][]any, schema backend.Schema) (int64, error) {
	if s.db == nil {
		return 0, backend.ErrNotConnected
	}
	if len(schema) == 0 {
		return 0, fmt.Errorf("cannot create table %s without a schema", table)
	}

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return 0, fmt.Errorf("failed to drop table %s: %w", table, err)
	}

	cols := make([]string, len(schema))
	for i, c := range schema {
		cols[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), storageType(c.Type))
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	n, err := s.insertRows(ctx, table, rowsIn, schema)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("table created from rows", "table", table, "rows", n)
	return n, nil
}

// AppendRows appends rows to an existing table. Type conformance beyond
// what DuckDB enforces on insert is not re-validated.
func (s *Store) AppendRows(ctx context.Context, table string, rowsIn [][]any, schema backend.Schema) (int64, error) {
	if s.db == nil {
		return 0, backend.ErrNotConnected
	}
	return s.insertRows(ctx, table, rowsIn, schema)
}

// ReadPage reads a page of an already-materialized table for display.
func (s *Store) ReadPage(ctx context.Context, table string, offset, limit int) (*backend.Result, error) {
	if s.db == nil {
		return nil, backend.ErrNotConnected
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d", quoteIdent(table), limit, offset)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &backend.QueryError{Backend: s.ID(), Query: query, Err: err}
	}
	defer func() { _ = rows.Close() }()

	return backend.CollectRows(rows)
}

// GetTableSchema returns the table's columns in ordinal order.
func (s *Store) GetTableSchema(ctx context.Context, table string) (backend.Schema, error) {
	if s.db == nil {
		return nil, backend.ErrNotConnected
	}

	query := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name = ?
		ORDER BY ordinal_position
	`
	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schema backend.Schema
	for rows.Next() {
		var col backend.Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		schema = append(schema, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	return schema, nil
}

// DropTable removes a table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if s.db == nil {
		return backend.ErrNotConnected
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return nil
}

func (s *Store) insertRows(ctx context.Context, table string, rowsIn [][]any, schema backend.Schema) (int64, error) {
	if len(rowsIn) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(schema)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(table), placeholders)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}

	var n int64
	for _, row := range rowsIn {
		if len(row) != len(schema) {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, fmt.Errorf("row has %d values, schema has %d columns", len(row), len(schema))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		n++
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to close insert statement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert: %w", err)
	}
	return n, nil
}

// CountRows returns the table's current row count.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if s.db == nil {
		return 0, backend.ErrNotConnected
	}
	var count int64
	countSQL := "SELECT COUNT(*) FROM " + quoteIdent(table)
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}

// quoteIdent wraps an identifier in double quotes. Materialized table
// names are sanitized, but column names from remote schemas can contain
// anything.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// storageType maps a backend-reported type name onto a DuckDB storage
// type. Unknown names fall back to VARCHAR; the materializer casts
// loosely-typed wire values before insert.
func storageType(reported string) string {
	switch strings.ToUpper(strings.TrimSpace(reported)) {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "INT2", "INT4", "INT8", "BIGINT", "HUGEINT", "NUMBER":
		return "BIGINT"
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "NUMERIC", "DECIMAL":
		return "DOUBLE"
	case "BOOLEAN", "BOOL":
		return "BOOLEAN"
	case "DATE":
		return "DATE"
	case "TIME":
		return "TIME"
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP_NTZ", "TIMESTAMP_TZ", "TIMESTAMP_LTZ", "DATETIME":
		return "TIMESTAMP"
	case "BLOB", "BYTEA", "BINARY", "VARBINARY":
		return "BLOB"
	default:
		return "VARCHAR"
	}
}

// Interface guards.
var (
	_ backend.Backend    = (*Store)(nil)
	_ backend.LocalStore = (*Store)(nil)
)
