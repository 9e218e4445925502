// Package backend defines the engine backend contract for QueryDeck's
// query materialization core.
//
// A backend is a query execution target: the local embedded DuckDB store,
// or a remote warehouse-style engine reached over a paginated protocol.
// Concrete implementations live in subdirectories and register themselves
// via Register in their init() functions.
package backend

import (
	"context"
)

// Kind classifies a backend by its pagination protocol.
type Kind int

const (
	// KindLocal is the embedded analytic engine. Never paginated from the
	// coordinator's perspective; page reads of materialized tables are a
	// separate read-side concern.
	KindLocal Kind = iota

	// KindCursorPaginated continues a fetch with an opaque token issued by
	// the backend on the previous page.
	KindCursorPaginated

	// KindOffsetPaginated continues a fetch with a row offset computed by
	// the coordinator from the number of rows fetched so far.
	KindOffsetPaginated
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindCursorPaginated:
		return "cursor-paginated"
	case KindOffsetPaginated:
		return "offset-paginated"
	default:
		return "unknown"
	}
}

// Column describes one column of a result set or materialized table.
type Column struct {
	// Name is the column name as reported by the backend.
	Name string

	// Type is the backend-reported type name (e.g. "BIGINT", "VARCHAR").
	Type string
}

// Schema is an ordered list of columns.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Stats carries optional backend-reported execution statistics.
type Stats struct {
	// BytesProcessed is the number of bytes scanned by the backend, if reported.
	BytesProcessed int64

	// CacheHit is true if the backend served the query from its result cache.
	CacheHit bool
}

// Result is a complete, non-paginated result set.
type Result struct {
	// Rows holds the result rows, each aligned with Schema order.
	Rows [][]any

	// Schema describes the result columns.
	Schema Schema

	// Stats holds optional backend-reported statistics.
	Stats Stats
}

// Page is one page of a paginated result set.
type Page struct {
	// Rows holds the page's rows, aligned with Schema order.
	Rows [][]any

	// Schema describes the result columns.
	Schema Schema

	// TotalRows is the backend-reported total result size. Nil when the
	// backend does not know (offset backends only count on the first page).
	TotalRows *int64

	// HasMore is true if another page can be fetched.
	HasMore bool

	// Next is the continuation for the following page. Only meaningful
	// when HasMore is true.
	Next Continuation

	// Loose is true when the backend returns all values as strings and the
	// materializer must cast per the reported schema before storing.
	Loose bool

	// Stats holds optional backend-reported statistics.
	Stats Stats
}

// Backend is the minimal contract every engine backend implements.
type Backend interface {
	// ID returns a stable engine identifier (e.g. "duckdb", "postgres:analytics").
	ID() string

	// Kind returns the backend's pagination protocol.
	Kind() Kind

	// Execute runs a query to completion and returns the full result set.
	Execute(ctx context.Context, query string) (*Result, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Paginated is implemented by backends whose results are fetched page by page.
type Paginated interface {
	Backend

	// ExecutePage runs one page of a query. A zero Continuation requests the
	// first page; subsequent pages pass the Next continuation of the prior
	// page (cursor backends) or an offset computed by the caller (offset
	// backends).
	ExecutePage(ctx context.Context, query string, pageSize int, cont Continuation) (*Page, error)
}

// LocalStore is the narrow interface the materializer uses to write into
// the embedded analytic engine. The duckdb backend implements it.
type LocalStore interface {
	// CreateOrReplaceTableFromQuery materializes a local query as a table.
	CreateOrReplaceTableFromQuery(ctx context.Context, table, query string) (int64, Schema, error)

	// CreateTableFromRows replaces table with the given rows and schema.
	// An empty rows slice still creates the table with zero rows.
	CreateTableFromRows(ctx context.Context, table string, rows [][]any, schema Schema) (int64, error)

	// AppendRows appends rows to an existing table.
	AppendRows(ctx context.Context, table string, rows [][]any, schema Schema) (int64, error)

	// ReadPage reads a page of an already-materialized table.
	ReadPage(ctx context.Context, table string, offset, limit int) (*Result, error)

	// GetTableSchema returns the table's columns in ordinal order.
	GetTableSchema(ctx context.Context, table string) (Schema, error)

	// DropTable removes a table if it exists.
	DropTable(ctx context.Context, table string) error
}
