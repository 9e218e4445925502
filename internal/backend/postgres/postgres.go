// Package postgres implements an offset-paginated remote warehouse
// backend on PostgreSQL.
//
// Continuation is a row offset computed by the coordinator, not issued by
// the backend: each page re-queries with the original statement wrapped in
// a LIMIT/OFFSET subquery. No snapshot isolation is guaranteed between
// pages; the underlying data may change mid-fetch.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/querydeck-io/querydeck/internal/backend"
)

func init() {
	backend.Register("postgres", func(cfg backend.Config, logger *slog.Logger) (backend.Backend, error) {
		return Open(cfg, logger)
	})
}

// Backend is a PostgreSQL connection.
type Backend struct {
	db     *sql.DB
	cfg    backend.Config
	logger *slog.Logger
}

// Open opens a connection pool to PostgreSQL.
func Open(cfg backend.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dsn := buildDSN(cfg)
	logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	return &Backend{db: db, cfg: cfg, logger: logger}, nil
}

// NewFromDB wraps an existing database handle. Used in tests.
func NewFromDB(db *sql.DB, cfg backend.Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{db: db, cfg: cfg, logger: logger}
}

// ID returns the engine identifier, qualified by connection name.
func (b *Backend) ID() string {
	if b.cfg.Name != "" {
		return "postgres:" + b.cfg.Name
	}
	return "postgres"
}

// Kind returns the backend kind.
func (b *Backend) Kind() backend.Kind { return backend.KindOffsetPaginated }

// Ping verifies the backend is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b.db == nil {
		return backend.ErrNotConnected
	}
	return b.db.PingContext(ctx)
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Execute runs a query to completion.
func (b *Backend) Execute(ctx context.Context, query string) (*backend.Result, error) {
	if b.db == nil {
		return nil, backend.ErrNotConnected
	}

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &backend.QueryError{Backend: b.ID(), Query: query, Err: err}
	}
	defer func() { _ = rows.Close() }()

	return backend.CollectRows(rows)
}

// ExecutePage runs one page of a query. The first page (zero continuation)
// also runs a COUNT(*) over the full statement so the caller learns the
// total result size up front; continuation pages skip the count.
func (b *Backend) ExecutePage(ctx context.Context, query string, pageSize int, cont backend.Continuation) (*backend.Page, error) {
	if b.db == nil {
		return nil, backend.ErrNotConnected
	}

	offset, ok := cont.Offset()
	if !ok {
		return nil, fmt.Errorf("%s: cursor continuation handed to offset-paginated backend", b.ID())
	}

	inner := strings.TrimRight(strings.TrimSpace(query), ";")

	var total *int64
	if cont.IsZero() {
		countSQL := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS subq", inner)
		var n int64
		if err := b.db.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
			return nil, &backend.QueryError{Backend: b.ID(), Query: query, Err: err}
		}
		total = &n
	}

	pageSQL := fmt.Sprintf("SELECT * FROM (%s) AS subq LIMIT %d OFFSET %d", inner, pageSize, offset)
	rows, err := b.db.QueryContext(ctx, pageSQL)
	if err != nil {
		return nil, &backend.QueryError{Backend: b.ID(), Query: query, Err: err}
	}
	defer func() { _ = rows.Close() }()

	res, err := backend.CollectRows(rows)
	if err != nil {
		return nil, err
	}

	fetched := int64(len(res.Rows))
	nextOffset := offset + uint64(fetched)

	var hasMore bool
	if total != nil {
		hasMore = int64(nextOffset) < *total
	} else {
		// Without a total the page is full exactly when more may remain.
		hasMore = fetched == int64(pageSize)
	}

	b.logger.Debug("page fetched",
		"backend", b.ID(), "offset", offset, "rows", fetched, "has_more", hasMore)

	return &backend.Page{
		Rows:      res.Rows,
		Schema:    res.Schema,
		TotalRows: total,
		HasMore:   hasMore,
		Next:      backend.OffsetToken(nextOffset),
	}, nil
}

// buildDSN constructs a key=value PostgreSQL connection string.
func buildDSN(cfg backend.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	parts := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
	}
	if cfg.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", cfg.Database))
	}
	parts = append(parts, fmt.Sprintf("sslmode=%s", sslmode))
	if cfg.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.Username))
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", cfg.Password))
	}

	return strings.Join(parts, " ")
}

// Interface guards.
var (
	_ backend.Backend   = (*Backend)(nil)
	_ backend.Paginated = (*Backend)(nil)
)
