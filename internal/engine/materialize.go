package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/catalog"
)

// Materializer writes backend results into the local analytic store and
// keeps the catalog in sync. It is the single write path into the catalog
// so the version counter observes every table mutation.
type Materializer struct {
	local  backend.LocalStore
	cat    *catalog.Catalog
	logger *slog.Logger
}

func NewMaterializer(local backend.LocalStore, cat *catalog.Catalog, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Materializer{local: local, cat: cat, logger: logger}
}

// Replace materializes rows as a fresh table, dropping any previous
// contents. Loose rows carry string-typed wire values and are cast to the
// schema's declared types first. An empty result still creates the table.
func (m *Materializer) Replace(ctx context.Context, nodeID int64, table string, rows [][]any, schema backend.Schema, loose bool) (catalog.Table, error) {
	if loose {
		rows = castRows(rows, schema)
	}

	count, err := m.local.CreateTableFromRows(ctx, table, rows, schema)
	if err != nil {
		return catalog.Table{}, fmt.Errorf("materialize %q: %w", table, err)
	}

	tbl := catalog.Table{
		Name:        table,
		Columns:     schema,
		RowCount:    count,
		OwnerNodeID: nodeID,
		LastUpdated: time.Now(),
	}
	m.cat.Put(tbl)

	m.logger.Debug("table replaced", "table", table, "rows", count)
	return tbl, nil
}

// Append adds a continuation page to an existing table and returns the
// table's new row count. The page's schema must match the first page's.
func (m *Materializer) Append(ctx context.Context, table string, rows [][]any, schema backend.Schema, loose bool) (int64, error) {
	if loose {
		rows = castRows(rows, schema)
	}

	appended, err := m.local.AppendRows(ctx, table, rows, schema)
	if err != nil {
		return 0, fmt.Errorf("append %q: %w", table, err)
	}

	total := appended
	if tbl, ok := m.cat.Get(table); ok {
		total = tbl.RowCount + appended
	}
	m.cat.UpdateRowCount(table, total)

	m.logger.Debug("rows appended", "table", table, "appended", appended, "total", total)
	return total, nil
}

// registerReplace records a table the local store materialized directly,
// where no row transfer passed through the materializer.
func (m *Materializer) registerReplace(nodeID int64, table string, count int64, schema backend.Schema) {
	m.cat.Put(catalog.Table{
		Name:        table,
		Columns:     schema,
		RowCount:    count,
		OwnerNodeID: nodeID,
		LastUpdated: time.Now(),
	})
}
