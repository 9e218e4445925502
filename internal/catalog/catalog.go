// Package catalog tracks the tables materialized into the local analytic
// store: their columns, row counts, and owning nodes.
//
// The catalog is process-local, single-writer (the materializer), with a
// monotonically increasing version counter that callers use to know when
// dependency edges for other nodes must be recomputed.
package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/querydeck-io/querydeck/internal/backend"
)

// Table is one materialized table entry.
type Table struct {
	// Name is the table name in the local store, derived from the owning
	// node's name via SanitizeTableName.
	Name string

	// Columns are the table's columns in ordinal order.
	Columns backend.Schema

	// RowCount is the number of rows currently materialized.
	RowCount int64

	// OwnerNodeID is the node whose execution produced this table.
	OwnerNodeID int64

	// LastUpdated is when the table was last replaced or appended to.
	LastUpdated time.Time
}

// Catalog is the registry of materialized tables.
type Catalog struct {
	mu      sync.RWMutex
	tables  map[string]*Table
	version uint64
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{tables: make(map[string]*Table)}
}

// SanitizeTableName derives a table name from a node name: lowercase,
// every non-alphanumeric run replaced by '_'. The mapping is lossy; two
// node names can collide, in which case the later writer silently owns
// the table.
func SanitizeTableName(nodeName string) string {
	var b strings.Builder
	b.Grow(len(nodeName))
	for _, r := range strings.ToLower(nodeName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Put registers or replaces a table entry and bumps the catalog version.
func (c *Catalog) Put(t Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.LastUpdated.IsZero() {
		t.LastUpdated = time.Now().UTC()
	}
	c.tables[t.Name] = &t
	c.version++
}

// UpdateRowCount adjusts the row count of an existing table after an
// append and bumps the catalog version. Unknown tables are ignored.
func (c *Catalog) UpdateRowCount(name string, rowCount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return
	}
	t.RowCount = rowCount
	t.LastUpdated = time.Now().UTC()
	c.version++
}

// Remove drops a table entry and bumps the catalog version.
func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; ok {
		delete(c.tables, name)
		c.version++
	}
}

// Get returns a copy of the table entry, if present.
func (c *Catalog) Get(name string) (Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return Table{}, false
	}
	return *t, true
}

// Has reports whether a table is materialized.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tables[name]
	return ok
}

// Owner returns the node that owns a table, if the table exists.
func (c *Catalog) Owner(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return 0, false
	}
	return t.OwnerNodeID, true
}

// TableNames returns all materialized table names (sorted).
func (c *Catalog) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables returns copies of all entries (sorted by name).
func (c *Catalog) Tables() []Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Version returns the current catalog version. The counter increases on
// every mutation and never decreases.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
