package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/backend/duckdb"
	_ "github.com/querydeck-io/querydeck/internal/backend/httpwh"
	_ "github.com/querydeck-io/querydeck/internal/backend/postgres"
	"github.com/querydeck-io/querydeck/internal/catalog"
	"github.com/querydeck-io/querydeck/internal/config"
	"github.com/querydeck-io/querydeck/internal/engine"
	"github.com/querydeck-io/querydeck/internal/fetchstate"
	"github.com/querydeck-io/querydeck/internal/node"
	"github.com/querydeck-io/querydeck/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Store    *state.SQLiteStore
	Local    *duckdb.Store
	Nodes    *node.Registry
	Catalog  *catalog.Catalog
	States   *fetchstate.Store
	Deck     *engine.Coordinator
	Provider *connectionProvider
}

// NewCommandContext assembles the full working set: state store, local
// analytic store, node registry loaded from state, catalog rehydrated
// from already-materialized tables, and the coordinator. Returns a
// cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := config.FromContext(cmd.Context())
	logger := config.LoggerFromContext(cmd.Context())

	if dir := filepath.Dir(cfg.StatePath); cfg.StatePath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, nil, err
	}

	local, err := duckdb.Open(backend.Config{Path: cfg.DatabasePath}, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	nodes := node.NewRegistry()
	records, err := store.ListNodes()
	if err != nil {
		local.Close()
		store.Close()
		return nil, nil, err
	}
	for _, rec := range records {
		nodes.Add(&node.Node{
			ID:            rec.ID,
			Name:          rec.Name,
			QueryText:     rec.QueryText,
			ConnectionRef: rec.ConnectionRef,
		})
	}

	cat := catalog.New()
	rehydrateCatalog(cmd.Context(), local, nodes, cat)

	states := fetchstate.NewStore()
	if persisted, err := store.LoadFetchStates(); err == nil {
		for _, st := range persisted {
			states.Put(st)
		}
	} else {
		logger.Warn("failed to load fetch states", "error", err)
	}

	provider := &connectionProvider{
		cfg:    cfg,
		store:  store,
		logger: logger,
		open:   make(map[string]backend.Backend),
	}

	deck := engine.New(engine.Config{
		Local:     local,
		Provider:  provider,
		Nodes:     nodes,
		Catalog:   cat,
		States:    states,
		BatchSize: cfg.BatchSize,
		Paginate:  cfg.Paginate,
		Recorder:  store,
		Logger:    logger,
	})

	cleanup := func() {
		// Persist pagination progress so a later invocation can continue.
		current := make(map[int64]bool)
		for _, st := range states.List() {
			current[st.NodeID] = true
			if err := store.SaveFetchState(st); err != nil {
				logger.Warn("failed to save fetch state", "node_id", st.NodeID, "error", err)
			}
		}
		if persisted, err := store.LoadFetchStates(); err == nil {
			for _, st := range persisted {
				if !current[st.NodeID] {
					_ = store.DeleteFetchState(st.NodeID)
				}
			}
		}

		provider.Close()
		_ = local.Close()
		_ = store.Close()
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Store:    store,
		Local:    local,
		Nodes:    nodes,
		Catalog:  cat,
		States:   states,
		Deck:     deck,
		Provider: provider,
	}, cleanup, nil
}

// rehydrateCatalog registers tables that were materialized in a previous
// session so dependency resolution sees them without a re-run.
func rehydrateCatalog(ctx context.Context, local *duckdb.Store, nodes *node.Registry, cat *catalog.Catalog) {
	for _, n := range nodes.List() {
		table := n.TableName()
		schema, err := local.GetTableSchema(ctx, table)
		if err != nil {
			continue
		}

		count, err := local.CountRows(ctx, table)
		if err != nil {
			count = 0
		}

		cat.Put(catalog.Table{
			Name:        table,
			Columns:     schema,
			RowCount:    count,
			OwnerNodeID: n.ID,
			LastUpdated: time.Now(),
		})
	}
}

// resolveNode resolves a command argument to a node, accepting either a
// name or a numeric id.
func (c *CommandContext) resolveNode(arg string) (node.Node, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if n, ok := c.Nodes.Get(id); ok {
			return n, nil
		}
	}
	for _, n := range c.Nodes.List() {
		if n.Name == arg {
			return n, nil
		}
	}
	return node.Node{}, fmt.Errorf("node not found: %s", arg)
}

// connectionProvider resolves connection references to backends, opening
// each at most once. Persisted connections take precedence over
// config-file connections of the same name.
type connectionProvider struct {
	cfg    *config.Config
	store  *state.SQLiteStore
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]backend.Backend
}

func (p *connectionProvider) Backend(ref string) (backend.Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.open[ref]; ok {
		return b, nil
	}

	bcfg, err := p.lookup(ref)
	if err != nil {
		return nil, err
	}

	b, err := backend.New(bcfg, p.logger)
	if err != nil {
		return nil, err
	}
	p.open[ref] = b
	return b, nil
}

func (p *connectionProvider) lookup(ref string) (backend.Config, error) {
	if conn, err := p.store.GetConnection(ref); err == nil {
		return conn.BackendConfig(), nil
	}
	if conn, ok := p.cfg.Connections[ref]; ok {
		return conn.ToBackendConfig(ref), nil
	}
	return backend.Config{}, fmt.Errorf("connection not found: %s", ref)
}

// Close closes all opened backends.
func (p *connectionProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ref, b := range p.open {
		if err := b.Close(); err != nil {
			p.logger.Warn("failed to close backend", "connection", ref, "error", err)
		}
	}
	p.open = make(map[string]backend.Backend)
}
