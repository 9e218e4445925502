// Package engine provides the execution coordinator for query nodes.
// It handles dependency resolution, recursive producer execution, backend
// dispatch, and incremental materialization of paginated results.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/catalog"
	"github.com/querydeck-io/querydeck/internal/fetchstate"
	"github.com/querydeck-io/querydeck/internal/node"
)

// Error taxonomy surfaced to callers.
var (
	// ErrNodeNotFound is returned when the node id is not registered.
	ErrNodeNotFound = errors.New("node not found")

	// ErrBackendUnavailable is returned when a remote node has no usable
	// connection configured.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrConcurrentFetch is returned when a fetch is requested while one
	// is already in flight for the same node.
	ErrConcurrentFetch = errors.New("fetch already in flight")

	// ErrDependencyCycle is returned when recursive producer resolution
	// revisits a node mid-resolution.
	ErrDependencyCycle = errors.New("dependency cycle detected")
)

// Summary reports the outcome of a node execution.
type Summary struct {
	NodeID    int64
	TableName string

	// RowCount is the number of rows materialized by this call: the first
	// page for paginated backends, the full set otherwise.
	RowCount int64

	// TotalRows is the backend-reported total, when known.
	TotalRows *int64

	// HasMore is true when further pages can be fetched.
	HasMore bool

	// Backend identifies the engine the query ran against.
	Backend string

	Elapsed time.Duration
	Stats   backend.Stats
}

// FetchResult reports the outcome of a continuation fetch.
type FetchResult struct {
	AppendedRows int64
	HasMore      bool
}

// BackendProvider resolves a node's connection reference to a backend.
// An empty reference is never passed: it designates the local engine.
type BackendProvider interface {
	Backend(ref string) (backend.Backend, error)
}

// Recorder receives run-history records.
type Recorder interface {
	RecordExecution(nodeID int64, operation, backendID, status string, rows int64, elapsed time.Duration, errMsg string)
}

// Config holds coordinator configuration.
type Config struct {
	// Local is the embedded analytic store results are materialized into.
	Local backend.LocalStore

	// Provider resolves connection references to remote backends.
	Provider BackendProvider

	// Nodes is the live node registry.
	Nodes *node.Registry

	// Catalog tracks materialized tables.
	Catalog *catalog.Catalog

	// States tracks per-node pagination progress.
	States *fetchstate.Store

	// BatchSize bounds the page size for paginated fetches. Defaults to 1000.
	BatchSize int

	// Paginate enables first-page-only execution for paginated backends.
	// When false, remote queries are fetched in full synchronously.
	Paginate bool

	// Recorder receives run-history records (optional).
	Recorder Recorder

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Coordinator orchestrates node execution: resolve, recursively run
// missing producers, pick a backend, execute, materialize, and track
// fetch progress for lazy or background continuation.
type Coordinator struct {
	local     backend.LocalStore
	provider  BackendProvider
	nodes     *node.Registry
	catalog   *catalog.Catalog
	states    *fetchstate.Store
	mat       *Materializer
	batchSize int
	paginate  bool
	recorder  Recorder
	logger    *slog.Logger

	// In-flight cancellation handles, one per node.
	cancelMu sync.Mutex
	cancels  map[int64]context.CancelFunc
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}

	return &Coordinator{
		local:     cfg.Local,
		provider:  cfg.Provider,
		nodes:     cfg.Nodes,
		catalog:   cfg.Catalog,
		states:    cfg.States,
		mat:       NewMaterializer(cfg.Local, cfg.Catalog, logger),
		batchSize: batch,
		paginate:  cfg.Paginate,
		recorder:  cfg.Recorder,
		logger:    logger,
		cancels:   make(map[int64]context.CancelFunc),
	}
}

// Catalog returns the catalog the coordinator materializes into.
func (c *Coordinator) Catalog() *catalog.Catalog { return c.catalog }

// GetFetchState returns the node's pagination progress, if any.
func (c *Coordinator) GetFetchState(nodeID int64) (fetchstate.State, bool) {
	return c.states.Get(nodeID)
}

// Cancel aborts the in-flight run or fetch for a node, if any. The
// cancelled call's in-flight flags are cleared; a partially materialized
// first page is not rolled back.
func (c *Coordinator) Cancel(nodeID int64) {
	c.cancelMu.Lock()
	cancel := c.cancels[nodeID]
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// track registers a cancellation handle for a node and returns the
// derived context plus a release func.
func (c *Coordinator) track(ctx context.Context, nodeID int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancels[nodeID] = cancel
	c.cancelMu.Unlock()

	return ctx, func() {
		c.cancelMu.Lock()
		delete(c.cancels, nodeID)
		c.cancelMu.Unlock()
		cancel()
	}
}

func (c *Coordinator) record(nodeID int64, op, backendID, status string, rows int64, elapsed time.Duration, errMsg string) {
	if c.recorder != nil {
		c.recorder.RecordExecution(nodeID, op, backendID, status, rows, elapsed, errMsg)
	}
}
