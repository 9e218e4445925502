package engine

// run.go - node execution: dependency resolution, recursive producer
// runs, backend dispatch, first-page materialization.

import (
	"context"
	"fmt"
	"time"

	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/deps"
	"github.com/querydeck-io/querydeck/internal/fetchstate"
	"github.com/querydeck-io/querydeck/internal/node"
)

// Run executes a node: missing producers first, then the node's own
// query against its effective backend. A failed run leaves any previously
// materialized table for the node untouched.
func (c *Coordinator) Run(ctx context.Context, nodeID int64) (*Summary, error) {
	return c.RunQuery(ctx, nodeID, "")
}

// RunQuery is Run with an optional query-text override. An empty override
// uses the node's stored query text.
func (c *Coordinator) RunQuery(ctx context.Context, nodeID int64, override string) (*Summary, error) {
	ctx, release := c.track(ctx, nodeID)
	defer release()

	return c.runNode(ctx, nodeID, override, make(map[int64]bool))
}

// runNode is the recursive execution step. visiting is the per-top-level-
// call resolution stack: revisiting a node mid-resolution means the query
// graph has a cycle, which fails fast instead of recursing forever.
func (c *Coordinator) runNode(ctx context.Context, nodeID int64, override string, visiting map[int64]bool) (*Summary, error) {
	n, ok := c.nodes.Get(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, nodeID)
	}

	if visiting[nodeID] {
		return nil, fmt.Errorf("%w: node %q revisited during resolution", ErrDependencyCycle, n.Name)
	}
	visiting[nodeID] = true
	defer delete(visiting, nodeID)

	queryText := n.QueryText
	if override != "" {
		queryText = override
	}

	c.logger.Debug("running node", "node_id", nodeID, "name", n.Name)

	// Resolve references as if the query were local; whether the edges
	// count as dependencies depends on the effective backend below.
	res := deps.Resolve(queryText, backend.KindLocal, c.catalog, c.nodes, nodeID)

	// A query that references only known local tables runs on the local
	// engine regardless of the node's configured connection: mixed
	// local/remote joins must run locally.
	runLocally := n.ConnectionRef == "" || (len(res.Refs) > 0 && len(res.External) == 0)

	if !runLocally {
		// Remote queries are never blocked on local producers.
		res.NodeDeps = nil
	}
	_ = c.nodes.SetDependencies(nodeID, res.NodeDeps)

	// Recursively execute producers whose tables are missing, sequentially
	// in discovery order. Unresolved references stay external: they may
	// resolve at execution time.
	for _, depID := range res.NodeDeps {
		dep, ok := c.nodes.Get(depID)
		if !ok {
			continue
		}
		if c.catalog.Has(dep.TableName()) {
			continue
		}
		if _, err := c.runNode(ctx, depID, "", visiting); err != nil {
			return nil, fmt.Errorf("producer %q: %w", dep.Name, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if runLocally {
		return c.runLocal(ctx, n, queryText)
	}
	return c.runRemote(ctx, n, queryText)
}

// runLocal materializes a local query directly in the analytic store.
func (c *Coordinator) runLocal(ctx context.Context, n node.Node, queryText string) (*Summary, error) {
	table := n.TableName()
	start := time.Now()

	count, schema, err := c.local.CreateOrReplaceTableFromQuery(ctx, table, queryText)
	elapsed := time.Since(start)
	if err != nil {
		c.record(n.ID, "run", "duckdb", "failed", 0, elapsed, err.Error())
		c.states.ClearInFlight(n.ID)
		return nil, err
	}

	c.mat.registerReplace(n.ID, table, count, schema)

	// A full local replace resets any prior pagination progress.
	c.states.Delete(n.ID)

	c.record(n.ID, "run", "duckdb", "success", count, elapsed, "")
	c.logger.Info("node materialized", "node", n.Name, "table", table, "rows", count, "backend", "duckdb")

	return &Summary{
		NodeID:    n.ID,
		TableName: table,
		RowCount:  count,
		Backend:   "duckdb",
		Elapsed:   elapsed,
	}, nil
}

// runRemote executes a node against its configured remote backend and
// materializes the first page (or the full set when pagination is off or
// unsupported by the backend).
func (c *Coordinator) runRemote(ctx context.Context, n node.Node, queryText string) (*Summary, error) {
	b, err := c.provider.Backend(n.ConnectionRef)
	if err != nil {
		return nil, fmt.Errorf("%w: connection %q: %v", ErrBackendUnavailable, n.ConnectionRef, err)
	}

	table := n.TableName()
	start := time.Now()

	pb, isPaginated := b.(backend.Paginated)
	if !isPaginated || !c.paginate {
		return c.runRemoteFull(ctx, n, b, table, queryText, start)
	}

	page, err := pb.ExecutePage(ctx, queryText, c.batchSize, backend.Continuation{})
	elapsed := time.Since(start)
	if err != nil {
		c.record(n.ID, "run", b.ID(), "failed", 0, elapsed, err.Error())
		c.states.ClearInFlight(n.ID)
		return nil, err
	}

	tbl, err := c.mat.Replace(ctx, n.ID, table, page.Rows, page.Schema, page.Loose)
	if err != nil {
		c.record(n.ID, "run", b.ID(), "failed", 0, elapsed, err.Error())
		return nil, err
	}

	// Initialize fetch state for lazy/background continuation. A re-run
	// replaces any prior state from scratch.
	c.states.Put(fetchstate.State{
		NodeID:        n.ID,
		EngineID:      b.ID(),
		TotalRows:     page.TotalRows,
		FetchedRows:   tbl.RowCount,
		HasMoreRows:   page.HasMore,
		Continuation:  page.Next,
		OriginalQuery: queryText,
		Schema:        page.Schema,
	})

	c.record(n.ID, "run", b.ID(), "success", tbl.RowCount, elapsed, "")
	c.logger.Info("node materialized", "node", n.Name, "table", table,
		"rows", tbl.RowCount, "backend", b.ID(), "has_more", page.HasMore)

	return &Summary{
		NodeID:    n.ID,
		TableName: table,
		RowCount:  tbl.RowCount,
		TotalRows: page.TotalRows,
		HasMore:   page.HasMore,
		Backend:   b.ID(),
		Elapsed:   elapsed,
		Stats:     page.Stats,
	}, nil
}

// runRemoteFull fetches a remote result synchronously in one shot.
func (c *Coordinator) runRemoteFull(ctx context.Context, n node.Node, b backend.Backend, table, queryText string, start time.Time) (*Summary, error) {
	res, err := b.Execute(ctx, queryText)
	elapsed := time.Since(start)
	if err != nil {
		c.record(n.ID, "run", b.ID(), "failed", 0, elapsed, err.Error())
		c.states.ClearInFlight(n.ID)
		return nil, err
	}

	tbl, err := c.mat.Replace(ctx, n.ID, table, res.Rows, res.Schema, false)
	if err != nil {
		c.record(n.ID, "run", b.ID(), "failed", 0, elapsed, err.Error())
		return nil, err
	}

	// A full fetch has nothing to continue.
	c.states.Delete(n.ID)

	c.record(n.ID, "run", b.ID(), "success", tbl.RowCount, elapsed, "")
	c.logger.Info("node materialized", "node", n.Name, "table", table, "rows", tbl.RowCount, "backend", b.ID())

	return &Summary{
		NodeID:    n.ID,
		TableName: table,
		RowCount:  tbl.RowCount,
		Backend:   b.ID(),
		Elapsed:   elapsed,
		Stats:     res.Stats,
	}, nil
}

// GetDependencies resolves the node's current dependency set. Pure with
// respect to execution: nothing is run. Callers re-invoke this after
// query-text edits and on catalog version changes, since a catalog
// mutation elsewhere can change the answer for an unrelated node.
func (c *Coordinator) GetDependencies(nodeID int64) ([]int64, error) {
	n, ok := c.nodes.Get(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, nodeID)
	}

	res := deps.Resolve(n.QueryText, backend.KindLocal, c.catalog, c.nodes, nodeID)
	if n.ConnectionRef != "" && (len(res.Refs) == 0 || len(res.External) > 0) {
		// Effective backend is remote: no dependency edges.
		return nil, nil
	}
	return res.NodeDeps, nil
}
