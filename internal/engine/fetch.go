package engine

// fetch.go - continuation fetches: pull the next page of a paginated
// remote result and append it to the node's materialized table.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/fetchstate"
)

// FetchMore appends the next page of a node's remote result. At most one
// fetch runs per node at a time: a second call while one is in flight is
// rejected with ErrConcurrentFetch. Calling on an exhausted or local node
// is a no-op reporting zero appended rows.
func (c *Coordinator) FetchMore(ctx context.Context, nodeID int64) (*FetchResult, error) {
	st, ok := c.states.TryBeginFetch(nodeID, false)
	if !ok {
		if st.InFlight() {
			return nil, fmt.Errorf("%w: node %d", ErrConcurrentFetch, nodeID)
		}
		// No state, or nothing left to fetch.
		return &FetchResult{}, nil
	}

	ctx, release := c.track(ctx, nodeID)
	defer release()

	res, err := c.fetchPage(ctx, nodeID, st)
	if err != nil {
		c.states.ClearInFlight(nodeID)
		return nil, err
	}
	return res, nil
}

// FetchAll drains a node's remaining pages sequentially in a background
// goroutine. The returned channel yields the terminal error (nil on
// completion) and is closed after. Progress is observable through
// GetFetchState while loading runs.
func (c *Coordinator) FetchAll(ctx context.Context, nodeID int64) (<-chan error, error) {
	st, ok := c.states.TryBeginFetch(nodeID, true)
	if !ok {
		if st.InFlight() {
			return nil, fmt.Errorf("%w: node %d", ErrConcurrentFetch, nodeID)
		}
		done := make(chan error, 1)
		done <- nil
		close(done)
		return done, nil
	}

	ctx, release := c.track(ctx, nodeID)
	done := make(chan error, 1)

	go func() {
		defer release()
		defer close(done)

		for {
			res, err := c.fetchPage(ctx, nodeID, st)
			if err != nil {
				c.states.ClearInFlight(nodeID)
				done <- err
				return
			}
			if !res.HasMore {
				done <- nil
				return
			}

			// Re-claim for the next page so the background flag stays set
			// and outside FetchMore calls stay rejected between pages.
			next, ok := c.states.TryBeginFetch(nodeID, true)
			if !ok {
				done <- nil
				return
			}
			st = next
		}
	}()

	return done, nil
}

// fetchPage executes one continuation page against the node's backend and
// appends it. st must be a freshly claimed in-flight state.
func (c *Coordinator) fetchPage(ctx context.Context, nodeID int64, st fetchstate.State) (*FetchResult, error) {
	n, ok := c.nodes.Get(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, nodeID)
	}

	b, err := c.provider.Backend(n.ConnectionRef)
	if err != nil {
		return nil, fmt.Errorf("%w: connection %q: %v", ErrBackendUnavailable, n.ConnectionRef, err)
	}
	pb, ok := b.(backend.Paginated)
	if !ok {
		return nil, fmt.Errorf("%w: backend %s does not paginate", ErrBackendUnavailable, b.ID())
	}

	start := time.Now()
	page, err := pb.ExecutePage(ctx, st.OriginalQuery, c.batchSize, st.Continuation)
	elapsed := time.Since(start)
	if err != nil {
		c.record(nodeID, "fetch", b.ID(), "failed", 0, elapsed, err.Error())
		if errors.Is(err, backend.ErrContinuationExpired) {
			// The server-side result set is gone. Drop the state so the
			// caller re-runs the node from scratch.
			c.states.Delete(nodeID)
		}
		return nil, err
	}

	// Schema drift between pages would corrupt the table; keep the first
	// page's schema as the source of truth for casting.
	schema := st.Schema
	if len(schema) == 0 {
		schema = page.Schema
	}

	appended := int64(len(page.Rows))
	if appended > 0 {
		if _, err := c.mat.Append(ctx, n.TableName(), page.Rows, schema, page.Loose); err != nil {
			c.record(nodeID, "fetch", b.ID(), "failed", 0, elapsed, err.Error())
			return nil, err
		}
	}

	c.states.ApplyPage(nodeID, appended, page.HasMore, page.Next, page.TotalRows)
	c.record(nodeID, "fetch", b.ID(), "success", appended, elapsed, "")
	c.logger.Debug("page fetched", "node", n.Name, "appended", appended, "has_more", page.HasMore)

	return &FetchResult{AppendedRows: appended, HasMore: page.HasMore}, nil
}
