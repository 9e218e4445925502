package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/catalog"
	"github.com/querydeck-io/querydeck/internal/fetchstate"
	"github.com/querydeck-io/querydeck/internal/node"
)

// fakeLocal is an in-memory LocalStore recording materialization order.
type fakeLocal struct {
	mu      sync.Mutex
	tables  map[string][][]any
	schemas map[string]backend.Schema
	order   []string

	queryRows int64
	queryErr  error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		tables:    make(map[string][][]any),
		schemas:   make(map[string]backend.Schema),
		queryRows: 1,
	}
}

func (f *fakeLocal) CreateOrReplaceTableFromQuery(ctx context.Context, table, query string) (int64, backend.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return 0, nil, f.queryErr
	}
	schema := backend.Schema{{Name: "x", Type: "BIGINT"}}
	f.tables[table] = nil
	f.schemas[table] = schema
	f.order = append(f.order, table)
	return f.queryRows, schema, nil
}

func (f *fakeLocal) CreateTableFromRows(ctx context.Context, table string, rows [][]any, schema backend.Schema) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append([][]any(nil), rows...)
	f.schemas[table] = schema
	f.order = append(f.order, table)
	return int64(len(rows)), nil
}

func (f *fakeLocal) AppendRows(ctx context.Context, table string, rows [][]any, schema backend.Schema) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[table]; !ok {
		return 0, fmt.Errorf("table %q does not exist", table)
	}
	f.tables[table] = append(f.tables[table], rows...)
	return int64(len(rows)), nil
}

func (f *fakeLocal) ReadPage(ctx context.Context, table string, offset, limit int) (*backend.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.tables[table]
	if offset > len(rows) {
		offset = len(rows)
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return &backend.Result{Rows: rows[offset:end], Schema: f.schemas[table]}, nil
}

func (f *fakeLocal) GetTableSchema(ctx context.Context, table string) (backend.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schemas[table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	return s, nil
}

func (f *fakeLocal) DropTable(ctx context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, table)
	delete(f.schemas, table)
	return nil
}

func (f *fakeLocal) rowCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// fakeWarehouse is a scripted cursor-paginated backend.
type fakeWarehouse struct {
	id    string
	pages []*backend.Page
	err   error

	mu    sync.Mutex
	calls int
	conts []backend.Continuation
}

func (w *fakeWarehouse) ID() string         { return w.id }
func (w *fakeWarehouse) Kind() backend.Kind { return backend.KindCursorPaginated }

func (w *fakeWarehouse) Execute(ctx context.Context, query string) (*backend.Result, error) {
	if w.err != nil {
		return nil, w.err
	}
	res := &backend.Result{}
	for _, p := range w.pages {
		res.Rows = append(res.Rows, p.Rows...)
		res.Schema = p.Schema
	}
	return res, nil
}

func (w *fakeWarehouse) ExecutePage(ctx context.Context, query string, pageSize int, cont backend.Continuation) (*backend.Page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	w.conts = append(w.conts, cont)
	i := w.calls
	if i >= len(w.pages) {
		i = len(w.pages) - 1
	}
	w.calls++
	return w.pages[i], nil
}

func (w *fakeWarehouse) Ping(ctx context.Context) error { return nil }
func (w *fakeWarehouse) Close() error                   { return nil }

type fakeProvider struct {
	backends map[string]backend.Backend
}

func (p *fakeProvider) Backend(ref string) (backend.Backend, error) {
	b, ok := p.backends[ref]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", ref)
	}
	return b, nil
}

type testRig struct {
	co    *Coordinator
	local *fakeLocal
	nodes *node.Registry
	cat   *catalog.Catalog
	sts   *fetchstate.Store
	prov  *fakeProvider
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	r := &testRig{
		local: newFakeLocal(),
		nodes: node.NewRegistry(),
		cat:   catalog.New(),
		sts:   fetchstate.NewStore(),
		prov:  &fakeProvider{backends: make(map[string]backend.Backend)},
	}
	r.co = New(Config{
		Local:     r.local,
		Provider:  r.prov,
		Nodes:     r.nodes,
		Catalog:   r.cat,
		States:    r.sts,
		BatchSize: 2,
		Paginate:  true,
	})
	return r
}

func intp(v int64) *int64 { return &v }

func whSchema() backend.Schema {
	return backend.Schema{{Name: "id", Type: "BIGINT"}, {Name: "name", Type: "VARCHAR"}}
}

func TestRunLocalNode(t *testing.T) {
	r := newRig(t)
	r.local.queryRows = 3
	id := r.nodes.Add(&node.Node{Name: "Daily Totals", QueryText: "SELECT 1 AS x"})

	sum, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "daily_totals", sum.TableName)
	assert.Equal(t, int64(3), sum.RowCount)
	assert.Equal(t, "duckdb", sum.Backend)
	assert.False(t, sum.HasMore)

	tbl, ok := r.cat.Get("daily_totals")
	require.True(t, ok)
	assert.Equal(t, id, tbl.OwnerNodeID)
	assert.Equal(t, int64(3), tbl.RowCount)
}

func TestRunUnknownNode(t *testing.T) {
	r := newRig(t)
	_, err := r.co.Run(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestRunReplacesPriorTable(t *testing.T) {
	r := newRig(t)
	id := r.nodes.Add(&node.Node{Name: "t", QueryText: "SELECT 1"})

	_, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)
	v1 := r.cat.Version()

	_, err = r.co.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Greater(t, r.cat.Version(), v1)
	assert.Len(t, r.cat.TableNames(), 1)
}

func TestRunExecutesMissingProducersFirst(t *testing.T) {
	r := newRig(t)
	r.nodes.Add(&node.Node{Name: "base", QueryText: "SELECT 1 AS x"})
	cID := r.nodes.Add(&node.Node{Name: "derived", QueryText: "SELECT * FROM base"})

	_, err := r.co.Run(context.Background(), cID)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "derived"}, r.local.order)
}

func TestRunSkipsAlreadyMaterializedProducers(t *testing.T) {
	r := newRig(t)
	aID := r.nodes.Add(&node.Node{Name: "base", QueryText: "SELECT 1 AS x"})
	bID := r.nodes.Add(&node.Node{Name: "derived", QueryText: "SELECT * FROM base"})

	_, err := r.co.Run(context.Background(), aID)
	require.NoError(t, err)
	_, err = r.co.Run(context.Background(), bID)
	require.NoError(t, err)

	// base once, derived once.
	assert.Equal(t, []string{"base", "derived"}, r.local.order)
}

func TestRunDetectsDependencyCycle(t *testing.T) {
	r := newRig(t)
	aID := r.nodes.Add(&node.Node{Name: "a", QueryText: "SELECT * FROM b"})
	r.nodes.Add(&node.Node{Name: "b", QueryText: "SELECT * FROM a"})

	_, err := r.co.Run(context.Background(), aID)
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Empty(t, r.local.order)
}

func TestRunSelfReferenceIsNotADependency(t *testing.T) {
	r := newRig(t)
	id := r.nodes.Add(&node.Node{Name: "totals", QueryText: "SELECT * FROM totals"})

	_, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"totals"}, r.local.order)
}

func TestRunRemoteFirstPage(t *testing.T) {
	r := newRig(t)
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{
			Rows:      [][]any{{int64(1), "a"}, {int64(2), "b"}},
			Schema:    whSchema(),
			TotalRows: intp(5),
			HasMore:   true,
			Next:      backend.CursorToken("tok1"),
		},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "SELECT * FROM prod.events", ConnectionRef: "wh"})

	sum, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.RowCount)
	assert.True(t, sum.HasMore)
	require.NotNil(t, sum.TotalRows)
	assert.Equal(t, int64(5), *sum.TotalRows)
	assert.Equal(t, "bq", sum.Backend)

	st, ok := r.co.GetFetchState(id)
	require.True(t, ok)
	assert.Equal(t, int64(2), st.FetchedRows)
	assert.True(t, st.HasMoreRows)
	tok, ok := st.Continuation.Cursor()
	require.True(t, ok)
	assert.Equal(t, "tok1", tok)
	assert.False(t, st.InFlight())

	// First page requested with a zero continuation.
	require.Len(t, wh.conts, 1)
	assert.True(t, wh.conts[0].IsZero())
}

func TestRunRemoteEmptyResultCreatesTable(t *testing.T) {
	r := newRig(t)
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{Rows: nil, Schema: whSchema(), TotalRows: intp(0), HasMore: false},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "empty", QueryText: "SELECT * FROM prod.none", ConnectionRef: "wh"})

	sum, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.RowCount)

	tbl, ok := r.cat.Get("empty")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name"}, tbl.Columns.Names())
	assert.Equal(t, int64(0), tbl.RowCount)

	// Dependents introspect column types through the catalog entry, so
	// the full reported schema is kept, not just the names.
	assert.Equal(t, whSchema(), tbl.Columns)

	// Exhausted from the start: nothing to continue.
	res, err := r.co.FetchMore(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.AppendedRows)
}

func TestRunLocalOverrideForCatalogOnlyRefs(t *testing.T) {
	r := newRig(t)
	r.nodes.Add(&node.Node{Name: "base", QueryText: "SELECT 1 AS x"})
	// Remote-configured node whose references all resolve to catalog
	// tables runs on the local engine instead.
	id := r.nodes.Add(&node.Node{Name: "local_join", QueryText: "SELECT * FROM base", ConnectionRef: "wh"})

	sum, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "duckdb", sum.Backend)
	assert.Equal(t, []string{"base", "local_join"}, r.local.order)
}

func TestRunRemoteWithMixedRefsStaysRemote(t *testing.T) {
	r := newRig(t)
	r.nodes.Add(&node.Node{Name: "base", QueryText: "SELECT 1 AS x"})
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{Rows: [][]any{{int64(1), "a"}}, Schema: whSchema(), HasMore: false},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{
		Name:          "mixed",
		QueryText:     "SELECT * FROM base JOIN prod.events ON base.x = events.id",
		ConnectionRef: "wh",
	})

	sum, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "bq", sum.Backend)

	// Remote execution produces no dependency edges, so base is not run.
	deps, err := r.co.GetDependencies(id)
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.NotContains(t, r.local.order, "base")
}

func TestRunBackendUnavailable(t *testing.T) {
	r := newRig(t)
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "SELECT * FROM prod.events", ConnectionRef: "nope"})

	_, err := r.co.Run(context.Background(), id)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestFailedRunLeavesPriorTableUntouched(t *testing.T) {
	r := newRig(t)
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{Rows: [][]any{{int64(1), "a"}}, Schema: whSchema(), HasMore: false},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "SELECT * FROM prod.events", ConnectionRef: "wh"})

	_, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, r.local.rowCount("events"))

	wh.err = errors.New("warehouse down")
	_, err = r.co.Run(context.Background(), id)
	require.Error(t, err)

	tbl, ok := r.cat.Get("events")
	require.True(t, ok)
	assert.Equal(t, int64(1), tbl.RowCount)
	assert.Equal(t, 1, r.local.rowCount("events"))
}

func TestFetchMoreAppendsNextPage(t *testing.T) {
	r := newRig(t)
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{
			Rows:      [][]any{{int64(1), "a"}, {int64(2), "b"}},
			Schema:    whSchema(),
			TotalRows: intp(3),
			HasMore:   true,
			Next:      backend.CursorToken("tok1"),
		},
		{
			Rows:    [][]any{{int64(3), "c"}},
			Schema:  whSchema(),
			HasMore: false,
		},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "SELECT * FROM prod.events", ConnectionRef: "wh"})

	_, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)

	res, err := r.co.FetchMore(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AppendedRows)
	assert.False(t, res.HasMore)

	// Continuation from the first page was passed through.
	require.Len(t, wh.conts, 2)
	tok, ok := wh.conts[1].Cursor()
	require.True(t, ok)
	assert.Equal(t, "tok1", tok)

	st, _ := r.co.GetFetchState(id)
	assert.Equal(t, int64(3), st.FetchedRows)
	assert.False(t, st.HasMoreRows)
	assert.Equal(t, 3, r.local.rowCount("events"))

	tbl, _ := r.cat.Get("events")
	assert.Equal(t, int64(3), tbl.RowCount)

	// Exhausted now: further fetches are no-ops.
	res, err = r.co.FetchMore(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.AppendedRows)
	assert.Equal(t, 3, r.local.rowCount("events"))
}

func TestFetchMoreRejectsConcurrentFetch(t *testing.T) {
	r := newRig(t)
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "q", ConnectionRef: "wh"})
	r.sts.Put(fetchstate.State{
		NodeID:      id,
		HasMoreRows: true,
		IsFetching:  true,
	})

	_, err := r.co.FetchMore(context.Background(), id)
	assert.ErrorIs(t, err, ErrConcurrentFetch)

	_, err = r.co.FetchAll(context.Background(), id)
	assert.ErrorIs(t, err, ErrConcurrentFetch)
}

func TestFetchMoreClearsFlagOnFailure(t *testing.T) {
	r := newRig(t)
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{Rows: [][]any{{int64(1), "a"}}, Schema: whSchema(), HasMore: true, Next: backend.CursorToken("tok1")},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "SELECT * FROM prod.events", ConnectionRef: "wh"})

	_, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)

	wh.err = errors.New("boom")
	_, err = r.co.FetchMore(context.Background(), id)
	require.Error(t, err)

	st, ok := r.co.GetFetchState(id)
	require.True(t, ok)
	assert.False(t, st.InFlight())
	assert.True(t, st.HasMoreRows)
}

func TestFetchMoreExpiredContinuationDropsState(t *testing.T) {
	r := newRig(t)
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{Rows: [][]any{{int64(1), "a"}}, Schema: whSchema(), HasMore: true, Next: backend.CursorToken("tok1")},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "SELECT * FROM prod.events", ConnectionRef: "wh"})

	_, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)

	wh.err = backend.ErrContinuationExpired
	_, err = r.co.FetchMore(context.Background(), id)
	assert.ErrorIs(t, err, backend.ErrContinuationExpired)

	_, ok := r.co.GetFetchState(id)
	assert.False(t, ok)

	// Table from the first page survives.
	assert.Equal(t, 1, r.local.rowCount("events"))
}

func TestFetchAllDrainsRemainingPages(t *testing.T) {
	r := newRig(t)
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{Rows: [][]any{{int64(1), "a"}, {int64(2), "b"}}, Schema: whSchema(), TotalRows: intp(5), HasMore: true, Next: backend.CursorToken("tok1")},
		{Rows: [][]any{{int64(3), "c"}, {int64(4), "d"}}, Schema: whSchema(), HasMore: true, Next: backend.CursorToken("tok2")},
		{Rows: [][]any{{int64(5), "e"}}, Schema: whSchema(), HasMore: false},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "SELECT * FROM prod.events", ConnectionRef: "wh"})

	_, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)

	done, err := r.co.FetchAll(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, 5, r.local.rowCount("events"))
	st, _ := r.co.GetFetchState(id)
	assert.Equal(t, int64(5), st.FetchedRows)
	assert.False(t, st.HasMoreRows)
	assert.False(t, st.InFlight())
}

func TestCancelAbortsInFlightFetch(t *testing.T) {
	r := newRig(t)
	release := make(chan struct{})
	wh := &blockingWarehouse{release: release}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "events", QueryText: "SELECT * FROM prod.events", ConnectionRef: "wh"})
	r.sts.Put(fetchstate.State{
		NodeID:        id,
		EngineID:      "bq",
		FetchedRows:   1,
		HasMoreRows:   true,
		Continuation:  backend.CursorToken("tok1"),
		OriginalQuery: "SELECT * FROM prod.events",
		Schema:        whSchema(),
	})

	errs := make(chan error, 1)
	go func() {
		_, err := r.co.FetchMore(context.Background(), id)
		errs <- err
	}()

	<-wh.started()
	r.co.Cancel(id)
	close(release)

	err := <-errs
	assert.ErrorIs(t, err, context.Canceled)

	st, ok := r.co.GetFetchState(id)
	require.True(t, ok)
	assert.False(t, st.InFlight())
	assert.Equal(t, int64(1), st.FetchedRows)
}

// blockingWarehouse parks ExecutePage until released, then honors the
// context so cancellation can be observed deterministically.
type blockingWarehouse struct {
	release   chan struct{}
	startOnce sync.Once
	start     chan struct{}
}

func (w *blockingWarehouse) started() chan struct{} {
	w.startOnce.Do(func() { w.start = make(chan struct{}, 1) })
	return w.start
}

func (w *blockingWarehouse) ID() string         { return "bq" }
func (w *blockingWarehouse) Kind() backend.Kind { return backend.KindCursorPaginated }

func (w *blockingWarehouse) Execute(ctx context.Context, query string) (*backend.Result, error) {
	return nil, errors.New("not used")
}

func (w *blockingWarehouse) ExecutePage(ctx context.Context, query string, pageSize int, cont backend.Continuation) (*backend.Page, error) {
	w.started() <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.release:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return &backend.Page{Schema: whSchema()}, nil
	}
}

func (w *blockingWarehouse) Ping(ctx context.Context) error { return nil }
func (w *blockingWarehouse) Close() error                   { return nil }

func TestLooseRowsAreCastBeforeStorage(t *testing.T) {
	r := newRig(t)
	wh := &fakeWarehouse{id: "bq", pages: []*backend.Page{
		{
			Rows:    [][]any{{"7", "active", "true"}},
			Schema:  backend.Schema{{Name: "id", Type: "NUMBER"}, {Name: "status", Type: "VARCHAR"}, {Name: "ok", Type: "BOOLEAN"}},
			HasMore: false,
			Loose:   true,
		},
	}}
	r.prov.backends["wh"] = wh
	id := r.nodes.Add(&node.Node{Name: "loose", QueryText: "SELECT * FROM prod.t", ConnectionRef: "wh"})

	_, err := r.co.Run(context.Background(), id)
	require.NoError(t, err)

	r.local.mu.Lock()
	row := r.local.tables["loose"][0]
	r.local.mu.Unlock()
	assert.Equal(t, []any{int64(7), "active", true}, row)
}

func TestGetDependenciesIsPure(t *testing.T) {
	r := newRig(t)
	aID := r.nodes.Add(&node.Node{Name: "base", QueryText: "SELECT 1"})
	bID := r.nodes.Add(&node.Node{Name: "derived", QueryText: "SELECT * FROM base"})

	deps, err := r.co.GetDependencies(bID)
	require.NoError(t, err)
	assert.Equal(t, []int64{aID}, deps)
	assert.Empty(t, r.local.order)
}
