// Package httpwh implements a cursor-paginated remote warehouse backend
// over a JSON HTTP API.
//
// The protocol mirrors BigQuery-style REST result paging: the service
// answers a query with one page of rows, the result schema, an optional
// total row count, and an opaque page token for the next page. All cell
// values arrive as strings on the wire; the materializer casts them per
// the reported schema before storing.
package httpwh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/querydeck-io/querydeck/internal/backend"
)

func init() {
	backend.Register("warehouse", func(cfg backend.Config, logger *slog.Logger) (backend.Backend, error) {
		return New(cfg, logger)
	})
}

// Backend is a client for a token-paginated warehouse query API.
type Backend struct {
	baseURL string
	token   string
	name    string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a warehouse API client.
func New(cfg backend.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("warehouse backend requires a base URL")
	}

	return &Backend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		name:    cfg.Name,
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}, nil
}

// ID returns the engine identifier, qualified by connection name.
func (b *Backend) ID() string {
	if b.name != "" {
		return "warehouse:" + b.name
	}
	return "warehouse"
}

// Kind returns the backend kind.
func (b *Backend) Kind() backend.Kind { return backend.KindCursorPaginated }

// Ping checks the service health endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("warehouse unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("warehouse health check returned %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// queryRequest is the wire request for both full and paginated queries.
type queryRequest struct {
	Query     string `json:"query"`
	PageSize  int    `json:"page_size,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

// queryResponse is the wire response.
type queryResponse struct {
	Rows   [][]any `json:"rows"`
	Schema []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"schema"`
	TotalRows     *int64 `json:"total_rows"`
	HasMore       bool   `json:"has_more"`
	NextPageToken string `json:"next_page_token"`
	Stats         struct {
		BytesProcessed int64 `json:"bytes_processed"`
		CacheHit       bool  `json:"cache_hit"`
	} `json:"stats"`
	Error string `json:"error"`
}

// Execute runs a query to completion in a single exchange.
func (b *Backend) Execute(ctx context.Context, query string) (*backend.Result, error) {
	resp, err := b.post(ctx, "/query", queryRequest{Query: query})
	if err != nil {
		return nil, err
	}

	return &backend.Result{
		Rows:   resp.Rows,
		Schema: convertSchema(resp),
		Stats: backend.Stats{
			BytesProcessed: resp.Stats.BytesProcessed,
			CacheHit:       resp.Stats.CacheHit,
		},
	}, nil
}

// ExecutePage runs one page of a query. The first page carries the query
// and page size; continuation pages must carry the token issued with the
// previous page; resuming without one is a programming error and fails
// fast with ErrNoContinuation.
func (b *Backend) ExecutePage(ctx context.Context, query string, pageSize int, cont backend.Continuation) (*backend.Page, error) {
	req := queryRequest{Query: query, PageSize: pageSize}

	if !cont.IsZero() {
		token, ok := cont.Cursor()
		if !ok || token == "" {
			return nil, backend.ErrNoContinuation
		}
		req.PageToken = token
	}

	resp, err := b.post(ctx, "/query/page", req)
	if err != nil {
		return nil, err
	}

	var next backend.Continuation
	if resp.HasMore {
		next = backend.CursorToken(resp.NextPageToken)
	}

	b.logger.Debug("page fetched",
		"backend", b.ID(), "rows", len(resp.Rows), "has_more", resp.HasMore)

	return &backend.Page{
		Rows:      resp.Rows,
		Schema:    convertSchema(resp),
		TotalRows: resp.TotalRows,
		HasMore:   resp.HasMore,
		Next:      next,
		Loose:     true,
		Stats: backend.Stats{
			BytesProcessed: resp.Stats.BytesProcessed,
			CacheHit:       resp.Stats.CacheHit,
		},
	}, nil
}

func (b *Backend) post(ctx context.Context, path string, payload queryRequest) (*queryResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warehouse request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded queryResponse
	if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &decoded, nil
	case http.StatusGone:
		// The server has expired the paginated result set.
		return nil, backend.ErrContinuationExpired
	default:
		msg := decoded.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &backend.QueryError{
			Backend: b.ID(),
			Query:   payload.Query,
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, msg),
		}
	}
}

func (b *Backend) authorize(req *http.Request) {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}

func convertSchema(resp *queryResponse) backend.Schema {
	schema := make(backend.Schema, len(resp.Schema))
	for i, c := range resp.Schema {
		schema[i] = backend.Column{Name: c.Name, Type: c.Type}
	}
	return schema
}

// Interface guards.
var (
	_ backend.Backend   = (*Backend)(nil)
	_ backend.Paginated = (*Backend)(nil)
)
