// Package query answers bounded, reproducible questions over the
// committed chain. It validates and normalizes requests, delegates the
// scan to the store's indexes, and fixes the ordering contract so an
// unchanged chain always yields identical pages.
package query

import (
	"context"
	"fmt"

	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/store"
)

const (
	// DefaultLimit applies when a caller sends no page size.
	DefaultLimit = 20
	// MaxLimit caps a single page; larger requests are rejected
	// rather than silently truncated.
	MaxLimit = 1000
)

// Engine executes validated queries against a store.
type Engine struct {
	store store.Store
}

// NewEngine creates an Engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Query returns one page of entries matching every supplied predicate,
// newest first (descending occurred_at, ties broken by descending
// sequence) unless the request says otherwise. Authorization is the
// caller's responsibility; the engine answers whatever it is asked.
func (e *Engine) Query(ctx context.Context, req model.QueryRequest) (*model.Page, error) {
	normalized, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	entries, total, err := e.store.Query(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	return &model.Page{
		Entries: entries,
		Total:   total,
		Limit:   normalized.Limit,
		Offset:  normalized.Offset,
		HasMore: int64(normalized.Offset+len(entries)) < total,
	}, nil
}

// Normalize validates req and fills in defaults. Exposed so other
// entry points (spool, MCP, SDK) share one validation path.
func Normalize(req model.QueryRequest) (model.QueryRequest, error) {
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit < 0 {
		return req, model.Validationf("limit", "must be positive, got %d", req.Limit)
	}
	if req.Limit > MaxLimit {
		return req, model.Validationf("limit", "exceeds maximum %d", MaxLimit)
	}
	if req.Offset < 0 {
		return req, model.Validationf("offset", "must not be negative, got %d", req.Offset)
	}
	if req.Order == "" {
		req.Order = model.OccurredDesc
	}
	if req.Order != model.OccurredDesc && req.Order != model.OccurredAsc {
		return req, model.Validationf("order", "unknown sort order %q", req.Order)
	}
	f := req.Filter
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return req, model.Validationf("from", "time window is inverted")
	}
	return req, nil
}
