// Package store persists the audit chain. Implementations are
// append-only: entries are inserted once, keyed by sequence, and never
// updated or deleted. The appender serializes writes above this layer;
// a store only has to make the individual insert atomic and reject a
// sequence that already exists.
package store

import (
	"context"
	"errors"

	"github.com/ppiankov/trustlog/internal/model"
)

// ErrStaleTail is returned by Insert when the entry's sequence has
// already been committed — the caller read a tail that another writer
// advanced first. The appender retries from a fresh tail.
var ErrStaleTail = errors.New("store: stale tail")

// Tail identifies the last committed link of the chain.
// An empty chain has Sequence 0 and the genesis hash.
type Tail struct {
	Sequence int64
	Hash     string
}

// Store is the durable home of committed entries.
type Store interface {
	// Tail returns the current chain tail.
	Tail(ctx context.Context) (Tail, error)

	// Insert commits one fully assembled entry as a single atomic
	// unit. Returns ErrStaleTail if the sequence is already taken.
	Insert(ctx context.Context, e *model.LogEntry) error

	// Range returns committed entries with from <= sequence <= to in
	// ascending sequence order. Missing sequences inside the range are
	// simply absent — gap detection is the verifier's job.
	Range(ctx context.Context, from, to int64) ([]model.LogEntry, error)

	// Query returns one page matching the request plus the total
	// number of matching entries. The request is assumed validated.
	Query(ctx context.Context, q model.QueryRequest) ([]model.LogEntry, int64, error)

	// Close releases the underlying resources.
	Close() error
}

// matches reports whether e satisfies every predicate of f.
// Shared by the in-memory store; the SQL stores express the same
// conjunction in their WHERE clauses.
func matches(e *model.LogEntry, f model.Filter) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Resource != "" && (e.Resource == nil || *e.Resource != f.Resource) {
		return false
	}
	if f.Outcome != "" && (e.Outcome == nil || *e.Outcome != f.Outcome) {
		return false
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.OccurredAt.After(f.To) {
		return false
	}
	if f.Search != "" && !searchMatch(e, f.Search) {
		return false
	}
	return true
}
