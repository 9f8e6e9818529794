// Package ledger owns the chain: appending new links and proving that
// committed ones have not been altered. The Appender is the single
// point of mutation for the chain tail; everything else in the system
// only reads.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/trustlog/internal/canonical"
	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/store"
)

// maxAppendRetries bounds how often a stale-tail conflict is retried
// before surfacing as a transient failure. Conflicts only happen when
// a shared store has concurrent writers (several nodes on one
// Postgres database).
const maxAppendRetries = 5

// Notifier receives each committed entry after the commit completes.
// Implementations must not block; the stream broker satisfies this.
type Notifier interface {
	Publish(e model.LogEntry)
}

// Appender commits append requests as consecutive chain links.
// All appends are funneled through one mutex so sequence assignment
// and hash chaining are race-free.
type Appender struct {
	store    store.Store
	notifier Notifier
	now      func() time.Time
	newID    func() string
	mu       sync.Mutex
}

// NewAppender creates an Appender on top of the given store.
// notifier may be nil when no live observers are wanted.
func NewAppender(s store.Store, notifier Notifier) *Appender {
	return &Appender{
		store:    s,
		notifier: notifier,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Append validates req, assigns sequence, recorded_at, entry id and
// prev_hash under the commit lock, hashes the canonical encoding, and
// persists the entry as one atomic unit. On success the committed
// entry is returned and published to the notifier. At most one entry
// is ever committed per call.
func (a *Appender) Append(ctx context.Context, req model.AppendRequest) (*model.LogEntry, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		entry, err := a.commitOnce(ctx, req)
		if err == store.ErrStaleTail {
			// Another writer advanced the tail. Retry the whole
			// cycle from a fresh tail read — never resume a
			// half-built entry, that is how chains fork.
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		if a.notifier != nil {
			a.notifier.Publish(*entry)
		}
		return entry, nil
	}
	return nil, fmt.Errorf("ledger: append conflict persisted after %d retries: %w", maxAppendRetries, lastErr)
}

func (a *Appender) commitOnce(ctx context.Context, req model.AppendRequest) (*model.LogEntry, error) {
	tail, err := a.store.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: read tail: %w", err)
	}

	now := a.now().UTC()
	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	actor := req.ActorID
	if actor == "" {
		actor = model.AnonymousActor
	}

	entry := &model.LogEntry{
		Sequence:   tail.Sequence + 1,
		EntryID:    a.newID(),
		OccurredAt: occurred.UTC(),
		RecordedAt: now,
		ActorID:    actor,
		EventType:  req.EventType,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Outcome:    req.Outcome,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		Metadata:   req.Metadata,
		PrevHash:   tail.Hash,
	}

	hash, err := canonical.EntryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.IntegrityHash = hash

	if err := a.store.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func validate(req model.AppendRequest) error {
	if strings.TrimSpace(req.EventType) == "" {
		return model.Validationf("event_type", "must not be empty")
	}
	// Reject non-canonicalizable metadata before taking the commit
	// lock; Encode is pure, so probing it here has no side effects.
	if req.Metadata != nil {
		probe := model.LogEntry{Metadata: req.Metadata}
		if _, err := canonical.Encode(&probe); err != nil {
			return err
		}
	}
	return nil
}
