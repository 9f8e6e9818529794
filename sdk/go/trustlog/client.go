package trustlog

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ppiankov/trustlog/internal/export"
	"github.com/ppiankov/trustlog/internal/ledger"
	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/query"
	"github.com/ppiankov/trustlog/internal/store"
	"github.com/ppiankov/trustlog/internal/stream"
)

// Entry is one committed audit record.
type Entry = model.LogEntry

// Page is one bounded query result window.
type Page = model.Page

// Filter narrows a query; all set fields are ANDed.
type Filter = model.Filter

// VerifyResult is the verdict of a verification run.
type VerifyResult = ledger.VerifyResult

// Subscription is a live feed of committed entries.
type Subscription = stream.Subscription

// Event is one audit event to record.
type Event struct {
	// Type categorizes the event, e.g. "login" or "config_change".
	// Required.
	Type string
	// Actor is the acting principal. Empty falls back to the client's
	// default actor, then to "anonymous".
	Actor string
	// OccurredAt is when the event happened. Zero means now.
	OccurredAt time.Time
	Resource   string
	ResourceID string
	Outcome    string
	IPAddress  string
	UserAgent  string
	Metadata   map[string]any
}

// Query selects committed entries.
type Query struct {
	Filter Filter
	// Limit bounds the page size; 0 means the default of 20.
	Limit  int
	Offset int
	// Ascending returns oldest first. Default is newest first.
	Ascending bool
}

// VerifyRange selects the sequences to verify. The zero value checks
// the whole chain from genesis.
type VerifyRange struct {
	From int64
	To   int64
	// Checkpoint is a trusted hash of the entry before From, from a
	// previous verification run.
	Checkpoint string
}

// Client is an embedded audit log. Thread-safe.
type Client struct {
	cfg      clientConfig
	store    store.Store
	appender *ledger.Appender
	engine   *query.Engine
	verifier *ledger.Verifier
	broker   *stream.Broker
}

// New creates a Client with the given options. Default is an
// in-memory chain.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	st, err := cfg.openStore()
	if err != nil {
		return nil, fmt.Errorf("trustlog: open store: %w", err)
	}

	broker := stream.NewBroker(cfg.buffer)
	return &Client{
		cfg:      cfg,
		store:    st,
		appender: ledger.NewAppender(st, broker),
		engine:   query.NewEngine(st),
		verifier: ledger.NewVerifier(st),
		broker:   broker,
	}, nil
}

// Close disconnects subscribers and closes the store.
func (c *Client) Close() error {
	c.broker.Close()
	return c.store.Close()
}

// Append records one event and returns the committed entry.
func (c *Client) Append(ctx context.Context, ev Event) (*Entry, error) {
	actor := ev.Actor
	if actor == "" {
		actor = c.cfg.actor
	}
	return c.appender.Append(ctx, model.AppendRequest{
		OccurredAt: ev.OccurredAt,
		ActorID:    actor,
		EventType:  ev.Type,
		Resource:   optional(ev.Resource),
		ResourceID: optional(ev.ResourceID),
		Outcome:    optional(ev.Outcome),
		IPAddress:  optional(ev.IPAddress),
		UserAgent:  optional(ev.UserAgent),
		Metadata:   ev.Metadata,
	})
}

// Query returns one page of matching entries plus the total match
// count for paging.
func (c *Client) Query(ctx context.Context, q Query) (*Page, error) {
	return c.engine.Query(ctx, toQueryRequest(q))
}

// Verify recomputes the hash chain over the range and reports either
// an intact verdict with a checkpoint or the first divergent sequence.
func (c *Client) Verify(ctx context.Context, r VerifyRange) (*VerifyResult, error) {
	return c.verifier.Verify(ctx, ledger.VerifyRequest{
		From:       r.From,
		To:         r.To,
		Checkpoint: r.Checkpoint,
	})
}

// Subscribe returns a live feed of entries committed after this call.
// Close the subscription when done; check Overrun after its channel
// closes to distinguish disconnection from a plain close.
func (c *Client) Subscribe() *Subscription {
	return c.broker.Subscribe()
}

// Tail returns the sequence of the newest committed entry, 0 for an
// empty chain.
func (c *Client) Tail(ctx context.Context) (int64, error) {
	tail, err := c.store.Tail(ctx)
	if err != nil {
		return 0, err
	}
	return tail.Sequence, nil
}

// Export materializes the whole filtered set, oldest first, and
// renders it to w. Format is "csv" or "jsonl"; nil columns means all.
func (c *Client) Export(ctx context.Context, w io.Writer, format string, columns []string, f Filter) error {
	fm, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	if columns, err = export.ValidateProjection(columns); err != nil {
		return err
	}

	req := model.QueryRequest{
		Filter: f,
		Limit:  query.MaxLimit,
		Order:  model.OccurredAsc,
	}
	var entries []model.LogEntry
	for {
		page, err := c.engine.Query(ctx, req)
		if err != nil {
			return err
		}
		entries = append(entries, page.Entries...)
		if !page.HasMore {
			break
		}
		req.Offset += len(page.Entries)
	}
	return export.Render(w, fm, entries, columns)
}

func toQueryRequest(q Query) model.QueryRequest {
	order := model.OccurredDesc
	if q.Ascending {
		order = model.OccurredAsc
	}
	return model.QueryRequest{
		Filter: q.Filter,
		Limit:  q.Limit,
		Offset: q.Offset,
		Order:  order,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
