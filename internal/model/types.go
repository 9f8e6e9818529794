package model

import "time"

// AnonymousActor is the actor recorded when no authenticated principal
// is attached to an append request.
const AnonymousActor = "anonymous"

// GenesisHash is the prev_hash of the first entry in a chain.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// LogEntry is one immutable link in the hash-chained audit log.
// Sequence, EntryID, RecordedAt, PrevHash and IntegrityHash are assigned
// by the appender at commit time; everything else comes from the event
// source. Committed entries are never mutated — corrections are new
// entries that reference the original via ResourceID.
type LogEntry struct {
	Sequence      int64          `json:"sequence"`
	EntryID       string         `json:"entry_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	RecordedAt    time.Time      `json:"recorded_at"`
	ActorID       string         `json:"actor_id"`
	EventType     string         `json:"event_type"`
	Resource      *string        `json:"resource,omitempty"`
	ResourceID    *string        `json:"resource_id,omitempty"`
	Outcome       *string        `json:"outcome,omitempty"`
	IPAddress     *string        `json:"ip_address,omitempty"`
	UserAgent     *string        `json:"user_agent,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PrevHash      string         `json:"prev_hash"`
	IntegrityHash string         `json:"integrity_hash"`
}

// AppendRequest carries the caller-supplied fields of a new entry.
// OccurredAt defaults to the commit time when zero. ActorID defaults
// to AnonymousActor when empty.
type AppendRequest struct {
	OccurredAt time.Time      `json:"occurred_at"`
	ActorID    string         `json:"actor_id"`
	EventType  string         `json:"event_type"`
	Resource   *string        `json:"resource,omitempty"`
	ResourceID *string        `json:"resource_id,omitempty"`
	Outcome    *string        `json:"outcome,omitempty"`
	IPAddress  *string        `json:"ip_address,omitempty"`
	UserAgent  *string        `json:"user_agent,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Filter narrows a query to entries matching every supplied predicate.
// Zero values mean "no constraint". From/To bound OccurredAt inclusively.
// Search matches a substring of event_type, actor_id or resource.
type Filter struct {
	EventType string    `json:"event_type,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Search    string    `json:"search,omitempty"`
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`
}

// SortOrder fixes the ordering of query results.
type SortOrder string

const (
	// OccurredDesc orders by occurred_at descending, ties broken by
	// sequence descending. This is the default and the only order the
	// presentation layer uses.
	OccurredDesc SortOrder = "occurred_desc"
	// OccurredAsc is the reverse, used for chronological exports.
	OccurredAsc SortOrder = "occurred_asc"
)

// QueryRequest is a bounded, reproducible question over the chain.
type QueryRequest struct {
	Filter Filter    `json:"filter"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
	Order  SortOrder `json:"order,omitempty"`
}

// Page is one bounded result window plus enough metadata to page on.
type Page struct {
	Entries []LogEntry `json:"entries"`
	Total   int64      `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	HasMore bool       `json:"has_more"`
}

// StringPtr returns a pointer to s. Convenience for optional fields.
func StringPtr(s string) *string { return &s }
