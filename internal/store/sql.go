package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/trustlog/internal/model"
)

// The two SQL stores share one schema shape and one query builder;
// only placeholder syntax and DDL types differ. Timestamps are stored
// as UTC Unix nanoseconds so the canonical encoding survives a
// round-trip through the database bit for bit.

const insertColumns = `sequence, entry_id, occurred_at, recorded_at, actor_id, event_type,
	resource, resource_id, outcome, ip_address, user_agent, metadata, prev_hash, integrity_hash`

// placeholderFunc renders the i-th (1-based) SQL placeholder.
type placeholderFunc func(i int) string

func questionPlaceholder(int) string { return "?" }
func dollarPlaceholder(i int) string { return fmt.Sprintf("$%d", i) }

// insertArgs flattens an entry into driver arguments matching
// insertColumns order.
func insertArgs(e *model.LogEntry) ([]any, error) {
	var meta any
	if e.Metadata != nil {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("store: marshal metadata: %w", err)
		}
		meta = string(data)
	}
	return []any{
		e.Sequence,
		e.EntryID,
		e.OccurredAt.UTC().UnixNano(),
		e.RecordedAt.UTC().UnixNano(),
		e.ActorID,
		e.EventType,
		e.Resource,
		e.ResourceID,
		e.Outcome,
		e.IPAddress,
		e.UserAgent,
		meta,
		e.PrevHash,
		e.IntegrityHash,
	}, nil
}

// scanEntry reads one row in insertColumns order.
func scanEntry(rows *sql.Rows) (model.LogEntry, error) {
	var (
		e            model.LogEntry
		occurred     int64
		recorded     int64
		metadataJSON sql.NullString
	)
	err := rows.Scan(
		&e.Sequence,
		&e.EntryID,
		&occurred,
		&recorded,
		&e.ActorID,
		&e.EventType,
		&e.Resource,
		&e.ResourceID,
		&e.Outcome,
		&e.IPAddress,
		&e.UserAgent,
		&metadataJSON,
		&e.PrevHash,
		&e.IntegrityHash,
	)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("store: scan entry: %w", err)
	}
	e.OccurredAt = time.Unix(0, occurred).UTC()
	e.RecordedAt = time.Unix(0, recorded).UTC()
	if metadataJSON.Valid {
		meta := map[string]any{}
		if err := json.Unmarshal([]byte(metadataJSON.String), &meta); err != nil {
			return model.LogEntry{}, fmt.Errorf("store: decode metadata for sequence %d: %w", e.Sequence, err)
		}
		e.Metadata = meta
	}
	return e, nil
}

// buildFilterWhere renders the conjunction of all supplied predicates.
// Returns the WHERE clause (possibly empty) and its arguments.
func buildFilterWhere(f model.Filter, ph placeholderFunc) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func() string {
		return ph(len(args))
	}

	if f.EventType != "" {
		args = append(args, f.EventType)
		conds = append(conds, "event_type = "+next())
	}
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		conds = append(conds, "actor_id = "+next())
	}
	if f.Resource != "" {
		args = append(args, f.Resource)
		conds = append(conds, "resource = "+next())
	}
	if f.Outcome != "" {
		args = append(args, f.Outcome)
		conds = append(conds, "outcome = "+next())
	}
	if !f.From.IsZero() {
		args = append(args, f.From.UTC().UnixNano())
		conds = append(conds, "occurred_at >= "+next())
	}
	if !f.To.IsZero() {
		args = append(args, f.To.UTC().UnixNano())
		conds = append(conds, "occurred_at <= "+next())
	}
	if f.Search != "" {
		pattern := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, pattern, pattern, pattern)
		conds = append(conds, fmt.Sprintf(
			"(lower(event_type) LIKE %s OR lower(actor_id) LIKE %s OR lower(coalesce(resource, '')) LIKE %s)",
			ph(len(args)-2), ph(len(args)-1), ph(len(args))))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(o model.SortOrder) string {
	if o == model.OccurredAsc {
		return " ORDER BY occurred_at ASC, sequence ASC"
	}
	return " ORDER BY occurred_at DESC, sequence DESC"
}
