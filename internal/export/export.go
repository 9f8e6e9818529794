// Package export renders an already-queried, already-ordered result
// set into a portable byte stream. It never filters or reorders —
// that is the query engine's contract — it only projects columns and
// writes rows.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ppiankov/trustlog/internal/model"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a caller-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSONL:
		return Format(s), nil
	case "":
		return FormatCSV, nil
	default:
		return "", model.Validationf("format", "unsupported export format %q", s)
	}
}

// Columns is every projectable column, in the default projection
// order. Mirrors the audit table layout.
var Columns = []string{
	"sequence",
	"entry_id",
	"recorded_at",
	"occurred_at",
	"event_type",
	"actor_id",
	"resource",
	"resource_id",
	"outcome",
	"ip_address",
	"user_agent",
	"metadata",
	"prev_hash",
	"integrity_hash",
}

var knownColumns = func() map[string]bool {
	m := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		m[c] = true
	}
	return m
}()

// ValidateProjection rejects unknown column names up front; a typo in
// a compliance export must fail loudly, not drop a column silently.
func ValidateProjection(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return Columns, nil
	}
	for _, c := range columns {
		if !knownColumns[c] {
			return nil, model.Validationf("columns", "unknown column %q", c)
		}
	}
	return columns, nil
}

// Render writes entries to w in the given format, projecting exactly
// the requested columns in the requested order. Entries are written in
// the order given.
func Render(w io.Writer, format Format, entries []model.LogEntry, columns []string) error {
	projection, err := ValidateProjection(columns)
	if err != nil {
		return err
	}
	switch format {
	case FormatCSV:
		return renderCSV(w, entries, projection)
	case FormatJSONL:
		return renderJSONL(w, entries, projection)
	default:
		return model.Validationf("format", "unsupported export format %q", format)
	}
}

func renderCSV(w io.Writer, entries []model.LogEntry, projection []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(projection); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	row := make([]string, len(projection))
	for i := range entries {
		for j, col := range projection {
			row[j] = cellString(&entries[i], col)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func renderJSONL(w io.Writer, entries []model.LogEntry, projection []string) error {
	enc := json.NewEncoder(w)
	for i := range entries {
		obj := make(map[string]any, len(projection))
		for _, col := range projection {
			obj[col] = cellValue(&entries[i], col)
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("export: encode row %d: %w", i, err)
		}
	}
	return nil
}

func cellValue(e *model.LogEntry, col string) any {
	switch col {
	case "sequence":
		return e.Sequence
	case "entry_id":
		return e.EntryID
	case "recorded_at":
		return e.RecordedAt.UTC().Format(time.RFC3339Nano)
	case "occurred_at":
		return e.OccurredAt.UTC().Format(time.RFC3339Nano)
	case "event_type":
		return e.EventType
	case "actor_id":
		return e.ActorID
	case "resource":
		return optional(e.Resource)
	case "resource_id":
		return optional(e.ResourceID)
	case "outcome":
		return optional(e.Outcome)
	case "ip_address":
		return optional(e.IPAddress)
	case "user_agent":
		return optional(e.UserAgent)
	case "metadata":
		if e.Metadata == nil {
			return nil
		}
		return e.Metadata
	case "prev_hash":
		return e.PrevHash
	case "integrity_hash":
		return e.IntegrityHash
	default:
		return nil
	}
}

func cellString(e *model.LogEntry, col string) string {
	switch col {
	case "sequence":
		return strconv.FormatInt(e.Sequence, 10)
	case "metadata":
		if e.Metadata == nil {
			return ""
		}
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		v := cellValue(e, col)
		if v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
