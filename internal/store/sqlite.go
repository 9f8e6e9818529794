package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/trustlog/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	sequence       INTEGER PRIMARY KEY,
	entry_id       TEXT    NOT NULL,
	occurred_at    INTEGER NOT NULL,
	recorded_at    INTEGER NOT NULL,
	actor_id       TEXT    NOT NULL,
	event_type     TEXT    NOT NULL,
	resource       TEXT,
	resource_id    TEXT,
	outcome        TEXT,
	ip_address     TEXT,
	user_agent     TEXT,
	metadata       TEXT,
	prev_hash      TEXT    NOT NULL,
	integrity_hash TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_event_type  ON audit_log(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_actor_id    ON audit_log(actor_id);
CREATE INDEX IF NOT EXISTS idx_audit_resource    ON audit_log(resource);
CREATE INDEX IF NOT EXISTS idx_audit_occurred_at ON audit_log(occurred_at);
`

// SQLite is the default durable store, backed by a single database
// file. Suitable for a single-node deployment; the appender above it
// is the only writer.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the
// schema exists. Pass ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// The appender serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent readers of the same file handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Tail(ctx context.Context) (Tail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence, integrity_hash FROM audit_log ORDER BY sequence DESC LIMIT 1`)
	var t Tail
	switch err := row.Scan(&t.Sequence, &t.Hash); err {
	case nil:
		return t, nil
	case sql.ErrNoRows:
		return Tail{Sequence: 0, Hash: model.GenesisHash}, nil
	default:
		return Tail{}, fmt.Errorf("store: read tail: %w", err)
	}
}

func (s *SQLite) Insert(ctx context.Context, e *model.LogEntry) error {
	args, err := insertArgs(e)
	if err != nil {
		return err
	}
	query := `INSERT INTO audit_log (` + insertColumns + `) VALUES (` +
		placeholders(questionPlaceholder, len(args)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return ErrStaleTail
		}
		return fmt.Errorf("store: insert entry: %w", err)
	}
	return nil
}

func (s *SQLite) Range(ctx context.Context, from, to int64) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insertColumns+` FROM audit_log WHERE sequence >= ? AND sequence <= ? ORDER BY sequence ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("store: range query: %w", err)
	}
	return collectEntries(rows)
}

func (s *SQLite) Query(ctx context.Context, q model.QueryRequest) ([]model.LogEntry, int64, error) {
	where, args := buildFilterWhere(q.Filter, questionPlaceholder)

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count query: %w", err)
	}

	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insertColumns+` FROM audit_log`+where+orderClause(q.Order)+` LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: page query: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func collectEntries(rows *sql.Rows) ([]model.LogEntry, error) {
	defer rows.Close()
	var out []model.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate rows: %w", err)
	}
	return out, nil
}

func placeholders(ph placeholderFunc, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = ph(i + 1)
	}
	return strings.Join(parts, ", ")
}
