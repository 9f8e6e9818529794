package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ppiankov/trustlog/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	sequence       BIGINT PRIMARY KEY,
	entry_id       TEXT   NOT NULL,
	occurred_at    BIGINT NOT NULL,
	recorded_at    BIGINT NOT NULL,
	actor_id       TEXT   NOT NULL,
	event_type     TEXT   NOT NULL,
	resource       TEXT,
	resource_id    TEXT,
	outcome        TEXT,
	ip_address     TEXT,
	user_agent     TEXT,
	metadata       TEXT,
	prev_hash      TEXT   NOT NULL,
	integrity_hash TEXT   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_event_type  ON audit_log(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_actor_id    ON audit_log(actor_id);
CREATE INDEX IF NOT EXISTS idx_audit_resource    ON audit_log(resource);
CREATE INDEX IF NOT EXISTS idx_audit_occurred_at ON audit_log(occurred_at);
`

// uniqueViolation is the Postgres error code for a duplicate key.
const uniqueViolation = "23505"

// Postgres is the shared-database store for deployments where several
// trustlog nodes front one chain. The primary-key constraint on
// sequence is the transactional compare-and-swap: two appenders racing
// for the same tail collide there, and the loser retries.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with the given DSN and ensures the schema.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Tail(ctx context.Context) (Tail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence, integrity_hash FROM audit_log ORDER BY sequence DESC LIMIT 1`)
	var t Tail
	switch err := row.Scan(&t.Sequence, &t.Hash); {
	case err == nil:
		return t, nil
	case errors.Is(err, sql.ErrNoRows):
		return Tail{Sequence: 0, Hash: model.GenesisHash}, nil
	default:
		return Tail{}, fmt.Errorf("store: read tail: %w", err)
	}
}

func (s *Postgres) Insert(ctx context.Context, e *model.LogEntry) error {
	args, err := insertArgs(e)
	if err != nil {
		return err
	}
	query := `INSERT INTO audit_log (` + insertColumns + `) VALUES (` +
		placeholders(dollarPlaceholder, len(args)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrStaleTail
		}
		return fmt.Errorf("store: insert entry: %w", err)
	}
	return nil
}

func (s *Postgres) Range(ctx context.Context, from, to int64) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insertColumns+` FROM audit_log WHERE sequence >= $1 AND sequence <= $2 ORDER BY sequence ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("store: range query: %w", err)
	}
	return collectEntries(rows)
}

func (s *Postgres) Query(ctx context.Context, q model.QueryRequest) ([]model.LogEntry, int64, error) {
	where, args := buildFilterWhere(q.Filter, dollarPlaceholder)

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count query: %w", err)
	}

	limitPh := dollarPlaceholder(len(args) + 1)
	offsetPh := dollarPlaceholder(len(args) + 2)
	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insertColumns+` FROM audit_log`+where+orderClause(q.Order)+
			` LIMIT `+limitPh+` OFFSET `+offsetPh,
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

func (s *Postgres) Close() error { return s.db.Close() }
