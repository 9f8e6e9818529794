package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/query"
	"github.com/ppiankov/trustlog/internal/store"
)

// Walks the whole lifecycle on a durable store: record a small history,
// page through it, verify the chain, tamper with one row, and watch
// verification pinpoint it.
func TestAuditLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	a := NewAppender(s, nil)
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	history := []model.AppendRequest{
		{OccurredAt: base, ActorID: "user-1", EventType: "login", Outcome: model.StringPtr("success")},
		{OccurredAt: base.Add(time.Minute), ActorID: "user-2", EventType: "login", Outcome: model.StringPtr("failure")},
		{OccurredAt: base.Add(2 * time.Minute), ActorID: "user-1", EventType: "scan", Resource: model.StringPtr("host"), ResourceID: model.StringPtr("web-1")},
		{OccurredAt: base.Add(3 * time.Minute), ActorID: "admin-1", EventType: "rule_update", Metadata: map[string]any{"rule": "fw-22"}},
	}
	for i, req := range history {
		entry, err := a.Append(ctx, req)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if entry.Sequence != int64(i+1) {
			t.Fatalf("append %d got sequence %d", i, entry.Sequence)
		}
	}

	// Page through the logins one at a time, newest first.
	engine := query.NewEngine(s)
	page, err := engine.Query(ctx, model.QueryRequest{
		Filter: model.Filter{EventType: "login"},
		Limit:  1,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 2 || !page.HasMore || page.Entries[0].Sequence != 2 {
		t.Fatalf("first login page wrong: %+v", page)
	}
	page, err = engine.Query(ctx, model.QueryRequest{
		Filter: model.Filter{EventType: "login"},
		Limit:  1,
		Offset: 1,
	})
	if err != nil {
		t.Fatalf("query offset 1: %v", err)
	}
	if page.HasMore || len(page.Entries) != 1 || page.Entries[0].Sequence != 1 {
		t.Fatalf("second login page wrong: %+v", page)
	}

	// The full chain verifies clean.
	v := NewVerifier(s)
	res, err := v.Verify(ctx, VerifyRequest{From: 1, To: 4})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.Entries != 4 {
		t.Fatalf("intact chain rejected: %+v", res)
	}

	// Someone edits a committed outcome behind the appender's back.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw handle: %v", err)
	}
	if _, err := db.Exec(`UPDATE audit_log SET outcome = 'success' WHERE sequence = 2`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	res, err = v.Verify(ctx, VerifyRequest{From: 1, To: 4})
	if err != nil {
		t.Fatalf("verify after tamper: %v", err)
	}
	if res.Valid || res.BadSequence != 2 {
		t.Fatalf("tamper not pinpointed: %+v", res)
	}

	// Appends continue past the divergence; detection is the verifier's
	// job, not the appender's.
	entry, err := a.Append(ctx, model.AppendRequest{ActorID: "user-1", EventType: "logout"})
	if err != nil {
		t.Fatalf("append after tamper: %v", err)
	}
	if entry.Sequence != 5 {
		t.Fatalf("append after tamper got sequence %d", entry.Sequence)
	}
}
