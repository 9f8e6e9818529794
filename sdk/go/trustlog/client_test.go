package trustlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAppendAssignsChainFields(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.Append(ctx, Event{Type: "login", Actor: "user-1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := c.Append(ctx, Event{Type: "scan", Actor: "user-1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("sequences not contiguous: %d, %d", first.Sequence, second.Sequence)
	}
	if second.PrevHash != first.IntegrityHash {
		t.Fatal("second entry not chained to first")
	}
}

func TestDefaultActorOption(t *testing.T) {
	c := newTestClient(t, WithActor("svc-billing"))

	e, err := c.Append(context.Background(), Event{Type: "charge"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.ActorID != "svc-billing" {
		t.Fatalf("default actor not applied: %q", e.ActorID)
	}

	e, err = c.Append(context.Background(), Event{Type: "charge", Actor: "user-1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.ActorID != "user-1" {
		t.Fatalf("explicit actor overridden: %q", e.ActorID)
	}
}

func TestAppendRejectsEmptyType(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Append(context.Background(), Event{Actor: "user-1"}); err == nil {
		t.Fatal("expected empty type to be rejected")
	}
}

func TestQueryFiltersAndPages(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := c.Append(ctx, Event{Type: "login", Actor: "user-1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := c.Append(ctx, Event{Type: "scan", Actor: "user-2"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	page, err := c.Query(ctx, Query{
		Filter: Filter{EventType: "login"},
		Limit:  3,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 3 || !page.HasMore {
		t.Fatalf("unexpected page: total=%d len=%d more=%v", page.Total, len(page.Entries), page.HasMore)
	}
	// Newest first by default.
	if page.Entries[0].Sequence != 5 {
		t.Fatalf("first entry is sequence %d, want 5", page.Entries[0].Sequence)
	}
}

func TestVerifyWithCheckpoint(t *testing.T) {
	c := newTestClient(t, WithSQLite(filepath.Join(t.TempDir(), "audit.db")))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Append(ctx, Event{Type: "login", Actor: "user-1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	first, err := c.Verify(ctx, VerifyRange{From: 1, To: 2})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !first.Valid || first.Checkpoint == "" {
		t.Fatalf("unexpected verdict: %+v", first)
	}

	// Continue from the checkpoint instead of re-verifying from genesis.
	rest, err := c.Verify(ctx, VerifyRange{From: 3, To: 3, Checkpoint: first.Checkpoint})
	if err != nil {
		t.Fatalf("verify rest: %v", err)
	}
	if !rest.Valid {
		t.Fatalf("checkpoint continuation failed: %+v", rest)
	}
}

func TestSubscribeSeesNewEntries(t *testing.T) {
	c := newTestClient(t)
	sub := c.Subscribe()
	defer sub.Close()

	if _, err := c.Append(context.Background(), Event{Type: "login", Actor: "user-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case e := <-sub.Entries():
		if e.Sequence != 1 {
			t.Fatalf("unexpected entry: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no entry arrived on the subscription")
	}
}

func TestExportCSV(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Append(ctx, Event{Type: "login", Actor: "user-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := c.Append(ctx, Event{Type: "scan", Actor: "user-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var buf bytes.Buffer
	if err := c.Export(ctx, &buf, "csv", []string{"sequence", "event_type"}, Filter{}); err != nil {
		t.Fatalf("export: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 || records[1][1] != "login" || records[2][1] != "scan" {
		t.Fatalf("unexpected export: %v", records)
	}
}

func TestTail(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	n, err := c.Tail(ctx)
	if err != nil || n != 0 {
		t.Fatalf("empty chain tail: %d, %v", n, err)
	}
	if _, err := c.Append(ctx, Event{Type: "login", Actor: "user-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if n, _ = c.Tail(ctx); n != 1 {
		t.Fatalf("tail after append: %d", n)
	}
}
