package mcp

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/trustlog/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return New(st, "test")
}

func TestAppendTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, out, err := s.handleAppend(ctx, &mcpsdk.CallToolRequest{}, AppendInput{
		EventType: "login",
		ActorID:   "user-1",
		Outcome:   "success",
		Metadata:  map[string]any{"ip": "10.0.0.1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatalf("expected success, got error result: %+v", out)
	}
	if out.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", out.Sequence)
	}
	if out.IntegrityHash == "" || out.EntryID == "" {
		t.Fatalf("committed entry missing chain fields: %+v", out)
	}
}

func TestAppendToolRejectsEmptyEventType(t *testing.T) {
	s := newTestServer(t)

	result, out, err := s.handleAppend(context.Background(), &mcpsdk.CallToolRequest{}, AppendInput{
		ActorID: "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result for empty event type")
	}
	if !out.Rejected || out.Reason == "" {
		t.Fatalf("rejection not reported: %+v", out)
	}
}

func TestAppendToolRejectsBadTimestamp(t *testing.T) {
	s := newTestServer(t)

	result, out, _ := s.handleAppend(context.Background(), &mcpsdk.CallToolRequest{}, AppendInput{
		EventType:  "login",
		OccurredAt: "yesterday",
	})
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result for bad timestamp")
	}
	if !out.Rejected {
		t.Fatalf("rejection not reported: %+v", out)
	}
}

func TestQueryTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, et := range []string{"login", "login", "scan"} {
		if _, _, err := s.handleAppend(ctx, &mcpsdk.CallToolRequest{}, AppendInput{
			EventType: et,
			ActorID:   "user-1",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	_, out, err := s.handleQuery(ctx, &mcpsdk.CallToolRequest{}, QueryInput{
		EventType: "login",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if out.Total != 2 || len(out.Entries) != 2 {
		t.Fatalf("expected 2 logins, got total=%d len=%d", out.Total, len(out.Entries))
	}
	// Newest first by default.
	if out.Entries[0].Sequence != 2 {
		t.Fatalf("first entry is sequence %d, want 2", out.Entries[0].Sequence)
	}
}

func TestQueryToolRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)

	result, _, err := s.handleQuery(context.Background(), &mcpsdk.CallToolRequest{}, QueryInput{
		Limit: -5,
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result")
	}
}

func TestVerifyTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := s.handleAppend(ctx, &mcpsdk.CallToolRequest{}, AppendInput{
			EventType: "login",
			ActorID:   "user-1",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	result, out, err := s.handleVerify(ctx, &mcpsdk.CallToolRequest{}, VerifyInput{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatalf("intact chain flagged as error: %+v", out)
	}
	if !out.Valid || out.Entries != 3 || out.Checkpoint == "" {
		t.Fatalf("unexpected verdict: %+v", out)
	}
}

func TestVerifyToolFlagsDivergence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	st, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	s := New(st, "test")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := s.handleAppend(ctx, &mcpsdk.CallToolRequest{}, AppendInput{
			EventType: "login",
			ActorID:   "user-1",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Rewrite a committed row behind the appender's back.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw handle: %v", err)
	}
	if _, err := db.Exec(`UPDATE audit_log SET event_type = 'logout' WHERE sequence = 2`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	result, out, err := s.handleVerify(ctx, &mcpsdk.CallToolRequest{}, VerifyInput{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("divergent chain must be flagged")
	}
	if out.Valid || out.BadSequence != 2 {
		t.Fatalf("unexpected verdict: %+v", out)
	}
}

func TestToolRegistration(t *testing.T) {
	s := newTestServer(t)
	if s.mcpServer == nil {
		t.Fatal("expected MCP server to be initialized")
	}
}
