package spool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/trustlog/internal/ledger"
	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/store"
)

func newTestIngester(t *testing.T) (*Ingester, store.Store) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	in := NewIngester(t.TempDir(), ledger.NewAppender(st, nil))
	if err := in.Dirs().EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	return in, st
}

func dropRequest(t *testing.T, in *Ingester, name string, req model.AppendRequest) string {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	path := filepath.Join(in.Dirs().Inbox(), name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write request: %v", err)
	}
	return path
}

func TestProcessCommitsAndMovesToDone(t *testing.T) {
	in, st := newTestIngester(t)
	path := dropRequest(t, in, "req-1.json", model.AppendRequest{
		ActorID:   "user-1",
		EventType: "login",
	})

	if err := in.Process(context.Background(), path); err != nil {
		t.Fatalf("process: %v", err)
	}

	tail, err := st.Tail(context.Background())
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if tail.Sequence != 1 {
		t.Fatalf("entry not committed, tail at %d", tail.Sequence)
	}
	if _, err := os.Stat(filepath.Join(in.Dirs().Done(), "req-1.json")); err != nil {
		t.Fatalf("file not in done/: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file still in inbox")
	}
}

func TestProcessMovesMalformedJSONToFailed(t *testing.T) {
	in, st := newTestIngester(t)
	path := filepath.Join(in.Dirs().Inbox(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := in.Process(context.Background(), path); err != nil {
		t.Fatalf("malformed input is handled, not returned: %v", err)
	}

	if _, err := os.Stat(filepath.Join(in.Dirs().Failed(), "broken.json")); err != nil {
		t.Fatalf("file not in failed/: %v", err)
	}
	reason, err := os.ReadFile(filepath.Join(in.Dirs().Failed(), "broken.reason"))
	if err != nil {
		t.Fatalf("reason note missing: %v", err)
	}
	if len(reason) == 0 {
		t.Fatal("reason note is empty")
	}
	tail, _ := st.Tail(context.Background())
	if tail.Sequence != 0 {
		t.Fatal("malformed request must not commit an entry")
	}
}

func TestProcessMovesRejectedRequestToFailed(t *testing.T) {
	in, st := newTestIngester(t)
	path := dropRequest(t, in, "empty-type.json", model.AppendRequest{ActorID: "user-1"})

	if err := in.Process(context.Background(), path); err != nil {
		t.Fatalf("validation failure is handled, not returned: %v", err)
	}
	if _, err := os.Stat(filepath.Join(in.Dirs().Failed(), "empty-type.json")); err != nil {
		t.Fatalf("file not in failed/: %v", err)
	}
	tail, _ := st.Tail(context.Background())
	if tail.Sequence != 0 {
		t.Fatal("rejected request must not commit an entry")
	}
}

func TestProcessRejectsSymlink(t *testing.T) {
	in, _ := newTestIngester(t)

	target := filepath.Join(t.TempDir(), "outside.json")
	if err := os.WriteFile(target, []byte(`{"event_type":"login"}`), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(in.Dirs().Inbox(), "link.json")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := in.Process(context.Background(), link); err == nil {
		t.Fatal("expected symlink to be rejected")
	}
	// The link stays in place as evidence.
	if _, err := os.Lstat(link); err != nil {
		t.Fatalf("symlink removed: %v", err)
	}
}

func TestSweepProcessesBacklogInNameOrder(t *testing.T) {
	in, st := newTestIngester(t)
	for _, name := range []string{"b-2.json", "a-1.json", "c-3.json"} {
		dropRequest(t, in, name, model.AppendRequest{
			ActorID:   "user-1",
			EventType: "drop:" + name,
		})
	}
	if err := os.WriteFile(filepath.Join(in.Dirs().Inbox(), "partial.json.tmp"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	n, err := in.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 commits, got %d", n)
	}

	entries, err := st.Range(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := []string{"drop:a-1.json", "drop:b-2.json", "drop:c-3.json"}
	for i, e := range entries {
		if e.EventType != want[i] {
			t.Fatalf("sequence %d carries %q, want %q", e.Sequence, e.EventType, want[i])
		}
	}
}

func TestWatcherIngestsNewFile(t *testing.T) {
	in, st := newTestIngester(t)
	w := NewWatcher(in, func(path string, err error) {
		t.Errorf("watcher error for %s: %v", path, err)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to start.
	time.Sleep(100 * time.Millisecond)

	// Write atomically the way producers should: temp file, then rename.
	final := filepath.Join(in.Dirs().Inbox(), "live-1.json")
	data, _ := json.Marshal(model.AppendRequest{ActorID: "user-9", EventType: "scan"})
	if err := os.WriteFile(final+".tmp", data, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(final+".tmp", final); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		tail, err := st.Tail(context.Background())
		if err != nil {
			t.Fatalf("tail: %v", err)
		}
		if tail.Sequence == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher did not ingest the dropped file")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watcher returned error on shutdown: %v", err)
	}
}
