// Package spool ingests append requests dropped as JSON files into an
// inbox directory. Each file holds one request; after commit the file
// moves to done/, after any failure to failed/ alongside a .reason
// note. The spool never deletes evidence.
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/ppiankov/trustlog/internal/ledger"
	"github.com/ppiankov/trustlog/internal/model"
)

// dirPerm is the permission for spool-managed directories.
const dirPerm = 0750

// Dirs is the spool directory layout under a single root.
type Dirs struct {
	Root string
}

// Inbox is where producers drop request files.
func (d Dirs) Inbox() string { return filepath.Join(d.Root, "inbox") }

// Done holds request files whose entries committed.
func (d Dirs) Done() string { return filepath.Join(d.Root, "done") }

// Failed holds request files that were rejected, next to a .reason note.
func (d Dirs) Failed() string { return filepath.Join(d.Root, "failed") }

// EnsureDirs creates the spool layout. Idempotent.
func (d Dirs) EnsureDirs() error {
	for _, dir := range []string{d.Inbox(), d.Done(), d.Failed()} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("spool: create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Ingester commits spooled request files through the appender.
type Ingester struct {
	dirs     Dirs
	appender *ledger.Appender
}

// NewIngester creates an ingester rooted at dir.
func NewIngester(dir string, appender *ledger.Appender) *Ingester {
	return &Ingester{dirs: Dirs{Root: dir}, appender: appender}
}

// Dirs returns the directory layout the ingester uses.
func (in *Ingester) Dirs() Dirs { return in.dirs }

// Process handles a single request file: read, parse, append, move to
// done/. A file that cannot become an entry moves to failed/ with a
// reason note; only infrastructure errors (unreadable file, move
// failure) are returned to the caller.
func (in *Ingester) Process(ctx context.Context, path string) error {
	// Reject symlinks before reading: a link in the inbox could point
	// anywhere on the filesystem.
	fi, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("spool: stat %s: %w", path, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("spool: rejected symlink %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("spool: read %s: %w", path, err)
	}

	var req model.AppendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return in.fail(path, fmt.Sprintf("invalid JSON: %v", err))
	}

	if _, err := in.appender.Append(ctx, req); err != nil {
		if model.IsValidation(err) {
			return in.fail(path, err.Error())
		}
		// Store unavailable or retries exhausted: leave the file in the
		// inbox so the next sweep retries it.
		return fmt.Errorf("spool: append %s: %w", filepath.Base(path), err)
	}

	dst := filepath.Join(in.dirs.Done(), filepath.Base(path))
	if err := moveFile(path, dst); err != nil {
		return fmt.Errorf("spool: move to done: %w", err)
	}
	return nil
}

// Sweep processes every pending request file in the inbox, oldest name
// first, and returns how many entries committed.
func (in *Ingester) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(in.dirs.Inbox())
	if err != nil {
		return 0, fmt.Errorf("spool: read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if isRequestFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	committed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		path := filepath.Join(in.dirs.Inbox(), name)
		if err := in.Process(ctx, path); err != nil {
			return committed, err
		}
		// Process only returns nil after the file left the inbox; a
		// failed/ move still counts the file as handled, not committed.
		if _, err := os.Stat(filepath.Join(in.dirs.Done(), name)); err == nil {
			committed++
		}
	}
	return committed, nil
}

// fail moves a rejected file to failed/ and writes a reason note.
func (in *Ingester) fail(path, reason string) error {
	base := filepath.Base(path)
	dst := filepath.Join(in.dirs.Failed(), base)
	if err := moveFile(path, dst); err != nil {
		return fmt.Errorf("spool: move to failed: %w", err)
	}
	note := strings.TrimSuffix(dst, ".json") + ".reason"
	if err := os.WriteFile(note, []byte(reason+"\n"), 0600); err != nil {
		return fmt.Errorf("spool: write reason: %w", err)
	}
	return nil
}

func isRequestFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp")
}

// moveFile moves src to dst using os.Rename, falling back to
// copy + remove on EXDEV (inbox and done/ on different mounts).
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) || errno != syscall.EXDEV {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
