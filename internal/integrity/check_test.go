package integrity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withChecksumPaths(t *testing.T, paths []string) {
	t.Helper()
	orig := ChecksumPaths
	ChecksumPaths = paths
	t.Cleanup(func() { ChecksumPaths = orig })
}

func withTamperLogDir(t *testing.T, dir string) {
	t.Helper()
	orig := TamperLogDir
	TamperLogDir = dir
	t.Cleanup(func() { TamperLogDir = orig })
}

func TestVerifySkipsWhenNoExpectedHash(t *testing.T) {
	withChecksumPaths(t, []string{filepath.Join(t.TempDir(), "absent.sha256")})
	if err := Verify(); err != nil {
		t.Fatalf("dev build must skip verification, got %v", err)
	}
}

func TestVerifyPassesWithCorrectHash(t *testing.T) {
	self, err := HashSelf()
	if err != nil {
		t.Fatalf("hash self: %v", err)
	}
	path := filepath.Join(t.TempDir(), "binary.sha256")
	if err := os.WriteFile(path, []byte(self+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	withChecksumPaths(t, []string{path})

	if err := Verify(); err != nil {
		t.Fatalf("matching checksum rejected: %v", err)
	}
}

func TestVerifyFailsWithWrongHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary.sha256")
	wrong := strings.Repeat("ab", 32)
	if err := os.WriteFile(path, []byte(wrong), 0600); err != nil {
		t.Fatal(err)
	}
	withChecksumPaths(t, []string{path})
	withTamperLogDir(t, t.TempDir())

	if err := Verify(); err == nil {
		t.Fatal("expected checksum mismatch")
	}
}

func TestTamperEventWrittenOnMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary.sha256")
	if err := os.WriteFile(path, []byte(strings.Repeat("cd", 32)), 0600); err != nil {
		t.Fatal(err)
	}
	withChecksumPaths(t, []string{path})
	logDir := t.TempDir()
	withTamperLogDir(t, logDir)

	if err := Verify(); err == nil {
		t.Fatal("expected checksum mismatch")
	}

	data, err := os.ReadFile(filepath.Join(logDir, "tamper.jsonl"))
	if err != nil {
		t.Fatalf("tamper log not written: %v", err)
	}
	var event TamperEvent
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &event); err != nil {
		t.Fatalf("tamper log not JSONL: %v", err)
	}
	if event.Type != "binary_tamper" || event.ActualHash == "" {
		t.Fatalf("incomplete tamper event: %+v", event)
	}
}

func TestChecksumFileValidation(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.sha256")
	if err := os.WriteFile(junk, []byte("not a hash"), 0600); err != nil {
		t.Fatal(err)
	}
	withChecksumPaths(t, []string{junk})

	// Garbage in the checksum file must not brick the binary.
	if err := Verify(); err != nil {
		t.Fatalf("malformed checksum file must be ignored: %v", err)
	}
}

func TestHashSelfReturns64CharHex(t *testing.T) {
	h, err := HashSelf()
	if err != nil {
		t.Fatalf("hash self: %v", err)
	}
	if len(h) != 64 || !isHex(h) {
		t.Fatalf("not a sha256 hex digest: %q", h)
	}
}
