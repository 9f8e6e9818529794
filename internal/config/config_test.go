package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8440" || cfg.Store.Driver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\nstore:\n  driver: memory\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" {
		t.Fatalf("listen not overridden: %q", cfg.Listen)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("driver not overridden: %q", cfg.Store.Driver)
	}
	if cfg.Stream.Buffer == 0 {
		t.Fatal("unspecified fields must keep defaults")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: dynamo\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown driver to be rejected")
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: postgres\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing dsn to be rejected")
	}
}

func TestLoadRejectsKafkaWithoutTopic(t *testing.T) {
	path := writeConfig(t, "stream:\n  kafka:\n    brokers: [\"localhost:9092\"]\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing kafka topic to be rejected")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := Default()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "nested", "audit.db")
	s, err := cfg.OpenStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(filepath.Dir(cfg.Store.DSN)); err != nil {
		t.Fatalf("store directory not created: %v", err)
	}
}
