package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q; want :8080", cfg.Server.Addr)
	}
	if cfg.Engine.Workers != 4 || cfg.Engine.Backlog != 64 {
		t.Errorf("engine = %d workers / %d backlog", cfg.Engine.Workers, cfg.Engine.Backlog)
	}
	if cfg.Data.Backend != "synthetic" || cfg.Data.SyntheticSeed != 42 {
		t.Errorf("data = %q seed %d", cfg.Data.Backend, cfg.Data.SyntheticSeed)
	}
	if cfg.StepTimeout() != 100*time.Millisecond {
		t.Errorf("step timeout = %s", cfg.StepTimeout())
	}
	if cfg.SnapshotInterval() != time.Minute {
		t.Errorf("snapshot interval = %s", cfg.SnapshotInterval())
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
engine:
  workers: 8
  step_timeout_ms: 250
data:
  backend: duckdb
  duckdb_path: /var/data/bars.duckdb
risk:
  max_trade_notional: 50000
  min_trade_interval_seconds: 30
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Engine.Workers != 8 {
		t.Errorf("workers = %d", cfg.Engine.Workers)
	}
	if cfg.StepTimeout() != 250*time.Millisecond {
		t.Errorf("step timeout = %s", cfg.StepTimeout())
	}
	if cfg.Data.Backend != "duckdb" || cfg.Data.DuckDBPath != "/var/data/bars.duckdb" {
		t.Errorf("data = %+v", cfg.Data)
	}
	if cfg.MinTradeInterval() != 30*time.Second {
		t.Errorf("min trade interval = %s", cfg.MinTradeInterval())
	}
	// Untouched sections still get defaults.
	if cfg.Engine.Prefetch != 4096 || cfg.Storage.DSN != "backtest.db" {
		t.Errorf("defaults not applied: prefetch %d dsn %q", cfg.Engine.Prefetch, cfg.Storage.DSN)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("ENGINE_WORKERS", "2")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("STORAGE_DSN", ":memory:")

	path := writeConfig(t, `
server:
  addr: ":9090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":7070" {
		t.Errorf("env override lost: addr = %q", cfg.Server.Addr)
	}
	if cfg.Engine.Workers != 2 {
		t.Errorf("workers = %d; want 2", cfg.Engine.Workers)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Storage.DSN != ":memory:" {
		t.Errorf("dsn = %q", cfg.Storage.DSN)
	}
}
