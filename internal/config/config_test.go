package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Without an explicit path, a missing config file falls back to defaults.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with defaults failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("default driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.RateLimit.PerUser.Capacity != 5 {
		t.Errorf("default per-user capacity = %d, want 5", cfg.RateLimit.PerUser.Capacity)
	}
	if cfg.Lock.TTL != 30*time.Second {
		t.Errorf("default lock ttl = %s, want 30s", cfg.Lock.TTL)
	}
	if cfg.Dedup.TTL != 10*time.Minute {
		t.Errorf("default dedup ttl = %s, want 10m", cfg.Dedup.TTL)
	}
	if cfg.Import.Workers != 2 || cfg.Import.FanOut != 4 {
		t.Errorf("default import pool = workers %d fan_out %d", cfg.Import.Workers, cfg.Import.FanOut)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
  mode: release
import:
  workers: 8
  fan_out: 16
ratelimit:
  per_user:
    capacity: 42
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Mode != "release" {
		t.Errorf("server section not applied: %+v", cfg.Server)
	}
	if cfg.Import.Workers != 8 || cfg.Import.FanOut != 16 {
		t.Errorf("import section not applied: %+v", cfg.Import)
	}
	if cfg.RateLimit.PerUser.Capacity != 42 {
		t.Errorf("ratelimit override not applied: %d", cfg.RateLimit.PerUser.Capacity)
	}
	// Untouched sections keep their defaults.
	if cfg.RateLimit.Global.Capacity != 100 {
		t.Errorf("global bucket default lost: %d", cfg.RateLimit.Global.Capacity)
	}
}

func TestDSN(t *testing.T) {
	pg := &DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "u", Password: "p", Name: "vidmeta", SSLMode: "disable",
	}
	want := "host=db port=5432 user=u password=p dbname=vidmeta sslmode=disable"
	if got := pg.DSN(); got != want {
		t.Errorf("postgres DSN = %q, want %q", got, want)
	}

	lite := &DatabaseConfig{Driver: "sqlite", Path: "./data/test.db"}
	if got := lite.DSN(); got != "./data/test.db" {
		t.Errorf("sqlite DSN = %q", got)
	}
}
