package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"CHESS_CONFIG_FILE", "CHESS_LISTEN_ADDR", "CHESS_WS_PATH", "CHESS_MAX_MESSAGE_BYTES",
	"ALLOWED_ORIGINS", "CHESS_STORE", "REDIS_URL", "DATABASE_URL", "CHESS_AUTO_MIGRATE",
	"CHESS_SWEEP_INTERVAL", "CHESS_SEND_TIMEOUT", "CHESS_MESSAGES_DIR",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.WSPath != "/ws" || cfg.StoreBackend != StoreMemory {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.MaxMessageBytes != 4096 || cfg.SweepInterval != 5*time.Second {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chess.yaml")
	yml := "listen_addr: \":9000\"\nstore: redis\nredis_url: redis://file:6379/0\nsweep_interval: 2s\nallowed_origins: [\"example.com\"]\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHESS_CONFIG_FILE", path)
	t.Setenv("REDIS_URL", " redis://env:6379/1 ")
	t.Setenv("CHESS_SEND_TIMEOUT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.StoreBackend != StoreRedis {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.RedisURL != "redis://env:6379/1" {
		t.Fatalf("env did not win: %q", cfg.RedisURL)
	}
	if cfg.SweepInterval != 2*time.Second || cfg.SendTimeout != 3*time.Second {
		t.Fatalf("durations = %v %v", cfg.SweepInterval, cfg.SendTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "example.com" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
}

func TestValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"redis without url":    {"CHESS_STORE": "redis"},
		"postgres without url": {"CHESS_STORE": "postgres"},
		"unknown store":        {"CHESS_STORE": "mongo"},
		"bad duration":         {"CHESS_SWEEP_INTERVAL": "soon"},
		"bad size":             {"CHESS_MAX_MESSAGE_BYTES": "-1"},
		"relative path":        {"CHESS_WS_PATH": "ws"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CHESS_LISTEN_ADDR=:7000\nCHESS_WS_PATH=/play\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHESS_WS_PATH", "/kept")
	os.Unsetenv("CHESS_LISTEN_ADDR")
	t.Cleanup(func() { os.Unsetenv("CHESS_LISTEN_ADDR") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7000" || cfg.WSPath != "/kept" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
