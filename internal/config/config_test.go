package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort != 4780 {
		t.Errorf("expected default port 4780, got %d", cfg.HTTPPort)
	}
	if cfg.DataDir != ".agent-trace" {
		t.Errorf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("unexpected session TTL %v", cfg.SessionTTL)
	}
	if cfg.TranscriptLimit != 1048576 {
		t.Errorf("unexpected transcript limit %d", cfg.TranscriptLimit)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DATA_DIR", "/var/trace")
	t.Setenv("SESSION_TTL_MS", "60000")
	t.Setenv("REPLAY_LIMIT", "not-a-number")

	cfg := Load()

	if cfg.HTTPPort != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTPPort)
	}
	if cfg.DataDir != "/var/trace" {
		t.Errorf("expected /var/trace, got %q", cfg.DataDir)
	}
	if cfg.SessionTTL != time.Minute {
		t.Errorf("expected 1m TTL, got %v", cfg.SessionTTL)
	}
	// Unparseable values fall back to the default.
	if cfg.ReplayLimit != 50 {
		t.Errorf("expected default replay limit, got %d", cfg.ReplayLimit)
	}
}
