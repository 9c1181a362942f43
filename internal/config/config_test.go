package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPPort != "8081" {
		t.Errorf("unexpected default port %q", cfg.HTTPPort)
	}
	if cfg.QRExpiryMinutes != 2 {
		t.Errorf("expected 2 minute default QR expiry, got %d", cfg.QRExpiryMinutes)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("unexpected default access TTL %v", cfg.AccessTTL)
	}
	if cfg.BroadcastBackend != "memory" {
		t.Errorf("unexpected default broadcast backend %q", cfg.BroadcastBackend)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("QR_EXPIRY_MINUTES", "5")
	t.Setenv("QR_BASE_URL", "https://attend.example.com/a?token=")
	t.Setenv("ACCESS_TTL", "30m")
	t.Setenv("BROADCAST_BACKEND", "redis")

	cfg := Load()
	if cfg.HTTPPort != "9999" {
		t.Errorf("expected port 9999, got %q", cfg.HTTPPort)
	}
	if cfg.QRExpiryMinutes != 5 {
		t.Errorf("expected 5, got %d", cfg.QRExpiryMinutes)
	}
	if cfg.QRBaseURL != "https://attend.example.com/a?token=" {
		t.Errorf("unexpected base url %q", cfg.QRBaseURL)
	}
	if cfg.AccessTTL != 30*time.Minute {
		t.Errorf("expected 30m, got %v", cfg.AccessTTL)
	}
	if cfg.BroadcastBackend != "redis" {
		t.Errorf("expected redis backend, got %q", cfg.BroadcastBackend)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("QR_EXPIRY_MINUTES", "soon")
	t.Setenv("ACCESS_TTL", "whenever")

	cfg := Load()
	if cfg.QRExpiryMinutes != 2 {
		t.Errorf("invalid int must fall back to 2, got %d", cfg.QRExpiryMinutes)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("invalid duration must fall back, got %v", cfg.AccessTTL)
	}
}
