package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8081" {
		t.Fatalf("HTTPAddr = %q, want :8081", cfg.HTTPAddr)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("SessionTTL = %v, want 168h", cfg.SessionTTL)
	}
	if cfg.MFACodeTTL != 10*time.Minute {
		t.Fatalf("MFACodeTTL = %v, want 10m", cfg.MFACodeTTL)
	}
	if cfg.MFAMaxAttempts != 5 {
		t.Fatalf("MFAMaxAttempts = %d, want 5", cfg.MFAMaxAttempts)
	}
	if cfg.ResendCooldown != 60*time.Second {
		t.Fatalf("ResendCooldown = %v, want 60s", cfg.ResendCooldown)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("MFA_CODE_TTL", "5m")
	t.Setenv("MFA_MAX_ATTEMPTS", "3")

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if cfg.MFACodeTTL != 5*time.Minute {
		t.Fatalf("MFACodeTTL = %v, want 5m", cfg.MFACodeTTL)
	}
	if cfg.MFAMaxAttempts != 3 {
		t.Fatalf("MFAMaxAttempts = %d, want 3", cfg.MFAMaxAttempts)
	}
}

func TestDurationSecondsFallback(t *testing.T) {
	t.Setenv("RESEND_COOLDOWN_SECONDS", "90")
	cfg := Load()
	if cfg.ResendCooldown != 90*time.Second {
		t.Fatalf("ResendCooldown = %v, want 90s", cfg.ResendCooldown)
	}
}
