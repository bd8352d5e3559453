package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":8787" || cfg.StoreDriver != "postgres" || cfg.BlobDriver != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.QuietPeriod != time.Second || cfg.SettleDelay != 150*time.Millisecond || cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("unexpected timing defaults: %v %v %v", cfg.QuietPeriod, cfg.SettleDelay, cfg.SessionTTL)
	}
	if diff := cmp.Diff([]string{"encorelm.com"}, cfg.AllowedDomains); diff != "" {
		t.Fatalf("allowed domains (-want +got):\n%s", diff)
	}
	if cfg.LoginSecretHash != "" {
		t.Fatalf("login must be off until a secret hash is configured, got %q", cfg.LoginSecretHash)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AGENDA_STORE_DRIVER", "sqlite")
	t.Setenv("AGENDA_QUIET_PERIOD_MS", "250")
	t.Setenv("AGENDA_SETTLE_DELAY_MS", "not-a-number")
	t.Setenv("AGENDA_ALLOWED_EMAILS", " a@example.com, ,b@example.com ")
	t.Setenv("AGENDA_BLOB_USE_SSL", "false")
	t.Setenv("AGENDA_BLOB_PATH_STYLE", "maybe")
	t.Setenv("AGENDA_LOGIN_SECRET_HASH", "$2a$10$hash")

	cfg := Load()
	if cfg.StoreDriver != "sqlite" || cfg.QuietPeriod != 250*time.Millisecond {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.SettleDelay != 150*time.Millisecond {
		t.Fatalf("invalid int should fall back, got %v", cfg.SettleDelay)
	}
	if diff := cmp.Diff([]string{"a@example.com", "b@example.com"}, cfg.AllowedEmails); diff != "" {
		t.Fatalf("allowed emails (-want +got):\n%s", diff)
	}
	if cfg.LoginSecretHash != "$2a$10$hash" {
		t.Fatalf("login secret hash = %q", cfg.LoginSecretHash)
	}
	if cfg.BlobUseSSL || cfg.BlobPathStyle {
		t.Fatalf("bool parsing: ssl=%v pathStyle=%v", cfg.BlobUseSSL, cfg.BlobPathStyle)
	}
}
