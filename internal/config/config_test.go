package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "RICHFIELD_SESSION_TTL_SECONDS", "RICHFIELD_HISTORY_LIMIT", "MINIO_USE_SSL", "MINIO_ENDPOINT"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.HistoryLimit != 100 {
		t.Fatalf("HistoryLimit = %d", cfg.HistoryLimit)
	}
	if cfg.MinioUseSSL || cfg.MinioEndpoint != "" {
		t.Fatalf("minio defaults = %q ssl=%v", cfg.MinioEndpoint, cfg.MinioUseSSL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("RICHFIELD_SESSION_TTL_SECONDS", "60")
	t.Setenv("RICHFIELD_HISTORY_LIMIT", "not-a-number")
	t.Setenv("MINIO_USE_SSL", "true")
	cfg := Load()
	if cfg.Addr != ":9000" || cfg.SessionTTL != time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.HistoryLimit != 100 {
		t.Fatalf("invalid int should fall back, got %d", cfg.HistoryLimit)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("MinioUseSSL = false")
	}
}
