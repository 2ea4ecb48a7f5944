package infra

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("AUDIT_ENABLED", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port mismatch: got %q want %q", cfg.Port, "8080")
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("RedisAddr mismatch: got %q", cfg.RedisAddr)
	}
	if !cfg.AuditEnabled {
		t.Fatal("AuditEnabled should default to true")
	}
	if cfg.MaxUploadBytes != 50*1024*1024 {
		t.Fatalf("MaxUploadBytes mismatch: got %d", cfg.MaxUploadBytes)
	}
}

func TestLoadConfigRequiresDatabaseWhenAudited(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUDIT_ENABLED", "true")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when AUDIT_ENABLED is set without DATABASE_URL")
	}
}

func TestLoadConfigAuditDisabledSkipsDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUDIT_ENABLED", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AuditEnabled {
		t.Fatal("AuditEnabled should be false")
	}
}
