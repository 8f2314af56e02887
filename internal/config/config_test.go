package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CLINCHEM_THREAD_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("unexpected default addr %q", cfg.Addr)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("expected empty database url by default, got %q", cfg.DatabaseURL)
	}
	if cfg.ThreadCacheTTL != 30*time.Second {
		t.Fatalf("unexpected cache ttl %v", cfg.ThreadCacheTTL)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("CLINCHEM_NAME_CACHE_SIZE", "64")
	t.Setenv("CLINCHEM_THREAD_CACHE_TTL_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.Addr != ":9000" || cfg.RedisURL != "redis://cache:6379/1" || cfg.NameCacheSize != 64 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ThreadCacheTTL != 30*time.Second {
		t.Fatalf("invalid integers should fall back, got %v", cfg.ThreadCacheTTL)
	}
}
