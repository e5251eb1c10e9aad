package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.SnapshotTTL != time.Hour {
		t.Errorf("expected 1h snapshot TTL, got %s", cfg.SnapshotTTL)
	}
	if cfg.MemoSize != 8192 {
		t.Errorf("expected memo size 8192, got %d", cfg.MemoSize)
	}
	if cfg.StrictRegistry {
		t.Error("strict registry must default to off")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENTITLE_DATABASE_URL", "postgres://localhost/entitlements")
	t.Setenv("ENTITLE_SNAPSHOT_TTL", "30m")
	t.Setenv("ENTITLE_STRICT_REGISTRY", "true")
	t.Setenv("ENTITLE_MEMO_SIZE", "128")

	cfg := Load()
	if cfg.DatabaseURL != "postgres://localhost/entitlements" {
		t.Errorf("unexpected database url: %s", cfg.DatabaseURL)
	}
	if cfg.SnapshotTTL != 30*time.Minute {
		t.Errorf("expected 30m, got %s", cfg.SnapshotTTL)
	}
	if !cfg.StrictRegistry {
		t.Error("expected strict registry on")
	}
	if cfg.MemoSize != 128 {
		t.Errorf("expected memo size 128, got %d", cfg.MemoSize)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ENTITLE_SNAPSHOT_TTL", "not-a-duration")
	t.Setenv("ENTITLE_MEMO_SIZE", "many")
	t.Setenv("ENTITLE_STRICT_REGISTRY", "yep")

	cfg := Load()
	if cfg.SnapshotTTL != time.Hour {
		t.Errorf("malformed duration must fall back, got %s", cfg.SnapshotTTL)
	}
	if cfg.MemoSize != 8192 {
		t.Errorf("malformed int must fall back, got %d", cfg.MemoSize)
	}
	if cfg.StrictRegistry {
		t.Error("malformed bool must fall back")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DatabaseURL: "postgres://localhost/entitlements",
		CatalogPath: "/etc/entitlements/rights.yaml",
		SnapshotTTL: time.Hour,
		MemoSize:    128,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"missing database url": func(c *Config) { c.DatabaseURL = "" },
		"missing catalog path": func(c *Config) { c.CatalogPath = "" },
		"zero ttl":             func(c *Config) { c.SnapshotTTL = 0 },
		"zero memo size":       func(c *Config) { c.MemoSize = 0 },
		"tracing without endpoint": func(c *Config) {
			c.TracingEnabled = true
			c.OTLPEndpoint = ""
		},
	} {
		t.Run(name, func(t *testing.T) {
			bad := *cfg
			mutate(&bad)
			if err := bad.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
