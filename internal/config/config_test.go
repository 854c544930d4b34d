package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIncludesSyncDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SYNC_DELAY", "")
	t.Setenv("SYNC_CHILD_CONCURRENCY", "")
	t.Setenv("CATALOGUE_VARIANT", "")
	t.Setenv("REGISTRY_PLACEHOLDER_TYPE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncDelay != 30*time.Second {
		t.Fatalf("expected default sync delay 30s, got %s", cfg.SyncDelay)
	}
	if cfg.SyncChildConcurrency != 4 {
		t.Fatalf("expected default child concurrency 4, got %d", cfg.SyncChildConcurrency)
	}
	if cfg.CatalogueVariant != "current" {
		t.Fatalf("expected default catalogue variant current, got %q", cfg.CatalogueVariant)
	}
	if cfg.RegistryPlaceholderType != "Handle" {
		t.Fatalf("expected default placeholder type Handle, got %q", cfg.RegistryPlaceholderType)
	}
	if !cfg.AutoMigrate {
		t.Fatalf("expected schema bootstrap enabled by default")
	}
}

func TestLoadParsesEnvironmentOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SYNC_DELAY", "2m")
	t.Setenv("CATALOGUE_RATE_LIMIT", "0.5")
	t.Setenv("HARVEST_OWNER_ID", "42")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("SYNC_CHILD_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncDelay != 2*time.Minute {
		t.Fatalf("expected sync delay 2m, got %s", cfg.SyncDelay)
	}
	if cfg.CatalogueRateLimit != 0.5 {
		t.Fatalf("expected rate limit 0.5, got %v", cfg.CatalogueRateLimit)
	}
	if cfg.HarvestOwnerID != 42 {
		t.Fatalf("expected harvest owner 42, got %d", cfg.HarvestOwnerID)
	}
	if cfg.AutoMigrate {
		t.Fatalf("expected schema bootstrap disabled")
	}
	if cfg.SyncChildConcurrency != 4 {
		t.Fatalf("expected invalid value to fall back to 4, got %d", cfg.SyncChildConcurrency)
	}
}

func TestLoadAppliesFileOverlayBelowEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pidsync.yaml")
	body := "registry_url: https://registry.example.org\ncatalogue_variant: legacy\nsync_delay: 45s\nharvest_page_size: 25\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REGISTRY_URL", "")
	t.Setenv("CATALOGUE_VARIANT", "current")
	t.Setenv("SYNC_DELAY", "")
	t.Setenv("HARVEST_PAGE_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RegistryURL != "https://registry.example.org" {
		t.Fatalf("expected registry url from file, got %q", cfg.RegistryURL)
	}
	if cfg.CatalogueVariant != "current" {
		t.Fatalf("expected environment to win, got %q", cfg.CatalogueVariant)
	}
	if cfg.SyncDelay != 45*time.Second {
		t.Fatalf("expected sync delay from file, got %s", cfg.SyncDelay)
	}
	if cfg.HarvestPageSize != 25 {
		t.Fatalf("expected harvest page size 25, got %d", cfg.HarvestPageSize)
	}
}

func TestLoadFailsOnUnreadableFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
