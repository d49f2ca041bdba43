package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("default address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("default storage backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Rates.CacheTTL.Duration != 5*time.Minute {
		t.Errorf("default rates cache TTL = %v, want 5m", cfg.Rates.CacheTTL.Duration)
	}
	if !cfg.CircuitBreaker.Enabled {
		t.Error("circuit breakers should default to enabled")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  address: ":9090"
rates:
  cache_ttl: 90s
  oracle:
    feeds:
      "ETH:USD:1": "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
checkout:
  conversion_fee_basis_points: 250
  minimum_purchase_usd: "25.00"
storage:
  backend: memory
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.Rates.CacheTTL.Duration != 90*time.Second {
		t.Errorf("cache TTL = %v, want 90s", cfg.Rates.CacheTTL.Duration)
	}
	if cfg.Checkout.ConversionFeeBasisPoints != 250 {
		t.Errorf("conversion fee bps = %d, want 250", cfg.Checkout.ConversionFeeBasisPoints)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "storage:\n  backend: redis\n"},
		{"postgres without url", "storage:\n  backend: postgres\n"},
		{"bad minimum", "checkout:\n  minimum_purchase_usd: \"abc\"\n"},
		{"bad fee bps", "checkout:\n  conversion_fee_basis_points: 20000\n"},
		{"bad feed key", "rates:\n  oracle:\n    feeds:\n      \"ETH:USD\": \"0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419\"\n"},
		{"bad feed address", "rates:\n  oracle:\n    feeds:\n      \"ETH:USD:1\": \"not-an-address\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected validation error, got nil")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":7000")
	t.Setenv("RATES_API_KEY", "test-key")
	t.Setenv("RATES_CACHE_TTL", "30s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":7000" {
		t.Errorf("address = %q, want :7000", cfg.Server.Address)
	}
	if cfg.Rates.Fallback.APIKey != "test-key" {
		t.Errorf("rates api key = %q, want test-key", cfg.Rates.Fallback.APIKey)
	}
	if cfg.Rates.CacheTTL.Duration != 30*time.Second {
		t.Errorf("cache TTL = %v, want 30s", cfg.Rates.CacheTTL.Duration)
	}
}
