package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cheese.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	for name, cfg := range map[string]*Config{"default": DefaultConfig(), "dev": DevConfig()} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s config invalid: %v", name, err)
		}
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
tick:
  rate: 10
bonus:
  boostDuration: 30s
  weights:
    freeUpgrade: 0
gate:
  mode: approve
  timeout: 90s
storage:
  backend: memory
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tick.Rate != 10 {
		t.Errorf("Expected tick rate 10, got %d", cfg.Tick.Rate)
	}
	if cfg.Bonus.BoostDuration != 30*time.Second {
		t.Errorf("Expected boost duration 30s, got %v", cfg.Bonus.BoostDuration)
	}
	if cfg.Bonus.Weights.FreeUpgrade != 0 || cfg.Bonus.Weights.LumpSum != 40 {
		t.Errorf("Weights not overlaid correctly: %+v", cfg.Bonus.Weights)
	}
	if cfg.Gate.Mode != GateModeApprove || cfg.Gate.Timeout != 90*time.Second {
		t.Errorf("Gate not overlaid: %+v", cfg.Gate)
	}
	// Untouched sections keep their defaults.
	if cfg.Bonus.ClaimWindow != 2*time.Minute || cfg.Economy.Growth != 1.15 {
		t.Errorf("Defaults lost: claimWindow=%v growth=%v", cfg.Bonus.ClaimWindow, cfg.Economy.Growth)
	}
	if len(cfg.Catalog) != 6 {
		t.Errorf("Expected default catalog, got %d entries", len(cfg.Catalog))
	}
}

func TestLoadCustomCatalog(t *testing.T) {
	path := writeConfig(t, `
catalog:
  - key: spoon
    name: Spoon
    baseCost: 5
    baseCps: 1
    baseCpc: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	catalog, err := cfg.UpgradeCatalog()
	if err != nil {
		t.Fatalf("UpgradeCatalog failed: %v", err)
	}
	if catalog.Len() != 1 {
		t.Errorf("Expected a single custom upgrade, got %d", catalog.Len())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero rate", func(c *Config) { c.Tick.Rate = 0 }, "tick.rate"},
		{"inverted intervals", func(c *Config) { c.Bonus.MaxInterval = time.Second }, "bonus intervals"},
		{"negative weight", func(c *Config) { c.Bonus.Weights.CPSBoost = -1 }, "weights"},
		{"unknown gate", func(c *Config) { c.Gate.Mode = "coinflip" }, "gate.mode"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "floppy" }, "storage.backend"},
		{"flat growth", func(c *Config) { c.Economy.Growth = 1 }, "growth"},
		{"negative cap", func(c *Config) { c.Economy.MaxPurchases = -1 }, "maxPurchases"},
		{"duplicate upgrade", func(c *Config) { c.Catalog = append(c.Catalog, c.Catalog[0]) }, "duplicate"},
		{"empty catalog", func(c *Config) { c.Catalog = nil }, "catalog"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("Expected error for missing config file")
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "cheese.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bonus.BoostDuration != 77*time.Second || cfg.Gate.AnswerDelay != 1200*time.Millisecond {
		t.Errorf("Durations not parsed: %+v %+v", cfg.Bonus, cfg.Gate)
	}
	if len(cfg.Catalog) != 6 || cfg.Storage.Backend != BackendSQLite {
		t.Errorf("Defaults not kept: %d entries, backend %s", len(cfg.Catalog), cfg.Storage.Backend)
	}
	if cfg.Economy.MaxPurchases != 50 || cfg.Economy.Growth != 1.15 {
		t.Errorf("Economy overlay lost defaults: %+v", cfg.Economy)
	}
}
