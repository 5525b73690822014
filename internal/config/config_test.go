package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adperf.yaml")
	yaml := `
warehouse:
  backend: memory
dashboard:
  max_banner_gallery: 40
  prior_year_overlay: false
server:
  request_timeout: 15s
auth:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADPERF_CONFIG_FILE", path)
	t.Setenv("ADPERF_MAX_BANNER_GALLERY", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Warehouse.Backend != BackendMemory {
		t.Fatalf("file should set backend, got %q", cfg.Warehouse.Backend)
	}
	if cfg.Dashboard.MaxBannerGallery != 25 {
		t.Fatalf("env must win over file, got %d", cfg.Dashboard.MaxBannerGallery)
	}
	if cfg.Dashboard.PriorYearOverlay {
		t.Fatalf("file should disable prior year overlay")
	}
	if cfg.Server.RequestTimeout != 15*time.Second {
		t.Fatalf("duration from file, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Dashboard.ObjectiveContains != "コンバージョン" || cfg.Dashboard.MonthFormat != "YYYY/MM" {
		t.Fatalf("defaults lost: %+v", cfg.Dashboard)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"auth without key", func(c *Config) { c.Warehouse.Backend = BackendMemory }, "ADPERF_API_KEY_MASTER"},
		{"bigquery without project", func(c *Config) { c.Auth.Enabled = false }, "project and dataset"},
		{"unknown backend", func(c *Config) { c.Auth.Enabled = false; c.Warehouse.Backend = "oracle" }, "unknown warehouse backend"},
		{"bad rule", func(c *Config) {
			c.Auth.Enabled = false
			c.Warehouse.Backend = BackendMemory
			c.Dashboard.AchievementRule = "always"
		}, "achievement rule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	c := Defaults()
	c.Auth.Enabled = false
	c.Warehouse.Backend = BackendMemory
	if err := c.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "adperf", SSLMode: "disable"}
	if got := d.DSN(); got != "postgres://u:p@db:5432/adperf?sslmode=disable" {
		t.Fatalf("dsn = %s", got)
	}
	if !d.Enabled() || (DatabaseConfig{}).Enabled() {
		t.Fatalf("enabled follows host")
	}
}
