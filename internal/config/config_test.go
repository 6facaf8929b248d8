package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmdb.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: "postgres://vmdb@localhost/vmdb?sslmode=disable"
  max_open_conns: 16

normalizer:
  workers: 4
  strict: true

logging:
  file: /var/log/vmdb/vmdb.log

metrics:
  textfile: /var/lib/node_exporter/vmdb.prom

solarlong:
  start: "2000-01-01"
  end: "2030-12-31"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Unexpected driver: %s", cfg.Database.Driver)
	}
	if cfg.Normalizer.Workers != 4 || !cfg.Normalizer.Strict {
		t.Errorf("Unexpected normalizer config: %+v", cfg.Normalizer)
	}
	if cfg.Logging.MaxSizeMB != 50 {
		t.Errorf("Expected default max_size_mb 50, got %d", cfg.Logging.MaxSizeMB)
	}
	if cfg.Metrics.Textfile != "/var/lib/node_exporter/vmdb.prom" {
		t.Errorf("Unexpected textfile: %s", cfg.Metrics.Textfile)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("Unexpected warnings: %v", warnings)
	}
	if cfg.Normalizer.Workers != 4 {
		t.Errorf("postgres workers should not be clamped, got %d", cfg.Normalizer.Workers)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "vmdb.sqlite" {
		t.Errorf("Unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.SolarLong.Start != "1980-01-01" {
		t.Errorf("Unexpected solarlong start: %s", cfg.SolarLong.Start)
	}
	if _, err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("VMDB_DATABASE_DSN", "/tmp/other.sqlite")
	t.Setenv("VMDB_NORMALIZER_STRICT", "true")

	cfg, err := Load(writeConfig(t, "database:\n  dsn: vmdb.sqlite\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.DSN != "/tmp/other.sqlite" {
		t.Errorf("env override ignored, dsn = %s", cfg.Database.DSN)
	}
	if !cfg.Normalizer.Strict {
		t.Error("env override ignored for normalizer.strict")
	}
}

func TestValidateSQLiteClamp(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Normalizer.Workers = 8
	cfg.Database.MaxOpenConns = 1

	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Normalizer.Workers != 1 {
		t.Errorf("workers = %d, expected 1", cfg.Normalizer.Workers)
	}
	if cfg.Database.MaxOpenConns != 2 {
		t.Errorf("max_open_conns = %d, expected 2", cfg.Database.MaxOpenConns)
	}
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", warnings)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"no workers", func(c *Config) { c.Normalizer.Workers = 0 }},
		{"bad start", func(c *Config) { c.SolarLong.Start = "01/01/1980" }},
		{"bad end", func(c *Config) { c.SolarLong.End = "tomorrow" }},
		{"end before start", func(c *Config) { c.SolarLong.End = "1970-01-01" }},
		{"log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			tt.modify(cfg)
			if _, err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
