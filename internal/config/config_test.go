package config

import (
	"log/slog"
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("insight-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Warehouse.Driver != "pgx" {
		t.Fatalf("Warehouse.Driver = %q", cfg.Warehouse.Driver)
	}
	if !cfg.Warehouse.ReadOnly {
		t.Fatal("Warehouse.ReadOnly should default to true")
	}
	if cfg.Analysis.MaxRetries != 2 {
		t.Fatalf("Analysis.MaxRetries = %d", cfg.Analysis.MaxRetries)
	}
	if cfg.Schema.CacheTTL != 24*time.Hour {
		t.Fatalf("Schema.CacheTTL = %v", cfg.Schema.CacheTTL)
	}
	if len(cfg.Analysis.AllowedStatements) != 3 || cfg.Analysis.AllowedStatements[0] != "select" {
		t.Fatalf("Analysis.AllowedStatements = %v", cfg.Analysis.AllowedStatements)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"INSIGHT_PROFILE": "prod"})
	cfg, err := Load("insight-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
}

func TestLoadOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"INSIGHT_HTTP_ADDR":                   ":9090",
		"INSIGHT_WAREHOUSE_DRIVER":            "duckdb",
		"INSIGHT_WAREHOUSE_DSN":               "warehouse.db",
		"INSIGHT_ANALYSIS_MAX_RETRIES":        "0",
		"INSIGHT_ANALYSIS_EXEC_TIMEOUT":       "10s",
		"INSIGHT_ANALYSIS_ALLOWED_STATEMENTS": "SELECT, With",
		"INSIGHT_SCHEMA_CACHE_TTL":            "1h",
		"INSIGHT_AI_TEMPERATURE":              "0.3",
	})
	cfg, err := Load("insight-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9090" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Warehouse.Driver != "duckdb" {
		t.Fatalf("Warehouse.Driver = %q", cfg.Warehouse.Driver)
	}
	if cfg.Analysis.MaxRetries != 0 {
		t.Fatalf("Analysis.MaxRetries = %d", cfg.Analysis.MaxRetries)
	}
	if cfg.Analysis.ExecutionTimeout != 10*time.Second {
		t.Fatalf("Analysis.ExecutionTimeout = %v", cfg.Analysis.ExecutionTimeout)
	}
	if len(cfg.Analysis.AllowedStatements) != 2 || cfg.Analysis.AllowedStatements[1] != "with" {
		t.Fatalf("Analysis.AllowedStatements = %v", cfg.Analysis.AllowedStatements)
	}
	if cfg.Schema.CacheTTL != time.Hour {
		t.Fatalf("Schema.CacheTTL = %v", cfg.Schema.CacheTTL)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %v", cfg.AI.Temperature)
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{"INSIGHT_PROFILE": "staging"})
	if _, err := Load("insight-api", lookup); err == nil {
		t.Fatal("Load() should reject unknown profile")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	lookup := mapLookup(map[string]string{"INSIGHT_WAREHOUSE_DRIVER": "mysql"})
	if _, err := Load("insight-api", lookup); err == nil {
		t.Fatal("Load() should reject unknown warehouse driver")
	}
}

func TestLoadRejectsNegativeRetries(t *testing.T) {
	lookup := mapLookup(map[string]string{"INSIGHT_ANALYSIS_MAX_RETRIES": "-1"})
	if _, err := Load("insight-api", lookup); err == nil {
		t.Fatal("Load() should reject negative retry ceiling")
	}
}

func TestLoadRequiresReadOnlyInProd(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"INSIGHT_PROFILE":             "prod",
		"INSIGHT_WAREHOUSE_READ_ONLY": "false",
	})
	if _, err := Load("insight-api", lookup); err == nil {
		t.Fatal("Load() should refuse to disable read-only in prod")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	lookup := mapLookup(map[string]string{"INSIGHT_SCHEMA_CACHE_TTL": "soon"})
	if _, err := Load("insight-api", lookup); err == nil {
		t.Fatal("Load() should reject malformed duration")
	}
}
