package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("sqlsage-api", lookup)
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
	if cfg.Cache.ExactTTL != 5*time.Minute {
		t.Fatalf("Cache.ExactTTL = %s", cfg.Cache.ExactTTL)
	}
	if cfg.Cache.ExactStore != "memory" {
		t.Fatalf("Cache.ExactStore = %q", cfg.Cache.ExactStore)
	}
	if cfg.Cache.SemanticThreshold != 0.95 {
		t.Fatalf("Cache.SemanticThreshold = %f", cfg.Cache.SemanticThreshold)
	}
	if cfg.Throttle.MaxConcurrent != 5 {
		t.Fatalf("Throttle.MaxConcurrent = %d", cfg.Throttle.MaxConcurrent)
	}
	if cfg.Throttle.WaitTimeout != 60*time.Second {
		t.Fatalf("Throttle.WaitTimeout = %s", cfg.Throttle.WaitTimeout)
	}
	if cfg.Pipeline.MaxRetries != 4 {
		t.Fatalf("Pipeline.MaxRetries = %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.RowLimit != 100 {
		t.Fatalf("Pipeline.RowLimit = %d", cfg.Pipeline.RowLimit)
	}
	if cfg.Pipeline.Executor != "postgres" {
		t.Fatalf("Pipeline.Executor = %q", cfg.Pipeline.Executor)
	}
	if cfg.Schema.Source != "file" {
		t.Fatalf("Schema.Source = %q", cfg.Schema.Source)
	}
	if cfg.Schema.PublicName != "public" {
		t.Fatalf("Schema.PublicName = %q", cfg.Schema.PublicName)
	}
	if cfg.AI.Model != "gpt-5" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"SQLSAGE_PROFILE": "prod"})
	cfg, err := Load("sqlsage-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.Cache.ExactStore != "postgres" {
		t.Fatalf("Cache.ExactStore = %q, want postgres in prod", cfg.Cache.ExactStore)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLSAGE_PROFILE":                  "test",
		"SQLSAGE_SERVICE_NAME":             "sqlsage-custom",
		"SQLSAGE_HTTP_ADDR":                ":9999",
		"SQLSAGE_HTTP_READ_TIMEOUT":        "2s",
		"SQLSAGE_LOG_LEVEL":                "error",
		"SQLSAGE_DB_DSN":                   "postgres://example",
		"SQLSAGE_DB_MAX_OPEN_CONNS":        "42",
		"SQLSAGE_DB_STATEMENT_TIMEOUT":     "9s",
		"SQLSAGE_OBJECTSTORE_ENDPOINT":     "s3.example.com",
		"SQLSAGE_OBJECTSTORE_BUCKET":       "sqlsage-prod",
		"SQLSAGE_SCHEMA_SOURCE":            "objectstore",
		"SQLSAGE_SCHEMA_OBJECT_KEY":        "schemas/acme.json",
		"SQLSAGE_AI_BASE_URL":              "https://api.example.com",
		"SQLSAGE_AI_API_KEY":               "secret-key",
		"SQLSAGE_AI_MODEL":                 "gpt-5.2",
		"SQLSAGE_AI_EMBED_MODEL":           "text-embedding-3-large",
		"SQLSAGE_AI_TEMPERATURE":           "0.3",
		"SQLSAGE_CACHE_EXACT_TTL":          "10m",
		"SQLSAGE_CACHE_EXACT_STORE":        "postgres",
		"SQLSAGE_CACHE_SEMANTIC_THRESHOLD": "0.9",
		"SQLSAGE_THROTTLE_MAX_CONCURRENT":  "8",
		"SQLSAGE_THROTTLE_WAIT_TIMEOUT":    "15s",
		"SQLSAGE_PIPELINE_MAX_RETRIES":     "2",
		"SQLSAGE_PIPELINE_ROW_LIMIT":       "250",
		"SQLSAGE_PIPELINE_ALLOWED_TABLES":  "users,invoices",
		"SQLSAGE_PIPELINE_EXECUTOR":        "duckdb",
		"SQLSAGE_PIPELINE_DATA_DIR":        "/var/lib/sqlsage/exports",
	})
	cfg, err := Load("sqlsage-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sqlsage-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.StatementTimeout != 9*time.Second {
		t.Fatalf("Database.StatementTimeout = %s", cfg.Database.StatementTimeout)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.Schema.Source != "objectstore" {
		t.Fatalf("Schema.Source = %q", cfg.Schema.Source)
	}
	if cfg.Schema.ObjectKey != "schemas/acme.json" {
		t.Fatalf("Schema.ObjectKey = %q", cfg.Schema.ObjectKey)
	}
	if cfg.AI.BaseURL != "https://api.example.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.EmbedModel != "text-embedding-3-large" {
		t.Fatalf("AI.EmbedModel = %q", cfg.AI.EmbedModel)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.Cache.ExactTTL != 10*time.Minute {
		t.Fatalf("Cache.ExactTTL = %s", cfg.Cache.ExactTTL)
	}
	if cfg.Cache.ExactStore != "postgres" {
		t.Fatalf("Cache.ExactStore = %q", cfg.Cache.ExactStore)
	}
	if cfg.Cache.SemanticThreshold != 0.9 {
		t.Fatalf("Cache.SemanticThreshold = %f", cfg.Cache.SemanticThreshold)
	}
	if cfg.Throttle.MaxConcurrent != 8 {
		t.Fatalf("Throttle.MaxConcurrent = %d", cfg.Throttle.MaxConcurrent)
	}
	if cfg.Throttle.WaitTimeout != 15*time.Second {
		t.Fatalf("Throttle.WaitTimeout = %s", cfg.Throttle.WaitTimeout)
	}
	if cfg.Pipeline.MaxRetries != 2 {
		t.Fatalf("Pipeline.MaxRetries = %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.RowLimit != 250 {
		t.Fatalf("Pipeline.RowLimit = %d", cfg.Pipeline.RowLimit)
	}
	if cfg.Pipeline.AllowedTables != "users,invoices" {
		t.Fatalf("Pipeline.AllowedTables = %q", cfg.Pipeline.AllowedTables)
	}
	if cfg.Pipeline.Executor != "duckdb" {
		t.Fatalf("Pipeline.Executor = %q", cfg.Pipeline.Executor)
	}
	if cfg.Pipeline.DataDir != "/var/lib/sqlsage/exports" {
		t.Fatalf("Pipeline.DataDir = %q", cfg.Pipeline.DataDir)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SQLSAGE_PROFILE": "oops"},
		{"SQLSAGE_HTTP_READ_TIMEOUT": "NaN"},
		{"SQLSAGE_DB_MAX_OPEN_CONNS": "oops"},
		{"SQLSAGE_AI_TEMPERATURE": "bad"},
		{"SQLSAGE_CACHE_SEMANTIC_ENABLED": "not-bool"},
		{"SQLSAGE_CACHE_SEMANTIC_THRESHOLD": "1.5"},
		{"SQLSAGE_CACHE_EXACT_STORE": "redis"},
		{"SQLSAGE_SCHEMA_SOURCE": "ftp"},
		{"SQLSAGE_THROTTLE_MAX_CONCURRENT": "0"},
		{"SQLSAGE_PIPELINE_MAX_RETRIES": "-1"},
		{"SQLSAGE_PIPELINE_EXECUTOR": "sqlite"},
		{"SQLSAGE_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("sqlsage-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
