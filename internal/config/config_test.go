package config

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, civil.Date{Year: 2020, Month: time.January, Day: 1}, cfg.Pipeline.DateStart)
	assert.Equal(t, civil.Date{Year: 2026, Month: time.December, Day: 31}, cfg.Pipeline.DateEnd)
	assert.Equal(t, "USD", cfg.Pipeline.DefaultCurrency)
	assert.Equal(t, 10, cfg.Agent.RowLimit)
	assert.Equal(t, 500, cfg.Agent.RowCap)
	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, BackendPostgres, cfg.Agent.Backend)
	assert.Equal(t, 30*time.Second, cfg.Agent.QueryTimeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PIPELINE_BATCH_SIZE", "250")
	t.Setenv("PIPELINE_DATE_START", "2023-01-01")
	t.Setenv("PIPELINE_DATE_END", "2024-12-31")
	t.Setenv("PIPELINE_DEFAULT_CURRENCY", "eur")
	t.Setenv("AGENT_QUERY_TIMEOUT", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, 2023, cfg.Pipeline.DateStart.Year)
	assert.Equal(t, "EUR", cfg.Pipeline.DefaultCurrency)
	assert.Equal(t, 5*time.Second, cfg.Agent.QueryTimeout)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"inverted range", map[string]string{"PIPELINE_DATE_START": "2025-01-01", "PIPELINE_DATE_END": "2024-01-01"}, "inverted"},
		{"bad date", map[string]string{"PIPELINE_DATE_START": "01/01/2020"}, "PIPELINE_DATE_START"},
		{"zero batch", map[string]string{"PIPELINE_BATCH_SIZE": "0"}, "batch size"},
		{"cap below limit", map[string]string{"AGENT_ROW_LIMIT": "50", "AGENT_ROW_CAP": "20"}, "row cap"},
		{"unknown backend", map[string]string{"AGENT_BACKEND": "sqlite"}, "unknown agent backend"},
		{"bigquery without project", map[string]string{"AGENT_BACKEND": "bigquery"}, "BIGQUERY_PROJECT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestConnectionString(t *testing.T) {
	c := &PostgresConfig{Host: "db", Port: 5433, User: "etl", Password: "pw", Database: "fin", SSLMode: "disable", StatementTimeout: 2 * time.Second}
	assert.Equal(t, "host=db port=5433 user=etl dbname=fin sslmode=disable password=pw statement_timeout=2000", c.ConnectionString())

	c.URL = "postgres://u@h/db"
	assert.Equal(t, "postgres://u@h/db", c.ConnectionString())
}
