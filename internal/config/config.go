// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/joho/godotenv"
)

// Agent backends.
const (
	BackendPostgres = "postgres"
	BackendBigQuery = "bigquery"
)

// Checkpoint stores.
const (
	CheckpointMemory   = "memory"
	CheckpointPostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	Postgres *PostgresConfig
	BigQuery *BigQueryConfig
	Pipeline *PipelineConfig
	Agent    *AgentConfig

	APIPort string
	// APIToken, when set, is required as a bearer token on every API call.
	APIToken string

	LogLevel  string
	LogFormat string
}

// PipelineConfig drives extraction, transformation and loading.
type PipelineConfig struct {
	BatchSize       int
	DateStart       civil.Date
	DateEnd         civil.Date
	DefaultCurrency string
	// CategoriesFile overrides the embedded keyword table when set.
	CategoriesFile   string
	FailedRecordsDir string
	QuickBooksSource string
	RootfiSource     string
}

// AgentConfig drives the question-answering workflow.
type AgentConfig struct {
	RowLimit     int
	RowCap       int
	MaxRetries   int
	Model        string
	APIKey       string
	Backend      string
	Checkpoints  string
	QueryTimeout time.Duration
}

// BigQueryConfig locates the dataset the agent queries when Backend is bigquery.
type BigQueryConfig struct {
	ProjectID string
	DatasetID string
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("LoadConfig: reading .env: %w", err)
	}

	pg, err := LoadPostgresConfig()
	if err != nil {
		return nil, fmt.Errorf("LoadConfig: postgres: %w", err)
	}

	start, err := getEnvAsDate("PIPELINE_DATE_START", civil.Date{Year: 2020, Month: time.January, Day: 1})
	if err != nil {
		return nil, fmt.Errorf("LoadConfig: %w", err)
	}
	end, err := getEnvAsDate("PIPELINE_DATE_END", civil.Date{Year: 2026, Month: time.December, Day: 31})
	if err != nil {
		return nil, fmt.Errorf("LoadConfig: %w", err)
	}

	cfg := &Config{
		Postgres: pg,
		BigQuery: &BigQueryConfig{
			ProjectID: getEnv("BIGQUERY_PROJECT", ""),
			DatasetID: getEnv("BIGQUERY_DATASET", "finance"),
		},
		Pipeline: &PipelineConfig{
			BatchSize:        getEnvAsInt("PIPELINE_BATCH_SIZE", 1000),
			DateStart:        start,
			DateEnd:          end,
			DefaultCurrency:  strings.ToUpper(getEnv("PIPELINE_DEFAULT_CURRENCY", "USD")),
			CategoriesFile:   getEnv("PIPELINE_CATEGORIES_FILE", ""),
			FailedRecordsDir: getEnv("PIPELINE_FAILED_RECORDS_DIR", ""),
			QuickBooksSource: getEnv("QUICKBOOKS_SOURCE", "data/data_set_1.json"),
			RootfiSource:     getEnv("ROOTFI_SOURCE", "data/data_set_2.json"),
		},
		Agent: &AgentConfig{
			RowLimit:     getEnvAsInt("AGENT_ROW_LIMIT", 10),
			RowCap:       getEnvAsInt("AGENT_ROW_CAP", 500),
			MaxRetries:   getEnvAsInt("AGENT_MAX_RETRIES", 3),
			Model:        getEnv("AGENT_MODEL", "gemini-2.5-flash"),
			APIKey:       getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
			Backend:      strings.ToLower(getEnv("AGENT_BACKEND", BackendPostgres)),
			Checkpoints:  strings.ToLower(getEnv("AGENT_CHECKPOINTS", CheckpointMemory)),
			QueryTimeout: getEnvAsDuration("AGENT_QUERY_TIMEOUT", 30*time.Second),
		},
		APIPort:   getEnv("API_PORT", "8080"),
		APIToken:  os.Getenv("API_TOKEN"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Postgres == nil || c.Pipeline == nil || c.Agent == nil {
		return errors.New("postgres, pipeline and agent configuration are required")
	}

	p := c.Pipeline
	if p.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if p.DateEnd.Before(p.DateStart) {
		return fmt.Errorf("date range is inverted: %s > %s", p.DateStart, p.DateEnd)
	}
	if len(p.DefaultCurrency) != 3 {
		return fmt.Errorf("default currency must be a 3-letter code, got %q", p.DefaultCurrency)
	}

	a := c.Agent
	if a.RowLimit <= 0 {
		return errors.New("agent row limit must be positive")
	}
	if a.RowCap < a.RowLimit {
		return fmt.Errorf("agent row cap %d is below the row limit %d", a.RowCap, a.RowLimit)
	}
	if a.MaxRetries < 0 {
		return errors.New("agent retry ceiling cannot be negative")
	}
	switch a.Backend {
	case BackendPostgres:
	case BackendBigQuery:
		if c.BigQuery == nil || c.BigQuery.ProjectID == "" {
			return errors.New("BIGQUERY_PROJECT is required for the bigquery backend")
		}
	default:
		return fmt.Errorf("unknown agent backend %q", a.Backend)
	}
	switch a.Checkpoints {
	case CheckpointMemory, CheckpointPostgres:
	default:
		return fmt.Errorf("unknown checkpoint store %q", a.Checkpoints)
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	// Bare integers are seconds.
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsDate(key string, defaultValue civil.Date) (civil.Date, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := civil.ParseDate(valueStr)
	if err != nil {
		return civil.Date{}, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
