// Package app wires configuration into the components the binaries share:
// the Postgres repository, pipeline options and the agent runner.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/dvloznov/finance-analyst/internal/agent/gemini"
	"github.com/dvloznov/finance-analyst/internal/agent/memory"
	"github.com/dvloznov/finance-analyst/internal/config"
	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/dvloznov/finance-analyst/internal/extract"
	"github.com/dvloznov/finance-analyst/internal/infra/bigquery"
	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/dvloznov/finance-analyst/internal/pipeline"
	"github.com/dvloznov/finance-analyst/internal/transform"
	"github.com/jmoiron/sqlx"
)

// OpenRepository connects to Postgres and wraps the pool.
func OpenRepository(ctx context.Context, cfg *config.Config) (*postgres.Repository, error) {
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("OpenRepository: %w", err)
	}
	return postgres.NewRepository(db), nil
}

// DateRange is the configured calendar window.
func DateRange(cfg *config.Config) domain.DateRange {
	return domain.DateRange{Start: cfg.Pipeline.DateStart, End: cfg.Pipeline.DateEnd}
}

// PipelineOptions builds the runner options, loading the category table from
// the configured file or the embedded default.
func PipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	categories := transform.DefaultCategories()
	if path := cfg.Pipeline.CategoriesFile; path != "" {
		t, err := transform.LoadCategoriesFile(path)
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("PipelineOptions: %w", err)
		}
		categories = t
	}

	return pipeline.Options{
		BatchSize: cfg.Pipeline.BatchSize,
		Transform: transform.Options{
			DateRange:       DateRange(cfg),
			DefaultCurrency: cfg.Pipeline.DefaultCurrency,
			Categories:      categories,
		},
		FailedRecordsDir: cfg.Pipeline.FailedRecordsDir,
	}, nil
}

// DefaultSources lists the configured source documents. Blank locations are
// left out.
func DefaultSources(cfg *config.Config) []pipeline.SourceSpec {
	var specs []pipeline.SourceSpec
	if loc := cfg.Pipeline.QuickBooksSource; loc != "" {
		specs = append(specs, pipeline.SourceSpec{Source: extract.SourceQuickBooks, Location: loc})
	}
	if loc := cfg.Pipeline.RootfiSource; loc != "" {
		specs = append(specs, pipeline.SourceSpec{Source: extract.SourceRootfi, Location: loc})
	}
	return specs
}

// AgentConfig maps the environment settings onto the workflow bounds.
func AgentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		RowLimit:     cfg.Agent.RowLimit,
		RowCap:       cfg.Agent.RowCap,
		MaxRetries:   cfg.Agent.MaxRetries,
		QueryTimeout: cfg.Agent.QueryTimeout,
	}
}

// CheckpointStore picks the configured checkpoint store.
func CheckpointStore(cfg *config.Config, db *sqlx.DB) (agent.CheckpointStore, error) {
	switch cfg.Agent.Checkpoints {
	case config.CheckpointMemory, "":
		return memory.NewStore(), nil
	case config.CheckpointPostgres:
		if db == nil {
			return nil, fmt.Errorf("CheckpointStore: postgres checkpoints need a database")
		}
		return postgres.NewCheckpointStore(db), nil
	default:
		return nil, fmt.Errorf("CheckpointStore: unknown store %q", cfg.Agent.Checkpoints)
	}
}

// Agent is a wired conversation runner and the resources behind it.
type Agent struct {
	Runner  *agent.Runner
	closers []func() error
}

// Close releases the warehouse client, if one was opened.
func (a *Agent) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewAgent builds the language model, the warehouse for the configured
// backend and the checkpoint store, and wires them into a Runner.
func NewAgent(ctx context.Context, cfg *config.Config, db *sqlx.DB) (*Agent, error) {
	log := logger.FromContext(ctx)
	a := &Agent{}

	var wh agent.Warehouse
	switch cfg.Agent.Backend {
	case config.BackendBigQuery:
		bq, err := bigquery.NewWarehouse(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.DatasetID,
			bigquery.WithJobTimeout(cfg.Agent.QueryTimeout))
		if err != nil {
			return nil, fmt.Errorf("NewAgent: %w", err)
		}
		a.closers = append(a.closers, bq.Close)
		wh = bq
	default:
		if db == nil {
			return nil, fmt.Errorf("NewAgent: the postgres backend needs a database")
		}
		wh = postgres.NewWarehouse(db, cfg.Agent.QueryTimeout)
	}

	store, err := CheckpointStore(cfg, db)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("NewAgent: %w", err)
	}

	model, err := gemini.New(ctx, cfg.Agent.APIKey, cfg.Agent.Model)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("NewAgent: %w", err)
	}

	graph := agent.NewWorkflow(model, wh, agent.NewCatalog(wh), AgentConfig(cfg))
	a.Runner = agent.NewRunner(graph, store)

	log.Info().
		Str("backend", cfg.Agent.Backend).
		Str("dialect", wh.Dialect()).
		Str("checkpoints", cfg.Agent.Checkpoints).
		Str("model", cfg.Agent.Model).
		Msg("Agent ready")
	return a, nil
}
