// Package pipeline runs the ETL for one or more sources: extraction and
// transformation run concurrently per source, loading goes through a single
// writer, and every source run is audited in pipeline_runs.
package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/dvloznov/finance-analyst/internal/source"
	"github.com/dvloznov/finance-analyst/internal/transform"
	"golang.org/x/sync/errgroup"
)

const loadQueueSize = 256

// SourceSpec names a source system and where its document lives.
type SourceSpec struct {
	Source   string `json:"source"`
	Location string `json:"location"`
}

// Options configure a Runner.
type Options struct {
	BatchSize int
	Transform transform.Options
	// FailedRecordsDir receives one CSV of filtered and failed records per
	// run. Empty disables the files.
	FailedRecordsDir string
}

// Result summarizes one source run.
type Result struct {
	Source            string             `json:"source"`
	RunID             string             `json:"run_id"`
	Status            string             `json:"status"`
	Counts            postgres.RunCounts `json:"counts"`
	CurrencyDefaulted int                `json:"currency_defaulted"`
	FailedRecordsFile string             `json:"failed_records_file,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// Runner runs the ingestion pipeline.
type Runner struct {
	repo   Repository
	opener source.Opener
	opts   Options
}

// NewRunner creates a Runner.
func NewRunner(repo Repository, opener source.Opener, opts Options) *Runner {
	return &Runner{repo: repo, opener: opener, opts: opts}
}

// NewSourcePipeline creates the per-source steps: audit row, open, extract
// and transform.
func (r *Runner) NewSourcePipeline() *Pipeline {
	return NewPipeline(
		&StartRunStep{Repo: r.repo, BatchSize: r.opts.BatchSize},
		&OpenSourceStep{Opener: r.opener},
		&ExtractTransformStep{Options: r.opts.Transform},
	)
}

// Run ingests every source. A failing source does not stop the others; its
// failure is reported in its Result. The error is non-nil only when ctx ends
// the whole run.
func (r *Runner) Run(ctx context.Context, sources []SourceSpec) ([]Result, error) {
	log := logger.FromContext(ctx)

	loads := make(chan loadItem, loadQueueSize)
	runs := make([]*SourceRun, len(sources))
	for i, spec := range sources {
		runs[i] = &SourceRun{
			Source:   spec.Source,
			Location: spec.Location,
			loads:    loads,
			failures: newFailureLog(r.opts.FailedRecordsDir),
		}
	}

	// Single writer: caches and upserts are never raced.
	var loadGroup errgroup.Group
	loadGroup.Go(func() error {
		for item := range loads {
			item.run.load(ctx, item.tx)
		}
		return nil
	})

	var sourceGroup errgroup.Group
	for _, run := range runs {
		run := run
		sourceGroup.Go(func() error {
			runCtx := logger.WithContext(ctx, log.With().Str("source", run.Source).Logger())
			if err := r.NewSourcePipeline().Execute(runCtx, run); err != nil {
				run.Err = err
			}
			return nil
		})
	}

	_ = sourceGroup.Wait()
	close(loads)
	_ = loadGroup.Wait()

	results := make([]Result, 0, len(runs))
	for _, run := range runs {
		run.flush(ctx)
		run.finish(ctx, r.repo)
		run.failures.close(ctx)
		results = append(results, run.result())
	}

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("Run: %w", err)
	}
	return results, nil
}

func (r *SourceRun) result() Result {
	res := Result{
		Source:            r.Source,
		RunID:             r.RunID,
		Status:            postgres.RunStatusCompleted,
		Counts:            r.Counts(),
		CurrencyDefaulted: r.Transform.CurrencyDefaulted,
		FailedRecordsFile: r.failures.path(),
	}
	switch {
	case r.Err != nil:
		res.Status = postgres.RunStatusFailed
		res.Error = r.Err.Error()
	case r.loadErr != nil:
		res.Status = postgres.RunStatusFailed
		res.Error = r.loadErr.Error()
	}
	return res
}
