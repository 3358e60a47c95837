package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/dvloznov/finance-analyst/internal/extract"
	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/loader"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/dvloznov/finance-analyst/internal/source"
	"github.com/dvloznov/finance-analyst/internal/transform"
)

// PipelineStep represents a single step of a source run.
type PipelineStep interface {
	Execute(ctx context.Context, run *SourceRun) error
}

// loadItem hands one canonical transaction to the single load goroutine.
type loadItem struct {
	run *SourceRun
	tx  domain.CanonicalTransaction
}

// SourceRun holds the state of one source's run across its steps. Extract
// and transform fields belong to the source goroutine; Loader and the load
// fields belong to the load goroutine.
type SourceRun struct {
	Source   string
	Location string
	RunID    string

	reader      io.ReadCloser
	extractor   extract.Extractor
	transformer *transform.Transformer
	loads       chan<- loadItem
	failures    *failureLog

	Extract   extract.Stats
	Transform transform.Stats
	Loader    *loader.Loader

	// Err is the fatal error of the source, if any.
	Err error
	// loadErr is the first dropped batch.
	loadErr error
}

// Counts returns the tallies recorded in pipeline_runs.
func (r *SourceRun) Counts() postgres.RunCounts {
	c := postgres.RunCounts{
		Processed: r.Extract.Emitted + r.Extract.Failed,
		Filtered:  r.Transform.FilteredTotal(),
		Failed:    r.Extract.Failed,
	}
	if r.Loader != nil {
		ls := r.Loader.Stats()
		c.Loaded = ls.Loaded
		c.Failed += ls.Failed
	}
	return c
}

// StartRunStep inserts the pipeline_runs row.
type StartRunStep struct {
	Repo      Repository
	BatchSize int
}

func (s *StartRunStep) Execute(ctx context.Context, run *SourceRun) error {
	runID, err := s.Repo.StartRun(ctx, run.Source)
	if err != nil {
		return err
	}
	run.RunID = runID
	run.Loader = loader.New(s.Repo, runID, s.BatchSize)
	return nil
}

// OpenSourceStep opens the source document.
type OpenSourceStep struct {
	Opener source.Opener
}

func (s *OpenSourceStep) Execute(ctx context.Context, run *SourceRun) error {
	x, ok := extract.ForSource(run.Source)
	if !ok {
		return fmt.Errorf("OpenSource: no extractor for source %q", run.Source)
	}
	r, err := s.Opener.Open(ctx, run.Location)
	if err != nil {
		return fmt.Errorf("OpenSource: %w", err)
	}
	run.extractor = x
	run.reader = r
	return nil
}

// ExtractTransformStep streams the document through the extractor and the
// transformer and queues every accepted transaction for loading.
type ExtractTransformStep struct {
	Options transform.Options
}

func (s *ExtractTransformStep) Execute(ctx context.Context, run *SourceRun) error {
	defer run.reader.Close()

	run.transformer = transform.New(s.Options)
	stats, err := run.extractor.Extract(ctx, run.reader, func(raw domain.RawTransaction) error {
		ct, err := run.transformer.Transform(ctx, raw)
		if err != nil {
			var fe *transform.FilterError
			if errors.As(err, &fe) {
				run.failures.filtered(ctx, run, raw, fe)
				return nil
			}
			return err
		}
		select {
		case run.loads <- loadItem{run: run, tx: ct}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	run.Extract = stats
	run.Transform = run.transformer.Stats()
	if err != nil {
		return fmt.Errorf("ExtractTransform: %w", err)
	}
	return nil
}

// load adds one transaction on the load goroutine. Dropped batches are
// recorded and the load carries on.
func (r *SourceRun) load(ctx context.Context, tx domain.CanonicalTransaction) {
	if r.Loader == nil {
		return
	}
	err := r.Loader.Add(ctx, tx)
	r.recordLoadError(ctx, err)
}

func (r *SourceRun) flush(ctx context.Context) {
	if r.Loader == nil {
		return
	}
	r.recordLoadError(ctx, r.Loader.Flush(ctx))
}

func (r *SourceRun) recordLoadError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	var berr *loader.BatchError
	if errors.As(err, &berr) {
		r.failures.loadFailed(ctx, r, berr)
	}
	if r.loadErr == nil {
		r.loadErr = err
	}
}

// finish records the outcome of the run in pipeline_runs.
func (r *SourceRun) finish(ctx context.Context, repo Repository) {
	log := logger.FromContext(ctx).With().
		Str("source", r.Source).
		Str("run_id", r.RunID).
		Logger()

	if r.RunID == "" {
		log.Error().Err(r.Err).Msg("Source run failed before it was recorded")
		return
	}

	counts := r.Counts()
	runErr := r.Err
	if runErr == nil && r.loadErr != nil {
		ls := r.Loader.Stats()
		runErr = fmt.Errorf("%d of %d batches failed, first: %w", ls.FailedBatches, ls.Batches, r.loadErr)
	}

	if runErr != nil {
		repo.MarkRunFailed(ctx, r.RunID, counts, runErr)
		log.Error().
			Err(runErr).
			Int("processed", counts.Processed).
			Int("loaded", counts.Loaded).
			Int("filtered", counts.Filtered).
			Int("failed", counts.Failed).
			Msg("Source run failed")
		return
	}

	if err := repo.MarkRunSucceeded(ctx, r.RunID, counts); err != nil {
		r.Err = err
		log.Error().Err(err).Msg("Failed to mark run completed")
		return
	}
	log.Info().
		Int("processed", counts.Processed).
		Int("loaded", counts.Loaded).
		Int("filtered", counts.Filtered).
		Int("failed", counts.Failed).
		Int("currency_defaulted", r.Transform.CurrencyDefaulted).
		Msg("Source run completed")
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, run *SourceRun) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, run); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
