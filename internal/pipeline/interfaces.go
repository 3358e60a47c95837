package pipeline

import (
	"context"

	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/loader"
)

// Repository is the persistence a pipeline run needs: the loader's store plus
// the pipeline_runs audit.
type Repository interface {
	loader.Store

	StartRun(ctx context.Context, sourceSystem string) (string, error)
	MarkRunSucceeded(ctx context.Context, runID string, counts postgres.RunCounts) error
	// MarkRunFailed logs rather than returns its own errors.
	MarkRunFailed(ctx context.Context, runID string, counts postgres.RunCounts, runErr error)
}
