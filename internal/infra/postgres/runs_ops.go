package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const maxErrorMessageLen = 2000

// StartRunWithDB inserts a pipeline_runs row with status=started and returns
// the generated run_id.
func StartRunWithDB(ctx context.Context, db sqlx.ExecerContext, sourceSystem string) (string, error) {
	runID := uuid.NewString()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (run_id, source_system, status, started_at)
		VALUES ($1, $2, $3, $4)
	`, runID, sourceSystem, RunStatusStarted, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("StartRun: inserting run: %w", err)
	}

	return runID, nil
}

// MarkRunSucceededWithDB sets status=completed, the final counts and
// completed_at.
func MarkRunSucceededWithDB(ctx context.Context, db sqlx.ExecerContext, runID string, counts RunCounts) error {
	if err := finishRun(ctx, db, runID, RunStatusCompleted, counts, ""); err != nil {
		return fmt.Errorf("MarkRunSucceeded: %w", err)
	}
	return nil
}

// MarkRunFailedWithDB sets status=failed with the counts so far and the
// error text. Failures to record the failure are logged, never returned.
func MarkRunFailedWithDB(ctx context.Context, db sqlx.ExecerContext, runID string, counts RunCounts, runErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = truncateError(runErr.Error())
	}

	if err := finishRun(ctx, db, runID, RunStatusFailed, counts, errMsg); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: updating run")
	}
}

func finishRun(ctx context.Context, db sqlx.ExecerContext, runID, status string, counts RunCounts, errMsg string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $1,
		    records_processed = $2,
		    records_loaded = $3,
		    records_filtered = $4,
		    records_failed = $5,
		    error_message = NULLIF($6, ''),
		    completed_at = $7
		WHERE run_id = $8
	`, status, counts.Processed, counts.Loaded, counts.Filtered, counts.Failed, errMsg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("running update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// ListRunsWithDB returns the most recent runs first. Filter by source when
// sourceSystem is not empty.
func ListRunsWithDB(ctx context.Context, db sqlx.QueryerContext, sourceSystem string, limit int) ([]*RunRow, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []*RunRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT run_id, source_system, status, records_processed, records_loaded,
		       records_filtered, records_failed, error_message, started_at, completed_at
		FROM pipeline_runs
		WHERE ($1 = '' OR source_system = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`, sourceSystem, limit); err != nil {
		return nil, fmt.Errorf("ListRuns: %w", err)
	}
	return rows, nil
}

// GetRunWithDB loads a single run.
func GetRunWithDB(ctx context.Context, db sqlx.QueryerContext, runID string) (*RunRow, error) {
	var row RunRow
	err := sqlx.GetContext(ctx, db, &row, `
		SELECT run_id, source_system, status, records_processed, records_loaded,
		       records_filtered, records_failed, error_message, started_at, completed_at
		FROM pipeline_runs
		WHERE run_id = $1
	`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return &row, nil
}
