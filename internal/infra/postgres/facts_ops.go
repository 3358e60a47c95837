package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var factColumns = []string{
	"account_key", "period_start_key", "period_end_key", "source_key", "amount", "currency",
	"year", "quarter", "month", "year_quarter", "year_month",
	"source_record_id", "run_id",
}

// InsertFactsWithDB writes rows in one transaction: either every row lands
// or none does. Large batches are split into several statements inside that
// transaction.
func InsertFactsWithDB(ctx context.Context, db *sqlx.DB, rows []FactRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("InsertFacts: begin: %w", err)
	}
	defer tx.Rollback()

	chunk := rowsPerStatement(len(rows), len(factColumns))
	var inserted int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		args := make([]interface{}, 0, len(part)*len(factColumns))
		for _, row := range part {
			args = append(args, row.values()...)
		}

		res, err := tx.ExecContext(ctx, multiRowInsert("fact_financials", factColumns, len(part)), args...)
		if err != nil {
			return 0, fmt.Errorf("InsertFacts: inserting rows %d-%d: %w", start, end, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("InsertFacts: commit: %w", err)
	}
	return inserted, nil
}

// CountFactsWithDB returns the number of fact rows, optionally limited to one run.
func CountFactsWithDB(ctx context.Context, db sqlx.QueryerContext, runID string) (int, error) {
	var n int
	var err error
	if runID == "" {
		err = sqlx.GetContext(ctx, db, &n, `SELECT COUNT(*) FROM fact_financials`)
	} else {
		err = sqlx.GetContext(ctx, db, &n, `SELECT COUNT(*) FROM fact_financials WHERE run_id = $1`, runID)
	}
	if err != nil {
		return 0, fmt.Errorf("CountFacts: %w", err)
	}
	return n, nil
}
