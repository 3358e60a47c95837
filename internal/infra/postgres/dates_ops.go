package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/jmoiron/sqlx"
)

var dateColumns = []string{"date_key", "date", "year", "quarter", "month", "month_name", "year_quarter", "year_month"}

// SeedDatesWithDB pre-populates dim_date for every day of r. Existing keys
// are left untouched, so seeding is safe to repeat. It returns the number of
// rows inserted.
func SeedDatesWithDB(ctx context.Context, db *sqlx.DB, r domain.DateRange, batchSize int) (int64, error) {
	if r.End.Before(r.Start) {
		return 0, fmt.Errorf("SeedDates: range end %s before start %s", r.End, r.Start)
	}
	batchSize = rowsPerStatement(batchSize, len(dateColumns))

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("SeedDates: begin: %w", err)
	}
	defer tx.Rollback()

	var inserted int64
	batch := make([]DateRow, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		args := make([]interface{}, 0, len(batch)*len(dateColumns))
		for _, row := range batch {
			args = append(args, row.DateKey, row.Date, row.Year, row.Quarter, row.Month,
				row.MonthName, row.YearQuarter, row.YearMonth)
		}
		query := multiRowInsert("dim_date", dateColumns, len(batch)) + " ON CONFLICT (date_key) DO NOTHING"
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err == nil {
			inserted += n
		}
		batch = batch[:0]
		return nil
	}

	err = r.Days(func(d civil.Date) error {
		batch = append(batch, NewDateRow(d))
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return 0, fmt.Errorf("SeedDates: inserting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("SeedDates: commit: %w", err)
	}
	return inserted, nil
}

// DateExistsWithDB reports whether dim_date holds the given key.
func DateExistsWithDB(ctx context.Context, db sqlx.QueryerContext, dateKey int) (bool, error) {
	var key int
	err := sqlx.GetContext(ctx, db, &key, `SELECT date_key FROM dim_date WHERE date_key = $1`, dateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("DateExists: %w", err)
	}
	return true, nil
}

// DateCoverageWithDB counts the dim_date rows inside r. A fully seeded range
// has one row per day.
func DateCoverageWithDB(ctx context.Context, db sqlx.QueryerContext, r domain.DateRange) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, db, &n, `
		SELECT COUNT(*) FROM dim_date WHERE date_key BETWEEN $1 AND $2
	`, domain.DateKey(r.Start), domain.DateKey(r.End)); err != nil {
		return 0, fmt.Errorf("DateCoverage: %w", err)
	}
	return n, nil
}
