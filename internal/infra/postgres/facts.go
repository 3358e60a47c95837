package postgres

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// FactRow is one row of fact_financials. The denormalized calendar columns
// copy the dim_date row of PeriodStartKey.
type FactRow struct {
	AccountKey     int             `db:"account_key"`
	PeriodStartKey int             `db:"period_start_key"`
	PeriodEndKey   int             `db:"period_end_key"`
	SourceKey      int             `db:"source_key"`
	Amount         decimal.Decimal `db:"amount"`
	Currency       string          `db:"currency"`

	Year        int    `db:"year"`
	Quarter     int    `db:"quarter"`
	Month       int    `db:"month"`
	YearQuarter string `db:"year_quarter"`
	YearMonth   string `db:"year_month"`

	SourceRecordID sql.NullString `db:"source_record_id"` // NULLABLE
	RunID          sql.NullString `db:"run_id"`           // NULLABLE, UUID
}

func (f FactRow) values() []interface{} {
	return []interface{}{
		f.AccountKey, f.PeriodStartKey, f.PeriodEndKey, f.SourceKey, f.Amount, f.Currency,
		f.Year, f.Quarter, f.Month, f.YearQuarter, f.YearMonth,
		f.SourceRecordID, f.RunID,
	}
}
