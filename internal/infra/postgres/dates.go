package postgres

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-analyst/internal/domain"
)

// DateRow is one row of dim_date.
type DateRow struct {
	DateKey     int       `db:"date_key"` // YYYYMMDD
	Date        time.Time `db:"date"`
	Year        int       `db:"year"`
	Quarter     int       `db:"quarter"`
	Month       int       `db:"month"`
	MonthName   string    `db:"month_name"`
	YearQuarter string    `db:"year_quarter"`
	YearMonth   string    `db:"year_month"`
}

// NewDateRow derives the dimension row for d using the same calendar
// derivation the transformer applies to fact rows.
func NewDateRow(d civil.Date) DateRow {
	p := domain.PeriodOf(d)
	return DateRow{
		DateKey:     domain.DateKey(d),
		Date:        d.In(time.UTC),
		Year:        p.Year,
		Quarter:     p.Quarter,
		Month:       p.Month,
		MonthName:   p.MonthName,
		YearQuarter: p.YearQuarter,
		YearMonth:   p.YearMonth,
	}
}
