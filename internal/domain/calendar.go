package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// Period is the set of calendar attributes derived from one date. The same
// derivation feeds dim_date and the denormalized columns of fact rows.
type Period struct {
	Year        int
	Quarter     int
	Month       int
	MonthName   string
	YearQuarter string
	YearMonth   string
}

// PeriodOf derives the calendar attributes of d.
func PeriodOf(d civil.Date) Period {
	m := int(d.Month)
	q := (m-1)/3 + 1
	return Period{
		Year:        d.Year,
		Quarter:     q,
		Month:       m,
		MonthName:   d.Month.String(),
		YearQuarter: fmt.Sprintf("%04d-Q%d", d.Year, q),
		YearMonth:   fmt.Sprintf("%04d-%02d", d.Year, m),
	}
}

// DateKey returns the YYYYMMDD integer key of d.
func DateKey(d civil.Date) int {
	return d.Year*10000 + int(d.Month)*100 + d.Day
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start civil.Date
	End   civil.Date
}

// Contains reports whether d falls within the range.
func (r DateRange) Contains(d civil.Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days calls fn for every date in the range, in order, stopping at the first error.
func (r DateRange) Days(fn func(civil.Date) error) error {
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}
