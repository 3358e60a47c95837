package domain

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodOf(t *testing.T) {
	tests := []struct {
		date civil.Date
		want Period
	}{
		{civil.Date{Year: 2024, Month: time.January, Day: 31}, Period{2024, 1, 1, "January", "2024-Q1", "2024-01"}},
		{civil.Date{Year: 2020, Month: time.June, Day: 1}, Period{2020, 2, 6, "June", "2020-Q2", "2020-06"}},
		{civil.Date{Year: 2023, Month: time.September, Day: 30}, Period{2023, 3, 9, "September", "2023-Q3", "2023-09"}},
		{civil.Date{Year: 2026, Month: time.December, Day: 31}, Period{2026, 4, 12, "December", "2026-Q4", "2026-12"}},
	}

	for _, tt := range tests {
		t.Run(tt.date.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodOf(tt.date))
		})
	}
}

func TestDateKey(t *testing.T) {
	assert.Equal(t, 20240131, DateKey(civil.Date{Year: 2024, Month: time.January, Day: 31}))
	assert.Equal(t, 20201201, DateKey(civil.Date{Year: 2020, Month: time.December, Day: 1}))
}

func TestDateRangeDays(t *testing.T) {
	r := DateRange{
		Start: civil.Date{Year: 2024, Month: time.February, Day: 27},
		End:   civil.Date{Year: 2024, Month: time.March, Day: 1},
	}

	var keys []int
	require.NoError(t, r.Days(func(d civil.Date) error {
		keys = append(keys, DateKey(d))
		return nil
	}))

	assert.Equal(t, []int{20240227, 20240228, 20240229, 20240301}, keys)
	assert.True(t, r.Contains(civil.Date{Year: 2024, Month: time.February, Day: 29}))
	assert.False(t, r.Contains(civil.Date{Year: 2024, Month: time.March, Day: 2}))
}

func TestParseAccountType(t *testing.T) {
	tests := []struct {
		in   string
		want AccountType
		ok   bool
	}{
		{"Income", AccountTypeRevenue, true},
		{"cost_of_goods_sold", AccountTypeCOGS, true},
		{"operating_expenses", AccountTypeExpense, true},
		{" Expenses ", AccountTypeExpense, true},
		{"equity", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAccountType(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
