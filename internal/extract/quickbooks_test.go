package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const qbColumnsJSON = `"Columns": {"Column": [
	{"ColTitle": "", "ColType": "Account", "MetaData": [{"Name": "ColKey", "Value": "account"}]},
	{"ColTitle": "Jan 2020", "ColType": "Money", "MetaData": [{"Name": "StartDate", "Value": "2020-01-01"}, {"Name": "EndDate", "Value": "2020-01-31"}]},
	{"ColTitle": "Feb 2020", "ColType": "Money", "MetaData": [{"Name": "StartDate", "Value": "2020-02-01"}, {"Name": "EndDate", "Value": "2020-02-29"}]},
	{"ColTitle": "Mar 2020", "ColType": "Money", "MetaData": [{"Name": "StartDate", "Value": "2020-03-01"}, {"Name": "EndDate", "Value": "2020-03-31"}]},
	{"ColTitle": "Total", "ColType": "Money", "MetaData": [{"Name": "ColKey", "Value": "total"}]}
]}`

const qbSalesRows = `"Rows": {"Row": [
	{"type": "Section", "group": "Income",
	 "Header": {"ColData": [{"value": "Income"}]},
	 "Rows": {"Row": [
		{"type": "Data", "ColData": [{"value": "Sales", "id": "1"}, {"value": "1000.00"}, {"value": "0.00"}, {"value": ""}, {"value": "1000.00"}]}
	 ]},
	 "Summary": {"ColData": [{"value": "Total Income"}]}}
]}`

func collect(t *testing.T, x Extractor, doc string) ([]domain.RawTransaction, Stats, error) {
	t.Helper()
	var got []domain.RawTransaction
	stats, err := x.Extract(context.Background(), strings.NewReader(doc), func(r domain.RawTransaction) error {
		got = append(got, r)
		return nil
	})
	return got, stats, err
}

func TestQuickBooksSkipsZeroAndEmptyCells(t *testing.T) {
	doc := `{"data": {"Header": {"Currency": "USD", "ReportName": "ProfitAndLoss"}, ` + qbColumnsJSON + `, ` + qbSalesRows + `}}`

	got, stats, err := collect(t, NewQuickBooks(), doc)
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, "Sales", rec.AccountName)
	assert.Equal(t, "1", rec.AccountID)
	assert.Equal(t, "Income", rec.ParentAccountName)
	assert.Equal(t, domain.AccountTypeRevenue, rec.AccountType)
	assert.Equal(t, "2020-01-01", rec.PeriodStart)
	assert.Equal(t, "2020-01-31", rec.PeriodEnd)
	assert.Equal(t, "1000.00", rec.Amount)
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, SourceQuickBooks, rec.SourceSystem)

	assert.Equal(t, Stats{Emitted: 1, Skipped: 2}, stats)
}

func TestQuickBooksRowsBeforeColumns(t *testing.T) {
	doc := `{"Header": {"Currency": "USD"}, ` + qbSalesRows + `, ` + qbColumnsJSON + `}`

	got, _, err := collect(t, NewQuickBooks(), doc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2020-01-01", got[0].PeriodStart)
}

func TestQuickBooksNestedSections(t *testing.T) {
	doc := `{"Header": {}, ` + qbColumnsJSON + `, "Rows": {"Row": [
		{"type": "Section", "group": "Expenses", "Header": {"ColData": [{"value": "Expenses"}]}, "Rows": {"Row": [
			{"type": "Section", "Header": {"ColData": [{"value": "Payroll Expenses"}]}, "Rows": {"Row": [
				{"type": "Data", "ColData": [{"value": "Wages"}, {"value": "$1,250.50"}]}
			]}},
			{"type": "Data", "ColData": [{"value": "Rent"}, {"value": "(300.00)"}, {"value": "300"}]}
		]}},
		{"type": "Section", "group": "COGS", "Header": {"ColData": [{"value": "Cost of Goods Sold"}]}, "Rows": {"Row": [
			{"type": "Data", "ColData": [{"value": "Materials"}, {"value": 42}]}
		]}},
		{"type": "Section", "group": "NetIncome", "Summary": {"ColData": [{"value": "Net Income"}]}}
	]}}`

	got, stats, err := collect(t, NewQuickBooks(), doc)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "Wages", got[0].AccountName)
	assert.Equal(t, "Payroll Expenses", got[0].ParentAccountName)
	assert.Equal(t, domain.AccountTypeExpense, got[0].AccountType)
	assert.Equal(t, "1250.50", got[0].Amount)

	assert.Equal(t, "Rent", got[1].AccountName)
	assert.Equal(t, "Expenses", got[1].ParentAccountName)
	assert.Equal(t, "-300.00", got[1].Amount)
	assert.Equal(t, "2020-02-01", got[2].PeriodStart)

	assert.Equal(t, "Materials", got[3].AccountName)
	assert.Equal(t, domain.AccountTypeCOGS, got[3].AccountType)
	assert.Equal(t, "42", got[3].Amount)

	assert.Equal(t, 0, stats.Failed)
}

func TestQuickBooksMalformedRowsAreCounted(t *testing.T) {
	doc := `{` + qbColumnsJSON + `, "Rows": {"Row": [
		{"type": "Data", "ColData": [{"value": "Orphan"}, {"value": "10"}]},
		{"type": "Section", "group": "Income", "Rows": {"Row": [
			{"type": "Data", "ColData": []},
			{"type": "Data", "ColData": [{"value": "Consulting"}, {"value": "abc"}, {"value": "5"}]}
		]}},
		{"type": "Section", "group": "Income", "Rows": {"Row": [{"type": "Data", "ColData": [{"value": true}]}]}}
	]}}`

	got, stats, err := collect(t, NewQuickBooks(), doc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Consulting", got[0].AccountName)
	assert.Equal(t, "Income", got[0].ParentAccountName)
	assert.Equal(t, 4, stats.Failed)
}

func TestQuickBooksMalformedRowKeepsSiblings(t *testing.T) {
	doc := `{` + qbColumnsJSON + `, "Rows": {"Row": [
		{"type": "Section", "group": "Income", "Header": {"ColData": [{"value": "Income"}]}, "Rows": {"Row": [
			{"type": "Data", "ColData": [{"value": "Sales"}, {"value": "1000.00"}]},
			{"type": "Data", "ColData": [{"value": true}, {"value": "50.00"}]},
			{"type": "Data", "ColData": [{"value": "Refunds"}, {"value": {"amount": 3}}, "x", {"value": "20.00"}]},
			{"type": "Data", "ColData": "not cells"},
			{"type": "Data", "ColData": [{"value": "Services"}, {"value": "500.00"}]}
		]}}
	]}}`

	got, stats, err := collect(t, NewQuickBooks(), doc)
	require.NoError(t, err)

	var names []string
	for _, r := range got {
		names = append(names, r.AccountName+"@"+r.PeriodStart)
	}
	assert.Equal(t, []string{"Sales@2020-01-01", "Refunds@2020-03-01", "Services@2020-01-01"}, names)
	// Bad name, bad Jan amount, bad Feb cell and the unreadable ColData.
	assert.Equal(t, 4, stats.Failed)
	assert.Equal(t, 3, stats.Emitted)
}

func TestQuickBooksUnsupportedShapes(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"array document", `[1, 2]`},
		{"rootfi document", `{"data": [{"period_start": "2024-01-01"}]}`},
		{"no columns", `{"Rows": {"Row": []}}`},
		{"no period columns", `{"Columns": {"Column": [{"ColType": "Account"}]}, "Rows": {"Row": []}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := collect(t, NewQuickBooks(), tt.doc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupportedShape), "got %v", err)
		})
	}
}

func TestQuickBooksStopsOnEmitError(t *testing.T) {
	doc := `{` + qbColumnsJSON + `, ` + qbSalesRows + `}`
	stop := errors.New("stop")

	_, err := NewQuickBooks().Extract(context.Background(), strings.NewReader(doc), func(domain.RawTransaction) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestSectionType(t *testing.T) {
	tests := []struct {
		group, label string
		want         domain.AccountType
		ok           bool
	}{
		{"Income", "", domain.AccountTypeRevenue, true},
		{"OtherIncome", "Other Income", domain.AccountTypeRevenue, true},
		{"COGS", "Cost of Goods Sold", domain.AccountTypeCOGS, true},
		{"Expenses", "", domain.AccountTypeExpense, true},
		{"OtherExpenses", "", domain.AccountTypeExpense, true},
		{"GrossProfit", "Gross Profit", "", false},
		{"NetOperatingIncome", "", "", false},
		{"", "Payroll", "", false},
	}
	for _, tt := range tests {
		got, ok := sectionType(tt.group, tt.label)
		assert.Equal(t, tt.want, got, tt.group)
		assert.Equal(t, tt.ok, ok, tt.group)
	}
}
