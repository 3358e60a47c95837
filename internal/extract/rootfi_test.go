package extract

import (
	"errors"
	"testing"

	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootfiLeafUnderTypedParent(t *testing.T) {
	doc := `{"data": [{
		"rootfi_id": 881,
		"period_start": "2024-01-01T00:00:00+05:30",
		"period_end": "2024-01-31T23:59:59+05:30",
		"currency_id": null,
		"revenue": [
			{"name": "Product Sales", "account_type": "revenue", "value": 75000.00, "line_items": [
				{"id": "li-1", "name": "Software Licenses", "value": 75000.00, "account_id": "4010"}
			]}
		]
	}]}`

	got, stats, err := collect(t, NewRootfi(), doc)
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, "Software Licenses", rec.AccountName)
	assert.Equal(t, "Product Sales", rec.ParentAccountName)
	assert.Equal(t, domain.AccountTypeRevenue, rec.AccountType)
	assert.Equal(t, "4010", rec.AccountID)
	assert.Equal(t, "75000.00", rec.Amount)
	assert.Equal(t, "2024-01-01T00:00:00+05:30", rec.PeriodStart)
	assert.Equal(t, "", rec.Currency)
	assert.Equal(t, "881:li-1", rec.SourceRecordID)
	assert.Equal(t, Stats{Emitted: 1}, stats)
}

func TestRootfiTypeInheritance(t *testing.T) {
	doc := `{"meta": {"ignored": [1, {"x": 2}]}, "data": [{
		"period_start": "2023-04-01", "period_end": "2023-06-30", "currency_id": "EUR",
		"operating_expenses": [
			{"name": "Direct Costs", "type": "cost_of_goods_sold", "line_items": [
				{"name": "Hosting", "value": "1200.5"},
				{"name": "Support", "value": null}
			]},
			{"name": "Rent", "value": 900}
		],
		"cost_of_goods_sold": [],
		"non_operating_revenue": [{"name": "Interest", "value": "12"}]
	}]}`

	got, stats, err := collect(t, NewRootfi(), doc)
	require.NoError(t, err)
	require.Len(t, got, 3)

	byName := map[string]domain.RawTransaction{}
	for _, r := range got {
		byName[r.AccountName] = r
	}
	assert.Equal(t, domain.AccountTypeCOGS, byName["Hosting"].AccountType)
	assert.Equal(t, "Direct Costs", byName["Hosting"].ParentAccountName)
	assert.Equal(t, domain.AccountTypeExpense, byName["Rent"].AccountType)
	assert.Equal(t, "", byName["Rent"].ParentAccountName)
	assert.Equal(t, domain.AccountTypeRevenue, byName["Interest"].AccountType)
	assert.Equal(t, "EUR", byName["Interest"].Currency)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRootfiMalformedNodesAreCounted(t *testing.T) {
	doc := `{"data": [
		{"period_start": "", "period_end": "2024-01-31", "revenue": [{"name": "A", "value": 1}]},
		{"period_start": "2024-02-01", "period_end": "2024-02-29", "revenue": "not a list"},
		{"period_start": "2024-03-01", "period_end": "2024-03-31", "revenue": [
			{"name": "Bad", "value": "n/a"},
			{"name": "Good", "value": "10.00"}
		]}
	]}`

	got, stats, err := collect(t, NewRootfi(), doc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Good", got[0].AccountName)
	assert.Equal(t, 3, stats.Failed)
}

func TestRootfiMalformedNodeKeepsSiblings(t *testing.T) {
	doc := `{"data": [{
		"rootfi_id": 7,
		"period_start": "2024-01-01T00:00:00+00:00",
		"period_end": "2024-01-31T00:00:00+00:00",
		"revenue": [{"name": "Product Sales", "account_type": "revenue", "line_items": [
			{"name": "Software Licenses", "value": 75000.00},
			{"name": "Broken", "value": true},
			{"name": 5, "value": 12},
			{"name": false, "value": 3},
			42,
			{"name": "Nested", "line_items": {"oops": 1}}
		]}],
		"operating_expenses": [{"name": "Rent", "value": 100}]
	}]}`

	got, stats, err := collect(t, NewRootfi(), doc)
	require.NoError(t, err)

	var names []string
	for _, r := range got {
		names = append(names, r.AccountName)
	}
	assert.Equal(t, []string{"Software Licenses", "5", "Rent"}, names)
	assert.Equal(t, "Product Sales", got[0].ParentAccountName)
	// Broken value, boolean name, non-object item and unreadable line_items.
	assert.Equal(t, 4, stats.Failed)
}

func TestRootfiUnsupportedShapes(t *testing.T) {
	for name, doc := range map[string]string{
		"no data":        `{"periods": []}`,
		"data object":    `{"data": {"Rows": {}}}`,
		"array document": `[]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := collect(t, NewRootfi(), doc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupportedShape), "got %v", err)
		})
	}
}

func TestForSource(t *testing.T) {
	x, ok := ForSource(SourceRootfi)
	require.True(t, ok)
	assert.Equal(t, SourceRootfi, x.Source())

	_, ok = ForSource("xero")
	assert.False(t, ok)
}
