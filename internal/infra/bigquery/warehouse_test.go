package bigquery

import (
	"errors"
	"math/big"
	"testing"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationKind(t *testing.T) {
	tests := []struct {
		tableType string
		want      agent.RelationKind
	}{
		{"BASE TABLE", agent.KindTable},
		{"VIEW", agent.KindView},
		{"MATERIALIZED VIEW", agent.KindView},
		{"EXTERNAL", agent.KindTable},
	}

	for _, tt := range tests {
		t.Run(tt.tableType, func(t *testing.T) {
			assert.Equal(t, tt.want, relationKind(tt.tableType))
		})
	}
}

func TestGroupColumnsKeepsRequestedOrder(t *testing.T) {
	rows := []columnRow{
		{Table: "fact_financials", Type: "BASE TABLE", Column: "amount", DataType: "NUMERIC"},
		{Table: "v_profit_loss", Type: "VIEW", Column: "year", DataType: "INT64"},
		{Table: "v_profit_loss", Type: "VIEW", Column: "net_profit", DataType: "NUMERIC"},
	}

	got := groupColumns([]string{"v_profit_loss", "missing", "fact_financials"}, rows)

	require.Len(t, got, 2)
	assert.Equal(t, "v_profit_loss", got[0].Name)
	assert.Equal(t, agent.KindView, got[0].Kind)
	assert.Equal(t, []agent.Column{{Name: "year", Type: "INT64"}, {Name: "net_profit", Type: "NUMERIC"}}, got[0].Columns)
	assert.Equal(t, "fact_financials", got[1].Name)
	assert.Equal(t, agent.KindTable, got[1].Kind)
}

func TestNormalizeValue(t *testing.T) {
	rat := new(big.Rat).SetFrac64(106501, 2)
	got := normalizeValue(rat)
	d, ok := got.(decimal.Decimal)
	require.True(t, ok)
	assert.Equal(t, "53250.5", d.String())

	date := civil.Date{Year: 2024, Month: 3, Day: 31}
	assert.Equal(t, date, normalizeValue(date))
	assert.Equal(t, "abc", normalizeValue([]byte("abc")))
	assert.Equal(t, int64(7), normalizeValue(int64(7)))
	assert.Nil(t, normalizeValue(nil))
}

func TestRowMapPadsMissingValues(t *testing.T) {
	row := rowMap([]string{"account", "amount"}, []bigquery.Value{"Sales"})
	assert.Equal(t, map[string]interface{}{"account": "Sales", "amount": nil}, row)
}

func TestSchemaColumns(t *testing.T) {
	schema := bigquery.Schema{
		{Name: "year", Type: bigquery.IntegerFieldType},
		{Name: "revenue", Type: bigquery.NumericFieldType},
	}
	assert.Equal(t, []string{"year", "revenue"}, schemaColumns(schema))
	assert.Equal(t, []string{}, schemaColumns(nil))
}

func TestCheckStatementType(t *testing.T) {
	status := func(stmt string) *bigquery.JobStatus {
		return &bigquery.JobStatus{Statistics: &bigquery.JobStatistics{
			Details: &bigquery.QueryStatistics{StatementType: stmt},
		}}
	}

	assert.NoError(t, checkStatementType(status("SELECT")))
	assert.NoError(t, checkStatementType(nil))

	err := checkStatementType(status("DELETE"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReadOnly))
	assert.Contains(t, err.Error(), "DELETE")
}

func TestInfoSchemaName(t *testing.T) {
	w := NewWarehouseWithClient(nil, "acme-prod", "finance")
	assert.Equal(t, "`acme-prod.finance.INFORMATION_SCHEMA.TABLES`", w.infoSchema("TABLES"))
	assert.Equal(t, "BigQuery GoogleSQL", w.Dialect())
	assert.NoError(t, w.Close())
}
