// Package domain holds the record types that flow from the extractors through
// the transformer into the warehouse.
package domain

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// AccountType classifies an account on the income statement.
type AccountType string

const (
	AccountTypeRevenue AccountType = "revenue"
	AccountTypeExpense AccountType = "expense"
	AccountTypeCOGS    AccountType = "cogs"
)

// ParseAccountType maps the spellings used by the source systems onto an
// AccountType. The second return is false when s names no known type.
func ParseAccountType(s string) (AccountType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "revenue", "income", "other income", "other_income", "non_operating_revenue", "sales":
		return AccountTypeRevenue, true
	case "expense", "expenses", "operating_expenses", "operating expenses", "other expenses",
		"other_expenses", "non_operating_expenses":
		return AccountTypeExpense, true
	case "cogs", "cost_of_goods_sold", "cost of goods sold", "cost_of_sales", "cost of sales":
		return AccountTypeCOGS, true
	}
	return "", false
}

// RawTransaction is one record as found in a source document. Amount and
// period fields keep their source text; the transformer owns parsing.
type RawTransaction struct {
	SourceSystem      string
	AccountName       string
	AccountID         string
	ParentAccountName string
	AccountType       AccountType
	PeriodStart       string
	PeriodEnd         string
	Amount            string
	Currency          string
	// SourceRecordID identifies the source row or period record, for operators.
	SourceRecordID string
}

// CanonicalTransaction is a validated, normalized transaction ready to load.
type CanonicalTransaction struct {
	AccountKey        string
	AccountID         string
	AccountName       string
	AccountType       AccountType
	AccountCategory   string
	ParentAccountName string
	SourceSystem      string
	PeriodStart       civil.Date
	PeriodEnd         civil.Date
	Amount            decimal.Decimal
	Currency          string
	// CurrencyDefaulted is set when Currency was not supplied by the source.
	CurrencyDefaulted bool
	SourceRecordID    string
	Period
}
