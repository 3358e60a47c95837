package postgres

import "github.com/shopspring/decimal"

// DashboardFilter narrows the dashboard view reads. Zero values mean no
// filter.
type DashboardFilter struct {
	Year        int
	AccountType string
	Limit       int
}

// MonthlySummaryRow is one row of v_monthly_summary.
type MonthlySummaryRow struct {
	Year         int             `db:"year" json:"year"`
	Quarter      int             `db:"quarter" json:"quarter"`
	Month        int             `db:"month" json:"month"`
	YearMonth    string          `db:"year_month" json:"year_month"`
	YearQuarter  string          `db:"year_quarter" json:"year_quarter"`
	MonthName    string          `db:"month_name" json:"month_name"`
	AccountType  string          `db:"account_type" json:"account_type"`
	AccountCount int             `db:"account_count" json:"account_count"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	AvgAmount    decimal.Decimal `db:"avg_amount" json:"avg_amount"`
	MinAmount    decimal.Decimal `db:"min_amount" json:"min_amount"`
	MaxAmount    decimal.Decimal `db:"max_amount" json:"max_amount"`
}

// CategoryPerformanceRow is one row of v_category_performance.
type CategoryPerformanceRow struct {
	AccountCategory  string          `db:"account_category" json:"account_category"`
	AccountType      string          `db:"account_type" json:"account_type"`
	Year             int             `db:"year" json:"year"`
	Quarter          int             `db:"quarter" json:"quarter"`
	YearQuarter      string          `db:"year_quarter" json:"year_quarter"`
	AccountCount     int             `db:"account_count" json:"account_count"`
	TransactionCount int             `db:"transaction_count" json:"transaction_count"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	AvgAmount        decimal.Decimal `db:"avg_amount" json:"avg_amount"`
	MinAmount        decimal.Decimal `db:"min_amount" json:"min_amount"`
	MaxAmount        decimal.Decimal `db:"max_amount" json:"max_amount"`
}

// ProfitLossRow is one quarter of v_profit_loss. Margins are NULL when the
// quarter has no revenue.
type ProfitLossRow struct {
	Year                int                 `db:"year" json:"year"`
	Quarter             int                 `db:"quarter" json:"quarter"`
	YearQuarter         string              `db:"year_quarter" json:"year_quarter"`
	Revenue             decimal.Decimal     `db:"revenue" json:"revenue"`
	COGS                decimal.Decimal     `db:"cogs" json:"cogs"`
	Expenses            decimal.Decimal     `db:"expenses" json:"expenses"`
	GrossProfit         decimal.Decimal     `db:"gross_profit" json:"gross_profit"`
	NetProfit           decimal.Decimal     `db:"net_profit" json:"net_profit"`
	GrossMarginPercent  decimal.NullDecimal `db:"gross_margin_percent" json:"gross_margin_percent"`
	ProfitMarginPercent decimal.NullDecimal `db:"profit_margin_percent" json:"profit_margin_percent"`
}

// YoYGrowthRow is one row of v_yoy_growth.
type YoYGrowthRow struct {
	AccountCategory string              `db:"account_category" json:"account_category"`
	AccountType     string              `db:"account_type" json:"account_type"`
	CurrentYear     int                 `db:"current_year" json:"current_year"`
	CurrentAmount   decimal.Decimal     `db:"current_amount" json:"current_amount"`
	PreviousAmount  decimal.NullDecimal `db:"previous_amount" json:"previous_amount"`
	AbsoluteGrowth  decimal.Decimal     `db:"absolute_growth" json:"absolute_growth"`
	GrowthPercent   decimal.NullDecimal `db:"growth_percent" json:"growth_percent"`
}

// TopAccountRow is one row of v_top_accounts_yearly or
// v_top_accounts_quarterly. Quarter and YearQuarter are empty for the yearly
// ranking.
type TopAccountRow struct {
	AccountName      string          `db:"account_name" json:"account_name"`
	AccountType      string          `db:"account_type" json:"account_type"`
	AccountCategory  string          `db:"account_category" json:"account_category"`
	Year             int             `db:"year" json:"year"`
	Quarter          int             `db:"quarter" json:"quarter,omitempty"`
	YearQuarter      string          `db:"year_quarter" json:"year_quarter,omitempty"`
	TransactionCount int             `db:"transaction_count" json:"transaction_count"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	AvgAmount        decimal.Decimal `db:"avg_amount" json:"avg_amount"`
	Rank             int             `db:"rank" json:"rank"`
}

// TrendRow is one month of v_trend_analysis. The change columns are NULL for
// the first month of each account type.
type TrendRow struct {
	AccountType      string              `db:"account_type" json:"account_type"`
	Year             int                 `db:"year" json:"year"`
	Month            int                 `db:"month" json:"month"`
	YearMonth        string              `db:"year_month" json:"year_month"`
	MonthTotal       decimal.Decimal     `db:"month_total" json:"month_total"`
	PrevMonthTotal   decimal.NullDecimal `db:"prev_month_total" json:"prev_month_total"`
	MoMChange        decimal.NullDecimal `db:"mom_change" json:"mom_change"`
	MoMChangePercent decimal.NullDecimal `db:"mom_change_percent" json:"mom_change_percent"`
}

// OverviewRow is the headline totals of one year.
type OverviewRow struct {
	Year         int             `db:"year" json:"year"`
	Revenue      decimal.Decimal `db:"revenue" json:"revenue"`
	COGS         decimal.Decimal `db:"cogs" json:"cogs"`
	Expenses     decimal.Decimal `db:"expenses" json:"expenses"`
	NetProfit    decimal.Decimal `db:"net_profit" json:"net_profit"`
	AccountCount int             `db:"account_count" json:"account_count"`
	FactCount    int             `db:"fact_count" json:"fact_count"`
}
