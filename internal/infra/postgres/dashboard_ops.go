package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Ranking periods for the top-accounts views.
const (
	PeriodYearly    = "yearly"
	PeriodQuarterly = "quarterly"
)

const defaultTopLimit = 10

// MonthlySummaryWithDB reads v_monthly_summary in calendar order.
func MonthlySummaryWithDB(ctx context.Context, db sqlx.QueryerContext, f DashboardFilter) ([]MonthlySummaryRow, error) {
	var rows []MonthlySummaryRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT year, quarter, month, year_month, year_quarter, month_name, account_type,
		       account_count, total_amount, avg_amount, min_amount, max_amount
		FROM v_monthly_summary
		WHERE ($1::int = 0 OR year = $1::int)
		  AND ($2::text = '' OR account_type = $2::text)
		ORDER BY year, month, account_type
	`, f.Year, f.AccountType); err != nil {
		return nil, fmt.Errorf("MonthlySummary: querying: %w", err)
	}
	return rows, nil
}

// CategoryPerformanceWithDB reads v_category_performance, largest totals
// first within each quarter.
func CategoryPerformanceWithDB(ctx context.Context, db sqlx.QueryerContext, f DashboardFilter) ([]CategoryPerformanceRow, error) {
	var rows []CategoryPerformanceRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT account_category, account_type, year, quarter, year_quarter,
		       account_count, transaction_count, total_amount, avg_amount, min_amount, max_amount
		FROM v_category_performance
		WHERE ($1::int = 0 OR year = $1::int)
		  AND ($2::text = '' OR account_type = $2::text)
		ORDER BY year_quarter, total_amount DESC
	`, f.Year, f.AccountType); err != nil {
		return nil, fmt.Errorf("CategoryPerformance: querying: %w", err)
	}
	return rows, nil
}

// ProfitLossWithDB reads v_profit_loss by quarter.
func ProfitLossWithDB(ctx context.Context, db sqlx.QueryerContext, year int) ([]ProfitLossRow, error) {
	var rows []ProfitLossRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT year, quarter, year_quarter, revenue, cogs, expenses, gross_profit, net_profit,
		       gross_margin_percent, profit_margin_percent
		FROM v_profit_loss
		WHERE ($1::int = 0 OR year = $1::int)
		ORDER BY year, quarter
	`, year); err != nil {
		return nil, fmt.Errorf("ProfitLoss: querying: %w", err)
	}
	return rows, nil
}

// YoYGrowthWithDB reads v_yoy_growth, fastest growing first.
func YoYGrowthWithDB(ctx context.Context, db sqlx.QueryerContext, year int) ([]YoYGrowthRow, error) {
	var rows []YoYGrowthRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT account_category, account_type, current_year, current_amount, previous_amount,
		       absolute_growth, growth_percent
		FROM v_yoy_growth
		WHERE ($1::int = 0 OR current_year = $1::int)
		ORDER BY current_year, growth_percent DESC NULLS LAST
	`, year); err != nil {
		return nil, fmt.Errorf("YoYGrowth: querying: %w", err)
	}
	return rows, nil
}

// TopAccountsWithDB reads the yearly or quarterly ranking view and keeps the
// first f.Limit ranks of each partition.
func TopAccountsWithDB(ctx context.Context, db sqlx.QueryerContext, period string, f DashboardFilter) ([]TopAccountRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultTopLimit
	}

	var query string
	switch period {
	case PeriodYearly, "":
		query = `
		SELECT account_name, account_type, account_category, year,
		       0 AS quarter, '' AS year_quarter,
		       transaction_count, total_amount, avg_amount, rank_in_type_year AS rank
		FROM v_top_accounts_yearly
		WHERE ($1::int = 0 OR year = $1::int)
		  AND ($2::text = '' OR account_type = $2::text)
		  AND rank_in_type_year <= $3
		ORDER BY year, account_type, rank_in_type_year`
	case PeriodQuarterly:
		query = `
		SELECT account_name, account_type, account_category, year, quarter, year_quarter,
		       transaction_count, total_amount, avg_amount, rank_in_quarter AS rank
		FROM v_top_accounts_quarterly
		WHERE ($1::int = 0 OR year = $1::int)
		  AND ($2::text = '' OR account_type = $2::text)
		  AND rank_in_quarter <= $3
		ORDER BY year_quarter, account_type, rank_in_quarter`
	default:
		return nil, fmt.Errorf("TopAccounts: unknown period %q", period)
	}

	var rows []TopAccountRow
	if err := sqlx.SelectContext(ctx, db, &rows, query, f.Year, f.AccountType, limit); err != nil {
		return nil, fmt.Errorf("TopAccounts: querying: %w", err)
	}
	return rows, nil
}

// TrendAnalysisWithDB reads v_trend_analysis in calendar order.
func TrendAnalysisWithDB(ctx context.Context, db sqlx.QueryerContext, f DashboardFilter) ([]TrendRow, error) {
	var rows []TrendRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT account_type, year, month, year_month, month_total, prev_month_total,
		       mom_change, mom_change_percent
		FROM v_trend_analysis
		WHERE ($1::int = 0 OR year = $1::int)
		  AND ($2::text = '' OR account_type = $2::text)
		ORDER BY account_type, year, month
	`, f.Year, f.AccountType); err != nil {
		return nil, fmt.Errorf("TrendAnalysis: querying: %w", err)
	}
	return rows, nil
}

// OverviewWithDB returns the totals of the latest year that has facts.
// It returns ErrNotFound on an empty warehouse.
func OverviewWithDB(ctx context.Context, db sqlx.QueryerContext) (*OverviewRow, error) {
	var row OverviewRow
	err := sqlx.GetContext(ctx, db, &row, `
		SELECT
			f.year,
			COALESCE(SUM(CASE WHEN a.account_type = 'revenue' THEN f.amount END), 0) AS revenue,
			COALESCE(SUM(CASE WHEN a.account_type = 'cogs' THEN f.amount END), 0)    AS cogs,
			COALESCE(SUM(CASE WHEN a.account_type = 'expense' THEN f.amount END), 0) AS expenses,
			COALESCE(SUM(CASE WHEN a.account_type = 'revenue' THEN f.amount ELSE -f.amount END), 0) AS net_profit,
			COUNT(DISTINCT f.account_key) AS account_count,
			COUNT(*)                      AS fact_count
		FROM fact_financials f
		JOIN dim_account a ON f.account_key = a.account_key
		WHERE f.year = (SELECT MAX(year) FROM fact_financials)
		GROUP BY f.year
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Overview: querying: %w", err)
	}
	return &row, nil
}
