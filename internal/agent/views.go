package agent

import (
	"strings"
)

// ViewInfo documents one of the aggregate views for the query writer.
type ViewInfo struct {
	Name        string
	Description string
	UseCases    []string
	KeyFields   []string
}

// WideView is the denormalized fact view every question can fall back to.
const WideView = "v_ai_financial_data"

// Views lists the aggregate views in the order they are offered to the model.
var Views = []ViewInfo{
	{
		Name:        WideView,
		Description: "One row per fact with account, period and source attributes joined in",
		UseCases: []string{
			"What was revenue for Software Licenses in March 2024?",
			"List all expense lines for Q2 2023",
		},
		KeyFields: []string{"account_name", "account_type", "account_category", "amount", "year_quarter", "year_month"},
	},
	{
		Name:        "v_monthly_summary",
		Description: "Monthly aggregated metrics by account type",
		UseCases: []string{
			"What was total revenue in January 2024?",
			"Show me expenses by month",
		},
		KeyFields: []string{"year_month", "account_type", "total_amount", "account_count"},
	},
	{
		Name:        "v_category_performance",
		Description: "Performance metrics grouped by account category",
		UseCases: []string{
			"Which expense category had highest spending?",
			"Show me marketing expenses by quarter",
		},
		KeyFields: []string{"account_category", "year_quarter", "total_amount", "transaction_count"},
	},
	{
		Name:        "v_profit_loss",
		Description: "Profit and loss by quarter with gross and net margins",
		UseCases: []string{
			"What was profit in Q1 2024?",
			"Show me profit margins by quarter",
		},
		KeyFields: []string{"year_quarter", "revenue", "cogs", "expenses", "net_profit", "profit_margin_percent"},
	},
	{
		Name:        "v_yoy_growth",
		Description: "Year-over-year growth by category",
		UseCases: []string{
			"Which category grew most year-over-year?",
			"What's the growth rate for revenue?",
		},
		KeyFields: []string{"account_category", "current_year", "growth_percent", "absolute_growth"},
	},
	{
		Name:        "v_top_accounts_yearly",
		Description: "Accounts ranked by amount within type and year",
		UseCases: []string{
			"What are the top 10 expenses in 2024?",
			"Show me highest revenue accounts this year",
		},
		KeyFields: []string{"account_name", "year", "total_amount", "rank_in_type_year"},
	},
	{
		Name:        "v_top_accounts_quarterly",
		Description: "Accounts ranked by amount within type and quarter",
		UseCases: []string{
			"What are the top 5 revenue accounts in Q1 2024?",
			"Show me highest expenses in Q3",
		},
		KeyFields: []string{"account_name", "year_quarter", "total_amount", "rank_in_quarter"},
	},
	{
		Name:        "v_trend_analysis",
		Description: "Month-over-month totals by account type with change percentages",
		UseCases: []string{
			"Show me revenue trends for 2024",
			"How did expenses change month to month?",
		},
		KeyFields: []string{"year_month", "month_total", "mom_change", "mom_change_percent"},
	},
}

// ViewByName returns the documentation of a view.
func ViewByName(name string) (ViewInfo, bool) {
	for _, v := range Views {
		if v.Name == name {
			return v, true
		}
	}
	return ViewInfo{}, false
}

type route struct {
	view    string
	words   []string
	phrases []string
}

var routes = []route{
	{view: "v_profit_loss", words: []string{"profit", "profits", "loss", "margin", "margins", "p&l", "pnl"}, phrases: []string{"net income", "bottom line"}},
	{view: "v_trend_analysis", words: []string{"trend", "trends", "mom"}, phrases: []string{"month over month", "month-over-month", "month to month", "monthly change"}},
	{view: "v_yoy_growth", words: []string{"yoy", "growth", "grew"}, phrases: []string{"year over year", "year-over-year", "compare years"}},
	{view: "v_category_performance", words: []string{"category", "categories"}},
	{view: "v_monthly_summary", words: []string{"monthly", "month", "months"}},
}

var rankingWords = []string{"top", "highest", "largest", "biggest", "most", "rank", "ranking"}

var quarterWords = []string{"quarter", "quarterly", "quarters", "q1", "q2", "q3", "q4"}

// RouteRelations picks the relations to describe for a question. The wide
// fact view always comes first; keyword matches add aggregate views. Names
// missing from available are dropped, and when nothing known is available
// every view (or, without views, every relation) is offered instead.
func RouteRelations(question string, available []Relation) []string {
	have := make(map[string]bool, len(available))
	for _, r := range available {
		have[r.Name] = true
	}

	lower := strings.ToLower(question)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r == '&' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	}) {
		words[w] = true
	}
	anyWord := func(list []string) bool {
		for _, w := range list {
			if words[w] {
				return true
			}
		}
		return false
	}
	anyPhrase := func(list []string) bool {
		for _, p := range list {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}

	picked := []string{WideView}
	for _, rt := range routes {
		if anyWord(rt.words) || anyPhrase(rt.phrases) {
			picked = append(picked, rt.view)
		}
	}
	if anyWord(rankingWords) {
		if anyWord(quarterWords) {
			picked = append(picked, "v_top_accounts_quarterly")
		} else {
			picked = append(picked, "v_top_accounts_yearly")
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, name := range picked {
		if have[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, r := range available {
		if r.Kind == KindView {
			out = append(out, r.Name)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, r := range available {
		out = append(out, r.Name)
	}
	return out
}
