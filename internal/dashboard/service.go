// Package dashboard serves the canned aggregate reads behind the dashboard.
// Every accessor reads one view directly; none of them involve the agent.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/logger"
)

const (
	minYear         = 1900
	maxYear         = 2100
	maxTopLimit     = 100
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// ErrInvalidFilter is returned for a filter value the views cannot serve.
var ErrInvalidFilter = errors.New("invalid dashboard filter")

// ErrNotFound is returned when there is nothing to report.
var ErrNotFound = errors.New("not found")

// Reader is the read side of the store the dashboard uses.
type Reader interface {
	MonthlySummary(ctx context.Context, f postgres.DashboardFilter) ([]postgres.MonthlySummaryRow, error)
	CategoryPerformance(ctx context.Context, f postgres.DashboardFilter) ([]postgres.CategoryPerformanceRow, error)
	ProfitLoss(ctx context.Context, year int) ([]postgres.ProfitLossRow, error)
	YoYGrowth(ctx context.Context, year int) ([]postgres.YoYGrowthRow, error)
	TopAccounts(ctx context.Context, period string, f postgres.DashboardFilter) ([]postgres.TopAccountRow, error)
	TrendAnalysis(ctx context.Context, f postgres.DashboardFilter) ([]postgres.TrendRow, error)
	Overview(ctx context.Context) (*postgres.OverviewRow, error)
	ListRuns(ctx context.Context, sourceSystem string, limit int) ([]*postgres.RunRow, error)
	GetRun(ctx context.Context, runID string) (*postgres.RunRow, error)
}

// Filter is the caller-facing filter. AccountType accepts the same spellings
// as the source systems ("Income", "Expenses", ...).
type Filter struct {
	Year        int
	AccountType string
	Period      string
	Limit       int
}

// Run is a pipeline run as shown on the dashboard.
type Run struct {
	RunID            string     `json:"run_id"`
	SourceSystem     string     `json:"source_system"`
	Status           string     `json:"status"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsLoaded    int        `json:"records_loaded"`
	RecordsFiltered  int        `json:"records_filtered"`
	RecordsFailed    int        `json:"records_failed"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Service validates filters and reads the views.
type Service struct {
	reader Reader
}

// NewService creates a dashboard service.
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// normalize checks f and turns it into a store filter.
func normalize(f Filter) (postgres.DashboardFilter, error) {
	out := postgres.DashboardFilter{Year: f.Year, Limit: f.Limit}

	if f.Year != 0 && (f.Year < minYear || f.Year > maxYear) {
		return out, fmt.Errorf("%w: year %d out of range", ErrInvalidFilter, f.Year)
	}
	if f.AccountType != "" {
		t, ok := domain.ParseAccountType(f.AccountType)
		if !ok {
			return out, fmt.Errorf("%w: unknown account type %q", ErrInvalidFilter, f.AccountType)
		}
		out.AccountType = string(t)
	}
	if f.Limit < 0 {
		return out, fmt.Errorf("%w: negative limit", ErrInvalidFilter)
	}
	if f.Limit > maxTopLimit {
		out.Limit = maxTopLimit
	}
	return out, nil
}

// MonthlySummary reads v_monthly_summary.
func (s *Service) MonthlySummary(ctx context.Context, f Filter) ([]postgres.MonthlySummaryRow, error) {
	df, err := normalize(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.MonthlySummary(ctx, df)
	if err != nil {
		return nil, fmt.Errorf("MonthlySummary: %w", err)
	}
	return nonNil(rows), nil
}

// CategoryPerformance reads v_category_performance.
func (s *Service) CategoryPerformance(ctx context.Context, f Filter) ([]postgres.CategoryPerformanceRow, error) {
	df, err := normalize(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.CategoryPerformance(ctx, df)
	if err != nil {
		return nil, fmt.Errorf("CategoryPerformance: %w", err)
	}
	return nonNil(rows), nil
}

// ProfitLoss reads v_profit_loss, one row per quarter.
func (s *Service) ProfitLoss(ctx context.Context, f Filter) ([]postgres.ProfitLossRow, error) {
	df, err := normalize(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.ProfitLoss(ctx, df.Year)
	if err != nil {
		return nil, fmt.Errorf("ProfitLoss: %w", err)
	}
	return nonNil(rows), nil
}

// YoYGrowth reads v_yoy_growth.
func (s *Service) YoYGrowth(ctx context.Context, f Filter) ([]postgres.YoYGrowthRow, error) {
	df, err := normalize(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.YoYGrowth(ctx, df.Year)
	if err != nil {
		return nil, fmt.Errorf("YoYGrowth: %w", err)
	}
	return nonNil(rows), nil
}

// TopAccounts reads the yearly or quarterly ranking view. Period defaults to
// yearly.
func (s *Service) TopAccounts(ctx context.Context, f Filter) ([]postgres.TopAccountRow, error) {
	df, err := normalize(f)
	if err != nil {
		return nil, err
	}

	period := strings.ToLower(strings.TrimSpace(f.Period))
	switch period {
	case "":
		period = postgres.PeriodYearly
	case postgres.PeriodYearly, postgres.PeriodQuarterly:
	default:
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidFilter, f.Period)
	}

	rows, err := s.reader.TopAccounts(ctx, period, df)
	if err != nil {
		return nil, fmt.Errorf("TopAccounts: %w", err)
	}
	return nonNil(rows), nil
}

// TrendAnalysis reads v_trend_analysis.
func (s *Service) TrendAnalysis(ctx context.Context, f Filter) ([]postgres.TrendRow, error) {
	df, err := normalize(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.TrendAnalysis(ctx, df)
	if err != nil {
		return nil, fmt.Errorf("TrendAnalysis: %w", err)
	}
	return nonNil(rows), nil
}

// Overview returns the latest year's totals, or ErrNotFound before the first
// load.
func (s *Service) Overview(ctx context.Context) (*postgres.OverviewRow, error) {
	row, err := s.reader.Overview(ctx)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Overview: %w", err)
	}
	return row, nil
}

// Runs lists pipeline runs, newest first.
func (s *Service) Runs(ctx context.Context, sourceSystem string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	rows, err := s.reader.ListRuns(ctx, sourceSystem, limit)
	if err != nil {
		return nil, fmt.Errorf("Runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, toRun(r))
	}
	return runs, nil
}

// Run loads one pipeline run.
func (s *Service) Run(ctx context.Context, runID string) (*Run, error) {
	row, err := s.reader.GetRun(ctx, runID)
	if errors.Is(err, postgres.ErrNotFound) {
		log := logger.FromContext(ctx)
		log.Debug().Str("run_id", runID).Msg("Run: not found")
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	run := toRun(row)
	return &run, nil
}

func toRun(r *postgres.RunRow) Run {
	run := Run{
		RunID:            r.RunID,
		SourceSystem:     r.SourceSystem,
		Status:           r.Status,
		RecordsProcessed: r.RecordsProcessed,
		RecordsLoaded:    r.RecordsLoaded,
		RecordsFiltered:  r.RecordsFiltered,
		RecordsFailed:    r.RecordsFailed,
		ErrorMessage:     r.ErrorMessage.String,
		StartedAt:        r.StartedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		run.CompletedAt = &t
	}
	return run
}

// nonNil keeps empty results serializing as [] rather than null.
func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
