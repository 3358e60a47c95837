package postgres

import (
	"context"

	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Repository holds a shared connection pool and exposes the *WithDB
// operations as methods.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps an open pool.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying pool.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// UpsertAccount delegates to UpsertAccountWithDB.
func (r *Repository) UpsertAccount(ctx context.Context, row *AccountRow) (int, error) {
	return UpsertAccountWithDB(ctx, r.db, row)
}

// FindAccountByID delegates to FindAccountByIDWithDB.
func (r *Repository) FindAccountByID(ctx context.Context, accountID string) (*AccountRow, error) {
	return FindAccountByIDWithDB(ctx, r.db, accountID)
}

// ListAccounts delegates to ListAccountsWithDB.
func (r *Repository) ListAccounts(ctx context.Context) ([]*AccountRow, error) {
	return ListAccountsWithDB(ctx, r.db)
}

// UpsertSource delegates to UpsertSourceWithDB.
func (r *Repository) UpsertSource(ctx context.Context, name, description string) (int, error) {
	return UpsertSourceWithDB(ctx, r.db, name, description)
}

// SeedDates delegates to SeedDatesWithDB.
func (r *Repository) SeedDates(ctx context.Context, dr domain.DateRange, batchSize int) (int64, error) {
	return SeedDatesWithDB(ctx, r.db, dr, batchSize)
}

// DateExists delegates to DateExistsWithDB.
func (r *Repository) DateExists(ctx context.Context, dateKey int) (bool, error) {
	return DateExistsWithDB(ctx, r.db, dateKey)
}

// DateCoverage delegates to DateCoverageWithDB.
func (r *Repository) DateCoverage(ctx context.Context, dr domain.DateRange) (int, error) {
	return DateCoverageWithDB(ctx, r.db, dr)
}

// InsertFacts delegates to InsertFactsWithDB.
func (r *Repository) InsertFacts(ctx context.Context, rows []FactRow) (int64, error) {
	return InsertFactsWithDB(ctx, r.db, rows)
}

// CountFacts delegates to CountFactsWithDB.
func (r *Repository) CountFacts(ctx context.Context, runID string) (int, error) {
	return CountFactsWithDB(ctx, r.db, runID)
}

// StartRun delegates to StartRunWithDB.
func (r *Repository) StartRun(ctx context.Context, sourceSystem string) (string, error) {
	return StartRunWithDB(ctx, r.db, sourceSystem)
}

// MarkRunSucceeded delegates to MarkRunSucceededWithDB.
func (r *Repository) MarkRunSucceeded(ctx context.Context, runID string, counts RunCounts) error {
	return MarkRunSucceededWithDB(ctx, r.db, runID, counts)
}

// MarkRunFailed delegates to MarkRunFailedWithDB.
func (r *Repository) MarkRunFailed(ctx context.Context, runID string, counts RunCounts, runErr error) {
	MarkRunFailedWithDB(ctx, r.db, runID, counts, runErr)
}

// ListRuns delegates to ListRunsWithDB.
func (r *Repository) ListRuns(ctx context.Context, sourceSystem string, limit int) ([]*RunRow, error) {
	return ListRunsWithDB(ctx, r.db, sourceSystem, limit)
}

// GetRun delegates to GetRunWithDB.
func (r *Repository) GetRun(ctx context.Context, runID string) (*RunRow, error) {
	return GetRunWithDB(ctx, r.db, runID)
}

// MonthlySummary delegates to MonthlySummaryWithDB.
func (r *Repository) MonthlySummary(ctx context.Context, f DashboardFilter) ([]MonthlySummaryRow, error) {
	return MonthlySummaryWithDB(ctx, r.db, f)
}

// CategoryPerformance delegates to CategoryPerformanceWithDB.
func (r *Repository) CategoryPerformance(ctx context.Context, f DashboardFilter) ([]CategoryPerformanceRow, error) {
	return CategoryPerformanceWithDB(ctx, r.db, f)
}

// ProfitLoss delegates to ProfitLossWithDB.
func (r *Repository) ProfitLoss(ctx context.Context, year int) ([]ProfitLossRow, error) {
	return ProfitLossWithDB(ctx, r.db, year)
}

// YoYGrowth delegates to YoYGrowthWithDB.
func (r *Repository) YoYGrowth(ctx context.Context, year int) ([]YoYGrowthRow, error) {
	return YoYGrowthWithDB(ctx, r.db, year)
}

// TopAccounts delegates to TopAccountsWithDB.
func (r *Repository) TopAccounts(ctx context.Context, period string, f DashboardFilter) ([]TopAccountRow, error) {
	return TopAccountsWithDB(ctx, r.db, period, f)
}

// TrendAnalysis delegates to TrendAnalysisWithDB.
func (r *Repository) TrendAnalysis(ctx context.Context, f DashboardFilter) ([]TrendRow, error) {
	return TrendAnalysisWithDB(ctx, r.db, f)
}

// Overview delegates to OverviewWithDB.
func (r *Repository) Overview(ctx context.Context) (*OverviewRow, error) {
	return OverviewWithDB(ctx, r.db)
}
