// Package loader writes canonical transactions into the star schema. It
// resolves dimension keys through run-scoped caches and inserts facts in
// atomic batches.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/dvloznov/finance-analyst/internal/extract"
	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/logger"
)

// ErrDateNotFound is returned when a transaction references a date that the
// pre-populated date dimension does not hold.
var ErrDateNotFound = errors.New("date not found in dim_date")

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 1000

// Store is the persistence the loader needs.
type Store interface {
	UpsertAccount(ctx context.Context, row *postgres.AccountRow) (int, error)
	UpsertSource(ctx context.Context, name, description string) (int, error)
	DateExists(ctx context.Context, dateKey int) (bool, error)
	InsertFacts(ctx context.Context, rows []postgres.FactRow) (int64, error)
}

// BatchError reports a batch that was dropped as a whole. Records holds the
// transactions that did not land.
type BatchError struct {
	Records []domain.CanonicalTransaction
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d records failed: %v", len(e.Records), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Stats tallies one load.
type Stats struct {
	Loaded        int
	Failed        int
	Batches       int
	FailedBatches int
}

// Loader loads the transactions of one pipeline run. Its caches are not
// safe for concurrent use: one goroutine feeds a Loader at a time.
type Loader struct {
	store     Store
	runID     string
	batchSize int

	accounts map[string]int
	sources  map[string]int
	dates    map[int]struct{}

	pending []domain.CanonicalTransaction
	rows    []postgres.FactRow
	stats   Stats
}

// New creates a loader for the run runID. An empty runID leaves run_id NULL
// on the fact rows.
func New(store Store, runID string, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{
		store:     store,
		runID:     runID,
		batchSize: batchSize,
		accounts:  make(map[string]int),
		sources:   make(map[string]int),
		dates:     make(map[int]struct{}),
	}
}

// Stats returns the counters so far.
func (l *Loader) Stats() Stats { return l.stats }

// Add resolves the keys of tx and buffers its fact row, flushing when the
// batch is full. A *BatchError means the current batch was dropped and the
// load can go on with the next record; any other error is fatal.
func (l *Loader) Add(ctx context.Context, tx domain.CanonicalTransaction) error {
	row, err := l.factRow(ctx, tx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.pending = append(l.pending, tx)
		return l.dropBatch(ctx, err)
	}

	l.pending = append(l.pending, tx)
	l.rows = append(l.rows, row)
	if len(l.rows) >= l.batchSize {
		return l.Flush(ctx)
	}
	return nil
}

// Flush inserts the buffered rows in one transaction.
func (l *Loader) Flush(ctx context.Context) error {
	if len(l.rows) == 0 {
		return nil
	}

	n, err := l.store.InsertFacts(ctx, l.rows)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.dropBatch(ctx, fmt.Errorf("Flush: inserting facts: %w", err))
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("run_id", l.runID).
		Int64("rows", n).
		Msg("Fact batch loaded")

	l.stats.Batches++
	l.stats.Loaded += len(l.rows)
	l.reset()
	return nil
}

func (l *Loader) dropBatch(ctx context.Context, cause error) error {
	berr := &BatchError{Records: l.pending, Err: cause}

	log := logger.FromContext(ctx)
	log.Error().
		Err(cause).
		Str("run_id", l.runID).
		Int("records", len(l.pending)).
		Msg("Fact batch failed")

	l.stats.Batches++
	l.stats.FailedBatches++
	l.stats.Failed += len(l.pending)
	l.pending = nil
	l.rows = l.rows[:0]
	return berr
}

func (l *Loader) reset() {
	l.pending = nil
	l.rows = l.rows[:0]
}

func (l *Loader) factRow(ctx context.Context, tx domain.CanonicalTransaction) (postgres.FactRow, error) {
	accountKey, err := l.accountKey(ctx, tx)
	if err != nil {
		return postgres.FactRow{}, err
	}
	sourceKey, err := l.sourceKey(ctx, tx.SourceSystem)
	if err != nil {
		return postgres.FactRow{}, err
	}
	startKey, err := l.dateKey(ctx, tx)
	if err != nil {
		return postgres.FactRow{}, err
	}
	endKey := domain.DateKey(tx.PeriodEnd)
	if endKey != startKey {
		if err := l.checkDate(ctx, endKey); err != nil {
			return postgres.FactRow{}, err
		}
	}

	// Calendar columns come from the same derivation as the dim_date row
	// of startKey.
	p := domain.PeriodOf(tx.PeriodStart)
	return postgres.FactRow{
		AccountKey:     accountKey,
		PeriodStartKey: startKey,
		PeriodEndKey:   endKey,
		SourceKey:      sourceKey,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Year:           p.Year,
		Quarter:        p.Quarter,
		Month:          p.Month,
		YearQuarter:    p.YearQuarter,
		YearMonth:      p.YearMonth,
		SourceRecordID: nullString(tx.SourceRecordID),
		RunID:          nullString(l.runID),
	}, nil
}

func (l *Loader) accountKey(ctx context.Context, tx domain.CanonicalTransaction) (int, error) {
	if key, ok := l.accounts[tx.AccountKey]; ok {
		return key, nil
	}

	key, err := l.store.UpsertAccount(ctx, &postgres.AccountRow{
		AccountID:         tx.AccountKey,
		AccountName:       tx.AccountName,
		AccountType:       string(tx.AccountType),
		AccountCategory:   tx.AccountCategory,
		ParentAccountName: nullString(tx.ParentAccountName),
		SourceSystem:      tx.SourceSystem,
		SourceAccountID:   nullString(tx.AccountID),
	})
	if err != nil {
		return 0, fmt.Errorf("accountKey: %w", err)
	}
	l.accounts[tx.AccountKey] = key
	return key, nil
}

func (l *Loader) sourceKey(ctx context.Context, name string) (int, error) {
	if key, ok := l.sources[name]; ok {
		return key, nil
	}

	key, err := l.store.UpsertSource(ctx, name, sourceDescriptions[name])
	if err != nil {
		return 0, fmt.Errorf("sourceKey: %w", err)
	}
	l.sources[name] = key
	return key, nil
}

func (l *Loader) dateKey(ctx context.Context, tx domain.CanonicalTransaction) (int, error) {
	key := domain.DateKey(tx.PeriodStart)
	if err := l.checkDate(ctx, key); err != nil {
		return 0, err
	}
	return key, nil
}

// checkDate looks key up in dim_date. Dates are never created here.
func (l *Loader) checkDate(ctx context.Context, key int) error {
	if _, ok := l.dates[key]; ok {
		return nil
	}

	ok, err := l.store.DateExists(ctx, key)
	if err != nil {
		return fmt.Errorf("checkDate: %w", err)
	}
	if !ok {
		return fmt.Errorf("date key %d: %w", key, ErrDateNotFound)
	}
	l.dates[key] = struct{}{}
	return nil
}

var sourceDescriptions = map[string]string{
	extract.SourceQuickBooks: "QuickBooks profit and loss report (column-oriented)",
	extract.SourceRootfi:     "Rootfi income statement (period-oriented)",
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
