package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/dvloznov/finance-analyst/internal/loader"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/dvloznov/finance-analyst/internal/transform"
)

var failureHeader = []string{
	"run_id", "source", "stage", "reason", "account_name", "account_type",
	"period_start", "period_end", "amount", "source_record_id",
}

// failureLog appends filtered and failed records of one run to a CSV file
// created on first use. An empty dir disables it. It is written from both the
// source and the load goroutine.
type failureLog struct {
	dir string

	mu       sync.Mutex
	file     *os.File
	w        *csv.Writer
	filename string
	broken   bool
}

func newFailureLog(dir string) *failureLog {
	return &failureLog{dir: dir}
}

func (f *failureLog) filtered(ctx context.Context, run *SourceRun, raw domain.RawTransaction, fe *transform.FilterError) {
	f.write(ctx, run, []string{
		run.RunID, raw.SourceSystem, "transform", string(fe.Reason), raw.AccountName, string(raw.AccountType),
		raw.PeriodStart, raw.PeriodEnd, raw.Amount, raw.SourceRecordID,
	})
}

func (f *failureLog) loadFailed(ctx context.Context, run *SourceRun, berr *loader.BatchError) {
	reason := berr.Err.Error()
	for _, tx := range berr.Records {
		f.write(ctx, run, []string{
			run.RunID, tx.SourceSystem, "load", reason, tx.AccountName, string(tx.AccountType),
			tx.PeriodStart.String(), tx.PeriodEnd.String(), tx.Amount.String(), tx.SourceRecordID,
		})
	}
}

func (f *failureLog) write(ctx context.Context, run *SourceRun, record []string) {
	if f.dir == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken {
		return
	}
	if f.w == nil {
		if err := f.open(run); err != nil {
			f.broken = true
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Failed-records file disabled")
			return
		}
	}
	if err := f.w.Write(record); err != nil {
		f.broken = true
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("file", f.filename).Msg("Failed-records file disabled")
	}
}

func (f *failureLog) open(run *SourceRun) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", f.dir, err)
	}
	name := filepath.Join(f.dir, fmt.Sprintf("%s_%s.csv", run.Source, run.RunID))
	file, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	f.file = file
	f.filename = name
	f.w = csv.NewWriter(file)
	return f.w.Write(failureHeader)
}

func (f *failureLog) path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filename
}

func (f *failureLog) close(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return
	}
	f.w.Flush()
	if err := f.w.Error(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("file", f.filename).Msg("Flushing failed-records file")
	}
	if err := f.file.Close(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("file", f.filename).Msg("Closing failed-records file")
	}
	f.file = nil
}
