// Package transform normalizes raw source records into canonical transactions.
package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/shopspring/decimal"
)

// Reason says why a record was filtered.
type Reason string

const (
	ReasonZeroAmount     Reason = "zero_amount"
	ReasonInvalidAmount  Reason = "invalid_amount"
	ReasonEmptyName      Reason = "empty_account_name"
	ReasonUnknownType    Reason = "unknown_account_type"
	ReasonInvalidDate    Reason = "invalid_date"
	ReasonDateOutOfRange Reason = "date_out_of_range"
)

// FilterError is returned for records that fail a validation gate.
type FilterError struct {
	Reason Reason
	Detail string
}

func (e *FilterError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Options configure a Transformer.
type Options struct {
	DateRange       domain.DateRange
	DefaultCurrency string
	Categories      *CategoryTable
}

// Stats tallies the outcome of every Transform call.
type Stats struct {
	Accepted          int
	Filtered          map[Reason]int
	CurrencyDefaulted int
}

// FilteredTotal sums the filtered counts over all reasons.
func (s Stats) FilteredTotal() int {
	n := 0
	for _, c := range s.Filtered {
		n += c
	}
	return n
}

// Transformer applies the validation gates in a fixed order. It keeps
// counters, so each source pipeline owns its own instance.
type Transformer struct {
	opts  Options
	stats Stats
}

// New creates a Transformer. A nil category table falls back to the embedded one.
func New(opts Options) *Transformer {
	if opts.Categories == nil {
		opts.Categories = DefaultCategories()
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	return &Transformer{
		opts:  opts,
		stats: Stats{Filtered: make(map[Reason]int)},
	}
}

// Stats returns a copy of the counters.
func (t *Transformer) Stats() Stats {
	out := Stats{
		Accepted:          t.stats.Accepted,
		CurrencyDefaulted: t.stats.CurrencyDefaulted,
		Filtered:          make(map[Reason]int, len(t.stats.Filtered)),
	}
	for k, v := range t.stats.Filtered {
		out.Filtered[k] = v
	}
	return out
}

// Transform maps one raw record to a canonical transaction. Filtered records
// return a *FilterError, are logged with their reason and are counted.
func (t *Transformer) Transform(ctx context.Context, raw domain.RawTransaction) (domain.CanonicalTransaction, error) {
	ct, err := t.transform(ctx, raw)
	if err != nil {
		fe := err.(*FilterError)
		t.stats.Filtered[fe.Reason]++
		log := logger.FromContext(ctx)
		log.Warn().
			Str("source", raw.SourceSystem).
			Str("account", raw.AccountName).
			Str("period_start", raw.PeriodStart).
			Str("reason", string(fe.Reason)).
			Str("detail", fe.Detail).
			Msg("Record filtered")
		return domain.CanonicalTransaction{}, err
	}
	t.stats.Accepted++
	return ct, nil
}

func (t *Transformer) transform(ctx context.Context, raw domain.RawTransaction) (domain.CanonicalTransaction, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw.Amount))
	if err != nil {
		return domain.CanonicalTransaction{}, &FilterError{Reason: ReasonInvalidAmount, Detail: raw.Amount}
	}
	if amount.IsZero() {
		return domain.CanonicalTransaction{}, &FilterError{Reason: ReasonZeroAmount}
	}

	name := strings.TrimSpace(raw.AccountName)
	if name == "" {
		return domain.CanonicalTransaction{}, &FilterError{Reason: ReasonEmptyName}
	}
	if _, ok := domain.ParseAccountType(string(raw.AccountType)); !ok {
		return domain.CanonicalTransaction{}, &FilterError{Reason: ReasonUnknownType, Detail: string(raw.AccountType)}
	}

	start, err := ParseDate(raw.PeriodStart)
	if err != nil {
		return domain.CanonicalTransaction{}, &FilterError{Reason: ReasonInvalidDate, Detail: err.Error()}
	}
	end := start
	if strings.TrimSpace(raw.PeriodEnd) != "" {
		if end, err = ParseDate(raw.PeriodEnd); err != nil {
			return domain.CanonicalTransaction{}, &FilterError{Reason: ReasonInvalidDate, Detail: err.Error()}
		}
	}

	if !t.opts.DateRange.Contains(start) || !t.opts.DateRange.Contains(end) {
		return domain.CanonicalTransaction{}, &FilterError{
			Reason: ReasonDateOutOfRange,
			Detail: fmt.Sprintf("%s..%s outside %s..%s", start, end, t.opts.DateRange.Start, t.opts.DateRange.End),
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	defaulted := currency == ""
	if defaulted {
		currency = t.opts.DefaultCurrency
		t.stats.CurrencyDefaulted++
		log := logger.FromContext(ctx)
		log.Debug().
			Str("source", raw.SourceSystem).
			Str("account", name).
			Str("currency", currency).
			Bool("assumption", true).
			Msg("Currency not supplied, default applied")
	}

	return domain.CanonicalTransaction{
		AccountKey:        AccountKey(raw.SourceSystem, raw.AccountType, name),
		AccountID:         raw.AccountID,
		AccountName:       name,
		AccountType:       raw.AccountType,
		AccountCategory:   t.opts.Categories.Resolve(raw.ParentAccountName, name),
		ParentAccountName: strings.TrimSpace(raw.ParentAccountName),
		SourceSystem:      raw.SourceSystem,
		PeriodStart:       start,
		PeriodEnd:         end,
		Amount:            amount,
		Currency:          currency,
		CurrencyDefaulted: defaulted,
		SourceRecordID:    raw.SourceRecordID,
		Period:            domain.PeriodOf(start),
	}, nil
}

// AccountKey is the business id of an account: lowercase hex SHA-256 of
// "source:type:name", with each part trimmed and lowercased.
func AccountKey(source string, accountType domain.AccountType, name string) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	sum := sha256.Sum256([]byte(norm(source) + ":" + norm(string(accountType)) + ":" + norm(name)))
	return hex.EncodeToString(sum[:])
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseDate accepts a calendar date ("2024-01-31") or a timestamp with an
// optional offset and returns the calendar day the timestamp names in its own
// offset.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}
	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(ts), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognized date %q", s)
}
