package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/finance-analyst/internal/domain"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Rootfi extracts period-oriented reports: a list of period records, each
// holding per-section trees of line items.
type Rootfi struct{}

// NewRootfi returns the period-oriented extractor.
func NewRootfi() *Rootfi {
	return &Rootfi{}
}

// Source implements Extractor.
func (x *Rootfi) Source() string { return SourceRootfi }

type rfItem struct {
	ID          flexString
	Name        flexString
	Value       flexString
	AccountID   flexString
	AccountType string
	Type        string
	LineItems   []rfItem
	// problem describes a part of the node that could not be read.
	problem string
}

// UnmarshalJSON never fails: a malformed node is marked and reported on its
// own when the tree is walked, so its siblings still load.
func (it *rfItem) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID          flexString      `json:"id"`
		Name        flexString      `json:"name"`
		Value       flexString      `json:"value"`
		AccountID   flexString      `json:"account_id"`
		AccountType flexString      `json:"account_type"`
		Type        flexString      `json:"type"`
		LineItems   json.RawMessage `json:"line_items"`
	}
	*it = rfItem{}
	if err := json.Unmarshal(b, &raw); err != nil {
		it.problem = "line item is not an object"
		return nil
	}
	*it = rfItem{
		ID:          raw.ID,
		Name:        raw.Name,
		Value:       raw.Value,
		AccountID:   raw.AccountID,
		AccountType: raw.AccountType.Value,
		Type:        raw.Type.Value,
	}
	if !isNull(raw.LineItems) {
		if err := json.Unmarshal(raw.LineItems, &it.LineItems); err != nil {
			it.problem = "line_items is not a list"
		}
	}
	return nil
}

// rfSectionItems is one section array. A section that is not a list is
// recorded instead of failing the whole period.
type rfSectionItems struct {
	items   []rfItem
	problem string
}

func (s *rfSectionItems) UnmarshalJSON(b []byte) error {
	*s = rfSectionItems{}
	if isNull(b) {
		return nil
	}
	if err := json.Unmarshal(b, &s.items); err != nil {
		s.problem = "section is not a list of line items"
	}
	return nil
}

type rfPeriod struct {
	RootfiID             flexString     `json:"rootfi_id"`
	PeriodStart          flexString     `json:"period_start"`
	PeriodEnd            flexString     `json:"period_end"`
	CurrencyID           flexString     `json:"currency_id"`
	Revenue              rfSectionItems `json:"revenue"`
	CostOfGoodsSold      rfSectionItems `json:"cost_of_goods_sold"`
	OperatingExpenses    rfSectionItems `json:"operating_expenses"`
	NonOperatingRevenue  rfSectionItems `json:"non_operating_revenue"`
	NonOperatingExpenses rfSectionItems `json:"non_operating_expenses"`
}

func (p *rfPeriod) sections() []rfSection {
	return []rfSection{
		{domain.AccountTypeRevenue, p.Revenue},
		{domain.AccountTypeCOGS, p.CostOfGoodsSold},
		{domain.AccountTypeExpense, p.OperatingExpenses},
		{domain.AccountTypeRevenue, p.NonOperatingRevenue},
		{domain.AccountTypeExpense, p.NonOperatingExpenses},
	}
}

// rfSection is a synthetic root over one section array. It declares the
// section's type but has no label, so top-level items get no parent.
type rfSection struct {
	accountType domain.AccountType
	rfSectionItems
}

func (s rfSection) label() string { return "" }

func (s rfSection) declaredType() (domain.AccountType, bool) { return s.accountType, true }

func (s rfSection) children() []treeNode { return rfChildren(s.items) }

type rfNode struct{ item *rfItem }

func (n rfNode) label() string { return n.item.Name.Value }

func (n rfNode) declaredType() (domain.AccountType, bool) {
	for _, s := range []string{n.item.AccountType, n.item.Type} {
		if t, ok := domain.ParseAccountType(s); ok {
			return t, true
		}
	}
	return "", false
}

func (n rfNode) children() []treeNode { return rfChildren(n.item.LineItems) }

func rfChildren(items []rfItem) []treeNode {
	kids := make([]treeNode, 0, len(items))
	for i := range items {
		kids = append(kids, rfNode{item: &items[i]})
	}
	return kids
}

type rfRun struct {
	ctx     context.Context
	log     zerolog.Logger
	emit    EmitFunc
	current *rfPeriod
	stats   Stats
}

// Extract implements Extractor. Only leaf line items are emitted: a node with
// children is the roll-up of them.
func (x *Rootfi) Extract(ctx context.Context, r io.Reader, emit EmitFunc) (Stats, error) {
	run := &rfRun{
		ctx:  ctx,
		log:  logger.FromContext(ctx).With().Str("source", SourceRootfi).Logger(),
		emit: emit,
	}

	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return run.stats, fmt.Errorf("Rootfi.Extract: %w", err)
	}

	sawData := false
	periods := 0
	for dec.More() {
		key, err := nextKey(dec)
		if err != nil {
			return run.stats, fmt.Errorf("Rootfi.Extract: %w", err)
		}
		if key != "data" {
			if err := skipValue(dec); err != nil {
				return run.stats, fmt.Errorf("Rootfi.Extract: %w", err)
			}
			continue
		}

		isArray, err := peekDelim(dec, '[')
		if err != nil {
			return run.stats, fmt.Errorf("Rootfi.Extract: %w", err)
		}
		if !isArray {
			return run.stats, fmt.Errorf("Rootfi.Extract: %w: data is not a list of periods", ErrUnsupportedShape)
		}
		sawData = true

		for dec.More() {
			if err := ctx.Err(); err != nil {
				return run.stats, err
			}
			var p rfPeriod
			fatal, malformed := decodeRecord(dec, &p)
			if fatal != nil {
				return run.stats, fmt.Errorf("Rootfi.Extract: %w", fatal)
			}
			if malformed != nil {
				run.fail("", malformed.Error())
				continue
			}
			periods++
			if err := run.period(&p); err != nil {
				return run.stats, err
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return run.stats, fmt.Errorf("Rootfi.Extract: %w", err)
		}
	}
	if !sawData {
		return run.stats, fmt.Errorf("Rootfi.Extract: %w: missing data", ErrUnsupportedShape)
	}

	run.log.Info().
		Int("periods", periods).
		Int("emitted", run.stats.Emitted).
		Int("skipped", run.stats.Skipped).
		Int("failed", run.stats.Failed).
		Msg("Extraction finished")
	return run.stats, nil
}

func (run *rfRun) period(p *rfPeriod) error {
	if strings.TrimSpace(p.PeriodStart.Value) == "" || strings.TrimSpace(p.PeriodEnd.Value) == "" {
		run.fail(p.RootfiID.Value, "period record has no start or end")
		return nil
	}
	run.current = p
	for _, section := range p.sections() {
		if section.problem != "" {
			run.fail(p.RootfiID.Value, section.problem)
			continue
		}
		if err := walk(section, scope{}, run.leaf); err != nil {
			return err
		}
	}
	return nil
}

func (run *rfRun) leaf(n treeNode, sc scope) error {
	node, ok := n.(rfNode)
	if !ok {
		// Empty section.
		return nil
	}
	item := node.item
	name := item.Name.Value
	switch {
	case item.problem != "":
		run.fail(name, item.problem)
		return nil
	case item.Name.malformed():
		run.fail(item.Name.Bad, "name is not text")
		return nil
	case item.Value.malformed():
		run.fail(name, fmt.Sprintf("value %s is not a number", item.Value.Bad))
		return nil
	case !item.Value.Valid:
		run.stats.Skipped++
		return nil
	}
	text := strings.TrimSpace(item.Value.Value)
	if _, err := decimal.NewFromString(text); err != nil {
		run.fail(name, fmt.Sprintf("value %q is not numeric", text))
		return nil
	}

	p := run.current
	rec := domain.RawTransaction{
		SourceSystem:      SourceRootfi,
		AccountName:       name,
		AccountID:         item.AccountID.Value,
		ParentAccountName: sc.parent,
		AccountType:       sc.accountType,
		PeriodStart:       p.PeriodStart.Value,
		PeriodEnd:         p.PeriodEnd.Value,
		Amount:            text,
		Currency:          p.CurrencyID.Value,
		SourceRecordID:    p.RootfiID.Value + ":" + firstNonEmpty(item.ID.Value, item.AccountID.Value, name),
	}
	if err := run.emit(rec); err != nil {
		return err
	}
	run.stats.Emitted++
	return nil
}

func (run *rfRun) fail(name, reason string) {
	run.stats.Failed++
	run.log.Warn().Str("item", name).Str("reason", reason).Msg("Skipping malformed line item")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
