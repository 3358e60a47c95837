package extract

import (
	"bytes"
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

// QuickBooks extracts column-oriented profit and loss reports: a list of
// period columns and a tree of section/data rows carrying one cell per column.
type QuickBooks struct{}

// NewQuickBooks returns the column-oriented extractor.
func NewQuickBooks() *QuickBooks {
	return &QuickBooks{}
}

// Source implements Extractor.
func (q *QuickBooks) Source() string { return SourceQuickBooks }

type qbHeader struct {
	Currency    string `json:"Currency"`
	ReportName  string `json:"ReportName"`
	StartPeriod string `json:"StartPeriod"`
	EndPeriod   string `json:"EndPeriod"`
}

type qbColumns struct {
	Column []struct {
		ColTitle string `json:"ColTitle"`
		ColType  string `json:"ColType"`
		MetaData []struct {
			Name  string `json:"Name"`
			Value string `json:"Value"`
		} `json:"MetaData"`
	} `json:"Column"`
}

type qbCell struct {
	Value flexString `json:"value"`
	ID    flexString `json:"id"`
}

// UnmarshalJSON keeps a cell that is not an object in its column slot,
// marked bad, so the cells after it stay aligned with their columns.
func (c *qbCell) UnmarshalJSON(b []byte) error {
	var v struct {
		Value flexString `json:"value"`
		ID    flexString `json:"id"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		*c = qbCell{Value: flexString{Bad: string(b)}}
		return nil
	}
	*c = qbCell{Value: v.Value, ID: v.ID}
	return nil
}

type qbRow struct {
	Type    string
	Group   string
	Header  []qbCell
	ColData []qbCell
	Rows    []qbRow
	// problem describes a part of the row that could not be read. The row
	// is then reported on its own and its siblings are unaffected.
	problem string
}

// UnmarshalJSON never fails: structural problems are recorded on the row.
func (r *qbRow) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type    flexString      `json:"type"`
		Group   flexString      `json:"group"`
		Header  json.RawMessage `json:"Header"`
		ColData json.RawMessage `json:"ColData"`
		Rows    json.RawMessage `json:"Rows"`
	}
	*r = qbRow{}
	if err := json.Unmarshal(b, &raw); err != nil {
		r.problem = "row is not an object"
		return nil
	}
	r.Type, r.Group = raw.Type.Value, raw.Group.Value

	if !isNull(raw.Header) {
		var h struct {
			ColData []qbCell `json:"ColData"`
		}
		// An unreadable header only loses the label; the group still names the section.
		if json.Unmarshal(raw.Header, &h) == nil {
			r.Header = h.ColData
		}
	}
	if !isNull(raw.ColData) {
		if err := json.Unmarshal(raw.ColData, &r.ColData); err != nil {
			r.problem = "ColData is not a list of cells"
		}
	}
	if !isNull(raw.Rows) {
		var rows struct {
			Row []qbRow `json:"Row"`
		}
		if err := json.Unmarshal(raw.Rows, &rows); err != nil {
			r.problem = "Rows is not a list of rows"
		} else {
			r.Rows = rows.Row
		}
	}
	return nil
}

type periodColumn struct {
	index int
	title string
	start string
	end   string
}

type qbNode struct{ row *qbRow }

func (n qbNode) isSection() bool { return strings.EqualFold(n.row.Type, "Section") }

func (n qbNode) label() string {
	if h := n.row.Header; len(h) > 0 && h[0].Value.Value != "" {
		return h[0].Value.Value
	}
	return n.row.Group
}

func (n qbNode) declaredType() (domain.AccountType, bool) {
	if !n.isSection() {
		return "", false
	}
	return sectionType(n.row.Group, n.label())
}

func (n qbNode) children() []treeNode {
	kids := make([]treeNode, 0, len(n.row.Rows))
	for i := range n.row.Rows {
		kids = append(kids, qbNode{row: &n.row.Rows[i]})
	}
	return kids
}

// sectionType classifies a section by its group or label. Roll-up sections
// (gross profit, net income) declare nothing.
func sectionType(group, label string) (domain.AccountType, bool) {
	for _, s := range []string{group, label} {
		k := strings.ToLower(strings.ReplaceAll(s, " ", ""))
		switch {
		case k == "":
			continue
		case strings.HasPrefix(k, "net") || strings.HasPrefix(k, "grossprofit"):
			return "", false
		case strings.Contains(k, "costofgoodssold") || strings.Contains(k, "cogs") || strings.Contains(k, "costofsales"):
			return domain.AccountTypeCOGS, true
		case strings.Contains(k, "income") || strings.Contains(k, "revenue"):
			return domain.AccountTypeRevenue, true
		case strings.Contains(k, "expense"):
			return domain.AccountTypeExpense, true
		}
	}
	return "", false
}

// qbRun is the state of one Extract call.
type qbRun struct {
	ctx      context.Context
	log      zerolog.Logger
	emit     EmitFunc
	header   qbHeader
	columns  []periodColumn
	colsSeen bool
	rowsSeen bool
	deferred json.RawMessage
	stats    Stats
}

// Extract implements Extractor.
func (q *QuickBooks) Extract(ctx context.Context, r io.Reader, emit EmitFunc) (Stats, error) {
	run := &qbRun{
		ctx:  ctx,
		log:  logger.FromContext(ctx).With().Str("source", SourceQuickBooks).Logger(),
		emit: emit,
	}

	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return run.stats, fmt.Errorf("QuickBooks.Extract: %w", err)
	}
	if err := run.readReport(dec, true); err != nil {
		return run.stats, fmt.Errorf("QuickBooks.Extract: %w", err)
	}
	if !run.colsSeen || !run.rowsSeen {
		return run.stats, fmt.Errorf("QuickBooks.Extract: %w: report needs Columns and Rows", ErrUnsupportedShape)
	}
	if run.deferred != nil {
		if err := run.streamRows(json.NewDecoder(bytes.NewReader(run.deferred))); err != nil {
			return run.stats, fmt.Errorf("QuickBooks.Extract: %w", err)
		}
	}

	run.log.Info().
		Str("report", run.header.ReportName).
		Int("periods", len(run.columns)).
		Int("emitted", run.stats.Emitted).
		Int("skipped", run.stats.Skipped).
		Int("failed", run.stats.Failed).
		Msg("Extraction finished")
	return run.stats, nil
}

// readReport consumes the members of the report object and its closing brace.
// The report may sit directly at the top level or under "data".
func (run *qbRun) readReport(dec *json.Decoder, top bool) error {
	for dec.More() {
		key, err := nextKey(dec)
		if err != nil {
			return err
		}
		switch {
		case key == "data" && top:
			ok, err := peekDelim(dec, '{')
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: data is not a report object", ErrUnsupportedShape)
			}
			if err := run.readReport(dec, false); err != nil {
				return err
			}
		case key == "Header":
			if err := dec.Decode(&run.header); err != nil {
				return fmt.Errorf("decoding Header: %w", err)
			}
		case key == "Columns":
			var cols qbColumns
			if err := dec.Decode(&cols); err != nil {
				return fmt.Errorf("decoding Columns: %w", err)
			}
			if err := run.setColumns(cols); err != nil {
				return err
			}
		case key == "Rows":
			run.rowsSeen = true
			if !run.colsSeen {
				// Rows ahead of Columns: hold them until the periods are known.
				if err := dec.Decode(&run.deferred); err != nil {
					return fmt.Errorf("decoding Rows: %w", err)
				}
				continue
			}
			if err := run.streamRows(dec); err != nil {
				return err
			}
		default:
			if err := skipValue(dec); err != nil {
				return err
			}
		}
	}
	return expectDelim(dec, '}')
}

func (run *qbRun) setColumns(cols qbColumns) error {
	run.colsSeen = true
	for i, c := range cols.Column {
		if !strings.EqualFold(c.ColType, "Money") {
			continue
		}
		var start, end string
		for _, m := range c.MetaData {
			switch m.Name {
			case "StartDate":
				start = m.Value
			case "EndDate":
				end = m.Value
			}
		}
		// Total columns carry no period bounds.
		if start == "" || end == "" {
			continue
		}
		run.columns = append(run.columns, periodColumn{index: i, title: c.ColTitle, start: start, end: end})
	}
	if len(run.columns) == 0 {
		return fmt.Errorf("%w: no period columns", ErrUnsupportedShape)
	}
	return nil
}

// streamRows reads {"Row": [...]} one top-level row at a time.
func (run *qbRun) streamRows(dec *json.Decoder) error {
	ok, err := peekDelim(dec, '{')
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: Rows is not an object", ErrUnsupportedShape)
	}

	for dec.More() {
		key, err := nextKey(dec)
		if err != nil {
			return err
		}
		if key != "Row" {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}

		isArray, err := peekDelim(dec, '[')
		if err != nil {
			return err
		}
		if !isArray {
			continue
		}
		for dec.More() {
			if err := run.ctx.Err(); err != nil {
				return err
			}
			var row qbRow
			fatal, malformed := decodeRecord(dec, &row)
			if fatal != nil {
				return fatal
			}
			if malformed != nil {
				run.fail("", malformed.Error())
				continue
			}
			if err := walk(qbNode{row: &row}, scope{}, run.leaf); err != nil {
				return err
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func (run *qbRun) leaf(n treeNode, sc scope) error {
	node := n.(qbNode)
	row := node.row
	if row.problem != "" {
		run.fail(node.label(), row.problem)
		return nil
	}
	if node.isSection() {
		// A section without child rows only carries a summary.
		return nil
	}
	if len(row.ColData) == 0 {
		run.fail("", "data row has no cells")
		return nil
	}
	if row.ColData[0].Value.malformed() {
		run.fail(row.ColData[0].Value.Bad, "account name is not text")
		return nil
	}
	name := row.ColData[0].Value.Value
	if sc.accountType == "" {
		run.fail(name, "row is outside any typed section")
		return nil
	}

	for _, col := range run.columns {
		if col.index >= len(row.ColData) {
			run.stats.Skipped++
			continue
		}
		cell := row.ColData[col.index].Value
		if cell.malformed() {
			run.fail(name, fmt.Sprintf("column %q: amount %s is not a number", col.title, cell.Bad))
			continue
		}
		text := cleanAmount(cell.Value)
		if text == "" {
			run.stats.Skipped++
			continue
		}
		amount, err := decimal.NewFromString(text)
		if err != nil {
			run.fail(name, fmt.Sprintf("column %q: amount %q is not numeric", col.title, text))
			continue
		}
		if amount.IsZero() {
			run.stats.Skipped++
			continue
		}

		rec := domain.RawTransaction{
			SourceSystem:      SourceQuickBooks,
			AccountName:       name,
			AccountID:         row.ColData[0].ID.Value,
			ParentAccountName: sc.parent,
			AccountType:       sc.accountType,
			PeriodStart:       col.start,
			PeriodEnd:         col.end,
			Amount:            text,
			Currency:          run.header.Currency,
			SourceRecordID:    recordID(row.ColData[0].ID.Value, name, col.start),
		}
		if err := run.emit(rec); err != nil {
			return err
		}
		run.stats.Emitted++
	}
	return nil
}

func (run *qbRun) fail(name, reason string) {
	run.stats.Failed++
	run.log.Warn().Str("row", name).Str("reason", reason).Msg("Skipping malformed row")
}

// cleanAmount strips currency formatting. Accounting negatives "(12.50)"
// become "-12.50".
func cleanAmount(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", "$", "", " ", "").Replace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	return s
}

func recordID(id, name, period string) string {
	if id == "" {
		id = name
	}
	return id + "@" + period
}
