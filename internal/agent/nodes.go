package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-analyst/internal/logger"
)

// Config bounds the workflow.
type Config struct {
	// RowLimit is the LIMIT the query writer is asked to use by default.
	RowLimit int
	// RowCap is the hard cap applied when executing.
	RowCap int
	// MaxRetries is the repair ceiling.
	MaxRetries int
	// QueryTimeout bounds one execution. Zero means no extra bound.
	QueryTimeout time.Duration
	// MaxSteps bounds node visits per turn.
	MaxSteps int
	// Now is the clock used for the date context.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.RowLimit <= 0 {
		c.RowLimit = 10
	}
	if c.RowCap <= 0 {
		c.RowCap = 500
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

const policyViolationAnswer = "I can only run read-only SELECT queries against the financial data. " +
	"The query prepared for this question was not one, so it was not run."

type workflow struct {
	model   Model
	wh      Warehouse
	catalog *Catalog
	cfg     Config
}

// NewWorkflow wires the question-to-answer graph over model and wh.
func NewWorkflow(model Model, wh Warehouse, catalog *Catalog, cfg Config) *Graph {
	if catalog == nil {
		catalog = NewCatalog(wh)
	}
	w := &workflow{model: model, wh: wh, catalog: catalog, cfg: cfg.withDefaults()}
	return NewGraph(NodeChat, map[NodeName]Node{
		NodeChat:           NodeFunc(w.chat),
		NodeDiscoverSchema: NodeFunc(w.discoverSchema),
		NodeFetchSchema:    NodeFunc(w.fetchSchema),
		NodeWriteQuery:     NodeFunc(w.writeQuery),
		NodeCheckQuery:     NodeFunc(w.checkQuery),
		NodeExecQuery:      NodeFunc(w.execQuery),
		NodeRepairQuery:    NodeFunc(w.repairQuery),
		NodeRespond:        NodeFunc(w.respond),
	}, cfg.MaxSteps)
}

func (w *workflow) dates() DateContext {
	return NewDateContext(w.cfg.Now())
}

func capabilityErr(op string, err error) error {
	if IsCapabilityError(err) {
		return err
	}
	return &CapabilityError{Op: op, Err: err}
}

func assistant(text string) []Message {
	return []Message{{Role: RoleAssistant, Content: text}}
}

func (w *workflow) chat(ctx context.Context, s State) (Update, NodeName, error) {
	d, err := w.model.Decide(ctx, s.Messages, w.dates())
	if err != nil {
		return Update{}, "", capabilityErr("decide", err)
	}

	switch d := d.(type) {
	case AnswerDirectly:
		text := d.Text
		return Update{Answer: &text, Messages: assistant(text)}, End, nil
	case NeedsQuery:
		q := strings.TrimSpace(d.Question)
		if q == "" {
			q = s.LastUserMessage()
		}
		return Update{Question: &q}, NodeDiscoverSchema, nil
	default:
		return Update{}, "", capabilityErr("decide", fmt.Errorf("unexpected decision %T", d))
	}
}

func (w *workflow) discoverSchema(ctx context.Context, s State) (Update, NodeName, error) {
	rels, err := w.catalog.Relations(ctx)
	if err != nil {
		return Update{}, "", err
	}
	names := RouteRelations(s.Question, rels)
	return Update{Relations: &names}, NodeFetchSchema, nil
}

func (w *workflow) fetchSchema(ctx context.Context, s State) (Update, NodeName, error) {
	schemas, err := w.catalog.Describe(ctx, s.Relations)
	if err != nil {
		return Update{}, "", err
	}
	text := SchemaText(schemas)
	return Update{Schema: &text}, NodeWriteQuery, nil
}

func (w *workflow) writeQuery(ctx context.Context, s State) (Update, NodeName, error) {
	sql, err := w.model.WriteQuery(ctx, QueryRequest{
		Question: s.Question,
		Schema:   s.Schema,
		Dialect:  w.wh.Dialect(),
		RowLimit: w.cfg.RowLimit,
		Dates:    w.dates(),
	})
	if err != nil {
		return Update{}, "", capabilityErr("write query", err)
	}
	sql = strings.TrimSpace(sql)
	return Update{SQL: &sql, CheckedSQL: strp("")}, NodeCheckQuery, nil
}

func (w *workflow) checkQuery(ctx context.Context, s State) (Update, NodeName, error) {
	reject := func(reason string) (Update, NodeName, error) {
		return Update{
			CheckedSQL: strp(""),
			QueryError: &reason,
			Retries:    intp(s.Retries + 1),
		}, NodeRepairQuery, nil
	}

	if strings.TrimSpace(s.SQL) == "" {
		return reject("no SQL query was produced")
	}

	v, err := w.model.CheckQuery(ctx, CheckRequest{
		Question: s.Question,
		SQL:      s.SQL,
		Schema:   s.Schema,
		Dialect:  w.wh.Dialect(),
	})
	if err != nil {
		return Update{}, "", capabilityErr("check query", err)
	}

	switch v := v.(type) {
	case Valid:
		checked := strings.TrimSpace(v.SQL)
		if checked == "" {
			checked = s.SQL
		}
		return Update{CheckedSQL: &checked, QueryError: strp("")}, NodeExecQuery, nil
	case Invalid:
		reason := strings.TrimSpace(v.Reason)
		if reason == "" {
			reason = "the query does not match the schema or the question"
		}
		return reject(reason)
	default:
		return Update{}, "", capabilityErr("check query", fmt.Errorf("unexpected verdict %T", v))
	}
}

func (w *workflow) execQuery(ctx context.Context, s State) (Update, NodeName, error) {
	log := logger.FromContext(ctx)

	sql, err := CheckReadOnly(s.CheckedSQL)
	if err != nil {
		log.Warn().
			Err(err).
			Str("thread_id", s.ThreadID).
			Str("sql", s.CheckedSQL).
			Msg("execQuery: rejected query")
		msg := err.Error()
		answer := policyViolationAnswer
		return Update{QueryError: &msg, Answer: &answer, Messages: assistant(answer)}, End, nil
	}

	qctx := ctx
	if w.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, w.cfg.QueryTimeout)
		defer cancel()
	}

	res, err := w.wh.Query(qctx, sql, w.cfg.RowCap)
	if err != nil {
		if ctx.Err() != nil {
			return Update{}, "", ctx.Err()
		}
		msg := err.Error()
		return Update{QueryError: &msg, Retries: intp(s.Retries + 1)}, NodeRepairQuery, nil
	}

	if len(res.Rows) > w.cfg.RowCap {
		res.Rows = res.Rows[:w.cfg.RowCap]
		res.Truncated = true
	}
	return Update{Result: &res, CheckedSQL: &sql, QueryError: strp("")}, NodeRespond, nil
}

func (w *workflow) repairQuery(ctx context.Context, s State) (Update, NodeName, error) {
	if s.Retries >= w.cfg.MaxRetries {
		answer := giveUpAnswer(s)
		return Update{Answer: &answer}, NodeRespond, nil
	}

	failed := s.CheckedSQL
	if failed == "" {
		failed = s.SQL
	}
	fixed, err := w.model.RepairQuery(ctx, RepairRequest{
		Question: s.Question,
		SQL:      failed,
		Error:    s.QueryError,
		Schema:   s.Schema,
		Dialect:  w.wh.Dialect(),
		RowLimit: w.cfg.RowLimit,
		Dates:    w.dates(),
	})
	if err != nil {
		return Update{}, "", capabilityErr("repair query", err)
	}
	fixed = strings.TrimSpace(fixed)
	return Update{SQL: &fixed, CheckedSQL: strp("")}, NodeCheckQuery, nil
}

func giveUpAnswer(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I couldn't build a working query for %q after %d attempts. ", s.Question, s.Retries)
	b.WriteString("The financial data may not contain what this question needs, such as a dimension or period that isn't tracked. ")
	b.WriteString("Try rephrasing the question or asking about accounts, categories, months, quarters or years.")
	if s.QueryError != "" {
		fmt.Fprintf(&b, "\n\nLast problem: %s", s.QueryError)
	}
	return b.String()
}

func (w *workflow) respond(ctx context.Context, s State) (Update, NodeName, error) {
	if s.Answer != "" {
		return Update{Messages: assistant(s.Answer)}, End, nil
	}

	text, err := w.model.Respond(ctx, RespondRequest{
		Question:  s.Question,
		SQL:       s.CheckedSQL,
		Columns:   s.ResultColumns,
		Rows:      s.ResultData,
		Truncated: s.Truncated,
		History:   s.Messages,
	})
	if err != nil {
		return Update{}, "", capabilityErr("respond", err)
	}
	return Update{Answer: &text, Messages: assistant(text)}, End, nil
}
