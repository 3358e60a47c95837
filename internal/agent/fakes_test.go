package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakeModel struct {
	mu    sync.Mutex
	calls map[string]int

	decide  func(history []Message) (Decision, error)
	write   func(req QueryRequest) (string, error)
	check   func(req CheckRequest) (Verdict, error)
	repair  func(req RepairRequest) (string, error)
	respond func(req RespondRequest) (string, error)
}

func (m *fakeModel) count(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

func (m *fakeModel) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *fakeModel) Decide(ctx context.Context, history []Message, dates DateContext) (Decision, error) {
	m.count("decide")
	if m.decide != nil {
		return m.decide(history)
	}
	return NeedsQuery{Question: history[len(history)-1].Content}, nil
}

func (m *fakeModel) WriteQuery(ctx context.Context, req QueryRequest) (string, error) {
	m.count("write")
	if m.write != nil {
		return m.write(req)
	}
	return "SELECT 1", nil
}

func (m *fakeModel) CheckQuery(ctx context.Context, req CheckRequest) (Verdict, error) {
	m.count("check")
	if m.check != nil {
		return m.check(req)
	}
	return Valid{}, nil
}

func (m *fakeModel) RepairQuery(ctx context.Context, req RepairRequest) (string, error) {
	m.count("repair")
	if m.repair != nil {
		return m.repair(req)
	}
	return req.SQL, nil
}

func (m *fakeModel) Respond(ctx context.Context, req RespondRequest) (string, error) {
	m.count("respond")
	if m.respond != nil {
		return m.respond(req)
	}
	return fmt.Sprintf("%d rows", len(req.Rows)), nil
}

type fakeWarehouse struct {
	mu            sync.Mutex
	relations     []Relation
	columns       map[string][]Column
	query         func(sql string, rowCap int) (Result, error)
	queries       []string
	listCalls     int
	describeCalls int
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		relations: []Relation{
			{Name: "fact_financials", Kind: KindTable},
			{Name: WideView, Kind: KindView},
			{Name: "v_profit_loss", Kind: KindView},
			{Name: "v_top_accounts_yearly", Kind: KindView},
			{Name: "v_top_accounts_quarterly", Kind: KindView},
		},
		columns: map[string][]Column{
			WideView:                   {{"account_name", "varchar"}, {"amount", "numeric"}, {"year_quarter", "character"}},
			"v_profit_loss":            {{"year_quarter", "character"}, {"revenue", "numeric"}, {"net_profit", "numeric"}},
			"v_top_accounts_yearly":    {{"account_name", "varchar"}, {"rank_in_type_year", "bigint"}},
			"v_top_accounts_quarterly": {{"account_name", "varchar"}, {"rank_in_quarter", "bigint"}},
		},
	}
}

func (w *fakeWarehouse) Dialect() string { return "PostgreSQL" }

func (w *fakeWarehouse) ListRelations(ctx context.Context) ([]Relation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listCalls++
	return append([]Relation(nil), w.relations...), nil
}

func (w *fakeWarehouse) DescribeRelations(ctx context.Context, names []string) ([]RelationSchema, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.describeCalls++
	var out []RelationSchema
	for _, n := range names {
		for _, r := range w.relations {
			if r.Name == n {
				out = append(out, RelationSchema{Relation: r, Columns: w.columns[n]})
			}
		}
	}
	return out, nil
}

func (w *fakeWarehouse) Query(ctx context.Context, sql string, rowCap int) (Result, error) {
	w.mu.Lock()
	w.queries = append(w.queries, sql)
	q := w.query
	w.mu.Unlock()
	if q != nil {
		return q(sql, rowCap)
	}
	return Result{Columns: []string{"n"}, Rows: []map[string]interface{}{{"n": 1}}}, nil
}

func (w *fakeWarehouse) Queries() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.queries...)
}

type mapCheckpoints struct {
	mu sync.Mutex
	m  map[string]State
}

func newMapCheckpoints() *mapCheckpoints { return &mapCheckpoints{m: make(map[string]State)} }

func (c *mapCheckpoints) Put(ctx context.Context, threadID string, s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[threadID] = s.Clone()
	return nil
}

func (c *mapCheckpoints) Get(ctx context.Context, threadID string) (State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[threadID]
	return s.Clone(), ok, nil
}

func fixedClock() time.Time {
	return time.Date(2024, time.May, 15, 10, 0, 0, 0, time.UTC)
}

// recorder collects the node of every emitted snapshot.
type recorder struct {
	nodes    []string
	statuses []string
	last     State
}

func (r *recorder) emit(s State) error {
	r.nodes = append(r.nodes, s.Node)
	r.statuses = append(r.statuses, s.Status)
	r.last = s
	return nil
}

func (r *recorder) visits(node NodeName) int {
	n := 0
	for _, v := range r.nodes {
		if v == string(node) {
			n++
		}
	}
	return n
}

func newTestRunner(m Model, wh Warehouse) *Runner {
	graph := NewWorkflow(m, wh, nil, Config{RowLimit: 10, RowCap: 500, MaxRetries: 3, Now: fixedClock})
	return NewRunner(graph, newMapCheckpoints())
}
