package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripSingleAggregateView(t *testing.T) {
	m := &fakeModel{
		write: func(req QueryRequest) (string, error) {
			return "SELECT year_quarter, net_profit FROM v_profit_loss WHERE year_quarter = '2024-Q1'", nil
		},
	}
	wh := newFakeWarehouse()
	wh.query = func(sql string, rowCap int) (Result, error) {
		return Result{
			Columns: []string{"year_quarter", "net_profit"},
			Rows:    []map[string]interface{}{{"year_quarter": "2024-Q1", "net_profit": "45000.00"}},
		}, nil
	}
	r := newTestRunner(m, wh)

	rec := &recorder{}
	final, err := r.Stream(context.Background(), "thread-1", "What was profit in Q1 2024?", rec.emit)
	require.NoError(t, err)

	assert.Equal(t, []string{
		string(NodeChat), string(NodeDiscoverSchema), string(NodeFetchSchema), string(NodeWriteQuery),
		string(NodeCheckQuery), string(NodeExecQuery), string(NodeRespond), string(End),
	}, rec.nodes)
	assert.Equal(t, 1, m.Calls("write"))
	assert.Equal(t, 0, m.Calls("repair"))
	assert.Equal(t, 1, final.ResultCount)
	assert.Len(t, final.ResultData, final.ResultCount)
	assert.Equal(t, []string{"year_quarter", "net_profit"}, final.ResultColumns)
	assert.Equal(t, 0, final.Retries)
	assert.Equal(t, StatusDone, final.Status)
	assert.Equal(t, "1 rows", final.Answer)
	assert.Contains(t, final.Relations, "v_profit_loss")
	assert.Contains(t, final.Schema, "v_profit_loss")
	assert.Len(t, wh.Queries(), 1)
}

func TestStatusLabelSetOnEveryNode(t *testing.T) {
	r := newTestRunner(&fakeModel{}, newFakeWarehouse())
	rec := &recorder{}

	_, err := r.Stream(context.Background(), "t", "How much revenue?", rec.emit)
	require.NoError(t, err)

	require.Len(t, rec.statuses, len(rec.nodes))
	for i, node := range rec.nodes {
		if node == string(End) {
			assert.Equal(t, StatusDone, rec.statuses[i])
			continue
		}
		assert.Equal(t, statusLabels[NodeName(node)], rec.statuses[i], node)
	}
}

func TestRetryCeilingWhenCheckAlwaysRejects(t *testing.T) {
	m := &fakeModel{
		check: func(req CheckRequest) (Verdict, error) {
			return Invalid{Reason: "column region does not exist"}, nil
		},
		repair: func(req RepairRequest) (string, error) {
			return "SELECT region FROM v_ai_financial_data", nil
		},
	}
	wh := newFakeWarehouse()
	r := newTestRunner(m, wh)

	rec := &recorder{}
	final, err := r.Stream(context.Background(), "t", "Revenue by region?", rec.emit)
	require.NoError(t, err)

	assert.Equal(t, 3, final.Retries)
	assert.Equal(t, 3, rec.visits(NodeRepairQuery))
	assert.Equal(t, 2, m.Calls("repair"), "the third repair visit gives up instead of calling the model")
	assert.Equal(t, 3, m.Calls("check"))
	assert.Equal(t, 0, rec.visits(NodeExecQuery))
	assert.Equal(t, 1, rec.visits(NodeRespond))
	assert.Equal(t, 0, m.Calls("respond"))
	assert.Empty(t, wh.Queries())

	assert.True(t, strings.HasPrefix(final.Answer, "I couldn't build a working query"))
	assert.Contains(t, final.Answer, "column region does not exist")
	last := final.Messages[len(final.Messages)-1]
	assert.Equal(t, RoleAssistant, last.Role)
	assert.Equal(t, final.Answer, last.Content)
}

func TestExecutionErrorRepairsThroughCheck(t *testing.T) {
	attempt := 0
	m := &fakeModel{
		write: func(req QueryRequest) (string, error) {
			return "SELECT bogus FROM v_profit_loss", nil
		},
		repair: func(req RepairRequest) (string, error) {
			assert.Equal(t, "SELECT bogus FROM v_profit_loss", req.SQL)
			assert.Contains(t, req.Error, "bogus")
			return "SELECT net_profit FROM v_profit_loss", nil
		},
	}
	wh := newFakeWarehouse()
	wh.query = func(sql string, rowCap int) (Result, error) {
		attempt++
		if strings.Contains(sql, "bogus") {
			return Result{}, errors.New(`column "bogus" does not exist`)
		}
		return Result{Columns: []string{"net_profit"}, Rows: []map[string]interface{}{{"net_profit": "1"}}}, nil
	}
	r := newTestRunner(m, wh)

	rec := &recorder{}
	final, err := r.Stream(context.Background(), "t", "Profit?", rec.emit)
	require.NoError(t, err)

	assert.Equal(t, 1, final.Retries)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, 2, m.Calls("check"), "a repaired query is re-validated before it runs")
	assert.Equal(t, []string{
		string(NodeChat), string(NodeDiscoverSchema), string(NodeFetchSchema), string(NodeWriteQuery),
		string(NodeCheckQuery), string(NodeExecQuery), string(NodeRepairQuery),
		string(NodeCheckQuery), string(NodeExecQuery), string(NodeRespond), string(End),
	}, rec.nodes)
	assert.Equal(t, 1, final.ResultCount)
	assert.Empty(t, final.QueryError)
}

func TestEmptyDraftIsInvalid(t *testing.T) {
	m := &fakeModel{
		write: func(req QueryRequest) (string, error) { return "   ", nil },
		repair: func(req RepairRequest) (string, error) {
			assert.Equal(t, "no SQL query was produced", req.Error)
			return "SELECT 1", nil
		},
	}
	r := newTestRunner(m, newFakeWarehouse())

	final, err := r.Invoke(context.Background(), "t", "Revenue?")
	require.NoError(t, err)

	assert.Equal(t, 1, final.Retries)
	assert.Equal(t, 1, m.Calls("check"), "the empty draft never reaches the checker")
	assert.Equal(t, 1, m.Calls("repair"))
	assert.Equal(t, 1, final.ResultCount)
}

func TestSafetyGateRejectsWithoutTouchingStore(t *testing.T) {
	tests := []string{
		"DELETE FROM fact_financials",
		"DROP TABLE dim_account",
		"SELECT 1; DELETE FROM fact_financials",
		"UPDATE dim_account SET account_name = 'x'",
	}

	for _, sql := range tests {
		t.Run(sql, func(t *testing.T) {
			m := &fakeModel{
				write: func(req QueryRequest) (string, error) { return sql, nil },
			}
			wh := newFakeWarehouse()
			r := newTestRunner(m, wh)

			rec := &recorder{}
			final, err := r.Stream(context.Background(), "t", "Clean up the data", rec.emit)
			require.NoError(t, err)

			assert.Empty(t, wh.Queries())
			assert.Equal(t, policyViolationAnswer, final.Answer)
			assert.Equal(t, 0, final.Retries, "unsafe queries are never repaired")
			assert.Equal(t, 0, rec.visits(NodeRepairQuery))
			assert.Equal(t, 0, rec.visits(NodeRespond))
			assert.True(t, errors.Is(mustCheck(sql), ErrUnsafeQuery))
		})
	}
}

func mustCheck(sql string) error {
	_, err := CheckReadOnly(sql)
	return err
}

func TestRowCapTruncates(t *testing.T) {
	wh := newFakeWarehouse()
	wh.query = func(sql string, rowCap int) (Result, error) {
		rows := make([]map[string]interface{}, rowCap+5)
		for i := range rows {
			rows[i] = map[string]interface{}{"n": i}
		}
		return Result{Columns: []string{"n"}, Rows: rows}, nil
	}
	graph := NewWorkflow(&fakeModel{}, wh, nil, Config{RowLimit: 10, RowCap: 20, MaxRetries: 3, Now: fixedClock})
	r := NewRunner(graph, newMapCheckpoints())

	final, err := r.Invoke(context.Background(), "t", "List everything")
	require.NoError(t, err)

	assert.Equal(t, 20, final.ResultCount)
	assert.Len(t, final.ResultData, 20)
	assert.True(t, final.Truncated)
	assert.Empty(t, final.QueryError)
}

func TestDirectAnswerEndsWithoutQuery(t *testing.T) {
	m := &fakeModel{
		decide: func(history []Message) (Decision, error) {
			return AnswerDirectly{Text: "Hello! Ask me about revenue, expenses or profit."}, nil
		},
	}
	wh := newFakeWarehouse()
	r := newTestRunner(m, wh)

	rec := &recorder{}
	final, err := r.Stream(context.Background(), "t", "hi", rec.emit)
	require.NoError(t, err)

	assert.Equal(t, []string{string(NodeChat), string(End)}, rec.nodes)
	assert.Equal(t, "Hello! Ask me about revenue, expenses or profit.", final.Answer)
	assert.Equal(t, 0, wh.listCalls)
	require.Len(t, final.Messages, 2)
}

func TestCapabilityErrorEndsTurnAndStaysResumable(t *testing.T) {
	fail := true
	m := &fakeModel{
		write: func(req QueryRequest) (string, error) {
			if fail {
				return "", errors.New("deadline exceeded")
			}
			return "SELECT 1", nil
		},
	}
	r := newTestRunner(m, newFakeWarehouse())
	ctx := context.Background()

	final, err := r.Invoke(ctx, "t", "Revenue in 2024?")
	require.NoError(t, err)
	assert.Equal(t, unavailableAnswer, final.Answer)
	assert.Equal(t, 0, final.Retries)
	assert.Equal(t, 0, m.Calls("repair"), "capability errors bypass the repair loop")

	saved, ok, err := r.History(ctx, "t")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, saved.Messages, 2)

	fail = false
	final, err = r.Invoke(ctx, "t", "Revenue in 2024?")
	require.NoError(t, err)
	assert.Equal(t, "1 rows", final.Answer)
	assert.Len(t, final.Messages, 4)
}

func TestRetriesResetOnNewQuestion(t *testing.T) {
	rejectFirst := true
	m := &fakeModel{
		check: func(req CheckRequest) (Verdict, error) {
			if rejectFirst {
				return Invalid{Reason: "nope"}, nil
			}
			return Valid{}, nil
		},
	}
	r := newTestRunner(m, newFakeWarehouse())
	ctx := context.Background()

	first, err := r.Invoke(ctx, "t", "Q1")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Retries)

	rejectFirst = false
	second, err := r.Invoke(ctx, "t", "Q2")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Retries)
	assert.Equal(t, "Q2", second.Question)
	assert.Len(t, second.Messages, 4)
}

// The warehouse here returns the expected figure itself, so this only covers
// how the result travels through the graph. The view's own formula is pinned
// by TestProfitLossViewFormulas in internal/infra/postgres.
func TestProfitScenarioMatchesDirectAggregation(t *testing.T) {
	type fact struct {
		accountType string
		amount      string
	}
	facts := []fact{
		{"revenue", "75000.00"},
		{"revenue", "12500.50"},
		{"expense", "30000.00"},
		{"expense", "4250.25"},
	}

	expected := decimal.Zero
	for _, f := range facts {
		amt := decimal.RequireFromString(f.amount)
		if f.accountType == "revenue" {
			expected = expected.Add(amt)
		} else {
			expected = expected.Sub(amt)
		}
	}

	m := &fakeModel{
		write: func(req QueryRequest) (string, error) {
			assert.Contains(t, req.Schema, "v_profit_loss")
			return "SELECT year_quarter, revenue, cogs, expenses, net_profit FROM v_profit_loss WHERE year_quarter = '2024-Q1'", nil
		},
		respond: func(req RespondRequest) (string, error) {
			require.Len(t, req.Rows, 1)
			return fmt.Sprintf("Net profit in Q1 2024 was %s.", req.Rows[0]["net_profit"]), nil
		},
	}
	wh := newFakeWarehouse()
	wh.query = func(sql string, rowCap int) (Result, error) {
		// Evaluate the profit view over the fact set.
		revenue, cogs, expenses := decimal.Zero, decimal.Zero, decimal.Zero
		for _, f := range facts {
			amt := decimal.RequireFromString(f.amount)
			switch f.accountType {
			case "revenue":
				revenue = revenue.Add(amt)
			case "cogs":
				cogs = cogs.Add(amt)
			default:
				expenses = expenses.Add(amt)
			}
		}
		return Result{
			Columns: []string{"year_quarter", "revenue", "cogs", "expenses", "net_profit"},
			Rows: []map[string]interface{}{{
				"year_quarter": "2024-Q1",
				"revenue":      revenue,
				"cogs":         cogs,
				"expenses":     expenses,
				"net_profit":   revenue.Sub(cogs.Add(expenses)),
			}},
		}, nil
	}
	r := newTestRunner(m, wh)

	final, err := r.Invoke(context.Background(), "t", "What was profit in Q1 2024?")
	require.NoError(t, err)

	assert.Equal(t, "Net profit in Q1 2024 was "+expected.String()+".", final.Answer)
	assert.Equal(t, "53250.25", expected.StringFixed(2))
}

func TestConcurrentThreadsAreIndependent(t *testing.T) {
	r := newTestRunner(&fakeModel{}, newFakeWarehouse())
	ctx := context.Background()

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			thread := fmt.Sprintf("thread-%d", i%3)
			_, err := r.Invoke(ctx, thread, fmt.Sprintf("question %d", i))
			errs <- err
		}(i)
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-errs)
	}

	total := 0
	for i := 0; i < 3; i++ {
		s, ok, err := r.History(ctx, fmt.Sprintf("thread-%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		total += len(s.Messages)
	}
	assert.Equal(t, 20, total, "every turn adds one user and one assistant message")
	assert.Empty(t, r.locks.m)
}

func TestCancelledTurnKeepsPreviousCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &fakeModel{
		write: func(req QueryRequest) (string, error) {
			cancel()
			return "", context.Canceled
		},
	}
	r := newTestRunner(m, newFakeWarehouse())

	_, err := r.Invoke(ctx, "t", "Revenue?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	_, ok, err := r.History(context.Background(), "t")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalogCachesListingAndDescriptions(t *testing.T) {
	wh := newFakeWarehouse()
	r := newTestRunner(&fakeModel{}, wh)
	ctx := context.Background()

	_, err := r.Invoke(ctx, "a", "Profit in 2024?")
	require.NoError(t, err)
	_, err = r.Invoke(ctx, "b", "Profit in 2023?")
	require.NoError(t, err)

	assert.Equal(t, 1, wh.listCalls)
	assert.Equal(t, 1, wh.describeCalls)
}
