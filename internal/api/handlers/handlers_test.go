package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/dvloznov/finance-analyst/internal/dashboard"
	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/jobs"
	"github.com/dvloznov/finance-analyst/internal/jobs/inmemory"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/dvloznov/finance-analyst/internal/pipeline"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = logger.NewWithWriter(&bytes.Buffer{})

type fakeReader struct {
	filter postgres.DashboardFilter
	period string
	err    error
}

func (f *fakeReader) MonthlySummary(_ context.Context, df postgres.DashboardFilter) ([]postgres.MonthlySummaryRow, error) {
	f.filter = df
	return []postgres.MonthlySummaryRow{{Year: df.Year, Month: 1, AccountType: df.AccountType, TotalAmount: decimal.NewFromInt(100)}}, f.err
}

func (f *fakeReader) CategoryPerformance(context.Context, postgres.DashboardFilter) ([]postgres.CategoryPerformanceRow, error) {
	return nil, f.err
}

func (f *fakeReader) ProfitLoss(_ context.Context, year int) ([]postgres.ProfitLossRow, error) {
	f.filter.Year = year
	return nil, f.err
}

func (f *fakeReader) YoYGrowth(context.Context, int) ([]postgres.YoYGrowthRow, error) {
	return nil, f.err
}

func (f *fakeReader) TopAccounts(_ context.Context, period string, df postgres.DashboardFilter) ([]postgres.TopAccountRow, error) {
	f.period = period
	f.filter = df
	return nil, f.err
}

func (f *fakeReader) TrendAnalysis(context.Context, postgres.DashboardFilter) ([]postgres.TrendRow, error) {
	return nil, f.err
}

func (f *fakeReader) Overview(context.Context) (*postgres.OverviewRow, error) {
	return nil, postgres.ErrNotFound
}

func (f *fakeReader) ListRuns(context.Context, string, int) ([]*postgres.RunRow, error) {
	return []*postgres.RunRow{{
		RunID: "run-1", SourceSystem: "quickbooks", Status: postgres.RunStatusCompleted,
		StartedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		CompletedAt: sql.NullTime{Time: time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), Valid: true},
	}}, f.err
}

func (f *fakeReader) GetRun(_ context.Context, runID string) (*postgres.RunRow, error) {
	if runID == "run-1" {
		return &postgres.RunRow{RunID: "run-1", Status: postgres.RunStatusCompleted}, nil
	}
	return nil, postgres.ErrNotFound
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestDashboardMonthlySummary(t *testing.T) {
	reader := &fakeReader{}
	h := NewDashboardHandler(dashboard.NewService(reader), testLog)

	rec := httptest.NewRecorder()
	h.MonthlySummary(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/monthly-summary?year=2024&account_type=Income", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, postgres.DashboardFilter{Year: 2024, AccountType: "revenue"}, reader.filter)

	rows := body["monthly_summary"].([]interface{})
	assert.Equal(t, "100", rows[0].(map[string]interface{})["total_amount"])
}

func TestDashboardBadRequests(t *testing.T) {
	h := NewDashboardHandler(dashboard.NewService(&fakeReader{}), testLog)

	tests := []struct {
		name string
		url  string
	}{
		{"non-numeric year", "/api/dashboard/profit-loss?year=last"},
		{"unknown account type", "/api/dashboard/profit-loss?account_type=assets"},
		{"unknown period", "/api/dashboard/top-accounts?period=weekly"},
		{"bad limit", "/api/dashboard/top-accounts?limit=ten"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if strings.Contains(tt.url, "top-accounts") {
				h.TopAccounts(rec, req)
			} else {
				h.ProfitLoss(rec, req)
			}
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDashboardTopAccountsAndErrors(t *testing.T) {
	reader := &fakeReader{}
	h := NewDashboardHandler(dashboard.NewService(reader), testLog)

	rec := httptest.NewRecorder()
	h.TopAccounts(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/top-accounts?period=quarterly&limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, postgres.PeriodQuarterly, reader.period)
	assert.Equal(t, 3, reader.filter.Limit)
	assert.Equal(t, []interface{}{}, decodeBody(t, rec)["top_accounts"])

	reader.err = errors.New("db down")
	rec = httptest.NewRecorder()
	h.TrendAnalysis(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/trends", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.Overview(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/overview", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsHandler(t *testing.T) {
	h := NewRunsHandler(dashboard.NewService(&fakeReader{}), testLog)

	rec := httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/runs?source=quickbooks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	run := body["runs"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "run-1", run["run_id"])
	assert.Equal(t, "2024-01-01T00:01:00Z", run["completed_at"])

	rec = httptest.NewRecorder()
	h.GetRun(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil), "run-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.GetRun(rec, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil), "nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakePublisher struct {
	published []*jobs.IngestJob
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, job *jobs.IngestJob) error {
	if p.err != nil {
		return p.err
	}
	job.JobID = "job-1"
	p.published = append(p.published, job)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestPipelineSubmitJob(t *testing.T) {
	defaults := []pipeline.SourceSpec{
		{Source: "quickbooks", Location: "data/data_set_1.json"},
		{Source: "rootfi", Location: "data/data_set_2.json"},
	}

	t.Run("empty body uses defaults", func(t *testing.T) {
		pub := &fakePublisher{}
		h := NewPipelineHandler(pub, inmemory.NewStore(), defaults, testLog)

		rec := httptest.NewRecorder()
		h.SubmitJob(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/jobs", nil))

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "job-1", decodeBody(t, rec)["job_id"])
		require.Len(t, pub.published, 1)
		assert.Equal(t, defaults, pub.published[0].Sources)
	})

	t.Run("explicit sources", func(t *testing.T) {
		pub := &fakePublisher{}
		h := NewPipelineHandler(pub, inmemory.NewStore(), defaults, testLog)

		body := `{"sources":[{"source":"rootfi","location":"gs://reports/pnl.json"}]}`
		rec := httptest.NewRecorder()
		h.SubmitJob(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/jobs", strings.NewReader(body)))

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []pipeline.SourceSpec{{Source: "rootfi", Location: "gs://reports/pnl.json"}}, pub.published[0].Sources)
	})

	t.Run("unknown source", func(t *testing.T) {
		h := NewPipelineHandler(&fakePublisher{}, inmemory.NewStore(), defaults, testLog)
		body := `{"sources":[{"source":"xero","location":"a.json"}]}`
		rec := httptest.NewRecorder()
		h.SubmitJob(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/jobs", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		h := NewPipelineHandler(&fakePublisher{}, inmemory.NewStore(), defaults, testLog)
		rec := httptest.NewRecorder()
		h.SubmitJob(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/jobs", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("queue closed", func(t *testing.T) {
		h := NewPipelineHandler(&fakePublisher{err: jobs.ErrQueueClosed}, inmemory.NewStore(), defaults, testLog)
		rec := httptest.NewRecorder()
		h.SubmitJob(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/jobs", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestPipelineGetAndListJobs(t *testing.T) {
	store := inmemory.NewStore()
	require.NoError(t, store.SaveJob(context.Background(), &jobs.IngestJob{
		JobID:  "job-7",
		Status: jobs.JobStatusPartial,
		Results: []pipeline.Result{
			{Source: "quickbooks", Status: postgres.RunStatusCompleted},
			{Source: "rootfi", Status: postgres.RunStatusFailed, Error: "source document not found"},
		},
	}))
	h := NewPipelineHandler(&fakePublisher{}, store, nil, testLog)

	rec := httptest.NewRecorder()
	h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline/jobs/job-7", nil), "job-7")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "partial", body["status"])
	assert.Len(t, body["results"], 2)

	rec = httptest.NewRecorder()
	h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline/jobs/none", nil), "none")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline/jobs?status=partial&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

type fakeConversation struct {
	snapshots []agent.State
	final     agent.State
	err       error
	history   map[string]agent.State
	threadID  string
}

func (c *fakeConversation) Stream(_ context.Context, threadID, _ string, emit agent.EmitFunc) (agent.State, error) {
	c.threadID = threadID
	for _, s := range c.snapshots {
		if emit != nil {
			if err := emit(s); err != nil {
				return s, err
			}
		}
	}
	return c.final, c.err
}

func (c *fakeConversation) History(_ context.Context, threadID string) (agent.State, bool, error) {
	s, ok := c.history[threadID]
	return s, ok, nil
}

func TestChatJSON(t *testing.T) {
	conv := &fakeConversation{final: agent.State{
		ThreadID: "t-1", Node: string(agent.End), Status: agent.StatusDone,
		CheckedSQL: "SELECT 1", ResultCount: 1, Answer: "Revenue was 10.",
		ResultColumns: []string{"revenue"},
		ResultData:    []map[string]interface{}{{"revenue": "10"}},
	}}
	h := NewChatHandler(conv, testLog)

	rec := httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"revenue?","thread_id":"t-1"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Revenue was 10.", body["answer"])
	assert.Equal(t, "SELECT 1", body["sql"])
	assert.Len(t, body["rows"], 1)
	assert.Equal(t, "t-1", conv.threadID)
}

func TestChatAssignsThreadID(t *testing.T) {
	conv := &fakeConversation{}
	h := NewChatHandler(conv, testLog)

	rec := httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, conv.threadID, 36)
}

func TestChatValidation(t *testing.T) {
	h := NewChatHandler(&fakeConversation{}, testLog)

	for _, body := range []string{`{`, `{"message":"   "}`, `{"message":"` + strings.Repeat("x", maxMessageLength+1) + `"}`} {
		rec := httptest.NewRecorder()
		h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestChatStream(t *testing.T) {
	conv := &fakeConversation{
		snapshots: []agent.State{
			{ThreadID: "t-1", Node: "chat", Status: "Thinking"},
			{ThreadID: "t-1", Node: "exec_query", Status: "Running query", SQL: "SELECT 1", ResultData: []map[string]interface{}{{"a": 1}}},
			{ThreadID: "t-1", Node: string(agent.End), Status: agent.StatusDone, Answer: "done"},
		},
		final: agent.State{ThreadID: "t-1", Node: string(agent.End), Status: agent.StatusDone, Answer: "done"},
	}
	h := NewChatHandler(conv, testLog)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"q","thread_id":"t-1"}`))
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.Equal(t, 2, strings.Count(out, "event: state\n"))
	assert.Equal(t, 1, strings.Count(out, "event: done\n"))
	assert.NotContains(t, out, `"rows"`, "intermediate snapshots carry no rows")
	assert.Contains(t, out, `"answer":"done"`)
	assert.True(t, strings.HasSuffix(out, "\n\n"))
}

func TestChatStreamError(t *testing.T) {
	conv := &fakeConversation{err: context.Canceled}
	h := NewChatHandler(conv, testLog)

	req := httptest.NewRequest(http.MethodPost, "/api/chat?stream=true", strings.NewReader(`{"message":"q","thread_id":"t-9"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	out := rec.Body.String()
	assert.Contains(t, out, "event: error\n")
	assert.NotContains(t, out, "event: done")
}

func TestChatHistory(t *testing.T) {
	conv := &fakeConversation{history: map[string]agent.State{
		"t-1": {ThreadID: "t-1", Messages: []agent.Message{
			{Role: agent.RoleUser, Content: "revenue?"},
			{Role: agent.RoleAssistant, Content: "10"},
		}},
	}}
	h := NewChatHandler(conv, testLog)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/chat/history?thread_id=t-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/chat/history?thread_id=t-2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/chat/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
