// Package handlers implements the REST and streaming chat endpoints.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-analyst/internal/api/middleware"
	"github.com/dvloznov/finance-analyst/internal/dashboard"
	"github.com/rs/zerolog"
)

// DashboardHandler serves the canned dashboard reads.
type DashboardHandler struct {
	svc *dashboard.Service
	log zerolog.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(svc *dashboard.Service, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		svc: svc,
		log: log,
	}
}

// parseFilter reads year, account_type, period and limit from the query string.
func parseFilter(r *http.Request) (dashboard.Filter, error) {
	q := r.URL.Query()
	f := dashboard.Filter{
		AccountType: strings.TrimSpace(q.Get("account_type")),
		Period:      strings.TrimSpace(q.Get("period")),
	}

	var err error
	if f.Year, err = intParam(q.Get("year")); err != nil {
		return f, fmt.Errorf("invalid year: %w", err)
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, fmt.Errorf("invalid limit: %w", err)
	}
	return f, nil
}

func intParam(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// serve runs one dashboard read and writes its rows under key.
func serve[T any](h *DashboardHandler, w http.ResponseWriter, r *http.Request, key string,
	read func(ctx context.Context, f dashboard.Filter) ([]T, error)) {
	f, err := parseFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := read(r.Context(), f)
	if errors.Is(err, dashboard.ErrInvalidFilter) {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("view", key).Msg("Failed to read dashboard view")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read "+key)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		key:     rows,
		"count": len(rows),
	})
}

// MonthlySummary handles GET /api/dashboard/monthly-summary
func (h *DashboardHandler) MonthlySummary(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "monthly_summary", h.svc.MonthlySummary)
}

// CategoryPerformance handles GET /api/dashboard/category-performance
func (h *DashboardHandler) CategoryPerformance(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "category_performance", h.svc.CategoryPerformance)
}

// ProfitLoss handles GET /api/dashboard/profit-loss
func (h *DashboardHandler) ProfitLoss(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "profit_loss", h.svc.ProfitLoss)
}

// YoYGrowth handles GET /api/dashboard/yoy-growth
func (h *DashboardHandler) YoYGrowth(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "yoy_growth", h.svc.YoYGrowth)
}

// TopAccounts handles GET /api/dashboard/top-accounts
func (h *DashboardHandler) TopAccounts(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "top_accounts", h.svc.TopAccounts)
}

// TrendAnalysis handles GET /api/dashboard/trends
func (h *DashboardHandler) TrendAnalysis(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "trends", h.svc.TrendAnalysis)
}

// Overview handles GET /api/dashboard/overview
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	row, err := h.svc.Overview(r.Context())
	if errors.Is(err, dashboard.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "No data loaded yet")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read overview")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read overview")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, row)
}

// RunsHandler serves the pipeline run audit.
type RunsHandler struct {
	svc *dashboard.Service
	log zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(svc *dashboard.Service, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		svc: svc,
		log: log,
	}
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	runs, err := h.svc.Runs(r.Context(), query.Get("source"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := h.svc.Run(r.Context(), runID)
	if errors.Is(err, dashboard.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, run)
}
