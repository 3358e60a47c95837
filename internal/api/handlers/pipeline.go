package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-analyst/internal/api/middleware"
	"github.com/dvloznov/finance-analyst/internal/extract"
	"github.com/dvloznov/finance-analyst/internal/jobs"
	"github.com/dvloznov/finance-analyst/internal/pipeline"
	"github.com/rs/zerolog"
)

// PipelineHandler accepts ingestion jobs and reports on them.
type PipelineHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	defaults  []pipeline.SourceSpec
	log       zerolog.Logger
}

// NewPipelineHandler creates a new pipeline handler. defaults are ingested
// when a job names no sources.
func NewPipelineHandler(publisher jobs.Publisher, store jobs.JobStore, defaults []pipeline.SourceSpec, log zerolog.Logger) *PipelineHandler {
	return &PipelineHandler{
		publisher: publisher,
		store:     store,
		defaults:  defaults,
		log:       log,
	}
}

func validateSources(specs []pipeline.SourceSpec) error {
	for _, s := range specs {
		if _, ok := extract.ForSource(s.Source); !ok {
			return fmt.Errorf("unknown source %q", s.Source)
		}
		if strings.TrimSpace(s.Location) == "" {
			return fmt.Errorf("location is required for source %q", s.Source)
		}
	}
	return nil
}

// SubmitJob handles POST /api/pipeline/jobs
func (h *PipelineHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []pipeline.SourceSpec `json:"sources"`
	}

	// An empty body asks for the default sources.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sources := req.Sources
	if len(sources) == 0 {
		sources = h.defaults
	}
	if len(sources) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "sources are required")
		return
	}
	if err := validateSources(sources); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &jobs.IngestJob{Sources: sources}
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		h.log.Error().Err(err).Msg("Failed to enqueue ingestion job")
		middleware.WriteError(w, status, "Failed to enqueue ingestion job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Int("sources", len(sources)).Msg("Ingestion job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(jobs.JobStatusPending),
	})
}

// GetJob handles GET /api/pipeline/jobs/{id}
func (h *PipelineHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/pipeline/jobs
func (h *PipelineHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
