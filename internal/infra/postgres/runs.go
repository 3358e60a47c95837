package postgres

import (
	"database/sql"
	"time"
)

// Run statuses stored in pipeline_runs.status.
const (
	RunStatusStarted   = "started"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRow is one row of pipeline_runs.
type RunRow struct {
	RunID        string `db:"run_id"`
	SourceSystem string `db:"source_system"`
	Status       string `db:"status"`

	RecordsProcessed int `db:"records_processed"`
	RecordsLoaded    int `db:"records_loaded"`
	RecordsFiltered  int `db:"records_filtered"`
	RecordsFailed    int `db:"records_failed"`

	ErrorMessage sql.NullString `db:"error_message"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
}

// RunCounts are the tallies written when a run finishes.
type RunCounts struct {
	Processed int `json:"processed"`
	Loaded    int `json:"loaded"`
	Filtered  int `json:"filtered"`
	Failed    int `json:"failed"`
}
