package jobs

import (
	"testing"
	"time"

	"github.com/dvloznov/finance-analyst/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	ok := pipeline.Result{Source: "quickbooks"}
	bad := pipeline.Result{Source: "rootfi", Error: "source document not found"}

	tests := []struct {
		name    string
		results []pipeline.Result
		want    JobStatus
	}{
		{"no results", nil, JobStatusFailed},
		{"all ok", []pipeline.Result{ok, ok}, JobStatusCompleted},
		{"some failed", []pipeline.Result{ok, bad}, JobStatusPartial},
		{"all failed", []pipeline.Result{bad}, JobStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.results))
		})
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	job := &IngestJob{
		JobID:     "job-1",
		Sources:   []pipeline.SourceSpec{{Source: "quickbooks", Location: "a.json"}},
		Results:   []pipeline.Result{{Source: "quickbooks"}},
		StartedAt: &started,
	}

	c := job.Clone()
	c.Sources[0].Location = "b.json"
	c.Results[0].Error = "boom"
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "a.json", job.Sources[0].Location)
	assert.Empty(t, job.Results[0].Error)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, started, *job.StartedAt)
	assert.Nil(t, c.CompletedAt)
}
