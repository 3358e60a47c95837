package main

import (
	"testing"

	"github.com/dvloznov/finance-analyst/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceFlags(t *testing.T) {
	var s sourceFlags
	require.NoError(t, s.Set("quickbooks=data/data_set_1.json"))
	require.NoError(t, s.Set(" rootfi = gs://reports/data_set_2.json "))

	assert.Equal(t, sourceFlags{
		{Source: "quickbooks", Location: "data/data_set_1.json"},
		{Source: "rootfi", Location: "gs://reports/data_set_2.json"},
	}, s)
	assert.Equal(t, "quickbooks=data/data_set_1.json,rootfi=gs://reports/data_set_2.json", s.String())
}

func TestSourceFlagsInvalid(t *testing.T) {
	var s sourceFlags
	assert.Error(t, s.Set("quickbooks"))
	assert.Error(t, s.Set("quickbooks="))
	assert.Error(t, s.Set("xero=file.json"))
	assert.Empty(t, s)
}

func TestAllSucceeded(t *testing.T) {
	assert.False(t, allSucceeded(nil))
	assert.True(t, allSucceeded([]pipeline.Result{{Source: "quickbooks"}, {Source: "rootfi"}}))
	assert.False(t, allSucceeded([]pipeline.Result{{Source: "quickbooks"}, {Source: "rootfi", Error: "boom"}}))
}
