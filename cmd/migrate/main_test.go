package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppliedBy(t *testing.T) {
	env := map[string]string{"MIGRATE_APPLIED_BY": "ci-deploy"}
	assert.Equal(t, "ci-deploy", appliedBy(func(k string) string { return env[k] }))

	got := appliedBy(func(string) string { return "" })
	assert.NotEmpty(t, got)
}
