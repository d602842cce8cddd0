package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/domain/model"
)

func strPtr(s string) *string { return &s }

func TestPrintJobDetailIncludesErrorAndResult(t *testing.T) {
	created := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	job := &model.Job{
		ID:             "job-123",
		Status:         model.JobStatusFailed,
		EndpointType:   model.EndpointAnalyze,
		UserID:         strPtr("u1"),
		TotalFiles:     3,
		ProcessedFiles: 1,
		Progress:       33,
		Error:          strPtr("Job processing timeout"),
		Result:         json.RawMessage(`{"results":[]}`),
		CreatedAt:      created,
	}

	var buf bytes.Buffer
	require.NoError(t, printJobDetail(&buf, job))

	out := buf.String()
	assert.Contains(t, out, "job-123")
	assert.Contains(t, out, "1/3 (33%)")
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "Job processing timeout")
	assert.Contains(t, out, "2024-04-01T12:00:00Z")
	assert.Contains(t, out, `"results": []`)
	assert.Contains(t, out, "Document:")
}

func TestPrintJobTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJobTable(&buf, nil))
	assert.Contains(t, buf.String(), "no jobs matched")

	buf.Reset()
	require.NoError(t, printJobTable(&buf, []*model.Job{
		{ID: "a", Status: model.JobStatusReady, EndpointType: model.EndpointClassify, TotalFiles: 2},
		{ID: "b", Status: model.JobStatusCompleted, EndpointType: model.EndpointAnalyze, TotalFiles: 1, ProcessedFiles: 1, Progress: 100},
	}))
	out := buf.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "Total: 2")
	assert.Contains(t, out, "100%")
}

func TestPrintStatsListsEveryStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStats(&buf, model.JobStats{model.JobStatusReady: 4, model.JobStatusFailed: 1}))

	out := buf.String()
	for _, s := range []string{"created", "ready", "processing", "completed", "failed"} {
		assert.Contains(t, out, s)
	}
	assert.Regexp(t, `total\s+5`, out)
}

func TestParseJobListFlags(t *testing.T) {
	_, err := parseJobListFlags(nil)
	require.Error(t, err)

	opts, err := parseJobListFlags([]string{"--owner", "u1", "--status", "running"})
	require.NoError(t, err)
	require.NotNil(t, opts.Status)
	assert.Equal(t, model.JobStatusProcessing, *opts.Status)
	assert.Equal(t, model.DefaultListLimit, opts.Limit)

	_, err = parseJobListFlags([]string{"--owner", "u1", "--status", "bogus"})
	require.Error(t, err)

	_, err = parseJobListFlags([]string{"--owner", "u1", "--limit", "0"})
	require.Error(t, err)
}

func TestParseJobMutateFlags(t *testing.T) {
	_, err := parseJobMutateFlags("job-reset", nil, false)
	require.Error(t, err)

	opts, err := parseJobMutateFlags("job-delete", []string{"--id", " j1 ", "--owner", "u1", "--yes"}, true)
	require.NoError(t, err)
	assert.Equal(t, "j1", opts.ID)
	assert.Equal(t, "u1", opts.Owner)
	assert.True(t, opts.Yes)

	// --owner only exists where the command supports it.
	_, err = parseJobMutateFlags("job-reset", []string{"--id", "j1", "--owner", "u1"}, false)
	require.Error(t, err)
}

func TestParseTimeoutFlags(t *testing.T) {
	_, err := parseMigrateFlags([]string{"--timeout", "0s"})
	require.Error(t, err)

	opts, err := parseReapFlags([]string{"--timeout", "30s"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.Timeout)
}

func TestIsLikelyRemoteHost(t *testing.T) {
	tests := map[string]bool{
		"":                    false,
		"localhost":           false,
		"127.0.0.1":           false,
		"::1":                 false,
		"db.local":            false,
		"10.1.2.3":            true,
		"jobs.prod.internal":  true,
		"LOCALHOST":           false,
		"postgres.example.io": true,
	}
	for host, want := range tests {
		assert.Equal(t, want, isLikelyRemoteHost(host), host)
	}
}

func TestGuardRemoteHostSkipsSQLiteAndLocal(t *testing.T) {
	require.NoError(t, guardRemoteHost(config.DBConfig{Driver: config.DBDriverSQLite, Host: "db.prod"}, false, "reset"))
	require.NoError(t, guardRemoteHost(config.DBConfig{Driver: config.DBDriverPostgres, Host: "localhost"}, false, "reset"))
	require.Error(t, guardRemoteHost(config.DBConfig{Driver: config.DBDriverPostgres, Host: "db.prod"}, false, "reset"))
}

func TestCommandsAreRegistered(t *testing.T) {
	cmds := commands()
	for _, name := range []string{"migrate", "job-get", "job-list", "job-reset", "job-delete", "job-stats", "reap"} {
		c, ok := cmds[name]
		require.True(t, ok, name)
		assert.Equal(t, name, c.name)
		assert.NotNil(t, c.run)
	}
}
