package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/internal/domain/model"
)

func TestDefaultTestDBConfig(t *testing.T) {
	for _, key := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
		t.Setenv(key, "")
	}
	assert.Equal(t, TestDBConfig{
		Host: "localhost", Port: "55432", User: "docflow", Password: "docflow", DBName: "docflow",
	}, DefaultTestDBConfig())

	t.Setenv("TEST_DB_HOST", "postgres")
	t.Setenv("TEST_DB_PORT", "5432")
	cfg := DefaultTestDBConfig()
	assert.Equal(t, "postgres", cfg.Host)
	assert.Equal(t, "5432", cfg.Port)
}

func TestTestDBConfig_DSN(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "docs"}
	assert.Equal(t, "postgres://u:p@db:5432/docs?sslmode=disable", cfg.DSN())

	t.Setenv("DB_SSL_MODE", "require")
	cfg.Host = "::1"
	assert.Equal(t, "postgres://u:p@[::1]:5432/docs?sslmode=require", cfg.DSN())
}

func TestJobRequestBuilder(t *testing.T) {
	req := NewJobRequest().
		WithEndpoint(model.EndpointAnalyze).
		WithFiles(3).
		WithOwner("u-1").
		WithDocument("doc-9", "batch-2").
		Ready().
		Build()

	assert.Equal(t, model.EndpointAnalyze, req.EndpointType)
	assert.Equal(t, 3, req.TotalFiles)
	require.NotNil(t, req.UserID)
	assert.Equal(t, "u-1", *req.UserID)
	require.NotNil(t, req.DocumentID)
	assert.Equal(t, "doc-9", *req.DocumentID)
	assert.Equal(t, model.JobStatusReady, req.InitialStatus)

	refs := FileReferences("job-1", 2)
	require.Len(t, refs, 2)
	assert.NotEqual(t, refs[0].Filename, refs[1].Filename)
}
