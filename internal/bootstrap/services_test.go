package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/adapters/blobstore"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "worker and reaper",
			modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeReaper},
			want:  2,
		},
		{
			name:  "all services enabled",
			modes: config.ValidServiceModes(),
			want:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			assert.Equal(t, tt.want, errorChannelCapacity(enabled))
			assert.Equal(t, tt.want+1, errorChannelBufferSize(enabled))
		})
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, services string) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		Services: services,
		DB: config.DBConfig{
			Driver:     config.DBDriverSQLite,
			SQLitePath: filepath.Join(dir, "jobs.db"),
		},
		Blob: config.BlobConfig{
			Driver:   config.BlobDriverLocal,
			LocalDir: filepath.Join(dir, "blobs"),
		},
		RateLimit: config.RateLimitConfig{Enabled: true},
		Worker:    config.WorkerConfig{StagingRoot: filepath.Join(dir, "staging")},
	}
	cfg.Sanitize()
	return cfg
}

func openTestStore(t *testing.T, cfg *config.AppConfig) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), DatabaseConfig{DBConfig: cfg.DB, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewServices_HTTPOnlyOnSQLite(t *testing.T) {
	cfg := testConfig(t, "http")
	store := openTestStore(t, cfg)

	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Store: store, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	assert.NotNil(t, svc.Ingest)
	assert.NotNil(t, svc.Jobs)
	assert.IsType(t, &blobstore.LocalStore{}, svc.Blobs)
	// No Redis and no LISTEN/NOTIFY on sqlite: workers poll and limits are off.
	assert.Nil(t, svc.Limiter)
	assert.Nil(t, svc.Publisher)
	assert.Nil(t, svc.Notifier)
	assert.Nil(t, svc.Verifier)
	assert.Nil(t, svc.Processor)
	assert.Nil(t, svc.Pool)
	assert.Nil(t, svc.Direct)
	assert.Equal(t, cfg.Ingest.MaxFiles, svc.Ingest.Limits().MaxFiles)
}

func TestNewServices_SyncRoutesShareThePipeline(t *testing.T) {
	cfg := testConfig(t, "http,worker")
	cfg.HTTP.SyncRoutes = true
	store := openTestStore(t, cfg)

	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Store: store, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.NotNil(t, svc.Direct)
	require.NotNil(t, svc.Processor)
	assert.NotNil(t, svc.Pipeline)
	assert.Equal(t, cfg.Ingest.MaxFiles, svc.Direct.Limits().MaxFiles)
}

func TestNewServices_SyncRoutesDegradeWithoutLLM(t *testing.T) {
	cfg := testConfig(t, "http")
	cfg.HTTP.SyncRoutes = true
	cfg.LLM.Mapping.Summary = "summary[?"
	store := openTestStore(t, cfg)

	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Store: store, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	assert.Nil(t, svc.Direct)
	assert.NotNil(t, svc.Ingest)
}

func TestNewServices_WorkerBuildsProcessor(t *testing.T) {
	cfg := testConfig(t, "worker,reaper")
	store := openTestStore(t, cfg)

	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Store: store, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	assert.NotNil(t, svc.Processor)
	assert.NotNil(t, svc.Pool)
}

func TestNewServices_InvalidMappingFails(t *testing.T) {
	cfg := testConfig(t, "worker")
	cfg.LLM.Mapping.Summary = "summary[?"
	store := openTestStore(t, cfg)

	_, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Store: store, Logger: testLogger()})
	require.Error(t, err)
}

func TestNewServices_RequiresStore(t *testing.T) {
	_, err := NewServices(context.Background(), &ServiceDeps{Config: &config.AppConfig{}})
	require.Error(t, err)
}

func TestBuildBlobStore(t *testing.T) {
	ctx := context.Background()

	none := BuildBlobStore(ctx, config.BlobConfig{Driver: config.BlobDriverNone}, testLogger())
	assert.IsType(t, blobstore.Unavailable{}, none)

	local := BuildBlobStore(ctx, config.BlobConfig{Driver: config.BlobDriverLocal, LocalDir: t.TempDir()}, testLogger())
	assert.IsType(t, &blobstore.LocalStore{}, local)

	// Missing endpoint is a construction error and degrades the same way.
	s3 := BuildBlobStore(ctx, config.BlobConfig{Driver: config.BlobDriverS3, Bucket: "uploads"}, testLogger())
	assert.IsType(t, blobstore.Unavailable{}, s3)
}

func TestBuildTokenVerifier_DisabledWithoutIssuer(t *testing.T) {
	v, err := BuildTokenVerifier(context.Background(), config.AuthConfig{}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRunServicesWithShutdown_Validation(t *testing.T) {
	require.Error(t, RunServicesWithShutdown(nil))
	require.Error(t, RunServicesWithShutdown(&ServiceOrchestrationConfig{}))
	require.Error(t, RunServicesWithShutdown(&ServiceOrchestrationConfig{Config: &config.AppConfig{Services: "http"}}))
}
