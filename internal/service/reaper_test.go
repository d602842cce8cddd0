package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/data"
	"github.com/target/docflow/internal/data/sqlitestore"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/mocks"
	"github.com/target/docflow/internal/observability/statsd"
	"github.com/target/docflow/internal/testutil"
)

// cleanupResult returns the result tag of the cleanup operation op.
func cleanupResult(r *statsd.Recorder, op string) string {
	for _, s := range r.Samples("reaper.cleanup_operation") {
		if s.Tags["operation"] == op {
			return s.Tags["result"]
		}
	}
	return ""
}

func reaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:   time.Minute,
		StaleAfter: 15 * time.Minute,
		BatchSize:  2,
	}
}

type reaperFixture struct {
	store *sqlitestore.Store
	clock *data.FixedTimeProvider
}

func newReaperFixture(t *testing.T) *reaperFixture {
	t.Helper()
	clock := data.NewFixedTimeProvider(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))
	store, err := sqlitestore.Open(context.Background(), sqlitestore.Options{
		Path:         filepath.Join(t.TempDir(), "jobs.db"),
		TimeProvider: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &reaperFixture{store: store, clock: clock}
}

func (f *reaperFixture) processingJob(t *testing.T) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.store.Create(ctx, testutil.NewJobRequest().Ready().Build())
	require.NoError(t, err)
	claimed, ok, err := f.store.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return claimed
}

func (f *reaperFixture) terminalJob(t *testing.T, status model.JobStatus) *model.Job {
	t.Helper()
	job := f.processingJob(t)
	require.True(t, f.store.Update(context.Background(), job.ID, model.StatusUpdate(status).WithProgress(1, 100)))
	return job
}

func TestNewReaperService(t *testing.T) {
	store := newSQLiteStore(t)

	tests := []struct {
		name    string
		opts    ReaperServiceOptions
		wantErr string
	}{
		{"missing repo", ReaperServiceOptions{Config: reaperConfig()}, "JobRepository is required"},
		{"zero interval", ReaperServiceOptions{Repo: store, Config: config.ReaperConfig{StaleAfter: time.Minute, BatchSize: 1}}, "interval"},
		{"zero batch", ReaperServiceOptions{Repo: store, Config: config.ReaperConfig{Interval: time.Minute, StaleAfter: time.Minute}}, "batch size"},
		{"zero stale window", ReaperServiceOptions{Repo: store, Config: config.ReaperConfig{Interval: time.Minute, BatchSize: 1}}, "stale policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReaperService(tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	svc, err := NewReaperService(ReaperServiceOptions{Repo: store, Config: reaperConfig()})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestReaperService_ReclaimsStaleProcessingJobs(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	stale := []*model.Job{f.processingJob(t), f.processingJob(t), f.processingJob(t)}
	f.clock.Advance(20 * time.Minute)
	fresh := f.processingJob(t)

	sink := &statsd.Recorder{}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:    f.store,
		Config:  reaperConfig(),
		Metrics: sink,
		Now:     f.clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RunOnce(ctx))

	for _, job := range stale {
		got := f.store.Get(ctx, job.ID, "")
		require.Equal(t, model.LookupFound, got.Kind)
		assert.Equal(t, model.JobStatusReady, got.Job.Status, "job %s", job.ID)
		assert.Equal(t, 0, got.Job.Progress)
	}
	got := f.store.Get(ctx, fresh.ID, "")
	assert.Equal(t, model.JobStatusProcessing, got.Job.Status)

	assert.Equal(t, "success", cleanupResult(sink, "reclaim_stale"))
	assert.Equal(t, "noop", cleanupResult(sink, "purge_completed"))
	assert.Len(t, sink.Samples("jobs.reclaimed"), 1)
	assert.True(t, sink.Has("reaper.last_success_epoch"))
}

func TestReaperService_StaleWindowFollowsPerFileTimeout(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	job := f.processingJob(t)
	f.clock.Advance(20 * time.Minute)

	// A 15m per-file timeout raises the 15m window to 30m, so a 20m old job is not stale yet.
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:           f.store,
		Config:         reaperConfig(),
		PerFileTimeout: 15 * time.Minute,
		Now:            f.clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunOnce(ctx))
	assert.Equal(t, model.JobStatusProcessing, f.store.Get(ctx, job.ID, "").Job.Status)

	f.clock.Advance(15 * time.Minute)
	require.NoError(t, svc.RunOnce(ctx))
	assert.Equal(t, model.JobStatusReady, f.store.Get(ctx, job.ID, "").Job.Status)
}

func TestReaperService_PurgesOldTerminalJobsAndBlobs(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)

	oldDone := f.terminalJob(t, model.JobStatusCompleted)
	require.NoError(t, f.store.WriteFileReferences(ctx, oldDone.ID, testutil.FileReferences(oldDone.ID, 2)))
	oldFailed := f.terminalJob(t, model.JobStatusFailed)
	f.clock.Advance(48 * time.Hour)
	recent := f.terminalJob(t, model.JobStatusCompleted)

	for _, locator := range model.BlobLocators(testutil.FileReferences(oldDone.ID, 2)) {
		blobs.EXPECT().Delete(gomock.Any(), locator).Return(nil)
	}

	cfg := reaperConfig()
	cfg.CompletedMaxAge = 24 * time.Hour
	cfg.FailedMaxAge = 24 * time.Hour
	sink := &statsd.Recorder{}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:      f.store,
		Retention: f.store,
		Blobs:     blobs,
		Config:    cfg,
		Metrics:   sink,
		Now:       f.clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RunOnce(ctx))

	assert.Equal(t, model.LookupNotFound, f.store.Get(ctx, oldDone.ID, "").Kind)
	assert.Equal(t, model.LookupNotFound, f.store.Get(ctx, oldFailed.ID, "").Kind)
	assert.Equal(t, model.LookupFound, f.store.Get(ctx, recent.ID, "").Kind)
	assert.Equal(t, "success", cleanupResult(sink, "purge_completed"))
	assert.Equal(t, "success", cleanupResult(sink, "purge_failed"))
}

func TestReaperService_PurgeDisabledByZeroAge(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	done := f.terminalJob(t, model.JobStatusCompleted)
	f.clock.Advance(365 * 24 * time.Hour)

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:      f.store,
		Retention: f.store,
		Config:    reaperConfig(),
		Now:       f.clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunOnce(ctx))

	assert.Equal(t, model.LookupFound, f.store.Get(ctx, done.ID, "").Kind)
}

func TestReaperService_StepErrorsAreJoined(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	retention := mocks.NewMockJobRetention(ctrl)

	repo.EXPECT().ReclaimStale(gomock.Any(), gomock.Any(), 2).Return(int64(0), errors.New("database is locked"))
	retention.EXPECT().PurgeTerminal(gomock.Any(), gomock.Any()).Return(nil, nil)

	cfg := reaperConfig()
	cfg.FailedMaxAge = time.Hour
	sink := &statsd.Recorder{}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:      repo,
		Retention: retention,
		Config:    cfg,
		Metrics:   sink,
	})
	require.NoError(t, err)

	err = svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reclaim stale processing jobs")
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, "error", cleanupResult(sink, "reclaim_stale"))
	assert.Equal(t, "noop", cleanupResult(sink, "purge_failed"))
	assert.False(t, sink.Has("reaper.last_success_epoch"))
}

func TestReaperService_CancellationIsNotAnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().ReclaimStale(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), context.Canceled)

	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: reaperConfig()})
	require.NoError(t, err)

	err = svc.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaperService_Run(t *testing.T) {
	f := newReaperFixture(t)
	job := f.processingJob(t)
	f.clock.Advance(time.Hour)

	cfg := reaperConfig()
	cfg.Interval = 10 * time.Millisecond
	svc, err := NewReaperService(ReaperServiceOptions{Repo: f.store, Config: cfg, Now: f.clock.Now})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.store.Get(context.Background(), job.ID, "").Job.Status == model.JobStatusReady
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}
}
