package sqlitestore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/data"
	"github.com/target/docflow/internal/domain/model"
)

func newStore(t *testing.T, clock data.TimeProvider) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Path:         filepath.Join(t.TempDir(), "jobs.db"),
		TimeProvider: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createJob(t *testing.T, s *Store, req model.CreateJobRequest) *model.Job {
	t.Helper()
	job, err := s.Create(context.Background(), &req)
	require.NoError(t, err)
	return job
}

func ptr[T any](v T) *T { return &v }

func TestStore_CreateAndGet(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	job := createJob(t, s, model.CreateJobRequest{
		EndpointType: model.EndpointClassify,
		TotalFiles:   2,
		UserID:       ptr("user-1"),
	})
	assert.Equal(t, model.JobStatusCreated, job.Status)
	assert.Equal(t, 0, job.ProcessedFiles)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.Result)
	assert.Nil(t, job.Error)

	got := s.Get(ctx, job.ID, "")
	require.Equal(t, model.LookupFound, got.Kind)
	assert.Equal(t, job.ID, got.Job.ID)
	assert.Equal(t, model.EndpointClassify, got.Job.EndpointType)

	assert.Equal(t, model.LookupFound, s.Get(ctx, job.ID, "user-1").Kind)
	assert.Equal(t, model.LookupNotFound, s.Get(ctx, job.ID, "someone-else").Kind)
	assert.Equal(t, model.LookupNotFound, s.Get(ctx, "missing", "").Kind)

	_, err := s.Create(ctx, &model.CreateJobRequest{EndpointType: "bogus"})
	require.Error(t, err)
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	job := createJob(t, s, model.CreateJobRequest{
		EndpointType:  model.EndpointAnalyze,
		TotalFiles:    1,
		InitialStatus: model.JobStatusReady,
	})

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, ok, err := s.Claim(ctx, job.ID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
				assert.Equal(t, model.JobStatusProcessing, claimed.Status)
				assert.NotNil(t, claimed.ClaimedAt)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, ok, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ClaimRejectsNonReady(t *testing.T) {
	s := newStore(t, nil)
	job := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1})

	_, ok, err := s.Claim(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, ok, "CREATED jobs are not visible to workers")
}

func TestStore_UpdateMergesFields(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	job := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 4})
	clock.Advance(time.Minute)

	ok := s.Update(ctx, job.ID, model.StatusUpdate(model.JobStatusProcessing).WithProgress(1, 25))
	require.True(t, ok)

	got := s.Get(ctx, job.ID, "").Job
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, 1, got.ProcessedFiles)
	assert.Equal(t, 25, got.Progress)
	assert.Equal(t, clock.Now(), got.UpdatedAt)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	result := json.RawMessage(`{"total_files":4}`)
	done := model.StatusUpdate(model.JobStatusCompleted).WithProgress(4, 100)
	done.Result = result
	require.True(t, s.Update(ctx, job.ID, done))

	got = s.Get(ctx, job.ID, "").Job
	assert.JSONEq(t, string(result), string(got.Result))
	assert.Equal(t, 100, got.Progress)

	assert.False(t, s.Update(ctx, "missing", model.StatusUpdate(model.JobStatusFailed)))
}

func TestStore_FileReferencesRoundTrip(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	job := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 2})

	size := int64(10)
	refs := []model.FileReference{
		{Filename: "a.pdf", Locator: job.ID + "/a.pdf", Suffix: ".pdf", Size: &size},
		{Filename: "b.txt", Locator: job.ID + "/b.txt", Suffix: ".txt"},
	}
	require.NoError(t, s.WriteFileReferences(ctx, job.ID, refs))
	// Idempotent.
	require.NoError(t, s.WriteFileReferences(ctx, job.ID, refs))

	got := s.Get(ctx, job.ID, "").Job
	assert.Equal(t, []string{job.ID + "/a.pdf", job.ID + "/b.txt"}, got.Files.Locators)

	decoded := data.DecodeFileReferences(got.Files.Metadata)
	require.Equal(t, data.DecodeOK, decoded.Outcome)
	assert.Equal(t, refs, decoded.Refs)

	require.ErrorIs(t, s.WriteFileReferences(ctx, "missing", refs), data.ErrJobNotFound)
}

func TestStore_ResetFailed(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	job := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointAnalyze, TotalFiles: 3})

	failed := model.StatusUpdate(model.JobStatusFailed).WithProgress(2, 66)
	failed.Error = ptr("Job processing failed: boom")
	require.True(t, s.Update(ctx, job.ID, failed))

	ok, err := s.ResetFailed(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got := s.Get(ctx, job.ID, "").Job
	assert.Equal(t, model.JobStatusReady, got.Status)
	assert.Nil(t, got.Error)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, 0, got.ProcessedFiles)

	ok, err = s.ResetFailed(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok, "only FAILED jobs can be reset")
}

func TestStore_LegacyStatusesReadAsCurrent(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	job := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1})

	_, err := s.DB().ExecContext(ctx, `UPDATE jobs SET status = 'pending' WHERE id = ?`, job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusReady, s.Get(ctx, job.ID, "").Job.Status)

	claimable, err := s.ListClaimable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimable, 1)

	_, ok, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_ListClaimableOldestFirst(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	var ids []string
	for range 3 {
		j := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1, InitialStatus: model.JobStatusReady})
		ids = append(ids, j.ID)
		clock.Advance(time.Second)
	}
	createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1})

	jobs, err := s.ListClaimable(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[0], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)
}

func TestStore_ListByOwner(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	older := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1, UserID: ptr("u1"), InitialStatus: model.JobStatusReady})
	clock.Advance(time.Second)
	newer := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1, UserID: ptr("u1")})
	createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1, UserID: ptr("u2")})

	all, err := s.ListByOwner(ctx, model.ListByOwnerOptions{Owner: "u1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, older.ID, all[1].ID)

	ready := model.JobStatusReady
	filtered, err := s.ListByOwner(ctx, model.ListByOwnerOptions{Owner: "u1", Status: &ready})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, older.ID, filtered[0].ID)
}

func TestStore_DeleteAndStats(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	a := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1})
	createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1, InitialStatus: model.JobStatusReady})

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.JobStatusCreated])
	assert.Equal(t, 1, stats[model.JobStatusReady])

	ok, err := s.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.LookupNotFound, s.Get(ctx, a.ID, "").Kind)

	ok, err = s.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ReclaimStale(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	stale := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 2, InitialStatus: model.JobStatusReady})
	_, ok, err := s.Claim(ctx, stale.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, s.Update(ctx, stale.ID, model.JobUpdate{}.WithProgress(1, 50)))

	clock.Advance(20 * time.Minute)

	live := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1, InitialStatus: model.JobStatusReady})
	_, ok, err = s.Claim(ctx, live.ID)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.ReclaimStale(ctx, clock.Now().Add(-15*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got := s.Get(ctx, stale.ID, "").Job
	assert.Equal(t, model.JobStatusReady, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, model.JobStatusProcessing, s.Get(ctx, live.ID, "").Job.Status)
}

func TestStore_PurgeTerminal(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	old := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1})
	require.True(t, s.Update(ctx, old.ID, model.StatusUpdate(model.JobStatusCompleted)))
	clock.Advance(48 * time.Hour)
	fresh := createJob(t, s, model.CreateJobRequest{EndpointType: model.EndpointClassify, TotalFiles: 1})
	require.True(t, s.Update(ctx, fresh.ID, model.StatusUpdate(model.JobStatusCompleted)))

	purged, err := s.PurgeTerminal(ctx, core.RetentionParams{
		Status:    model.JobStatusCompleted,
		OlderThan: clock.Now().Add(-24 * time.Hour),
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, old.ID, purged[0].ID)

	_, err = s.PurgeTerminal(ctx, core.RetentionParams{Status: model.JobStatusReady, Limit: 1})
	require.Error(t, err)
}
