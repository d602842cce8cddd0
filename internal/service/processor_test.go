package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/semaphore"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/data/sqlitestore"
	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/mocks"
	"github.com/target/docflow/internal/observability/notify"
	"github.com/target/docflow/internal/service/failurenotifier"
	"github.com/target/docflow/internal/testutil"
)

// recordingRepo records progress writes and can refuse to store a final result.
type recordingRepo struct {
	core.JobRepository

	mu              sync.Mutex
	progress        []int
	rejectCompleted bool
}

func (r *recordingRepo) Update(ctx context.Context, id string, upd model.JobUpdate) bool {
	r.mu.Lock()
	if upd.Progress != nil && upd.Status != nil && *upd.Status != model.JobStatusReady {
		r.progress = append(r.progress, *upd.Progress)
	}
	reject := r.rejectCompleted && upd.Status != nil && *upd.Status == model.JobStatusCompleted
	r.mu.Unlock()
	if reject {
		return false
	}
	return r.JobRepository.Update(ctx, id, upd)
}

func (r *recordingRepo) UpdateIf(ctx context.Context, id string, guard model.UpdateGuard, upd model.JobUpdate) error {
	r.mu.Lock()
	if upd.Progress != nil && upd.Status != nil && *upd.Status != model.JobStatusReady {
		r.progress = append(r.progress, *upd.Progress)
	}
	reject := r.rejectCompleted && upd.Status != nil && *upd.Status == model.JobStatusCompleted
	r.mu.Unlock()
	if reject {
		return apperrors.Unavailable(nil, "store down")
	}
	return r.JobRepository.UpdateIf(ctx, id, guard, upd)
}

// pipelineFunc adapts a function to the per-file stage.
type pipelineFunc func(ctx context.Context, kind model.EndpointType, ref model.FileReference, llm *semaphore.Weighted) model.FileProcessingResult

func (f pipelineFunc) Process(ctx context.Context, kind model.EndpointType, ref model.FileReference, llm *semaphore.Weighted) model.FileProcessingResult {
	return f(ctx, kind, ref, llm)
}

type processorFixture struct {
	store     *sqlitestore.Store
	repo      *recordingRepo
	processor *JobProcessor
	staging   string
	failures  []notify.JobFailurePayload
}

func newProcessorFixture(t *testing.T, pipeline filePipeline) *processorFixture {
	t.Helper()
	store, err := sqlitestore.Open(context.Background(), sqlitestore.Options{Path: filepath.Join(t.TempDir(), "jobs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &processorFixture{store: store, repo: &recordingRepo{JobRepository: store}, staging: t.TempDir()}
	var mu sync.Mutex
	notifier := failurenotifier.NewService(failurenotifier.Options{Sinks: []failurenotifier.SinkRegistration{{
		Name: "capture",
		Sink: notify.SinkFunc(func(_ context.Context, p notify.JobFailurePayload) error {
			mu.Lock()
			defer mu.Unlock()
			f.failures = append(f.failures, p)
			return nil
		}),
	}}})

	f.processor, err = NewJobProcessor(JobProcessorOptions{
		Repo:     f.repo,
		Pipeline: pipeline,
		Config: JobProcessorConfig{
			NoFileDataAttempts: 2,
			NoFileDataDelay:    time.Millisecond,
			Retry:              domainjob.RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond},
			StagingRoot:        f.staging,
		},
		FailureNotifier: notifier,
	})
	require.NoError(t, err)
	return f
}

// claimed creates a READY job carrying refs and claims it.
func (f *processorFixture) claimed(t *testing.T, kind model.EndpointType, refs []model.FileReference) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.store.Create(ctx, testutil.NewJobRequest().WithEndpoint(kind).WithFiles(len(refs)).WithOwner("u-1").Ready().Build())
	require.NoError(t, err)
	if len(refs) > 0 {
		require.NoError(t, f.store.WriteFileReferences(ctx, job.ID, refs))
	}
	claimed, ok, err := f.store.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return claimed
}

func (f *processorFixture) reload(t *testing.T, id string) *model.Job {
	t.Helper()
	lr := f.store.Get(context.Background(), id, "")
	require.Equal(t, model.LookupFound, lr.Kind)
	return lr.Job
}

func (f *processorFixture) localFile(t *testing.T, jobID, name, content string) model.FileReference {
	t.Helper()
	dir := StagingDir(f.staging, jobID)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return model.FileReferenceFromLocator(path)
}

func TestJobProcessor_ClassifiesEveryFile(t *testing.T) {
	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().SignedURL(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("unsupported")).AnyTimes()
	blobs.EXPECT().Download(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, locator string) ([]byte, error) {
		return []byte("content of " + locator + ": tax reminder"), nil
	}).AnyTimes()

	f := newProcessorFixture(t, newPipeline(t, blobs, FilePipelineCollaborators{}, FilePipelineConfig{}))
	job, err := f.store.Create(context.Background(), testutil.NewJobRequest().WithFiles(2).Ready().Build())
	require.NoError(t, err)
	refs := []model.FileReference{
		model.FileReferenceFromLocator(job.ID + "/letter.txt"),
		f.localFile(t, job.ID, "receipt.txt", "coffee receipt"),
	}
	require.NoError(t, f.store.WriteFileReferences(context.Background(), job.ID, refs))
	claimed, ok, err := f.store.Claim(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.processor.Process(context.Background(), claimed))

	got := f.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 2, got.ProcessedFiles)
	assert.Nil(t, got.Error)

	var result model.JobResult
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 2, result.Successful)
	require.NotNil(t, result.InboxCount)
	assert.Equal(t, 1, *result.InboxCount)
	assert.Equal(t, 1, *result.ArchiveCount)
	assert.Equal(t, "letter.txt", result.Results[0].Filename)
	assert.Equal(t, model.RoutingInbox, result.Results[0].Routing)
	assert.Equal(t, model.RoutingArchive, result.Results[1].Routing)

	assert.IsNonDecreasing(t, f.repo.progress)
	_, err = os.Stat(StagingDir(f.staging, job.ID))
	assert.True(t, os.IsNotExist(err), "staging dir removed after completion")
	assert.Empty(t, f.failures)
}

func TestJobProcessor_EmptyExtractionStillCompletes(t *testing.T) {
	f := newProcessorFixture(t, newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)),
		FilePipelineCollaborators{}, FilePipelineConfig{}))
	job, err := f.store.Create(context.Background(), testutil.NewJobRequest().Ready().Build())
	require.NoError(t, err)
	ref := f.localFile(t, job.ID, "scan.txt", "   ")
	require.NoError(t, f.store.WriteFileReferences(context.Background(), job.ID, []model.FileReference{ref}))
	claimed, _, err := f.store.Claim(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, f.processor.Process(context.Background(), claimed))

	got := f.reload(t, job.ID)
	require.Equal(t, model.JobStatusCompleted, got.Status)
	var result model.JobResult
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, model.FileStatusFailed, result.Results[0].Status)
	assert.Equal(t, model.ErrNoTextExtracted, result.Results[0].Error)
}

func TestJobProcessor_TransientFailuresExhaustRetries(t *testing.T) {
	f := newProcessorFixture(t, newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)),
		FilePipelineCollaborators{}, FilePipelineConfig{}))
	f.repo.rejectCompleted = true

	job, err := f.store.Create(context.Background(), testutil.NewJobRequest().WithOwner("u-9").Ready().Build())
	require.NoError(t, err)
	ref := f.localFile(t, job.ID, "a.txt", "tax")
	require.NoError(t, f.store.WriteFileReferences(context.Background(), job.ID, []model.FileReference{ref}))
	claimed, _, err := f.store.Claim(context.Background(), job.ID)
	require.NoError(t, err)

	err = f.processor.Process(context.Background(), claimed)
	require.Error(t, err)

	got := f.reload(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "Job processing failed: ")

	require.Len(t, f.failures, 1)
	assert.Equal(t, job.ID, f.failures[0].JobID)
	assert.Equal(t, "u-9", f.failures[0].UserID)
	assert.Equal(t, 3, f.failures[0].RetryCount)
	assert.Equal(t, notify.SeverityCritical, f.failures[0].Severity)
	assert.True(t, f.failures[0].Transient)
}

func TestJobProcessor_NoFileDataFails(t *testing.T) {
	f := newProcessorFixture(t, newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)),
		FilePipelineCollaborators{}, FilePipelineConfig{}))
	job := f.claimed(t, model.EndpointClassify, nil)

	err := f.processor.Process(context.Background(), job)
	require.ErrorIs(t, err, ErrNoFileData)

	got := f.reload(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "Job processing failed: No file data found for job "+job.ID, *got.Error)
	assert.Equal(t, 0, got.RetryCount)

	require.Len(t, f.failures, 1)
	assert.Equal(t, "no_file_data", f.failures[0].ErrorClass)
	assert.False(t, f.failures[0].Transient)
	assert.Equal(t, notify.SeverityWarning, f.failures[0].Severity)
}

func TestJobProcessor_LateReferencesArePickedUp(t *testing.T) {
	f := newProcessorFixture(t, newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)),
		FilePipelineCollaborators{}, FilePipelineConfig{}))
	f.processor.cfg.NoFileDataDelay = 50 * time.Millisecond
	job := f.claimed(t, model.EndpointClassify, nil)
	ref := f.localFile(t, job.ID, "late.txt", "tax notice")

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.NoError(t, f.store.WriteFileReferences(context.Background(), job.ID, []model.FileReference{ref}))
	}()

	require.NoError(t, f.processor.Process(context.Background(), job))
	assert.Equal(t, model.JobStatusCompleted, f.reload(t, job.ID).Status)
}

func TestJobProcessor_TotalFollowsResolvedReferences(t *testing.T) {
	f := newProcessorFixture(t, newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)),
		FilePipelineCollaborators{}, FilePipelineConfig{}))
	ctx := context.Background()
	job, err := f.store.Create(ctx, testutil.NewJobRequest().WithFiles(1).Ready().Build())
	require.NoError(t, err)
	refs := []model.FileReference{
		f.localFile(t, job.ID, "one.txt", "tax one"),
		f.localFile(t, job.ID, "two.txt", "tax two"),
	}
	require.NoError(t, f.store.WriteFileReferences(ctx, job.ID, refs))
	claimed, ok, err := f.store.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.processor.Process(ctx, claimed))

	got := f.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, 2, got.ProcessedFiles)
	assert.Equal(t, 0, got.RetryCount)
}

func TestJobProcessor_BatchIsolatesFileFailures(t *testing.T) {
	extractor := extractorFunc(func(_ context.Context, path string, data []byte) (string, error) {
		switch filepath.Base(path) {
		case "bad.txt":
			return "", errors.New("corrupt document")
		case "boom.txt":
			panic("extractor crashed")
		}
		return string(data), nil
	})
	f := newProcessorFixture(t, newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)),
		FilePipelineCollaborators{Extractor: extractor}, FilePipelineConfig{}))
	ctx := context.Background()
	job, err := f.store.Create(ctx, testutil.NewJobRequest().WithFiles(4).Ready().Build())
	require.NoError(t, err)
	refs := []model.FileReference{
		f.localFile(t, job.ID, "tax.txt", "tax notice"),
		f.localFile(t, job.ID, "bad.txt", "x"),
		f.localFile(t, job.ID, "menu.txt", "lunch menu"),
		f.localFile(t, job.ID, "boom.txt", "y"),
	}
	require.NoError(t, f.store.WriteFileReferences(ctx, job.ID, refs))
	claimed, _, err := f.store.Claim(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, f.processor.Process(ctx, claimed))

	got := f.reload(t, job.ID)
	require.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 4, got.ProcessedFiles)
	assert.Equal(t, 100, got.Progress)

	var result model.JobResult
	require.NoError(t, json.Unmarshal(got.Result, &result))
	require.Len(t, result.Results, 4)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, model.FileStatusSuccess, result.Results[0].Status)
	assert.Equal(t, model.RoutingInbox, result.Results[0].Routing)
	assert.Equal(t, model.FileStatusError, result.Results[1].Status)
	assert.Equal(t, "corrupt document", result.Results[1].Error)
	assert.Equal(t, model.FileStatusSuccess, result.Results[2].Status)
	assert.Equal(t, model.RoutingArchive, result.Results[2].Routing)
	assert.Equal(t, model.FileStatusError, result.Results[3].Status)
	assert.Contains(t, result.Results[3].Error, "extractor crashed")
	assert.Empty(t, f.failures)
}

func TestJobProcessor_StopsAfterLosingClaim(t *testing.T) {
	var f *processorFixture
	var once sync.Once
	otherResult := json.RawMessage(`{"total_files":1,"successful":1,"failed":0,"results":[]}`)
	stale := pipelineFunc(func(_ context.Context, _ model.EndpointType, ref model.FileReference, _ *semaphore.Weighted) model.FileProcessingResult {
		once.Do(func() {
			// The reaper hands the job to another worker, which finishes it first.
			n, err := f.store.ReclaimStale(context.Background(), time.Now().Add(time.Hour), 10)
			assert.NoError(t, err)
			assert.EqualValues(t, 1, n)
			jobID := filepath.Base(filepath.Dir(ref.Locator))
			other, ok, err := f.store.Claim(context.Background(), jobID)
			if !assert.NoError(t, err) || !assert.True(t, ok) {
				return
			}
			done := model.StatusUpdate(model.JobStatusCompleted).WithProgress(1, 100)
			done.Result = otherResult
			assert.NoError(t, f.store.UpdateIf(context.Background(), jobID, model.ClaimGuard(other), done))
		})
		return model.FileProcessingResult{Filename: ref.Filename, Status: model.FileStatusSuccess}
	})
	f = newProcessorFixture(t, stale)

	ctx := context.Background()
	job, err := f.store.Create(ctx, testutil.NewJobRequest().WithFiles(1).WithOwner("u-2").Ready().Build())
	require.NoError(t, err)
	ref := f.localFile(t, job.ID, "a.txt", "tax")
	require.NoError(t, f.store.WriteFileReferences(ctx, job.ID, []model.FileReference{ref}))
	claimed, _, err := f.store.Claim(ctx, job.ID)
	require.NoError(t, err)

	err = f.processor.Process(ctx, claimed)
	require.ErrorIs(t, err, model.ErrJobMoved)
	assert.True(t, apperrors.IsConflict(err))

	got := f.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.JSONEq(t, string(otherResult), string(got.Result))
	assert.Nil(t, got.Error)
	assert.Empty(t, f.failures)
	_, err = os.Stat(StagingDir(f.staging, job.ID))
	assert.NoError(t, err, "staging dir left to the new owner")
}

func TestJobProcessor_LostClaimBlocksFailedWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	claimedAt := time.Now().UTC()
	job := &model.Job{ID: "job-7", Status: model.JobStatusProcessing, EndpointType: model.EndpointClassify, ClaimedAt: &claimedAt}

	repo.EXPECT().UpdateIf(gomock.Any(), "job-7", model.UpdateGuard{Status: model.JobStatusProcessing, ClaimedAt: &claimedAt}, gomock.Any()).
		Return(nil)
	repo.EXPECT().UpdateIf(gomock.Any(), "job-7", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ model.UpdateGuard, upd model.JobUpdate) error {
			require.NotNil(t, upd.Status)
			assert.Equal(t, model.JobStatusFailed, *upd.Status)
			return apperrors.Wrapf(model.ErrJobMoved, apperrors.ErrCodeConflict, "update job %s", "job-7")
		})

	f := &processorFixture{}
	var err error
	f.processor, err = NewJobProcessor(JobProcessorOptions{
		Repo:     repo,
		Pipeline: pipelineFunc(nil),
		Config: JobProcessorConfig{
			NoFileDataAttempts: 1,
			Retry:              domainjob.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond},
			StagingRoot:        t.TempDir(),
		},
		FailureNotifier: failurenotifier.NewService(failurenotifier.Options{Sinks: []failurenotifier.SinkRegistration{{
			Name: "capture",
			Sink: notify.SinkFunc(func(_ context.Context, p notify.JobFailurePayload) error {
				f.failures = append(f.failures, p)
				return nil
			}),
		}}}),
	})
	require.NoError(t, err)

	err = f.processor.Process(context.Background(), job)
	require.ErrorIs(t, err, ErrNoFileData)
	assert.Empty(t, f.failures, "no failure alert for a job another worker owns")
}

func TestStagingDir_StaysUnderRoot(t *testing.T) {
	root := filepath.Join(os.TempDir(), StagingDirName)
	assert.Equal(t, filepath.Join(root, "abc"), StagingDir(root, "abc"))
	assert.Equal(t, filepath.Join(root, "etc"), StagingDir(root, "../../etc"))
}

func TestNewJobProcessor_Validation(t *testing.T) {
	_, err := NewJobProcessor(JobProcessorOptions{})
	require.Error(t, err)
	_, err = NewJobProcessor(JobProcessorOptions{Repo: mocks.NewMockJobRepository(gomock.NewController(t))})
	require.Error(t, err)
}
