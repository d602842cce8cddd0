package jobrunner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/docflow/internal/data/sqlitestore"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/mocks"
	"github.com/target/docflow/internal/testutil"
)

// processorFunc adapts a function to Processor.
type processorFunc func(ctx context.Context, job *model.Job) error

func (f processorFunc) Process(ctx context.Context, job *model.Job) error { return f(ctx, job) }

// completingProcessor marks every job COMPLETED and tracks peak concurrency.
type completingProcessor struct {
	store *sqlitestore.Store
	delay time.Duration

	mu      sync.Mutex
	seen    []string
	running int
	peak    int
}

func (p *completingProcessor) Process(ctx context.Context, job *model.Job) error {
	p.mu.Lock()
	p.seen = append(p.seen, job.ID)
	p.running++
	if p.running > p.peak {
		p.peak = p.running
	}
	p.mu.Unlock()

	time.Sleep(p.delay)
	p.store.Update(ctx, job.ID, model.StatusUpdate(model.JobStatusCompleted).WithProgress(job.TotalFiles, 100))

	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	return nil
}

func (p *completingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

type fakeNotifier struct {
	ch chan struct{}
}

func (n *fakeNotifier) Subscribe() (func(), <-chan struct{}) { return func() {}, n.ch }
func (n *fakeNotifier) StopAll()                              {}

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	store, err := sqlitestore.Open(context.Background(), sqlitestore.Options{Path: filepath.Join(t.TempDir(), "jobs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func readyJobs(t *testing.T, store *sqlitestore.Store, n int) []*model.Job {
	t.Helper()
	jobs := make([]*model.Job, n)
	for i := range jobs {
		job, err := store.Create(context.Background(), testutil.NewJobRequest().WithFiles(2).Ready().Build())
		require.NoError(t, err)
		jobs[i] = job
	}
	return jobs
}

func TestNewRunner_Validation(t *testing.T) {
	store := newStore(t)

	_, err := NewRunner(RunnerOptions{Processor: processorFunc(nil)})
	require.Error(t, err)

	_, err = NewRunner(RunnerOptions{Repo: store})
	require.Error(t, err)

	r, err := NewRunner(RunnerOptions{Repo: store, Processor: processorFunc(nil), ClaimLimit: 1, MaxConcurrentJobs: 4})
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, r.pollInterval)
	assert.Equal(t, 4, r.claimLimit)
}

func TestRunOnce_ClaimsUpToLimitConcurrently(t *testing.T) {
	store := newStore(t)
	jobs := readyJobs(t, store, 5)
	proc := &completingProcessor{store: store, delay: 50 * time.Millisecond}

	r, err := NewRunner(RunnerOptions{Repo: store, Processor: proc})
	require.NoError(t, err)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, proc.processed(), 3)
	assert.Equal(t, 3, proc.peak)

	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, job := range jobs {
		assert.Equal(t, model.JobStatusCompleted, store.Get(context.Background(), job.ID, "").Job.Status)
	}

	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnce_SkipsLostClaims(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	won := &model.Job{ID: "job-won", Status: model.JobStatusProcessing, EndpointType: model.EndpointClassify}
	repo.EXPECT().ListClaimable(gomock.Any(), DefaultClaimLimit).Return([]*model.Job{
		{ID: "job-lost", Status: model.JobStatusReady},
		{ID: "job-broken", Status: model.JobStatusReady},
		{ID: "job-won", Status: model.JobStatusReady},
	}, nil)
	repo.EXPECT().Claim(gomock.Any(), "job-lost").Return(nil, false, nil)
	repo.EXPECT().Claim(gomock.Any(), "job-broken").Return(nil, false, errors.New("database is locked"))
	repo.EXPECT().Claim(gomock.Any(), "job-won").Return(won, true, nil)

	var got []string
	r, err := NewRunner(RunnerOptions{Repo: repo, Processor: processorFunc(func(_ context.Context, job *model.Job) error {
		got = append(got, job.ID)
		return nil
	})})
	require.NoError(t, err)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"job-won"}, got)
}

func TestRunOnce_ListErrorIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().ListClaimable(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	r, err := NewRunner(RunnerOptions{Repo: repo, Processor: processorFunc(nil)})
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunOnce_RecoversProcessorPanic(t *testing.T) {
	store := newStore(t)
	readyJobs(t, store, 2)

	var calls atomic.Int32
	r, err := NewRunner(RunnerOptions{Repo: store, Processor: processorFunc(func(context.Context, *model.Job) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("handled")
	})})
	require.NoError(t, err)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_WakesOnNotification(t *testing.T) {
	store := newStore(t)
	proc := &completingProcessor{store: store}
	notifier := &fakeNotifier{ch: make(chan struct{}, 1)}

	r, err := NewRunner(RunnerOptions{
		Repo:         store,
		Processor:    proc,
		Notifier:     notifier,
		PollInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Give the first empty cycle time to start waiting.
	time.Sleep(20 * time.Millisecond)
	jobs := readyJobs(t, store, 1)
	notifier.ch <- struct{}{}

	require.Eventually(t, func() bool {
		return store.Get(context.Background(), jobs[0].ID, "").Job.Status == model.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestRun_ClosedNotifierFallsBackToPolling(t *testing.T) {
	store := newStore(t)
	proc := &completingProcessor{store: store}
	notifier := &fakeNotifier{ch: make(chan struct{})}
	close(notifier.ch)

	r, err := NewRunner(RunnerOptions{
		Repo:         store,
		Processor:    proc,
		Notifier:     notifier,
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	jobs := readyJobs(t, store, 1)
	require.Eventually(t, func() bool {
		return store.Get(context.Background(), jobs[0].ID, "").Job.Status == model.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
