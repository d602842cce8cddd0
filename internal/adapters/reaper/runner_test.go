package reaper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/data/sqlitestore"
	"github.com/target/docflow/internal/mocks"
)

func testConfig() config.ReaperConfig {
	return config.ReaperConfig{Interval: time.Minute, StaleAfter: 15 * time.Minute, BatchSize: 10, FailedMaxAge: time.Hour}
}

func TestNewRunner_RequiresRepo(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Config: testConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job repository is required")
}

func TestNewRunner_UsesStoreRetention(t *testing.T) {
	store, err := sqlitestore.Open(context.Background(), sqlitestore.Options{Path: filepath.Join(t.TempDir(), "jobs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts := RunnerOptions{Repo: store, Config: testConfig()}
	require.NoError(t, validateRunnerOptions(&opts))
	assert.Same(t, store, opts.Retention)

	r, err := NewRunner(RunnerOptions{Repo: store, Config: testConfig()})
	require.NoError(t, err)
	require.NoError(t, r.RunOnce(context.Background()))
}

func TestNewRunner_StoreWithoutRetention(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().ReclaimStale(gomock.Any(), gomock.Any(), 10).Return(int64(0), nil)

	r, err := NewRunner(RunnerOptions{Repo: repo, Config: testConfig()})
	require.NoError(t, err)
	require.NoError(t, r.RunOnce(context.Background()))
}
