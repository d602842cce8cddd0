package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/semaphore"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/mocks"
)

func TestDirectService_ClassifiesInRequest(t *testing.T) {
	root := t.TempDir()
	p := newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)), FilePipelineCollaborators{}, FilePipelineConfig{})
	svc, err := NewDirectService(DirectServiceOptions{Pipeline: p, Limits: IngestConfig{StagingRoot: root}})
	require.NoError(t, err)

	res, err := svc.Run(context.Background(), model.EndpointClassify, []UploadedFile{
		{Filename: "vat.txt", Data: []byte("tax due")},
		{Filename: "menu.txt", Data: []byte("lunch")},
		{Filename: "blank.txt", Data: []byte("  ")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalFiles)
	assert.Equal(t, 2, res.Successful)
	require.NotNil(t, res.InboxCount)
	assert.Equal(t, 1, *res.InboxCount)
	assert.Equal(t, 2, *res.ArchiveCount)
	assert.Equal(t, "vat.txt", res.Results[0].Filename)
	assert.Equal(t, model.RoutingInbox, res.Results[0].Routing)
	assert.Equal(t, model.ErrNoTextExtracted, res.Results[2].Error)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "request staging dir removed")
}

func TestDirectService_StagesUnderSafeNames(t *testing.T) {
	root := t.TempDir()
	var mu sync.Mutex
	var seen []string
	p := pipelineFunc(func(_ context.Context, _ model.EndpointType, ref model.FileReference, _ *semaphore.Weighted) model.FileProcessingResult {
		mu.Lock()
		seen = append(seen, ref.Locator)
		mu.Unlock()
		return model.FileProcessingResult{Filename: ref.Filename, Status: model.FileStatusSuccess}
	})
	svc, err := NewDirectService(DirectServiceOptions{Pipeline: p, Limits: IngestConfig{StagingRoot: root}})
	require.NoError(t, err)

	res, err := svc.Run(context.Background(), model.EndpointAnalyze, []UploadedFile{
		{Filename: "../../etc/passwd", Data: []byte("x")},
		{Filename: "../../etc/passwd", Data: []byte("y")},
	})
	require.NoError(t, err)
	assert.Nil(t, res.InboxCount)
	assert.Equal(t, "../../etc/passwd", res.Results[0].Filename)
	require.Len(t, seen, 2)
	for _, loc := range seen {
		rel, err := filepath.Rel(root, loc)
		require.NoError(t, err)
		assert.NotContains(t, rel, "..")
	}
	assert.NotEqual(t, seen[0], seen[1])
}

func TestDirectService_RejectsOverLimit(t *testing.T) {
	p := pipelineFunc(func(context.Context, model.EndpointType, model.FileReference, *semaphore.Weighted) model.FileProcessingResult {
		t.Fatal("pipeline must not run")
		return model.FileProcessingResult{}
	})
	svc, err := NewDirectService(DirectServiceOptions{Pipeline: p, Limits: IngestConfig{MaxFiles: 1, MaxFileBytes: 4, StagingRoot: t.TempDir()}})
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), model.EndpointClassify, nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Run(context.Background(), model.EndpointClassify, []UploadedFile{{Filename: "a"}, {Filename: "b"}})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Run(context.Background(), model.EndpointClassify, []UploadedFile{{Filename: "big", Data: []byte("12345")}})
	var sizeErr *SizeLimitError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, "big", sizeErr.Filename)
}

func TestDirectService_RequestTimeoutReachesPipeline(t *testing.T) {
	p := pipelineFunc(func(ctx context.Context, kind model.EndpointType, ref model.FileReference, _ *semaphore.Weighted) model.FileProcessingResult {
		<-ctx.Done()
		return model.NewFailedFileResult(kind, ref.Filename, model.FileStatusTimeout, "cut off")
	})
	svc, err := NewDirectService(DirectServiceOptions{Pipeline: p, Timeout: 10 * time.Millisecond, Limits: IngestConfig{StagingRoot: t.TempDir()}})
	require.NoError(t, err)

	res, err := svc.Run(context.Background(), model.EndpointClassify, []UploadedFile{{Filename: "a.txt", Data: []byte("x")}})
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusTimeout, res.Results[0].Status)
	assert.Equal(t, 1, res.Failed)
}
