package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/semaphore"

	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/mocks"
)

type classifierFunc func(ctx context.Context, text string) model.Classification

func (f classifierFunc) Classify(ctx context.Context, text string) model.Classification {
	return f(ctx, text)
}

type analyzerFunc func(ctx context.Context, text string, hints model.AnalyzeHints) model.Analysis

func (f analyzerFunc) Analyze(ctx context.Context, text string, hints model.AnalyzeHints) model.Analysis {
	return f(ctx, text, hints)
}

// echoExtractor returns the file bytes as text.
var echoExtractor = extractorFunc(func(_ context.Context, _ string, data []byte) (string, error) {
	return string(data), nil
})

// keywordClassifier routes text mentioning "tax" to the TAX inbox.
var keywordClassifier = classifierFunc(func(_ context.Context, text string) model.Classification {
	if strings.Contains(strings.ToLower(text), "tax") {
		title := "Q1 VAT"
		return model.Classification{Routing: model.RoutingInbox, Channel: "TAX", TopicTitle: &title, Urgency: "HIGH"}
	}
	return model.ArchiveClassification("no action")
})

func newPipeline(t *testing.T, blobs *mocks.MockBlobStore, c FilePipelineCollaborators, cfg FilePipelineConfig) *FilePipeline {
	t.Helper()
	if blobs != nil {
		c.Blobs = blobs
	}
	if c.Extractor == nil {
		c.Extractor = echoExtractor
	}
	if c.Classifier == nil {
		c.Classifier = keywordClassifier
	}
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	p, err := NewFilePipeline(FilePipelineOptions{Collaborators: c, Config: cfg})
	require.NoError(t, err)
	return p
}

func TestFilePipeline_BlobViaSignedURL(t *testing.T) {
	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().SignedURL(gomock.Any(), "job-1/vat.pdf", DefaultSignedURLTTL).Return("https://blobs.local/signed", nil)
	blobs.EXPECT().Download(gomock.Any(), "https://blobs.local/signed").Return([]byte("Tax assessment"), nil)

	var stagedPath string
	p := newPipeline(t, blobs, FilePipelineCollaborators{
		Extractor: extractorFunc(func(_ context.Context, path string, data []byte) (string, error) {
			stagedPath = path
			_, err := os.Stat(path)
			assert.NoError(t, err)
			return string(data), nil
		}),
	}, FilePipelineConfig{})

	res := p.Process(context.Background(), model.EndpointClassify,
		model.FileReference{Filename: "vat.pdf", Locator: "job-1/vat.pdf", Suffix: ".pdf"}, semaphore.NewWeighted(1))

	assert.Equal(t, model.FileStatusSuccess, res.Status)
	assert.Equal(t, model.RoutingInbox, res.Routing)
	assert.Equal(t, "TAX", res.Channel)
	assert.Equal(t, ".pdf", filepath.Ext(stagedPath))
	_, err := os.Stat(stagedPath)
	assert.True(t, os.IsNotExist(err), "staged file should be removed")
}

func TestFilePipeline_BlobFallsBackToDirectDownload(t *testing.T) {
	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().SignedURL(gomock.Any(), "job-1/a.txt", gomock.Any()).Return("", errors.New("signing unsupported"))
	blobs.EXPECT().Download(gomock.Any(), "job-1/a.txt").Return([]byte("invoice paid"), nil)

	p := newPipeline(t, blobs, FilePipelineCollaborators{}, FilePipelineConfig{})
	res := p.Process(context.Background(), model.EndpointClassify, model.FileReferenceFromLocator("job-1/a.txt"), semaphore.NewWeighted(1))

	assert.Equal(t, model.FileStatusSuccess, res.Status)
	assert.Equal(t, model.RoutingArchive, res.Routing)
}

func TestFilePipeline_FetchFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().Download(gomock.Any(), "https://example.com/x.pdf").Return(nil, errors.New("403 forbidden"))
	p := newPipeline(t, blobs, FilePipelineCollaborators{}, FilePipelineConfig{})

	missing := filepath.Join(t.TempDir(), "gone.txt")
	res := p.Process(context.Background(), model.EndpointClassify, model.FileReferenceFromLocator(missing), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusError, res.Status)
	assert.Equal(t, "File not found: "+missing, res.Error)
	assert.Equal(t, model.RoutingArchive, res.Routing)

	res = p.Process(context.Background(), model.EndpointAnalyze, model.FileReferenceFromLocator("https://example.com/x.pdf"), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusError, res.Status)
	assert.Contains(t, res.Error, "403 forbidden")
	assert.Empty(t, res.Routing)
}

func TestFilePipeline_LocalFileAndEmptyText(t *testing.T) {
	dir := t.TempDir()
	blank := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(blank, []byte("  \n\t "), 0o600))

	called := false
	p := newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)), FilePipelineCollaborators{
		Classifier: classifierFunc(func(context.Context, string) model.Classification {
			called = true
			return model.Classification{}
		}),
	}, FilePipelineConfig{})

	res := p.Process(context.Background(), model.EndpointClassify, model.FileReferenceFromLocator(blank), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusFailed, res.Status)
	assert.Equal(t, model.ErrNoTextExtracted, res.Error)
	assert.False(t, called)

	_, err := os.Stat(blank)
	assert.NoError(t, err, "local inputs are left for the job's staging cleanup")
}

func TestFilePipeline_Timeouts(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(doc, []byte("tax letter"), 0o600))
	cfg := FilePipelineConfig{PerFileTimeout: 20 * time.Millisecond}

	slowClassifier := classifierFunc(func(ctx context.Context, _ string) model.Classification {
		<-ctx.Done()
		return model.ArchiveClassification("gave up")
	})
	slowAnalyzer := analyzerFunc(func(ctx context.Context, _ string, _ model.AnalyzeHints) model.Analysis {
		<-ctx.Done()
		return model.FallbackAnalysis("x", "y")
	})
	p := newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)),
		FilePipelineCollaborators{Classifier: slowClassifier, Analyzer: slowAnalyzer}, cfg)

	res := p.Process(context.Background(), model.EndpointClassify, model.FileReferenceFromLocator(doc), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusTimeout, res.Status)
	assert.Equal(t, model.RoutingArchive, res.Routing)
	assert.Contains(t, res.Error, "Classification timed out")

	res = p.Process(context.Background(), model.EndpointAnalyze, model.FileReferenceFromLocator(doc), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusFailed, res.Status)
	assert.Contains(t, res.Error, "Analysis timed out")
	assert.Nil(t, res.Analysis)
}

func TestFilePipeline_JobDeadlineDuringFetchAndExtract(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(doc, []byte("tax letter"), 0o600))

	slowExtractor := extractorFunc(func(ctx context.Context, _ string, _ []byte) (string, error) {
		<-ctx.Done()
		return "", fmt.Errorf("extract: %w", ctx.Err())
	})
	p := newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)), FilePipelineCollaborators{
		Extractor: slowExtractor,
		Analyzer: analyzerFunc(func(context.Context, string, model.AnalyzeHints) model.Analysis {
			return model.Analysis{Summary: "unreachable"}
		}),
	}, FilePipelineConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := p.Process(ctx, model.EndpointClassify, model.FileReferenceFromLocator(doc), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusTimeout, res.Status)
	assert.Equal(t, model.RoutingArchive, res.Routing)
	assert.Contains(t, res.Error, "while extracting")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	res = p.Process(ctx2, model.EndpointAnalyze, model.FileReferenceFromLocator(doc), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusFailed, res.Status)
	assert.Contains(t, res.Error, "Job timeout exceeded")

	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().Download(gomock.Any(), "https://files.example/a.pdf").
		DoAndReturn(func(ctx context.Context, _ string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	p = newPipeline(t, blobs, FilePipelineCollaborators{}, FilePipelineConfig{})
	ctx3, cancel3 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel3()
	res = p.Process(ctx3, model.EndpointClassify, model.FileReferenceFromLocator("https://files.example/a.pdf"), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusTimeout, res.Status)
	assert.Equal(t, model.RoutingArchive, res.Routing)
	assert.Contains(t, res.Error, "while fetching")
}

func TestFilePipeline_AnalyzeKeepsPreview(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "long.txt")
	long := strings.Repeat("é", extractedTextPreview+50)
	require.NoError(t, os.WriteFile(doc, []byte(long), 0o600))

	p := newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)), FilePipelineCollaborators{
		Analyzer: analyzerFunc(func(_ context.Context, _ string, hints model.AnalyzeHints) model.Analysis {
			assert.Equal(t, model.AnalyzeHints{}, hints)
			return model.Analysis{Summary: "ok", Status: "OPEN"}
		}),
	}, FilePipelineConfig{})

	res := p.Process(context.Background(), model.EndpointAnalyze, model.FileReferenceFromLocator(doc), semaphore.NewWeighted(1))
	require.Equal(t, model.FileStatusSuccess, res.Status)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, "ok", res.Analysis.Summary)
	assert.Equal(t, extractedTextPreview, len([]rune(res.ExtractedText)))
}

func TestFilePipeline_RecoversPanics(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(doc, []byte("x"), 0o600))

	p := newPipeline(t, mocks.NewMockBlobStore(gomock.NewController(t)), FilePipelineCollaborators{
		Extractor: extractorFunc(func(context.Context, string, []byte) (string, error) {
			panic("boom")
		}),
	}, FilePipelineConfig{})

	res := p.Process(context.Background(), model.EndpointClassify, model.FileReferenceFromLocator(doc), semaphore.NewWeighted(1))
	assert.Equal(t, model.FileStatusError, res.Status)
	assert.Contains(t, res.Error, "boom")
}

func TestNewFilePipeline_Validation(t *testing.T) {
	blobs := mocks.NewMockBlobStore(gomock.NewController(t))
	_, err := NewFilePipeline(FilePipelineOptions{})
	require.Error(t, err)
	_, err = NewFilePipeline(FilePipelineOptions{Collaborators: FilePipelineCollaborators{Blobs: blobs}})
	require.Error(t, err)
	_, err = NewFilePipeline(FilePipelineOptions{Collaborators: FilePipelineCollaborators{Blobs: blobs, Extractor: echoExtractor}})
	require.Error(t, err)
}
