package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/observability/metrics"
	"github.com/target/docflow/internal/observability/statsd"
)

const (
	// DefaultPerFileTimeout bounds one classify or analyze call.
	DefaultPerFileTimeout = 120 * time.Second
	// DefaultSignedURLTTL is the lifetime of download URLs minted for the worker.
	DefaultSignedURLTTL = time.Hour
	// extractedTextPreview is how much extracted text an ANALYZE result keeps.
	extractedTextPreview = 1000
)

// FilePipelineConfig tunes the per-file pipeline.
type FilePipelineConfig struct {
	PerFileTimeout time.Duration
	SignedURLTTL   time.Duration
	// TempDir holds staged downloads. Empty uses os.TempDir.
	TempDir string
}

// FilePipelineCollaborators are the adapters a file passes through.
type FilePipelineCollaborators struct {
	Blobs      core.BlobStore // Required: blob store for locators and URLs
	Extractor  core.Extractor // Required: usually an ExtractionPool
	Classifier core.Classifier
	Analyzer   core.Analyzer
}

// FilePipelineOptions groups dependencies for FilePipeline.
type FilePipelineOptions struct {
	Collaborators FilePipelineCollaborators
	Config        FilePipelineConfig
	Logger        *slog.Logger
	Metrics       statsd.Sink
}

// FilePipeline runs fetch, extract and classify or analyze for one file. It never returns
// an error: every failure becomes a non-success FileProcessingResult.
type FilePipeline struct {
	blobs      core.BlobStore
	extractor  core.Extractor
	classifier core.Classifier
	analyzer   core.Analyzer
	cfg        FilePipelineConfig
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewFilePipeline validates collaborators and applies defaults.
func NewFilePipeline(opts FilePipelineOptions) (*FilePipeline, error) {
	c := opts.Collaborators
	if c.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	if c.Extractor == nil {
		return nil, errors.New("Extractor is required")
	}
	if c.Classifier == nil && c.Analyzer == nil {
		return nil, errors.New("a Classifier or an Analyzer is required")
	}
	cfg := opts.Config
	if cfg.PerFileTimeout <= 0 {
		cfg.PerFileTimeout = DefaultPerFileTimeout
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = DefaultSignedURLTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FilePipeline{
		blobs:      c.Blobs,
		extractor:  c.Extractor,
		classifier: c.Classifier,
		analyzer:   c.Analyzer,
		cfg:        cfg,
		logger:     logger.With("component", "file_pipeline"),
		metrics:    opts.Metrics,
	}, nil
}

// PerFileTimeout returns the effective per-file timeout.
func (p *FilePipeline) PerFileTimeout() time.Duration { return p.cfg.PerFileTimeout }

// Process runs the pipeline for ref. llm is shared by every file of the job and bounds
// concurrent LLM calls.
func (p *FilePipeline) Process(
	ctx context.Context,
	kind model.EndpointType,
	ref model.FileReference,
	llm *semaphore.Weighted,
) (res model.FileProcessingResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "panic while processing file", "filename", ref.Filename, "panic", r)
			res = model.NewFailedFileResult(kind, ref.Filename, model.FileStatusError, fmt.Sprintf("panic: %v", r))
		}
		metrics.EmitFileProcessed(p.metrics, string(kind), string(res.Status), time.Since(start))
	}()

	path, data, cleanup, err := p.fetch(ctx, ref)
	defer cleanup()
	if err != nil {
		if deadlineHit(ctx, err) {
			return deadlineResult(kind, ref.Filename, "fetching")
		}
		p.logger.WarnContext(ctx, "fetch file failed", "filename", ref.Filename, "source", ref.Source(), "error", err)
		return model.NewFailedFileResult(kind, ref.Filename, model.FileStatusError, err.Error())
	}

	text, err := p.extractor.Extract(ctx, path, data)
	if err != nil {
		if deadlineHit(ctx, err) {
			return deadlineResult(kind, ref.Filename, "extracting")
		}
		p.logger.WarnContext(ctx, "extract text failed", "filename", ref.Filename, "error", err)
		return model.NewFailedFileResult(kind, ref.Filename, model.FileStatusError, err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return model.NewFailedFileResult(kind, ref.Filename, model.FileStatusFailed, model.ErrNoTextExtracted)
	}

	if err := llm.Acquire(ctx, 1); err != nil {
		return p.timeoutResult(kind, ref.Filename)
	}
	defer llm.Release(1)

	fileCtx, cancel := context.WithTimeout(ctx, p.cfg.PerFileTimeout)
	defer cancel()

	switch kind {
	case model.EndpointAnalyze:
		analysis := p.analyzer.Analyze(fileCtx, text, model.AnalyzeHints{})
		if fileCtx.Err() != nil {
			return p.timeoutResult(kind, ref.Filename)
		}
		return model.FileProcessingResult{
			Filename:      ref.Filename,
			Status:        model.FileStatusSuccess,
			Analysis:      &analysis,
			ExtractedText: preview(text, extractedTextPreview),
		}
	default:
		c := p.classifier.Classify(fileCtx, text)
		if fileCtx.Err() != nil {
			return p.timeoutResult(kind, ref.Filename)
		}
		out := model.FileProcessingResult{Filename: ref.Filename, Status: model.FileStatusSuccess}
		out.ApplyClassification(c)
		return out
	}
}

// timeoutResult reports a file whose LLM stage did not finish in time. CLASSIFY records a
// timeout routed to ARCHIVE; ANALYZE records a failure.
func (p *FilePipeline) timeoutResult(kind model.EndpointType, filename string) model.FileProcessingResult {
	secs := int(p.cfg.PerFileTimeout.Seconds())
	if kind == model.EndpointAnalyze {
		return model.NewFailedFileResult(kind, filename, model.FileStatusFailed,
			fmt.Sprintf("Analysis timed out after %ds", secs))
	}
	return model.NewFailedFileResult(kind, filename, model.FileStatusTimeout,
		fmt.Sprintf("Classification timed out after %ds", secs))
}

// deadlineHit reports whether err came from the job deadline rather than the file.
func deadlineHit(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// deadlineResult reports a file cut off by the job deadline before its LLM stage. It
// follows the timeout outcome of each pipeline.
func deadlineResult(kind model.EndpointType, filename, stage string) model.FileProcessingResult {
	msg := "Job timeout exceeded while " + stage + " the file"
	if kind == model.EndpointAnalyze {
		return model.NewFailedFileResult(kind, filename, model.FileStatusFailed, msg)
	}
	return model.NewFailedFileResult(kind, filename, model.FileStatusTimeout, msg)
}

// fetch returns a filesystem path carrying the right suffix plus the file bytes. Remote
// bytes are staged in a temp file which cleanup removes.
func (p *FilePipeline) fetch(ctx context.Context, ref model.FileReference) (string, []byte, func(), error) {
	noop := func() {}
	switch ref.Source() {
	case model.FileSourceLocal:
		b, err := os.ReadFile(ref.Locator)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", nil, noop, fmt.Errorf("File not found: %s", ref.Locator)
			}
			return "", nil, noop, fmt.Errorf("read %s: %w", ref.Locator, err)
		}
		return ref.Locator, b, noop, nil
	case model.FileSourceURL:
		b, err := p.blobs.Download(ctx, ref.Locator)
		if err != nil {
			return "", nil, noop, fmt.Errorf("download %s: %w", ref.Filename, err)
		}
		return p.stage(ref, b)
	default:
		b, err := p.downloadBlob(ctx, ref)
		if err != nil {
			return "", nil, noop, err
		}
		return p.stage(ref, b)
	}
}

// downloadBlob prefers a signed URL and falls back to a direct read when the store cannot
// sign or the signed fetch fails.
func (p *FilePipeline) downloadBlob(ctx context.Context, ref model.FileReference) ([]byte, error) {
	url, err := p.blobs.SignedURL(ctx, ref.Locator, p.cfg.SignedURLTTL)
	if err == nil {
		b, derr := p.blobs.Download(ctx, url)
		if derr == nil {
			return b, nil
		}
		p.logger.WarnContext(ctx, "signed url download failed, reading blob directly",
			"filename", ref.Filename, "error", derr)
	} else {
		p.logger.DebugContext(ctx, "signed url unavailable, reading blob directly",
			"filename", ref.Filename, "error", err)
	}
	b, err := p.blobs.Download(ctx, ref.Locator)
	if err != nil {
		return nil, fmt.Errorf("download blob %s: %w", ref.Locator, err)
	}
	return b, nil
}

func (p *FilePipeline) stage(ref model.FileReference, b []byte) (string, []byte, func(), error) {
	suffix := ref.Suffix
	if suffix == "" {
		suffix = filepath.Ext(ref.Filename)
	}
	f, err := os.CreateTemp(p.cfg.TempDir, "docflow-*"+suffix)
	if err != nil {
		return "", nil, func() {}, fmt.Errorf("stage %s: %w", ref.Filename, err)
	}
	name := f.Name()
	cleanup := func() {
		if rmErr := os.Remove(name); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.logger.Warn("remove staged file", "path", name, "error", rmErr)
		}
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return "", nil, cleanup, fmt.Errorf("stage %s: %w", ref.Filename, err)
	}
	if err := f.Close(); err != nil {
		return "", nil, cleanup, fmt.Errorf("stage %s: %w", ref.Filename, err)
	}
	return name, b, cleanup, nil
}

// preview returns the first n runes of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
