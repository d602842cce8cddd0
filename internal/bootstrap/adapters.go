package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/adapters/blobstore"
	"github.com/target/docflow/internal/adapters/extract"
	"github.com/target/docflow/internal/adapters/jobrunner"
	"github.com/target/docflow/internal/adapters/llm"
	"github.com/target/docflow/internal/adapters/oidc"
	"github.com/target/docflow/internal/adapters/reaper"
	"github.com/target/docflow/internal/core"
	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/observability/statsd"
	"github.com/target/docflow/internal/ports"
)

const blobCheckTimeout = 10 * time.Second

// BuildBlobStore creates the blob store selected by BLOB_DRIVER. A store that cannot
// be reached degrades to blobstore.Unavailable so uploads fall back to local staging.
//
//nolint:ireturn // the driver is chosen at runtime.
func BuildBlobStore(ctx context.Context, cfg config.BlobConfig, logger *slog.Logger) core.BlobStore {
	fetcher := blobstore.Fetcher{Client: &http.Client{Timeout: cfg.FetchTimeout}}

	switch cfg.Driver {
	case config.BlobDriverS3:
		store, err := blobstore.NewS3Store(blobstore.S3Config{
			Endpoint:     cfg.Endpoint,
			Bucket:       cfg.Bucket,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Region:       cfg.Region,
			UseSSL:       cfg.UseSSL,
			CreateBucket: cfg.CreateBucket,
			Logger:       logger,
			Fetcher:      fetcher,
		})
		if err != nil {
			logger.ErrorContext(ctx, "blob storage unavailable", "driver", cfg.Driver, "endpoint", cfg.Endpoint, "error", err)
			return blobstore.Unavailable{}
		}
		checkCtx, cancel := context.WithTimeout(ctx, blobCheckTimeout)
		defer cancel()
		if err := store.EnsureBucket(checkCtx, cfg.CreateBucket); err != nil {
			logger.ErrorContext(ctx, "blob storage unavailable", "driver", cfg.Driver, "bucket", cfg.Bucket, "error", err)
			return blobstore.Unavailable{}
		}
		logger.InfoContext(ctx, "blob storage ready", "driver", cfg.Driver, "bucket", cfg.Bucket)
		return store
	case config.BlobDriverLocal:
		store, err := blobstore.NewLocalStore(cfg.LocalDir, fetcher)
		if err != nil {
			logger.ErrorContext(ctx, "blob storage unavailable", "driver", cfg.Driver, "dir", cfg.LocalDir, "error", err)
			return blobstore.Unavailable{}
		}
		logger.InfoContext(ctx, "blob storage ready", "driver", cfg.Driver, "dir", store.Root())
		return store
	default:
		logger.WarnContext(ctx, "blob storage disabled; uploads are staged on local disk only")
		return blobstore.Unavailable{}
	}
}

// BuildLLMClient creates the model client used for both classification and analysis.
func BuildLLMClient(cfg config.LLMConfig, logger *slog.Logger) (*llm.Client, error) {
	client, err := llm.NewClient(llm.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		MaxRetries:   cfg.MaxRetries,
		Timeout:      cfg.Timeout,
		RetryDelay:   cfg.RetryDelay,
		Mapping: llm.FieldMapping{
			Summary:         cfg.Mapping.Summary,
			KeyData:         cfg.Mapping.KeyData,
			ActionableItems: cfg.Mapping.ActionableItems,
			RiskIfIgnored:   cfg.Mapping.RiskIfIgnored,
			Status:          cfg.Mapping.Status,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return client, nil
}

// BuildExtractor creates the text extractor backed by the configured external tools.
func BuildExtractor(cfg config.WorkerConfig, logger *slog.Logger) *extract.Extractor {
	return extract.New(extract.Config{
		Pdftotext:     cfg.Pdftotext,
		Tesseract:     cfg.Tesseract,
		TesseractLang: cfg.TesseractLang,
		TessdataDir:   cfg.TessdataDir,
	}, logger)
}

// BuildTokenVerifier returns the OIDC verifier when an issuer is configured, nil otherwise.
//
//nolint:ireturn // nil means bearer tokens are not accepted.
func BuildTokenVerifier(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (ports.TokenVerifier, error) {
	if !cfg.OIDC.Enabled() {
		return nil, nil
	}
	verifier, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
		Issuer:   cfg.OIDC.Issuer,
		Audience: cfg.OIDC.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("create oidc verifier: %w", err)
	}
	logger.InfoContext(ctx, "bearer token verification enabled", "issuer", cfg.OIDC.Issuer)
	return verifier, nil
}

// WorkerConfig contains configuration for the job worker.
type WorkerConfig struct {
	Repo      core.JobRepository
	Processor jobrunner.Processor
	Notifier  domainjob.Notifier
	Config    config.WorkerConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// RunWorker starts the job worker loop.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Repo:              cfg.Repo,
		Processor:         cfg.Processor,
		Notifier:          cfg.Notifier,
		PollInterval:      cfg.Config.PollInterval,
		ClaimLimit:        cfg.Config.ClaimLimit,
		MaxConcurrentJobs: cfg.Config.MaxConcurrentJobs,
		Logger:            cfg.Logger,
		Metrics:           cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create job runner: %w", err)
	}

	return runner.Run(ctx)
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	Repo           core.JobRepository
	Blobs          core.BlobStore
	Logger         *slog.Logger
	Config         config.ReaperConfig
	PerFileTimeout time.Duration
	Metrics        statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		Repo:           cfg.Repo,
		Blobs:          cfg.Blobs,
		Config:         cfg.Config,
		PerFileTimeout: cfg.PerFileTimeout,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
