package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/data"
	domainjob "github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/observability/notify/pagerduty"
	"github.com/target/docflow/internal/observability/notify/slack"
	"github.com/target/docflow/internal/observability/statsd"
	"github.com/target/docflow/internal/ports"
	"github.com/target/docflow/internal/service"
	"github.com/target/docflow/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Store     *Store
	Ingest    *service.IngestService
	Jobs      *service.JobService
	Blobs     core.BlobStore
	Limiter   core.RateLimiter
	Publisher core.ReadyPublisher
	Notifier  domainjob.Notifier
	Verifier  ports.TokenVerifier

	// Synchronous routes; nil unless the HTTP server serves them.
	Direct *service.DirectService

	// Worker side; nil unless the worker mode is enabled.
	Processor *service.JobProcessor
	Pool      *service.ExtractionPool
	Pipeline  *service.FilePipeline

	Observability ObservabilityContainer
}

// Close releases process-wide resources owned by the container. The store is closed by
// whoever opened it.
func (c *ServiceContainer) Close() {
	if c.Notifier != nil {
		c.Notifier.StopAll()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Observability.MetricsSink != nil {
		_ = c.Observability.MetricsSink.Close()
	}
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	Store       *Store
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig, role string) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.Prefix,
			Role:       role,
			GlobalTags: cfg.Metrics.Tags,
			Logger:     obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

// readySignals picks the notification transport: Redis pub/sub when a client is
// connected, otherwise whatever the job store offers (LISTEN/NOTIFY on postgres, nothing
// on sqlite, where workers poll).
func readySignals(deps *ServiceDeps) (core.RateLimiter, core.ReadyPublisher, domainjob.Waiter) {
	if deps.RedisClient != nil {
		repo := data.NewRedisRepo(data.RedisRepoOptions{Client: deps.RedisClient})
		return repo, repo, repo
	}
	if deps.Store != nil {
		return nil, nil, deps.Store.Waiter
	}
	return nil, nil, nil
}

// NewServices wires the services for the enabled modes.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.Store == nil {
		return ServiceContainer{}, errors.New("config and store are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, cfg.Observability, cfg.MetricsRole())
	blobs := BuildBlobStore(ctx, cfg.Blob, logger)
	limiter, publisher, waiter := readySignals(deps)
	if !cfg.RateLimit.Enabled {
		limiter = nil
	}

	container := ServiceContainer{
		Store:         deps.Store,
		Blobs:         blobs,
		Limiter:       limiter,
		Publisher:     publisher,
		Observability: observability,
	}

	if waiter != nil {
		notifier, err := domainjob.NewNotifier(domainjob.NotifierOptions{Waiter: waiter})
		if err != nil {
			return ServiceContainer{}, fmt.Errorf("create ready notifier: %w", err)
		}
		container.Notifier = notifier
	}

	resolver := service.NewFileReferenceResolver(logger)

	ingest, err := service.NewIngestService(service.IngestServiceOptions{
		Repo:      deps.Store.Jobs,
		Blobs:     blobs,
		Publisher: publisher,
		Config: service.IngestConfig{
			MaxFiles:      cfg.Ingest.MaxFiles,
			MaxFileBytes:  cfg.Ingest.MaxFileBytes,
			MaxTotalBytes: cfg.Ingest.MaxTotalBytes,
			UploadWorkers: cfg.Ingest.UploadWorkers,
			StagingRoot:   cfg.Worker.StagingRoot,
		},
		Logger:  logger,
		Metrics: observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create ingest service: %w", err)
	}
	container.Ingest = ingest

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:        deps.Store.Jobs,
		Blobs:       blobs,
		Publisher:   publisher,
		Resolver:    resolver,
		StagingRoot: cfg.Worker.StagingRoot,
		Logger:      logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}
	container.Jobs = jobs

	if cfg.IsHTTPServerEnabled() {
		verifier, vErr := BuildTokenVerifier(ctx, cfg.Auth, logger)
		if vErr != nil {
			return ServiceContainer{}, vErr
		}
		container.Verifier = verifier
		if cfg.HTTP.SyncRoutes {
			buildDirectService(&container, cfg, logger)
		}
	}

	if cfg.IsWorkerEnabled() {
		if err := buildWorkerServices(&container, cfg, resolver, logger); err != nil {
			container.Close()
			return ServiceContainer{}, err
		}
	}

	return container, nil
}

// buildPipeline creates the file pipeline once. Both the worker and the synchronous
// routes share it.
func buildPipeline(c *ServiceContainer, cfg *config.AppConfig, logger *slog.Logger) (*service.FilePipeline, error) {
	if c.Pipeline != nil {
		return c.Pipeline, nil
	}
	llmClient, err := BuildLLMClient(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	pool, err := service.NewExtractionPool(BuildExtractor(cfg.Worker, logger), cfg.Worker.ExtractionWorkers, logger)
	if err != nil {
		return nil, fmt.Errorf("create extraction pool: %w", err)
	}

	pipeline, err := service.NewFilePipeline(service.FilePipelineOptions{
		Collaborators: service.FilePipelineCollaborators{
			Blobs:      c.Blobs,
			Extractor:  pool,
			Classifier: llmClient,
			Analyzer:   llmClient,
		},
		Config: service.FilePipelineConfig{
			PerFileTimeout: cfg.Worker.PerFileTimeout,
			SignedURLTTL:   cfg.Blob.SignedURLTTL,
			TempDir:        cfg.Worker.StagingRoot,
		},
		Logger:  logger,
		Metrics: c.Observability.MetricsSink,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create file pipeline: %w", err)
	}
	c.Pool = pool
	c.Pipeline = pipeline
	return pipeline, nil
}

// buildDirectService enables the synchronous routes. Without LLM settings the HTTP
// process still serves the queued routes.
func buildDirectService(c *ServiceContainer, cfg *config.AppConfig, logger *slog.Logger) {
	pipeline, err := buildPipeline(c, cfg, logger)
	if err != nil {
		logger.Warn("synchronous routes disabled", "error", err)
		return
	}
	direct, err := service.NewDirectService(service.DirectServiceOptions{
		Pipeline: pipeline,
		Limits: service.IngestConfig{
			MaxFiles:      cfg.Ingest.MaxFiles,
			MaxFileBytes:  cfg.Ingest.MaxFileBytes,
			MaxTotalBytes: cfg.Ingest.MaxTotalBytes,
			StagingRoot:   cfg.Worker.StagingRoot,
		},
		Timeout: cfg.HTTP.SyncTimeout,
		Logger:  logger,
		Metrics: c.Observability.MetricsSink,
	})
	if err != nil {
		logger.Warn("synchronous routes disabled", "error", err)
		return
	}
	c.Direct = direct
}

func buildWorkerServices(
	c *ServiceContainer,
	cfg *config.AppConfig,
	resolver *service.FileReferenceResolver,
	logger *slog.Logger,
) error {
	pipeline, err := buildPipeline(c, cfg, logger)
	if err != nil {
		return err
	}

	processor, err := service.NewJobProcessor(service.JobProcessorOptions{
		Repo:     c.Store.Jobs,
		Pipeline: pipeline,
		Resolver: resolver,
		Config: service.JobProcessorConfig{
			JobTimeout:         cfg.Worker.JobTimeout,
			NoFileDataAttempts: cfg.Worker.NoFileDataAttempts,
			NoFileDataDelay:    cfg.Worker.NoFileDataDelay,
			Retry: domainjob.RetryPolicy{
				MaxRetries: cfg.Worker.MaxRetries,
				BaseDelay:  cfg.Worker.RetryBaseDelay,
			},
			StagingRoot: cfg.Worker.StagingRoot,
		},
		Logger:          logger,
		Metrics:         c.Observability.MetricsSink,
		FailureNotifier: c.Observability.FailureNotifier,
	})
	if err != nil {
		return fmt.Errorf("create job processor: %w", err)
	}
	c.Processor = processor
	return nil
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: baseLogger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:      baseLogger,
		Sinks:       sinks,
		MinSeverity: cfg.MinSeverity,
		DedupWindow: cfg.DedupWindow,
	})
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{mode: svc.mode, name: svc.name, done: done})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "job worker",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			if svc.Processor == nil {
				return errors.New("job processor not configured")
			}
			return RunWorker(ctx, WorkerConfig{
				Repo:      svc.Store.Jobs,
				Processor: svc.Processor,
				Notifier:  svc.Notifier,
				Config:    deps.cfg.Config.Worker,
				Logger:    deps.logger,
				Metrics:   svc.Observability.MetricsSink,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			return RunReaper(ctx, ReaperConfig{
				Repo:           svc.Store.Jobs,
				Blobs:          svc.Blobs,
				Logger:         deps.logger,
				Config:         deps.cfg.Config.Reaper,
				PerFileTimeout: deps.cfg.Config.Worker.PerFileTimeout,
				Metrics:        svc.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.Services.Store == nil {
		return errors.New("service orchestration config missing job store")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	return waitForShutdown(shutdownConfig{
		ctx:             serviceCtx,
		cancel:          cancel,
		errCh:           errCh,
		httpServer:      result.HTTPServer,
		shutdownTimeout: cfg.Config.HTTP.ShutdownTimeout,
		services:        &cfg.Services,
		logger:          logger,
		backgrounds:     result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx             context.Context
	cancel          context.CancelFunc
	errCh           <-chan error
	httpServer      *http.Server
	shutdownTimeout time.Duration
	services        *ServiceContainer
	logger          *slog.Logger
	backgrounds     []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		cfg.logger.Info("shutting down services...", "signal", sig.String())
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop drains the HTTP server, waits for the worker and reaper to observe
// cancellation, then releases shared resources.
func gracefulStop(cfg shutdownConfig) error {
	var httpErr error
	if cfg.httpServer != nil {
		timeout := cfg.shutdownTimeout
		if timeout <= 0 {
			timeout = shutdownWaitTimeout
		}
		// The service context is already cancelled; the drain gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		httpErr = ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		})
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if cfg.services != nil {
		cfg.services.Close()
	}

	return httpErr
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
