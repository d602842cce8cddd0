package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	bootstrap.ApplyLogLevel(&cfg)

	logStartupInfo(ctx, logger, &cfg)

	if err = bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, bootstrap.DatabaseConfig{DBConfig: cfg.DB, Logger: logger})
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close job store failed", "error", cerr)
		}
	}()

	redisClient := connectRedis(ctx, &cfg, logger)
	if redisClient != nil {
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      &cfg,
		Store:       store,
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   &cfg,
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	attrs := []any{
		"db_driver", cfg.DB.Driver,
		"blob_driver", cfg.Blob.Driver,
		"enabled_services", bootstrap.GetEnabledServices(cfg),
		"log_level", cfg.SlogLevel().String(),
	}
	if cfg.DB.Driver == config.DBDriverSQLite {
		attrs = append(attrs, "db_path", cfg.DB.SQLitePath)
	} else {
		attrs = append(attrs, "db_host", cfg.DB.Host, "db_port", cfg.DB.Port, "db_name", cfg.DB.Name)
	}
	logger.InfoContext(ctx, "starting docflow service", attrs...)
}

// connectRedis returns nil when Redis is not configured or unreachable. Without it the
// API runs unthrottled and workers rely on the store's notifications or polling.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectRedis(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) redis.UniversalClient {
	if !cfg.Redis.Enabled() {
		logger.InfoContext(ctx, "redis not configured; rate limiting disabled")
		return nil
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		logger.WarnContext(ctx, "redis unavailable; continuing without rate limiting and redis notifications", "error", err)
		return nil
	}
	return client
}
