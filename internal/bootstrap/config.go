package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/docflow/config"
)

// logLevel is shared by the default handler so the level can follow config after startup.
var logLevel slog.LevelVar //nolint:gochecknoglobals // process-wide log level

// InitLogger initializes the structured logger at info level.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// ApplyLogLevel switches the logger built by InitLogger to the configured level.
func ApplyLogLevel(cfg *config.AppConfig) {
	if cfg != nil {
		logLevel.Set(cfg.SlogLevel())
	}
}

// envFiles lists the dotenv files to load, from DOCFLOW_ENV_FILE (comma separated)
// or ".env". Earlier files win, as godotenv never overrides a set variable.
func envFiles() []string {
	raw := os.Getenv("DOCFLOW_ENV_FILE")
	if strings.TrimSpace(raw) == "" {
		return []string{".env"}
	}
	var files []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

// LoadConfig loads the dotenv files that exist, then parses and sanitizes the environment.
func LoadConfig() (config.AppConfig, error) {
	for _, file := range envFiles() {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.AppConfig{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig rejects a SERVICES value that names no valid mode.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	if _, err := cfg.GetEnabledServices(); err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	return nil
}

// GetEnabledServices returns the enabled service names in a stable order.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	role := cfg.MetricsRole()
	if role == "" {
		return []string{}
	}
	return strings.Split(role, "+")
}
