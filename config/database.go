package config

import (
	"fmt"
	"net/url"
	"strings"
)

// DBDriver selects the job store backend.
type DBDriver string

const (
	// DBDriverPostgres stores jobs in PostgreSQL.
	DBDriverPostgres DBDriver = "postgres"
	// DBDriverSQLite stores jobs in a local SQLite file.
	DBDriverSQLite DBDriver = "sqlite"
)

// UnmarshalText implements encoding.TextUnmarshaler for DBDriver.
func (d *DBDriver) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "postgres", "postgresql", "pg":
		*d = DBDriverPostgres
		return nil
	case "sqlite", "sqlite3":
		*d = DBDriverSQLite
		return nil
	default:
		return fmt.Errorf("invalid DBDriver: %q (valid options: postgres, sqlite)", v)
	}
}

// DBConfig contains job store configuration.
type DBConfig struct {
	Driver   DBDriver `env:"DRIVER"   envDefault:"postgres"`
	Host     string   `env:"HOST"     envDefault:"localhost"`
	Port     int      `env:"PORT"     envDefault:"5432"`
	User     string   `env:"USER"     envDefault:"docflow"`
	Password string   `env:"PASSWORD" envDefault:"docflow"`
	Name     string   `env:"NAME"     envDefault:"docflow"`
	SSLMode  string   `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// SQLitePath is the database file used when Driver=sqlite.
	SQLitePath string `env:"SQLITE_PATH" envDefault:"docflow.db"`
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// Sanitize fills an empty driver.
func (c *DBConfig) Sanitize() {
	if c.Driver == "" {
		c.Driver = DBDriverPostgres
	}
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	if c.SQLitePath == "" {
		c.SQLitePath = "docflow.db"
	}
}

// DSN builds the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig contains Redis configuration. Redis backs rate limiting and ready-job
// notifications. An empty URI disables both.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// Enabled reports whether any Redis topology is configured.
func (c RedisConfig) Enabled() bool {
	switch {
	case c.UseCluster:
		return len(c.ClusterNodes) > 0
	case c.UseSentinel:
		return len(c.SentinelNodes) > 0
	default:
		return strings.TrimSpace(c.URI) != ""
	}
}
