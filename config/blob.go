package config

import (
	"fmt"
	"strings"
	"time"
)

// BlobDriver selects where uploaded file bytes are kept.
type BlobDriver string

const (
	// BlobDriverS3 stores files in an S3-compatible bucket.
	BlobDriverS3 BlobDriver = "s3"
	// BlobDriverLocal stores files under a local directory.
	BlobDriverLocal BlobDriver = "local"
	// BlobDriverNone disables blob storage; uploads are staged on local disk only.
	BlobDriverNone BlobDriver = "none"
)

// UnmarshalText implements encoding.TextUnmarshaler for BlobDriver.
func (d *BlobDriver) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "s3", "minio":
		*d = BlobDriverS3
	case "local", "fs":
		*d = BlobDriverLocal
	case "none", "":
		*d = BlobDriverNone
	default:
		return fmt.Errorf("invalid BlobDriver: %q (valid options: s3, local, none)", v)
	}
	return nil
}

// BlobConfig contains blob storage configuration.
type BlobConfig struct {
	Driver BlobDriver `env:"DRIVER" envDefault:"local"`

	// S3-compatible endpoint (host:port, no scheme).
	Endpoint     string `env:"ENDPOINT"`
	Bucket       string `env:"BUCKET"        envDefault:"docflow-uploads"`
	AccessKey    string `env:"ACCESS_KEY"`
	SecretKey    string `env:"SECRET_KEY"`
	Region       string `env:"REGION"`
	UseSSL       bool   `env:"USE_SSL"       envDefault:"true"`
	CreateBucket bool   `env:"CREATE_BUCKET" envDefault:"false"`

	// LocalDir is the root used when Driver=local.
	LocalDir string `env:"LOCAL_DIR" envDefault:"data/blobs"`

	SignedURLTTL time.Duration `env:"SIGNED_URL_TTL" envDefault:"1h"`
	// FetchTimeout bounds plain HTTP downloads of URL locators.
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"60s"`
}

// Sanitize applies guardrails to blob configuration values.
func (c *BlobConfig) Sanitize() {
	if c.Driver == "" {
		c.Driver = BlobDriverLocal
	}
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.LocalDir = strings.TrimSpace(c.LocalDir)
	if c.Driver == BlobDriverS3 && c.Endpoint == "" {
		c.Driver = BlobDriverNone
	}
	if c.Driver == BlobDriverLocal && c.LocalDir == "" {
		c.LocalDir = "data/blobs"
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
}
