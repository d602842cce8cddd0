package config

import (
	"strings"
	"time"
)

// LLMConfig contains chat completion endpoint configuration.
type LLMConfig struct {
	BaseURL string `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey  string `env:"API_KEY"`

	// TokenURL switches authentication to the OAuth2 client credentials flow.
	TokenURL     string   `env:"TOKEN_URL"`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES"        envSeparator:" "`

	Model       string        `env:"MODEL"       envDefault:"gpt-4o-mini"`
	Temperature float64       `env:"TEMPERATURE" envDefault:"0.2"`
	MaxRetries  int           `env:"MAX_RETRIES" envDefault:"3"`
	Timeout     time.Duration `env:"TIMEOUT"     envDefault:"60s"`
	RetryDelay  time.Duration `env:"RETRY_DELAY" envDefault:"1s"`

	// JMESPath expressions locating analysis fields in the model response.
	// Empty values use the built-in mapping.
	Mapping LLMMappingConfig `envPrefix:"MAPPING_"`
}

// LLMMappingConfig holds per-field JMESPath overrides.
type LLMMappingConfig struct {
	Summary         string `env:"SUMMARY"`
	KeyData         string `env:"KEY_DATA"`
	ActionableItems string `env:"ACTIONABLE_ITEMS"`
	RiskIfIgnored   string `env:"RISK_IF_IGNORED"`
	Status          string `env:"STATUS"`
}

// Sanitize trims endpoint values and clamps numeric settings.
func (c *LLMConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.TokenURL = strings.TrimSpace(c.TokenURL)
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Temperature > 2 {
		c.Temperature = 2
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}
