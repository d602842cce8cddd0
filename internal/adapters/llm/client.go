// Package llm talks to an OpenAI-compatible chat/completions endpoint to classify and
// analyze extracted document text. Callers never see an error: every failure path ends in
// a safe default so a single bad response cannot fail a job.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	apperrors "github.com/target/docflow/internal/errors"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.2
	defaultMaxRetries  = 3
	defaultTimeout     = 60 * time.Second
	defaultRetryDelay  = 500 * time.Millisecond

	// maxResponseBytes bounds how much of a completion response is read.
	maxResponseBytes = 4 << 20
)

// Config configures the completion client.
type Config struct {
	BaseURL string
	APIKey  string

	// TokenURL switches authentication to the OAuth2 client credentials flow.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	Model       string
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
	RetryDelay  time.Duration

	Mapping FieldMapping

	// HTTPClient is the base transport. The auth transport wraps it.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	} else if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	c.Mapping = c.Mapping.withDefaults()
}

// Client issues chat completions and implements core.Classifier and core.Analyzer.
type Client struct {
	cfg    Config
	http   *http.Client
	eval   JMESPathEvaluator
	logger *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithEvaluator replaces the JMESPath evaluator used for field mapping.
func WithEvaluator(e JMESPathEvaluator) Option {
	return func(c *Client) { c.eval = e }
}

// NewClient validates the mapping expressions and builds the authenticated HTTP client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		eval:   jmespathLibEvaluator{},
		logger: logger.With("component", "llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := cfg.Mapping.validate(c.eval); err != nil {
		return nil, err
	}
	c.http = authClient(cfg)
	return c, nil
}

// authClient wraps the base client with a bearer token transport. Client credentials take
// precedence over a static key; without either the base client is used as is.
func authClient(cfg Config) *http.Client {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	var hc *http.Client
	switch {
	case cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		hc = cc.Client(ctx)
	case cfg.APIKey != "":
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.APIKey,
			TokenType:   "Bearer",
		}))
	default:
		return base
	}
	hc.Timeout = base.Timeout
	return hc
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
	Messages       []chatMessage     `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete sends one JSON-mode completion and returns the trimmed message content.
func (c *Client) complete(ctx context.Context, system, user string) ([]byte, error) {
	body, err := json.Marshal(chatRequest{
		Model:          c.cfg.Model,
		Temperature:    c.cfg.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm http error: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("llm response body close error", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("llm status %d: %s", resp.StatusCode, truncate(string(raw), 256))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperrors.Unavailable(errors.New(msg), "llm endpoint unavailable")
		}
		return nil, errors.New(msg)
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, errors.New("no choices in llm response")
	}
	return []byte(strings.TrimSpace(cc.Choices[0].Message.Content)), nil
}

// attempt runs fn up to MaxRetries times. fn reports done=true when its outcome is final,
// whether or not it succeeded. attempt returns false when every try failed or ctx ended.
func (c *Client) attempt(ctx context.Context, op string, fn func(ctx context.Context) (done bool, err error)) bool {
	for i := 1; i <= c.cfg.MaxRetries; i++ {
		if ctx.Err() != nil {
			c.logger.WarnContext(ctx, "llm call abandoned", "op", op, "attempt", i, "error", ctx.Err())
			return false
		}
		start := time.Now()
		done, err := fn(ctx)
		if done {
			return true
		}
		c.logger.WarnContext(ctx, "llm attempt failed",
			"op", op,
			"attempt", i,
			"max_attempts", c.cfg.MaxRetries,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if i == c.cfg.MaxRetries {
			break
		}
		t := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
