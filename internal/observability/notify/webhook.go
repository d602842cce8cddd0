package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one webhook attempt when no client is supplied.
const DefaultTimeout = 5 * time.Second

const defaultBackoff = 200 * time.Millisecond

// Poster delivers JSON alerts to a webhook style endpoint. Network errors, 429 and
// 5xx responses are retried with a linear backoff; other 4xx answers are final.
type Poster struct {
	name    string
	url     string
	retries int
	backoff time.Duration
	client  *http.Client
}

// PosterConfig configures a Poster. Name prefixes error messages.
type PosterConfig struct {
	Name       string
	URL        string
	Timeout    time.Duration
	RetryLimit int
	Backoff    time.Duration
	Client     *http.Client
}

// NewPoster builds a Poster, filling in timeout and backoff defaults.
func NewPoster(cfg PosterConfig) *Poster {
	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Poster{
		name:    cfg.Name,
		url:     cfg.URL,
		retries: max(cfg.RetryLimit, 0),
		backoff: backoff,
		client:  hc,
	}
}

// statusError is a non-2xx answer.
type statusError struct {
	name   string
	status string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.name, e.status, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// Post encodes v and sends it, retrying as described on Poster.
func (p *Poster) Post(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", p.name, err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * p.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}
		lastErr = p.send(ctx, body)
		var se *statusError
		if lastErr == nil || (errors.As(lastErr, &se) && !se.retryable()) {
			return lastErr
		}
	}
	return lastErr
}

func (p *Poster) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &statusError{
			name:   p.name,
			status: resp.Status,
			code:   resp.StatusCode,
			body:   strings.TrimSpace(string(respBody)),
		}
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain %s response body: %w", p.name, err)
	}
	return nil
}
