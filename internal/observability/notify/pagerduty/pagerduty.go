package pagerduty

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/target/docflow/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Endpoint overrides APIEndpoint.
	Endpoint string
}

// Client raises one PagerDuty incident per failed docflow job.
type Client struct {
	routingKey string
	source     string
	component  string
	poster     *notify.Poster
}

// NewClient constructs a PagerDuty events client from config. Callers must provide a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	return &Client{
		routingKey: key,
		source:     fallbackString(strings.TrimSpace(cfg.Source), "docflow"),
		component:  fallbackString(strings.TrimSpace(cfg.Component), "worker"),
		poster: notify.NewPoster(notify.PosterConfig{
			Name:       "pagerduty api",
			URL:        fallbackString(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
			Client:     cfg.Client,
		}),
	}, nil
}

// SendJobFailure triggers the incident for the job.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	return c.poster.Post(ctx, c.buildEvent(payload))
}

func (c *Client) buildEvent(payload notify.JobFailurePayload) map[string]any {
	severity := strings.ToLower(strings.TrimSpace(payload.Severity))
	if severity == "" {
		severity = notify.SeverityFor(payload.ErrorClass, payload.Transient)
	}

	occurredAt := payload.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	custom := map[string]any{
		"job_id":        payload.JobID,
		"endpoint_type": payload.EndpointType,
		"user_id":       payload.UserID,
		"total_files":   payload.TotalFiles,
		"retry_count":   payload.RetryCount,
		"transient":     payload.Transient,
		"error":         payload.Error,
		"error_class":   payload.ErrorClass,
	}

	for k, v := range payload.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}

	// One incident per job; a job failing again after a manual reset re-triggers it.
	dedupKey := "docflow-job:" + fallbackString(payload.JobID, "unknown")

	event := map[string]any{
		"summary":        summary(payload),
		"severity":       severity,
		"source":         c.source,
		"component":      c.component,
		"group":          fallbackString(payload.EndpointType, "document"),
		"timestamp":      occurredAt.Format(time.RFC3339),
		"custom_details": custom,
	}
	if payload.ErrorClass != "" {
		event["class"] = payload.ErrorClass
	}

	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload":      event,
	}
}

// summary reads like "classify job 123 failed after 3 retries: db_connection".
func summary(p notify.JobFailurePayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s job %s failed",
		fallbackString(p.EndpointType, "document"), fallbackString(p.JobID, "unknown"))
	if p.Transient {
		fmt.Fprintf(&b, " after %d retries", p.RetryCount)
	}
	if p.TotalFiles > 0 {
		fmt.Fprintf(&b, " (%d files)", p.TotalFiles)
	}
	if p.ErrorClass != "" {
		b.WriteString(": " + p.ErrorClass)
	}
	return b.String()
}

func fallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
