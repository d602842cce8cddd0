package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/target/docflow/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// JobURLPrefix, when set, turns the job id into a link (prefix + "/" + id).
	JobURLPrefix string
}

// Client delivers job failure notifications to a Slack webhook.
type Client struct {
	channel      string
	username     string
	jobURLPrefix string
	poster       *notify.Poster
}

// NewClient builds a Slack webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	return &Client{
		channel:      strings.TrimSpace(cfg.Channel),
		username:     fallbackString(strings.TrimSpace(cfg.Username), "docflow"),
		jobURLPrefix: strings.TrimSpace(cfg.JobURLPrefix),
		poster: notify.NewPoster(notify.PosterConfig{
			Name:       "slack webhook",
			URL:        webhookURL,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
			Client:     cfg.Client,
		}),
	}, nil
}

// SendJobFailure posts a formatted message to Slack.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	return c.poster.Post(ctx, c.formatMessage(payload))
}

func (c *Client) formatMessage(payload notify.JobFailurePayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	text := strings.Builder{}
	c.writeHeader(&text, payload)
	appendDetails(&text, payload)
	appendMetadata(&text, payload.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (c *Client) writeHeader(text *strings.Builder, payload notify.JobFailurePayload) {
	if severity(payload) == notify.SeverityWarning {
		text.WriteString(":warning: ")
	} else {
		text.WriteString(":rotating_light: ")
	}
	text.WriteString("*Document job failed*")
	if payload.JobID != "" {
		text.WriteByte(' ')
		if link := c.jobLink(payload.JobID); link != "" {
			fmt.Fprintf(text, "<%s|%s>", link, escapeSlackText(payload.JobID))
		} else {
			text.WriteString("`" + escapeSlackText(payload.JobID) + "`")
		}
	}
	if payload.EndpointType != "" {
		text.WriteString(" (" + payload.EndpointType + ")")
	}
	text.WriteByte('\n')
}

func appendDetails(text *strings.Builder, payload notify.JobFailurePayload) {
	fields := []struct {
		label string
		value string
	}{
		{"Severity", severity(payload)},
		{"Cause", cause(payload)},
		{"User", escapeSlackText(payload.UserID)},
		{"Files", countString(payload.TotalFiles)},
		{"Retries", countString(payload.RetryCount)},
		{"Error class", payload.ErrorClass},
		{"Error", escapeSlackText(payload.Error)},
	}
	for _, field := range fields {
		appendField(text, field.label, field.value)
	}
}

func severity(p notify.JobFailurePayload) string {
	return fallbackString(p.Severity, notify.SeverityFor(p.ErrorClass, p.Transient))
}

func cause(p notify.JobFailurePayload) string {
	if p.Transient {
		return "infrastructure, retries exhausted"
	}
	return ""
}

func countString(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func escapeSlackText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(value)
}

func (c *Client) jobLink(jobID string) string {
	if c.jobURLPrefix == "" {
		return ""
	}
	u, err := url.Parse(c.jobURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	link, err := url.JoinPath(u.String(), jobID)
	if err != nil {
		return ""
	}
	return link
}

func appendField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func appendMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(metadata[k])
		text.WriteByte('\n')
	}
}
