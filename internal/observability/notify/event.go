package notify

import (
	"context"
	"strings"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// JobFailurePayload captures the data we emit when a processing job ends FAILED.
type JobFailurePayload struct {
	JobID        string
	EndpointType string
	UserID       string
	TotalFiles   int
	RetryCount   int
	// Transient is set when the job ran out of retries on an infrastructure fault.
	Transient  bool
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// callerFault lists error classes that point at the submitted documents rather than
// at docflow or its dependencies.
var callerFault = map[string]bool{
	"no_file_data": true,
	"validation":   true,
	"not_found":    true,
}

// SeverityFor grades a failed job. Exhausted retries on an infrastructure fault page
// someone; a job that failed because of what the caller sent only warns.
func SeverityFor(errorClass string, transient bool) string {
	if !transient && callerFault[errorClass] {
		return SeverityWarning
	}
	return SeverityCritical
}

// AtLeast reports whether severity meets floor. An empty value ranks as warning and
// anything unrecognised as critical.
func AtLeast(severity, floor string) bool {
	return severityRank(severity) >= severityRank(floor)
}

func severityRank(s string) int {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, SeverityWarning) {
		return 0
	}
	return 1
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
