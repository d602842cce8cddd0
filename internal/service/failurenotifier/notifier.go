package failurenotifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/docflow/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// MinSeverity drops failures graded below it. Empty sends everything.
	MinSeverity string
	// DedupWindow suppresses repeat alerts for the same job id. Zero disables it.
	DedupWindow time.Duration
	Now         func() time.Time
}

// Service dispatches job failure events to all registered sinks.
type Service struct {
	logger      *slog.Logger
	sinks       []SinkRegistration
	minSeverity string
	window      time.Duration
	now         func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Service{
		logger:      logger.With("component", "failure_notifier"),
		sinks:       sinks,
		minSeverity: opts.MinSeverity,
		window:      max(opts.DedupWindow, 0),
		now:         now,
		sent:        make(map[string]time.Time),
	}
}

// NotifyJobFailure grades the failure, applies the severity floor and per-job dedup,
// then fans the payload out to all sinks and waits for them. Delivery errors are
// logged, never returned: a broken webhook must not affect job state.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityFor(payload.ErrorClass, payload.Transient)
	}
	if !notify.AtLeast(payload.Severity, s.minSeverity) {
		s.logger.DebugContext(ctx, "job failure below notification floor",
			"job_id", payload.JobID, "severity", payload.Severity, "error_class", payload.ErrorClass)
		return
	}
	if !s.firstInWindow(payload.JobID) {
		s.logger.DebugContext(ctx, "job failure already notified", "job_id", payload.JobID)
		return
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"endpoint_type", payload.EndpointType,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// firstInWindow records jobID and reports whether it had not been seen within the
// dedup window. Expired entries are pruned as a side effect.
func (s *Service) firstInWindow(jobID string) bool {
	if s.window == 0 || jobID == "" {
		return true
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.sent {
		if now.Sub(at) >= s.window {
			delete(s.sent, id)
		}
	}
	if _, seen := s.sent[jobID]; seen {
		return false
	}
	s.sent[jobID] = now
	return true
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
