package metrics

import (
	"time"

	obserrors "github.com/target/docflow/internal/observability/errors"
	"github.com/target/docflow/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Job lifecycle transitions. Each becomes a "jobs.<transition>" counter.
const (
	TransitionClaimed   = "claimed"
	TransitionCompleted = "completed"
	TransitionFailed    = "failed"
	TransitionRetried   = "retried"
	TransitionReclaimed = "reclaimed"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	EndpointType string
	Transition   string
	Result       string
	Duration     time.Duration
	Err          error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"endpoint_type": in.EndpointType,
		"result":        in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("jobs."+in.Transition, 1, tags)

	if in.Duration > 0 {
		timingTags := CloneTags(tags)
		timingTags["transition"] = in.Transition
		sink.Timing("jobs.duration_ms", in.Duration, timingTags)
	}
}

// EmitFileProcessed counts one pipeline outcome, tagged by file status.
func EmitFileProcessed(sink statsd.Sink, endpointType, status string, elapsed time.Duration) {
	if sink == nil {
		return
	}
	tags := map[string]string{"endpoint_type": endpointType, "status": status}
	sink.Count("files.processed", 1, tags)
	if elapsed > 0 {
		sink.Timing("files.duration_ms", elapsed, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
