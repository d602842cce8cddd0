package job

import (
	"context"
	"errors"
	"math"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// DefaultMaxTransientRetries bounds how often a job is demoted to READY after a transient fault.
const DefaultMaxTransientRetries = 3

// permanentErrors are never retried, whatever their message happens to contain.
var permanentErrors = []error{model.ErrNoFileData, model.ErrJobMoved}

// gatewayStatus matches a 502/503/504 only where it is phrased as an HTTP status, so ids
// and sizes that happen to contain those digits do not count.
var gatewayStatus = regexp.MustCompile(`\b(?:status|code|http(?:/\d(?:\.\d)?)?)\W{0,3}50[234]\b`)

// transientMarkers are message fragments attributable to the storage or network layer.
var transientMarkers = []string{
	"bad gateway",
	"gateway error",
	"gateway timeout",
	"service unavailable",
	"network connection lost",
	"connection lost",
	"connection reset",
	"connection refused",
	"connection timed out",
	"connection timeout",
	"i/o timeout",
	"broken pipe",
	"unexpected eof",
}

// IsTransient reports whether err is an infrastructure fault worth retrying.
// Document content and business logic errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, perm := range permanentErrors {
		if errors.Is(err, perm) {
			return false
		}
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeUnavailable, apperrors.ErrCodeTimeout:
		return true
	case apperrors.ErrCodeValidation, apperrors.ErrCodeNotFound, apperrors.ErrCodeConflict:
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if gatewayStatus.MatchString(msg) {
		return true
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryPolicy decides whether a failed job attempt is demoted to READY or failed outright.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries transient faults 3 times with 1s, 2s, 4s delays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxTransientRetries, BaseDelay: time.Second}
}

// RetryDecision is the outcome of evaluating a job-fatal error.
type RetryDecision struct {
	Retry     bool
	Transient bool
	Delay     time.Duration
}

// Decide evaluates err for a job that has already been retried `attempt` times.
func (p RetryPolicy) Decide(err error, attempt int) RetryDecision {
	transient := IsTransient(err)
	if !transient || attempt >= p.MaxRetries {
		return RetryDecision{Transient: transient}
	}
	return RetryDecision{Retry: true, Transient: true, Delay: p.Backoff(attempt)}
}

// Backoff returns BaseDelay * 2^attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	mult := math.Pow(2, float64(attempt))
	return time.Duration(float64(base) * mult)
}
