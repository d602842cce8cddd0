package job

import (
	"errors"
	"time"
)

// ErrInvalidStaleAfter indicates the configured staleness window is not positive.
var ErrInvalidStaleAfter = errors.New("stale-after window must be positive")

// StaleSource identifies how a staleness window was resolved.
type StaleSource string

const (
	// StaleSourceConfigured indicates the configured window was used as-is.
	StaleSourceConfigured StaleSource = "configured"
	// StaleSourceRaised indicates the window was raised to the per-file floor.
	StaleSourceRaised StaleSource = "raised"
)

// StalePolicy decides when a PROCESSING job is considered abandoned by its worker.
// A live worker refreshes updated_at on every file completion, so the window must
// comfortably exceed the per-file timeout.
type StalePolicy struct {
	staleAfter time.Duration
	floor      time.Duration
}

// NewStalePolicy constructs a StalePolicy. perFileTimeout sets the floor: the effective
// window is never shorter than twice the per-file timeout.
func NewStalePolicy(staleAfter, perFileTimeout time.Duration) (*StalePolicy, error) {
	if staleAfter <= 0 {
		return nil, ErrInvalidStaleAfter
	}
	return &StalePolicy{staleAfter: staleAfter, floor: 2 * perFileTimeout}, nil
}

// StaleDecision captures the resolved window.
type StaleDecision struct {
	Window time.Duration
	Source StaleSource
}

// Raised reports whether the configured window was too short and was raised.
func (d StaleDecision) Raised() bool {
	return d.Source == StaleSourceRaised
}

// Resolve returns the effective staleness window.
func (p *StalePolicy) Resolve() StaleDecision {
	if p == nil {
		return StaleDecision{}
	}
	if p.staleAfter < p.floor {
		return StaleDecision{Window: p.floor, Source: StaleSourceRaised}
	}
	return StaleDecision{Window: p.staleAfter, Source: StaleSourceConfigured}
}

// Cutoff returns the updated_at instant before which a PROCESSING job is stale.
func (p *StalePolicy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.Resolve().Window)
}
