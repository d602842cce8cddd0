// Package job holds the job lifecycle rules shared by the ingestion API, worker and reaper.
package job

import (
	"fmt"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// transitions lists every legal status change. Anything absent is illegal.
var transitions = map[model.JobStatus][]model.JobStatus{
	model.JobStatusCreated:    {model.JobStatusReady, model.JobStatusFailed},
	model.JobStatusReady:      {model.JobStatusProcessing},
	model.JobStatusProcessing: {model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusReady},
	model.JobStatusFailed:     {model.JobStatusReady},
}

// CanTransition reports whether a job may move from one status to another.
// Re-asserting PROCESSING while PROCESSING is allowed so progress writes can carry the status.
func CanTransition(from, to model.JobStatus) bool {
	if from == to {
		return from == model.JobStatusProcessing
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a caller requests an illegal status change.
type TransitionError struct {
	From model.JobStatus
	To   model.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal job transition %s -> %s", e.From, e.To)
}

// CheckTransition returns a *TransitionError when the change is illegal.
func CheckTransition(from, to model.JobStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// CheckGuardedUpdate refuses an update whose status change is illegal from the guarded
// status. Updates that leave the status alone always pass.
func CheckGuardedUpdate(guard model.UpdateGuard, upd model.JobUpdate) error {
	if upd.Status == nil {
		return nil
	}
	if err := CheckTransition(guard.Status, *upd.Status); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "refuse job update")
	}
	return nil
}
