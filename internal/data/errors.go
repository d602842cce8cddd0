package data

import (
	"errors"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobIDRequired is returned when an operation is called without a job id.
	ErrJobIDRequired = errors.New("job_id is required")
	// ErrCreateRequestRequired is returned when Create is called with a nil request.
	ErrCreateRequestRequired = errors.New("create job request is required")
)

// JobMovedError is the conflict returned when a guarded update matched no row.
func JobMovedError(id string) error {
	return apperrors.Wrapf(model.ErrJobMoved, apperrors.ErrCodeConflict, "update job %s", id)
}
