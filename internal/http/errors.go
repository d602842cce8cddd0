package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/service"
)

// publicError hides internal detail behind a stable message.
type publicError string

func (e publicError) Error() string { return string(e) }

const errInternal = publicError("An internal error occurred. Please try again.")

// statusForError maps an application error code onto an HTTP status and error slug.
func statusForError(err error) (int, string) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, "validation_error"
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound, "not_found"
	case apperrors.ErrCodeConflict:
		return http.StatusConflict, "conflict"
	case apperrors.ErrCodeUnavailable, apperrors.ErrCodeTimeout:
		return http.StatusServiceUnavailable, "unavailable"
	case apperrors.ErrCodeCanceled:
		return http.StatusServiceUnavailable, "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError renders a service-layer error. Size limits become 413 with the
// limit in megabytes; unclassified errors are logged and masked.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var sizeErr *service.SizeLimitError
	if errors.As(err, &sizeErr) {
		writeSizeLimit(w, sizeErr)
		return
	}

	status, slug := statusForError(err)
	p := ErrorParams{Code: status, ErrCode: slug, Err: err}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		p.Err = publicError(appErr.Message)
		if appErr.Field != "" {
			p.Extra = map[string]any{"field": appErr.Field}
		}
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	if status == http.StatusInternalServerError {
		p.Err = errInternal
	}
	WriteError(w, p)
}

func writeSizeLimit(w http.ResponseWriter, err *service.SizeLimitError) {
	p := ErrorParams{Code: http.StatusRequestEntityTooLarge, Err: err}
	mb := err.Limit >> 20
	if err.IsTotal() {
		p.ErrCode = "payload_too_large"
		p.Extra = map[string]any{"max_total_size_mb": mb}
	} else {
		p.ErrCode = "file_too_large"
		p.Extra = map[string]any{"max_file_size_mb": mb, "filename": err.Filename}
	}
	WriteError(w, p)
}
