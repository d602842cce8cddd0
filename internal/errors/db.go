package errors

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// reKeyField extracts the column from "Key (field)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError maps Postgres and SQLite errors to AppError instances:
//   - no rows → NotFound
//   - unique violations → Conflict
//   - check / NOT NULL violations → Validation
//   - connection failures, admin shutdown, SQLITE_BUSY → Unavailable
//   - context deadline / cancel → Timeout / Canceled
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return mapSQLiteError(liteErr)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return Unavailable(err, "Database is unavailable. Please try again.")
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return Unavailable(err, "Database is unavailable. Please try again.")
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch {
	case pgErr.Code == pgerrcode.UniqueViolation:
		return mapUniqueViolation(pgErr)
	case pgErr.Code == pgerrcode.CheckViolation,
		pgErr.Code == pgerrcode.InvalidTextRepresentation:
		return fieldError(ErrCodeValidation, pgErr.ColumnName,
			"Invalid data. Please check your input.", "This field has an invalid value.", pgErr)
	case pgErr.Code == pgerrcode.NotNullViolation:
		return fieldError(ErrCodeValidation, pgErr.ColumnName,
			"Required field is missing. Please check your input.", "This field is required.", pgErr)
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CannotConnectNow,
		pgErr.Code == pgerrcode.TooManyConnections:
		return Unavailable(pgErr, "Database is unavailable. Please try again.")
	case pgErr.Code == pgerrcode.QueryCanceled:
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: pgErr}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: pgErr}
	}
}

func mapUniqueViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName
	if field == "" && pgErr.Detail != "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			field = m[1]
		}
	}
	if field == "" {
		field = inferFieldFromConstraint(pgErr.ConstraintName)
	}
	return &AppError{
		Code:    ErrCodeConflict,
		Message: "This value already exists. Please choose a different one.",
		Field:   field,
		Cause:   pgErr,
	}
}

func mapSQLiteError(e *sqlite.Error) error {
	switch e.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return &AppError{Code: ErrCodeConflict, Message: "This value already exists. Please choose a different one.", Cause: e}
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return &AppError{Code: ErrCodeValidation, Message: "Invalid data. Please check your input.", Cause: e}
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return &AppError{Code: ErrCodeValidation, Message: "Required field is missing. Please check your input.", Cause: e}
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return Unavailable(e, "Database is busy. Please try again.")
	default:
		return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: e}
	}
}

func fieldError(code ErrorCode, field, generic, specific string, cause error) error {
	if field != "" {
		return &AppError{Code: code, Message: specific, Field: field, Cause: cause}
	}
	return &AppError{Code: code, Message: generic, Cause: cause}
}

// inferFieldFromConstraint returns the middle segment of "table_field_key" style
// constraint names. Multi-column or expression constraints yield "".
func inferFieldFromConstraint(constraintName string) string {
	parts := strings.Split(constraintName, "_")
	if len(parts) != 3 {
		return ""
	}
	switch strings.ToLower(parts[1]) {
	case "lower", "upper", "trim", "md5", "coalesce":
		return ""
	}
	return parts[1]
}
