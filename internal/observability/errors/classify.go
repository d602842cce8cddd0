// Package errors turns job and storage errors into short class names for metric tags
// and failure alerts.
package errors

import (
	"context"
	goerrors "errors"
	"net"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// Classify names the kind of failure behind err. Known docflow sentinels and
// application codes win over the concrete type, which is only a fallback.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case goerrors.Is(err, model.ErrJobMoved):
		return "job_moved"
	case goerrors.Is(err, model.ErrNoFileData):
		return "no_file_data"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}

	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		return "db_" + sqlStateClass(pgErr.Code)
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) {
		if netErr.Timeout() {
			return "network_timeout"
		}
		return "network"
	}
	return typeName(err)
}

// sqlStateClass maps the two-character SQLSTATE class to a readable name.
func sqlStateClass(code string) string {
	if len(code) < 2 {
		return "unknown"
	}
	switch code[:2] {
	case "08":
		return "connection"
	case "23":
		return "constraint"
	case "40":
		return "rollback"
	case "53":
		return "resources"
	case "57":
		return "operator"
	default:
		return "sqlstate_" + strings.ToLower(code[:2])
	}
}

// typeName returns the innermost concrete type as snake-ish text, e.g. "fs_patherror".
func typeName(err error) string {
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}
