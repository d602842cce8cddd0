package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// listLimit reads ?limit= for job listings. Absent means the default, anything
// that is not a positive integer is rejected, and large values are clamped.
func listLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return model.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.ValidationField("limit", "limit must be a positive integer")
	}
	return min(n, model.MaxListLimit), nil
}
