package httpx

import (
	"bytes"
	"encoding/json"
	"maps"
	"net/http"
)

// WriteJSON writes v with the given status. Responses describe job state that changes
// between polls, so they are never cached.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
	// Extra fields merged into the body, e.g. the limit behind a 413.
	Extra map[string]any
}

// WriteError writes {"error": slug, "message": text, "detail": text}. detail repeats
// the message for clients written against the earlier upload service.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	body := make(map[string]any, 3+len(p.Extra))
	maps.Copy(body, p.Extra)
	msg := http.StatusText(p.Code)
	if p.Err != nil {
		msg = p.Err.Error()
	}
	body["error"] = p.ErrCode
	body["message"] = msg
	body["detail"] = msg
	WriteJSON(w, p.Code, body)
}
