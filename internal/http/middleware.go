package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/ports"
)

// UserIDHeader carries the caller's owner id when no bearer token is presented.
const UserIDHeader = "X-User-ID"

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					WriteError(w, ErrorParams{
						Code:    http.StatusInternalServerError,
						ErrCode: "internal_error",
						Err:     errInternal,
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityOptions configures how the caller's owner id is resolved.
type IdentityOptions struct {
	// Verifier validates bearer tokens. When nil, Authorization headers are ignored.
	Verifier ports.TokenVerifier
	// TrustUserHeader accepts X-User-ID when no bearer token is presented.
	TrustUserHeader bool
	Logger          *slog.Logger
	Now             func() time.Time
}

// Identity resolves the owner id for every request: the subject of a verified bearer
// token, otherwise the X-User-ID header when trusted. Requests without either proceed
// anonymously. A presented token that fails verification is rejected with 401.
func Identity(opts IdentityOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := ""
			if token, ok := bearerToken(r); ok && opts.Verifier != nil {
				identity, err := opts.Verifier.Verify(r.Context(), token)
				if err == nil && identity.Expired(now()) {
					err = errors.New("token expired")
				}
				if err != nil {
					logger.WarnContext(r.Context(), "bearer token rejected", "path", r.URL.Path, "error", err)
					WriteError(w, ErrorParams{
						Code:    http.StatusUnauthorized,
						ErrCode: "unauthorized",
						Err:     errors.New("invalid or expired bearer token"),
					})
					return
				}
				owner = identity.UserID
			} else if opts.TrustUserHeader {
				owner = strings.TrimSpace(r.Header.Get(UserIDHeader))
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

// RateLimitOptions configures a per-client request budget for one route.
type RateLimitOptions struct {
	Limiter core.RateLimiter
	// Scope separates the budgets of different routes.
	Scope  string
	Limit  int
	Window time.Duration
	Logger *slog.Logger
}

// RateLimit rejects requests over the budget with 429. The client is the resolved owner
// or, for anonymous requests, the client IP. Limiter failures let the request through.
func RateLimit(opts RateLimitOptions) func(http.Handler) http.Handler {
	if opts.Limiter == nil || opts.Limit <= 0 || opts.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryAfter := strconv.Itoa(int(opts.Window.Round(time.Second) / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.Scope + ":" + clientKey(r)
			allowed, err := opts.Limiter.Allow(r.Context(), key, opts.Limit, opts.Window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", "scope", opts.Scope, "error", err)
				allowed = true
			}
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				WriteError(w, ErrorParams{
					Code:    http.StatusTooManyRequests,
					ErrCode: "rate_limited",
					Err:     fmt.Errorf("rate limit exceeded: %d requests per %s", opts.Limit, opts.Window),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if owner := OwnerFromContext(r.Context()); owner != "" {
		return "user:" + owner
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return "ip:" + ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return "ip:" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
