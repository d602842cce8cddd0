package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/ports"
	"github.com/target/docflow/internal/service"
)

// Default submission budgets per client.
const (
	DefaultClassifyPerWindow      = 25
	DefaultAnalyzePerWindow       = 7
	DefaultAnalyzeSinglePerWindow = 12
	DefaultRateWindow             = time.Minute
)

// RateLimits sets the per-client budgets for the submit routes. Zero budgets disable
// limiting for that route.
type RateLimits struct {
	Window            time.Duration
	ClassifyPerWindow int
	AnalyzePerWindow  int
	// AnalyzeSingle caps POST /analyze.
	AnalyzeSingle int
}

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Ingest *service.IngestService // Required
	Jobs   *service.JobService    // Required
	// Optional: synchronous routes. Without it they are not registered.
	Direct *service.DirectService

	// Optional: bearer token verification. Without it owners come from X-User-ID.
	Verifier        ports.TokenVerifier
	TrustUserHeader bool

	// Optional: submit route rate limiting.
	Limiter    core.RateLimiter
	RateLimits RateLimits

	Logger *slog.Logger
	Now    func() time.Time
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := services.Now
	if now == nil {
		now = time.Now
	}

	mux := http.NewServeMux()
	submit := &SubmitHandlers{Svc: services.Ingest, Logger: logger}
	jobs := &JobHandlers{Svc: services.Jobs, Logger: logger}

	registerSubmitRoutes(mux, submit, services.Limiter, services.RateLimits, logger)
	registerJobRoutes(mux, jobs)
	if services.Direct != nil {
		direct := &DirectHandlers{Svc: services.Direct, Logger: logger}
		registerDirectRoutes(mux, direct, services.Limiter, services.RateLimits, logger)
	}
	for _, path := range []string{"/health", "/healthz"} {
		mux.Handle("GET "+path, healthHandler(now))
		mux.Handle("HEAD "+path, healthHandler(now))
	}
	mux.Handle("GET /{$}", rootHandler(now))

	var handler http.Handler = mux
	handler = Identity(IdentityOptions{
		Verifier:        services.Verifier,
		TrustUserHeader: services.TrustUserHeader,
		Logger:          logger,
		Now:             now,
	})(handler)
	handler = Compression(CompressionConfig{Logger: logger})(handler)
	handler = Logging(logger)(handler)
	return Recover(logger)(handler)
}

// rateLimiter returns the per-scope rate limit middleware factory.
func rateLimiter(limiter core.RateLimiter, limits RateLimits, logger *slog.Logger) func(scope string, n int) func(http.Handler) http.Handler {
	window := limits.Window
	if window <= 0 {
		window = DefaultRateWindow
	}
	return func(scope string, n int) func(http.Handler) http.Handler {
		return RateLimit(RateLimitOptions{Limiter: limiter, Scope: scope, Limit: n, Window: window, Logger: logger})
	}
}

func registerSubmitRoutes(mux *http.ServeMux, h *SubmitHandlers, limiter core.RateLimiter, limits RateLimits, logger *slog.Logger) {
	limit := rateLimiter(limiter, limits, logger)
	mux.Handle("POST /classify-documents-async", limit("classify", limits.ClassifyPerWindow)(http.HandlerFunc(h.Classify)))
	mux.Handle("POST /analyze-multiple-async", limit("analyze", limits.AnalyzePerWindow)(http.HandlerFunc(h.Analyze)))
}

func registerDirectRoutes(mux *http.ServeMux, h *DirectHandlers, limiter core.RateLimiter, limits RateLimits, logger *slog.Logger) {
	limit := rateLimiter(limiter, limits, logger)
	mux.Handle("POST /classify-documents", limit("classify-sync", limits.ClassifyPerWindow)(http.HandlerFunc(h.ClassifyDocuments)))
	mux.Handle("POST /analyze-multiple", limit("analyze-sync", limits.AnalyzePerWindow)(http.HandlerFunc(h.AnalyzeMultiple)))
	mux.Handle("POST /analyze", limit("analyze-single", limits.AnalyzeSingle)(http.HandlerFunc(h.Analyze)))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("GET /job/{id}", h.Get)
	mux.HandleFunc("DELETE /job/{id}", h.Delete)
	mux.HandleFunc("POST /job/{id}/reset", h.Reset)
	mux.HandleFunc("GET /jobs", h.List)
}
