package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/ledger-api/internal/http/handlers"
	"github.com/jmylchreest/ledger-api/internal/http/mw"
)

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	BaseURL     string
	CORSOrigins []string
	// RateLimitPerMinute per client IP; 0 disables limiting.
	RateLimitPerMinute int
	// Metrics is served on /metrics when set.
	Metrics prometheus.Gatherer
	Logger  *slog.Logger
}

// NewRouter builds the chi router with middleware, the huma API and the
// metrics endpoint.
func NewRouter(cfg RouterConfig, h *handlers.Handlers) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(mw.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-API-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))

	// Reads only; bodies are never expected.
	router.Use(middleware.RequestSize(64 * 1024))

	if cfg.RateLimitPerMinute > 0 {
		router.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
	}

	if cfg.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	api := humachi.New(router, NewHumaConfig(cfg.BaseURL))
	Register(api, h)

	return router
}
