package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/iho/tripledger/internal/adapter/http/handler"
	"github.com/iho/tripledger/internal/adapter/http/middleware"
	"github.com/iho/tripledger/internal/infrastructure/metrics"
	"github.com/iho/tripledger/internal/usecase"
)

// RouterConfig holds dependencies for the router. IdempotencyStore,
// Metrics and MetricsHandler are optional.
type RouterConfig struct {
	TransactionHandler *handler.TransactionHandler
	LedgerHandler      *handler.LedgerHandler
	HealthHandler      *handler.HealthHandler
	IdempotencyStore   usecase.IdempotencyStore
	Metrics            *metrics.Metrics
	MetricsHandler     http.Handler
	Logger             zerolog.Logger
	AllowedOrigins     []string
	IdempotencyTTL     time.Duration
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery)
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", handler.ActorHeader, middleware.IdempotencyKeyHeader},
			ExposedHeaders: []string{middleware.IdempotencyReplayHeader},
			MaxAge:         300,
		}))
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.IdempotencyStore != nil {
			idempotency := middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Metrics)
			r.Use(idempotency.Wrap)
		}

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", cfg.TransactionHandler.Record)
			r.Get("/", cfg.TransactionHandler.ListByTimeRange)
			r.Get("/{id}", cfg.TransactionHandler.Get)
			r.Get("/{id}/transitions", cfg.TransactionHandler.Transitions)
			r.Get("/{id}/events", cfg.TransactionHandler.Events)
			r.Post("/{id}/complete", cfg.TransactionHandler.Complete)
			r.Post("/{id}/fail", cfg.TransactionHandler.Fail)
			r.Post("/{id}/reverse", cfg.TransactionHandler.Reverse)
		})

		r.Get("/entities/{kind}/{id}/transactions", cfg.TransactionHandler.ListByEntity)
		r.Get("/summary", cfg.TransactionHandler.Summary)
		r.Get("/ledger/consistency", cfg.LedgerHandler.CheckConsistency)
	})

	return r
}
