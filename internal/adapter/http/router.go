package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eduops/courseledger/internal/adapter/http/handler"
	"github.com/eduops/courseledger/internal/adapter/http/middleware"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	LedgerHandler      *handler.LedgerHandler
	BalanceHandler     *handler.BalanceHandler
	TransactionHandler *handler.TransactionHandler
	RebuildHandler     *handler.RebuildHandler
	HealthHandler      *handler.HealthHandler
	Logger             zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recovery)

	// Health and metrics endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", cfg.BalanceHandler.ListAccounts)
			r.Get("/{code}/balance", cfg.BalanceHandler.Balance)
			r.Get("/{code}/transactions", cfg.TransactionHandler.List)
		})

		r.Get("/trial-balance", cfg.BalanceHandler.TrialBalance)

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", cfg.LedgerHandler.Append)
			r.Get("/", cfg.TransactionHandler.List)
			r.Get("/{id}", cfg.TransactionHandler.Get)
			r.Post("/{id}/reverse", cfg.LedgerHandler.Reverse)
		})

		r.Get("/rebuild/latest", cfg.RebuildHandler.Latest)
	})

	return r
}
