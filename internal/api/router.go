/**
 * @description
 * This file sets up the HTTP router for the rental-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware for logging, recovery, CORS, authentication and rate limiting.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the router's collaborators.
type RouterConfig struct {
	Auth           AuthConfig
	Limiter        RateLimiter
	AllowedOrigins []string
	Metrics        http.Handler
	Logger         *slog.Logger
}

// RentalRoutes creates and returns a new router for the rental service.
func RentalRoutes(h *RentalHandlers, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		// Read surface
		r.Get("/rentals/{propertyID}", h.GetRentalHandler)
		r.Get("/rentals/{propertyID}/deposit", h.GetDepositHandler)
		r.Get("/deposits/{account}", h.DepositOfHandler)
		r.Get("/ledger", h.LedgerStateHandler)
		r.Get("/ledger/events", h.ListEventsHandler)

		// Mutations share one per-caller budget.
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.Limiter, "mutations", logger))

			r.Post("/rentals", h.CreateRentalHandler)
			r.Post("/rentals/{propertyID}/activate", h.ActivateRentalHandler)
			r.Post("/rentals/{propertyID}/rent", h.PayRentHandler)
			r.Post("/rentals/{propertyID}/end", h.EndRentalHandler)
			r.Put("/ledger/pause", h.SetPausedHandler)
			r.Post("/ledger/withdraw", h.WithdrawHandler)
		})
	})

	return r
}
