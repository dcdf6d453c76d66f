// Package api assembles the HTTP router for the validation API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/api/handlers"
	"github.com/validrx/validrx/internal/api/middleware"
	"github.com/validrx/validrx/internal/observability/metrics"
)

// Version is reported by /health
const Version = "1.0.0"

// Deps holds everything the router wires together
type Deps struct {
	ServiceName string
	Checker     handlers.Checker
	Store       handlers.CatalogStore
	// Inbox is optional; without it Idempotency-Key headers are ignored
	Inbox handlers.Idempotency
	// Ready is called by /ready
	Ready          func(ctx context.Context) error
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	RateLimiter    *middleware.RateLimiter
	APIKeys        map[string]string
	AdminKey       string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter builds the chi router
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(d.ServiceName))
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}

	r.Get("/health", healthHandler(d.ServiceName))
	r.Get("/ready", readyHandler(d.Ready))
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	checkHandler := handlers.NewClinicalCheckHandler(d.Checker, logger)
	adminHandler := handlers.NewAdminHandler(d.Store, d.Inbox, d.Metrics, logger)

	r.Route("/api/v1", func(r chi.Router) {
		if d.RequestTimeout > 0 {
			r.Use(chimw.Timeout(d.RequestTimeout))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(d.APIKeys))
			if d.RateLimiter != nil {
				r.Use(d.RateLimiter.Middleware)
			}
			r.Mount("/clinical-check", checkHandler.Routes())
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminKeyAuth(d.AdminKey))
			if d.RateLimiter != nil {
				r.Use(d.RateLimiter.Middleware)
			}
			r.Mount("/admin", adminHandler.Routes())
		})
	})

	return r
}

func healthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q,"version":%q}`, service, Version)
	}
}

func readyHandler(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	}
}
