/**
 * @description
 * This file sets up the HTTP router for the funnel-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, panic recovery, CORS, rate limiting and
 * admin authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: browser access from the funnel frontend.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rbxrewards/funnel-service/internal/app"
	"github.com/rbxrewards/funnel-service/internal/metrics"
)

// RouterOptions carries the rate limits applied to the public endpoints.
type RouterOptions struct {
	Limiter              app.RateLimiter
	AllowedOrigins       []string
	ChargeLimitPerMinute int
	LookupLimitPerMinute int
}

// FunnelRoutes creates and returns the router for the funnel service.
func FunnelRoutes(h *FunnelHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	chargeLimit := RateLimitMiddleware(opts.Limiter, "charge", opts.ChargeLimitPerMinute, time.Minute)
	lookupLimit := RateLimitMiddleware(opts.Limiter, "lookup", opts.LookupLimitPerMinute, time.Minute)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Get("/catalog", h.CatalogHandler)

	r.Route("/funnel", func(r chi.Router) {
		r.Post("/", h.CreateSessionHandler)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSessionHandler)
			r.With(lookupLimit).Post("/verify", h.VerifyUsernameHandler)
			r.Post("/continue", h.ContinueHandler)
			r.Post("/package", h.SelectPackageHandler)
			r.With(chargeLimit).Post("/fee/confirm", h.ConfirmFeeHandler)
			r.With(chargeLimit).Post("/payment/retry", h.RetryPaymentHandler)
			r.Post("/payment/verify", h.VerifyPaymentHandler)
			r.Post("/addons/{addonID}/toggle", h.ToggleAddOnHandler)
			r.Post("/restart", h.RestartHandler)
		})
	})

	r.With(lookupLimit).Post("/lookup/user", h.LookupUserHandler)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrderHandler)
		r.Get("/{orderID}", h.GetOrderHandler)
	})

	r.Post("/webhook/pix", h.WebhookHandler)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.AdminLoginHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)
			r.Get("/orders", h.AdminListOrdersHandler)
			r.Patch("/orders/{orderID}", h.AdminUpdateOrderHandler)
		})
	})

	return r
}
