/**
 * @description
 * This file sets up the HTTP router for the screening-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ScreeningRoutes creates and returns a new router for the screening service.
func ScreeningRoutes(h *ScreeningHandlers, webhook *WebhookHandler, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", h.HealthHandler)

	// Webhook endpoint authenticates via HMAC signature, not bearer tokens.
	r.Post("/webhooks/screening-orders", webhook.ServeHTTP)

	// Report downloads authenticate via the signed exp/sig link.
	r.Get("/screening/reports/{orderID}", h.GetReportDownloadHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Checkout and audit trail, scoped to one rental application.
		r.Post("/rental-applications/{applicationID}/screening/checkout", h.CreateCheckoutHandler)
		r.Get("/rental-applications/{applicationID}/screening/events", h.GetScreeningEventsHandler)

		// Order state, manual confirmation and report access.
		r.Post("/screening/stripe/confirm", h.ConfirmSessionHandler)
		r.Get("/screening/orders/{orderID}", h.GetOrderHandler)
		r.Get("/screening/orders/{orderID}/report", h.GetReportURLHandler)
	})

	return r
}
