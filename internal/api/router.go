/**
 * @description
 * HTTP router setup for the signup service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/signup-service/internal/domain"
)

// NewRouter creates a new Chi router and registers the signup routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Signature"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/signups", h.handleIntake)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/webhooks/payments", h.handlePaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(h.service.Tokens()))

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(domain.RoleAdmin))
			r.Get("/signups", h.handleListSignups)
			r.Post("/signups/assign", h.handleBulkAssign)
			r.Delete("/signups/{email}", h.handleDeleteSignup)
			r.Get("/staff", h.handleListStaff)
			r.Post("/staff", h.handleCreateStaff)
			r.Put("/staff/{id}", h.handleUpdateStaff)
			r.Delete("/staff/{id}", h.handleDeleteStaff)
			r.Get("/stats", h.handleStats)
			r.Post("/stats/refresh", h.handleRefreshStats)
		})

		r.Route("/controller", func(r chi.Router) {
			r.Use(RequireRole(domain.RoleController, domain.RoleAdmin))
			r.Get("/signups", h.handleControllerSignups)
			r.Post("/signups/{email}/approve", h.handleApprove)
			r.Post("/signups/{email}/reject", h.handleReject)
			r.Get("/stats", h.handleControllerStats)
		})

		r.Route("/ambassador", func(r chi.Router) {
			r.Use(RequireRole(domain.RoleAmbassador))
			r.Get("/signups", h.handleAmbassadorSignups)
			r.Get("/stats", h.handleAmbassadorStats)
		})
	})

	return r
}
