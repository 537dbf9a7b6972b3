package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/stay-payments/internal/auth"
	"github.com/frahmantamala/stay-payments/internal/booking"
	"github.com/frahmantamala/stay-payments/internal/payment"
	"github.com/frahmantamala/stay-payments/internal/transport/middleware"
	"github.com/frahmantamala/stay-payments/internal/transport/swagger"
	"github.com/frahmantamala/stay-payments/internal/visit"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Routes carries every handler mounted by RegisterAllRoutes. Nil handlers leave their routes out.
type Routes struct {
	Health         *HealthHandler
	Verifier       auth.TokenVerifier
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	BookingHandler *booking.Handler
	VisitHandler   *visit.Handler
	// Metrics is served at MetricsPath outside the API prefix.
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, routes Routes) {
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(routes.Logger))
	router.Use(middleware.LoggingMiddleware(routes.Logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	if routes.Metrics != nil {
		path := routes.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, routes.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.healthCheckHandler)
			r.Get("/ping", routes.Health.pingHandler)
		}

		// The provider authenticates with the shared webhook secret, not a user token.
		if routes.WebhookHandler != nil {
			r.Post("/payments/callback", routes.WebhookHandler.HandlePaymentCallback)
		}

		if routes.Verifier == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(middleware.RequireAuth(routes.Verifier))

			if h := routes.PaymentHandler; h != nil {
				pr.Route("/payments", func(pmr chi.Router) {
					pmr.Get("/history", h.History)
					pmr.Post("/intents", h.CreateIntent)
					pmr.Get("/intents/{id}", h.GetIntent)
					pmr.Post("/intents/{id}/initiate", h.InitiateIntent)
					pmr.Get("/intents/{id}/await", h.AwaitIntent)
				})
			}

			if h := routes.BookingHandler; h != nil {
				pr.Route("/bookings", func(br chi.Router) {
					br.Post("/", h.CreateBooking)
					br.Get("/{id}", h.GetBooking)
					br.Get("/{id}/breakdown", h.GetBreakdown)
				})
			}

			if h := routes.VisitHandler; h != nil {
				pr.Route("/visits", func(vr chi.Router) {
					vr.Post("/", h.RequestVisit)
					vr.Get("/{id}", h.GetVisit)
					vr.Post("/{id}/confirm", h.ConfirmVisit)
					vr.Post("/{id}/cancel", h.CancelVisit)
				})
			}
		})
	})
}
