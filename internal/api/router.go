package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/auth"
	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/payment"
)

type RouterConfig struct {
	Booking       *booking.Service
	Payments      *payment.Reconciler
	Subscriptions *payment.SubscriptionReconciler
	Resolver      PractitionerResolver
	Verifier      auth.TokenVerifier

	PgPool *pgxpool.Pool
	Redis  *redis.Client
	Log    *zap.Logger

	Env                string
	Version            string
	FrontendBaseURL    string
	SubscriptionAmount int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Public surface: discovery, direct booking, patient history.
	r.Route("/public", func(r chi.Router) {
		r.Get("/practitioners/{id}/slots", listPublicSlotsHandler(cfg.Booking))
		r.Post("/appointments", bookAppointmentHandler(cfg.Booking))
		r.Get("/appointments/{id}", appointmentDetailHandler(cfg.Booking))
		r.Get("/patients/{rut}/appointments", patientAppointmentsHandler(cfg.Booking))
	})

	// Payment surface. The return endpoints accept GET and POST: the
	// gateway uses both depending on how the payer came back.
	r.Route("/payments", func(r chi.Router) {
		r.Post("/appointments/initiate", initiateAppointmentPaymentHandler(cfg.Payments))
		r.Get("/appointments/return", appointmentReturnHandler(cfg.Payments, cfg.FrontendBaseURL))
		r.Post("/appointments/return", appointmentReturnHandler(cfg.Payments, cfg.FrontendBaseURL))

		r.Get("/subscriptions/return", subscriptionReturnHandler(cfg.Subscriptions, cfg.FrontendBaseURL))
		r.Post("/subscriptions/return", subscriptionReturnHandler(cfg.Subscriptions, cfg.FrontendBaseURL))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Verifier, cfg.Resolver))
			r.Post("/subscriptions/initiate", initiateSubscriptionHandler(cfg.Subscriptions, cfg.SubscriptionAmount))
			r.Get("/subscriptions/status", subscriptionStatusHandler(cfg.Subscriptions))
		})
	})

	// Practitioner surface.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier, cfg.Resolver))
		r.Post("/slots", publishSlotHandler(cfg.Booking))
		r.Get("/slots", listOwnSlotsHandler(cfg.Booking))
		r.Delete("/slots/{id}", deleteSlotHandler(cfg.Booking))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Booking))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Booking))
	})

	return r
}
