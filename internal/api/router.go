package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/appointment"
	"github.com/hackgods/locum-marketplace/internal/booking"
	"github.com/hackgods/locum-marketplace/internal/logging"
	"github.com/hackgods/locum-marketplace/internal/metrics"
	"github.com/hackgods/locum-marketplace/internal/payment"
)

type AppointmentService interface {
	CreateRequest(ctx context.Context, act actor.Context, in appointment.RequestInput) (*appointment.AppointmentRequest, error)
	CancelRequest(ctx context.Context, act actor.Context, requestID uuid.UUID) (*appointment.AppointmentRequest, error)
	AvailableRequests(ctx context.Context, act actor.Context, maxDistanceKm float64) ([]appointment.VisibleRequest, error)
	PracticeRequests(ctx context.Context, act actor.Context, page, limit int) (*appointment.RequestsPage, error)
	Applicants(ctx context.Context, act actor.Context, requestID uuid.UUID, minRating float64) (*appointment.ApplicantsView, error)
	SelectApplicant(ctx context.Context, act actor.Context, requestID, locumID uuid.UUID) (*appointment.SelectionConfirmation, error)
	Accept(ctx context.Context, act actor.Context, requestID uuid.UUID) (*appointment.ApplicantResponse, error)
	Ignore(ctx context.Context, act actor.Context, requestID uuid.UUID) (*appointment.ApplicantResponse, error)
	PendingConfirmations(ctx context.Context, act actor.Context) ([]appointment.PendingConfirmation, error)
	ConfirmOrReject(ctx context.Context, act actor.Context, confirmationID uuid.UUID, action appointment.Action, reason string) (*appointment.ConfirmResult, error)
	ApplyHistory(ctx context.Context, act actor.Context) ([]appointment.ApplyHistoryEntry, error)
}

type BookingService interface {
	CancelBooking(ctx context.Context, act actor.Context, in booking.CancelInput) (*booking.CancelResult, error)
	ListBookings(ctx context.Context, userID uuid.UUID, kind actor.Kind) ([]booking.View, error)
	ListPenalties(ctx context.Context, act actor.Context) ([]booking.CancellationPenalty, error)
}

type PaymentService interface {
	ListPaymentMethods(ctx context.Context, actorID uuid.UUID) ([]payment.PaymentMethod, error)
	CreateSetupIntent(ctx context.Context, actorID uuid.UUID) (*payment.SetupIntent, error)
	DetachPaymentMethod(ctx context.Context, actorID uuid.UUID, paymentMethodID string) error
}

type RouterConfig struct {
	Appointments AppointmentService
	Bookings     BookingService
	Payments     PaymentService
	Health       *HealthHandler
	Metrics      *metrics.Lifecycle
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrNop(cfg.Logger)
	h := &handlers{
		appointments: cfg.Appointments,
		bookings:     cfg.Bookings,
		payments:     cfg.Payments,
		logger:       logger,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		// Requests
		r.Post("/create-request", h.createRequest)
		r.Post("/cancel-request", h.cancelRequest)
		r.Get("/available-requests", h.availableRequests)
		r.Get("/practice-requests", h.practiceRequests)

		// Selection
		r.Get("/applicants", h.applicants)
		r.Post("/select-applicant", h.selectApplicant)
		r.Post("/accept", h.accept)
		r.Post("/ignore", h.ignore)
		r.Get("/pending-confirmations", h.pendingConfirmations)
		r.Post("/locum-confirm", h.locumConfirm)
		r.Get("/locum-apply-history", h.applyHistory)

		// Bookings
		r.Get("/bookings", h.listBookings)
		r.Post("/cancel-booking", h.cancelBooking)
		r.Get("/penalties", h.listPenalties)

		// Payment methods
		r.Get("/list-payment-methods", h.listPaymentMethods)
		r.Post("/create-setup-intent", h.createSetupIntent)
		r.Post("/detach-payment-method", h.detachPaymentMethod)
	})

	return r
}
