package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/logging"
	"github.com/hackgods/locum-marketplace/internal/metrics"
	"github.com/hackgods/locum-marketplace/internal/notify"
)

var tracer = otel.Tracer("locum/booking")

var (
	ErrBookingNotFound            = errors.New("booking not found")
	ErrNotCancellable             = errors.New("booking cannot be cancelled")
	ErrCancellationReasonRequired = errors.New("cancellation reason is required")
	ErrNotParty                   = errors.New("actor is not a party to this booking")
	ErrConflict                   = errors.New("booking was changed concurrently")
)

// Quote is the penalty the client displayed before cancelling. It is only
// compared against the server's figures.
type Quote struct {
	HoursUntilBooking float64
	PenaltyHours      int
	PenaltyAmount     float64
	HourlyRate        float64
}

type CancelInput struct {
	BookingID uuid.UUID
	Reason    string
	Quote     *Quote
}

type CancelResult struct {
	Booking View
	Penalty CancellationPenalty
	Tier    string
}

type Service struct {
	repo     Repository
	notifier *notify.Notifier
	metrics  *metrics.Lifecycle
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, notifier *notify.Notifier, m *metrics.Lifecycle, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		metrics:  m,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// CancelBooking cancels a booking on behalf of one of its parties. The
// penalty is recomputed here and charged to the canceller.
func (s *Service) CancelBooking(ctx context.Context, act actor.Context, in CancelInput) (res *CancelResult, err error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking_id", in.BookingID.String()),
		attribute.String("actor_kind", string(act.Kind)),
	)
	defer func() { s.metrics.ObserveTransition("cancel_booking", err) }()

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, ErrCancellationReasonRequired
	}

	b, err := s.repo.GetBooking(ctx, in.BookingID)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if !isParty(act, b) {
		return nil, ErrNotParty
	}

	now := s.now()
	if b.Status != StatusConfirmed {
		return nil, ErrNotCancellable
	}
	penalty, err := CalculatePenalty(b.StartsAt, now, b.HourlyRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCancellable, err)
	}
	s.compareQuote(b.ID, in.Quote, penalty)

	record := CancellationPenalty{
		ID:                     uuid.New(),
		BookingID:              b.ID,
		CancelledBy:            act.Party(),
		CancelledPartyType:     string(act.Kind),
		ChargedPartyID:         act.ID,
		PenaltyAmount:          penalty.Amount,
		PenaltyHours:           penalty.PenaltyHours,
		HourlyRate:             penalty.HourlyRate,
		HoursBeforeAppointment: penalty.HoursUntilBooking,
		Status:                 PenaltyPending,
		Reason:                 reason,
		CancellationTime:       now,
		CreatedAt:              now,
	}

	updated, err := s.repo.CancelWithPenalty(ctx, b.ID, act.Party(), reason, now, record)
	if err != nil {
		if errors.Is(err, ErrNotCancellable) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.metrics.ObservePenalty(act.Party(), penalty.Tier)
	s.logger.Info("booking cancelled",
		zap.String("booking_id", b.ID.String()),
		zap.String("cancelled_by", act.Party()),
		zap.Float64("hours_before", penalty.HoursUntilBooking),
		zap.Float64("penalty_amount", penalty.Amount),
	)
	s.notifyCancelled(ctx, act, updated)

	return &CancelResult{Booking: updated.Derive(now), Penalty: record, Tier: penalty.Tier}, nil
}

func (s *Service) compareQuote(bookingID uuid.UUID, q *Quote, p Penalty) {
	if q == nil {
		return
	}
	if q.PenaltyHours == p.PenaltyHours && math.Abs(q.PenaltyAmount-p.Amount) < 0.005 {
		return
	}
	s.logger.Info("client penalty quote differs from server",
		zap.String("booking_id", bookingID.String()),
		zap.Int("client_penalty_hours", q.PenaltyHours),
		zap.Float64("client_penalty_amount", q.PenaltyAmount),
		zap.Int("penalty_hours", p.PenaltyHours),
		zap.Float64("penalty_amount", p.Amount),
	)
}

func (s *Service) notifyCancelled(ctx context.Context, act actor.Context, b *Booking) {
	ev := notify.Event{
		Type:       notify.EventBookingCancelled,
		RequestID:  &b.RequestID,
		BookingID:  &b.ID,
		Message:    "booking cancelled by " + act.Party(),
		OccurredAt: s.now(),
	}
	if act.IsLocum() {
		ev.RecipientID, ev.RecipientKind = b.PracticeID, string(actor.KindPractice)
		if b.BranchID != nil {
			ev.RecipientID, ev.RecipientKind = *b.BranchID, string(actor.KindBranch)
		}
	} else {
		ev.RecipientID, ev.RecipientKind = b.LocumID, string(actor.KindLocum)
	}
	s.notifier.Notify(ctx, ev)
}

// ListBookings returns the bookings of a locum or organisation, with flags
// derived from the server clock.
func (s *Service) ListBookings(ctx context.Context, userID uuid.UUID, kind actor.Kind) ([]View, error) {
	ctx, span := tracer.Start(ctx, "booking.list")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	var (
		list []Booking
		err  error
	)
	if kind == actor.KindLocum {
		list, err = s.repo.ListForLocum(ctx, userID)
	} else {
		list, err = s.repo.ListForOrganisation(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	now := s.now()
	out := make([]View, 0, len(list))
	for _, b := range list {
		out = append(out, b.Derive(now))
	}
	return out, nil
}

// ListPenalties returns only the penalties charged to the actor.
func (s *Service) ListPenalties(ctx context.Context, act actor.Context) ([]CancellationPenalty, error) {
	list, err := s.repo.ListPenaltiesCharged(ctx, act.ID)
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	return list, nil
}

func isParty(act actor.Context, b *Booking) bool {
	if act.IsLocum() {
		return act.ID == b.LocumID
	}
	return act.Owns(b.PracticeID, b.BranchID)
}
