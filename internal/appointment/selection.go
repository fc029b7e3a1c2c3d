package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/booking"
	"github.com/hackgods/locum-marketplace/internal/notify"
)

type Action string

const (
	ActionConfirm Action = "CONFIRM"
	ActionReject  Action = "REJECT"
)

func ParseAction(raw string) (Action, bool) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(raw))); a {
	case ActionConfirm, ActionReject:
		return a, true
	default:
		return "", false
	}
}

// ConfirmationNumber renders the display number of a confirmation.
func ConfirmationNumber(at time.Time, id uuid.UUID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
	return fmt.Sprintf("LC-%s-%s", at.UTC().Format("20060102"), suffix)
}

// SelectApplicant picks one applicant for a request. It runs under the
// request lock; the partial unique index on active confirmations backs it
// up across processes.
func (s *Service) SelectApplicant(ctx context.Context, act actor.Context, requestID, locumID uuid.UUID) (selected *SelectionConfirmation, err error) {
	ctx, span := tracer.Start(ctx, "appointment.select_applicant")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID.String()),
		attribute.String("locum_id", locumID.String()),
	)
	defer func() { s.metrics.ObserveTransition("select_applicant", err) }()

	if _, err := s.loadOwnedRequest(ctx, act, requestID); err != nil {
		return nil, err
	}
	if err := s.gate.Require(ctx, act.ID); err != nil {
		return nil, err
	}

	err = s.locker.WithRequestLock(ctx, requestID, func(lockCtx context.Context) error {
		now := s.now()

		req, err := s.repo.GetRequest(lockCtx, requestID)
		if err != nil {
			return fmt.Errorf("reload request: %w", err)
		}
		active, err := s.liveConfirmation(lockCtx, req, now)
		if err != nil {
			return err
		}
		applied, err := s.repo.CountApplied(lockCtx, requestID)
		if err != nil {
			return err
		}

		switch DeriveState(*req, active, applied, now) {
		case StateHasApplicants:
		case StateSelectionPending:
			return ErrAlreadySelected
		default:
			return ErrInvalidState
		}
		if !req.StartsAt.After(now) {
			return fmt.Errorf("%w: request has already started", ErrInvalidState)
		}

		resp, err := s.repo.GetResponse(lockCtx, requestID, locumID)
		if err != nil && !errors.Is(err, ErrResponseNotFound) {
			return fmt.Errorf("load response: %w", err)
		}
		if resp == nil || resp.Status != ResponseApplied {
			return fmt.Errorf("%w: locum is not an active applicant", ErrInvalidState)
		}

		id := uuid.New()
		c := &SelectionConfirmation{
			ID:                  id,
			ConfirmationNumber:  ConfirmationNumber(now, id),
			RequestID:           requestID,
			LocumID:             locumID,
			Status:              ConfirmationPracticeConfirmed,
			PracticeConfirmedAt: now,
			ExpiresAt:           now.Add(s.cfg.ConfirmationTTL),
		}
		if err := s.repo.CreateConfirmation(lockCtx, c); err != nil {
			return err
		}
		selected = c

		s.logEvent(lockCtx, requestID, EventSelectionCreated, map[string]any{
			"confirmation_id": c.ID.String(),
			"locum_id":        locumID.String(),
			"expires_at":      c.ExpiresAt,
		})
		return nil
	})
	if err != nil {
		return nil, lockError(err)
	}

	s.notifier.Notify(ctx, notify.Event{
		Type:           notify.EventSelectionCreated,
		RecipientID:    locumID,
		RecipientKind:  string(actor.KindLocum),
		RequestID:      &requestID,
		ConfirmationID: &selected.ID,
		Message:        "you have been selected, please confirm before " + selected.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return selected, nil
}

type ConfirmResult struct {
	Confirmation SelectionConfirmation
	// Booking is set when the locum confirmed.
	Booking *booking.Booking
}

// ConfirmOrReject records the locum's answer to a selection.
func (s *Service) ConfirmOrReject(ctx context.Context, act actor.Context, confirmationID uuid.UUID, action Action, reason string) (res *ConfirmResult, err error) {
	ctx, span := tracer.Start(ctx, "appointment.confirm_or_reject")
	defer span.End()
	span.SetAttributes(
		attribute.String("confirmation_id", confirmationID.String()),
		attribute.String("action", string(action)),
	)
	defer func() { s.metrics.ObserveTransition("locum_"+strings.ToLower(string(action)), err) }()

	if !act.IsLocum() {
		return nil, ErrForbidden
	}
	if action != ActionConfirm && action != ActionReject {
		return nil, ValidationErrors{"action": "action must be CONFIRM or REJECT"}
	}

	c, err := s.repo.GetConfirmation(ctx, confirmationID)
	if err != nil {
		if errors.Is(err, ErrConfirmationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load confirmation: %w", err)
	}
	if c.LocumID != act.ID {
		return nil, ErrForbidden
	}
	if c.Status == ConfirmationExpired {
		return nil, ErrExpired
	}
	if c.Status != ConfirmationPracticeConfirmed {
		return nil, ErrInvalidState
	}

	req, err := s.repo.GetRequest(ctx, c.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}

	now := s.now()
	if c.IsStale(now) {
		s.expire(ctx, *c, req, now, "confirm_after_expiry")
		return nil, ErrExpired
	}

	if action == ActionReject {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return nil, ErrRejectionReasonRequired
		}
		rejected, err := s.repo.RejectSelection(ctx, c.ID, reason, now)
		if err != nil {
			return nil, err
		}
		s.logEvent(ctx, req.ID, EventSelectionRejected, map[string]any{
			"confirmation_id": c.ID.String(),
			"reason":          reason,
		})
		s.notifier.Notify(ctx, notify.Event{
			Type:           notify.EventSelectionRejected,
			RecipientID:    req.OwnerID(),
			RecipientKind:  req.OwnerKind(),
			RequestID:      &req.ID,
			ConfirmationID: &c.ID,
			Message:        "the selected locum declined, choose another applicant",
		})
		return &ConfirmResult{Confirmation: *rejected}, nil
	}

	b := &booking.Booking{
		ID:             uuid.New(),
		RequestID:      req.ID,
		ConfirmationID: c.ID,
		LocumID:        c.LocumID,
		PracticeID:     req.PracticeID,
		BranchID:       req.BranchID,
		BookingDate:    req.RequestDate,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
		Location:       req.Location,
		HourlyRate:     req.HourlyRate,
		Status:         booking.StatusConfirmed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.ConfirmSelection(ctx, c, now, b); err != nil {
		return nil, err
	}

	confirmed := *c
	confirmed.Status = ConfirmationLocumConfirmed
	confirmed.RespondedAt = &now
	confirmed.UpdatedAt = now

	s.logEvent(ctx, req.ID, EventSelectionConfirmed, map[string]any{
		"confirmation_id": c.ID.String(),
		"booking_id":      b.ID.String(),
	})
	s.notifier.Notify(ctx, notify.Event{
		Type:           notify.EventBookingConfirmed,
		RecipientID:    req.OwnerID(),
		RecipientKind:  req.OwnerKind(),
		RequestID:      &req.ID,
		ConfirmationID: &c.ID,
		BookingID:      &b.ID,
		Message:        "booking confirmed " + confirmed.ConfirmationNumber,
	})
	return &ConfirmResult{Confirmation: confirmed, Booking: b}, nil
}

// Accept records a locum's application. The payment method check comes
// before any state lookup.
func (s *Service) Accept(ctx context.Context, act actor.Context, requestID uuid.UUID) (resp *ApplicantResponse, err error) {
	ctx, span := tracer.Start(ctx, "appointment.accept")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID.String()))
	defer func() { s.metrics.ObserveTransition("accept", err) }()

	if !act.IsLocum() {
		return nil, ErrForbidden
	}
	if err := s.gate.Require(ctx, act.ID); err != nil {
		return nil, err
	}
	return s.respond(ctx, act, requestID, ResponseApplied)
}

// Ignore hides a request from the locum for good.
func (s *Service) Ignore(ctx context.Context, act actor.Context, requestID uuid.UUID) (resp *ApplicantResponse, err error) {
	ctx, span := tracer.Start(ctx, "appointment.ignore")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID.String()))
	defer func() { s.metrics.ObserveTransition("ignore", err) }()

	if !act.IsLocum() {
		return nil, ErrForbidden
	}
	return s.respond(ctx, act, requestID, ResponseIgnored)
}

func (s *Service) respond(ctx context.Context, act actor.Context, requestID uuid.UUID, status ResponseStatus) (*ApplicantResponse, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load request: %w", err)
	}

	existing, err := s.repo.GetResponse(ctx, requestID, act.ID)
	if err != nil && !errors.Is(err, ErrResponseNotFound) {
		return nil, fmt.Errorf("load response: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyResponded
	}

	now := s.now()
	active, err := s.liveConfirmation(ctx, req, now)
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.CountApplied(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch DeriveState(*req, active, applied, now) {
	case StateOpen, StateHasApplicants:
	default:
		return nil, ErrInvalidState
	}
	if !req.StartsAt.After(now) {
		return nil, fmt.Errorf("%w: request has already started", ErrInvalidState)
	}

	if status == ResponseApplied {
		profile, err := s.repo.GetLocumProfile(ctx, act.ID)
		if err != nil {
			return nil, err
		}
		if profile.Role != req.RequiredRole {
			return nil, fmt.Errorf("%w: request needs a %s", ErrInvalidState, req.RequiredRole)
		}
	}

	resp := &ApplicantResponse{
		ID:          uuid.New(),
		RequestID:   requestID,
		LocumID:     act.ID,
		Status:      status,
		RespondedAt: now,
	}
	if err := s.repo.CreateResponse(ctx, resp); err != nil {
		return nil, err
	}

	eventType := EventResponseApplied
	if status == ResponseIgnored {
		eventType = EventResponseIgnored
	}
	s.logEvent(ctx, requestID, eventType, map[string]any{"locum_id": act.ID.String()})
	return resp, nil
}

// ExpireStale flips every confirmation past its deadline to EXPIRED and
// returns how many it changed. It is safe to run next to live traffic:
// each flip only applies while the row is still PRACTICE_CONFIRMED.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "appointment.expire_stale")
	defer span.End()

	now := s.now()
	stale, err := s.repo.FindStaleConfirmations(ctx, now, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale confirmations: %w", err)
	}

	expired := 0
	for _, c := range stale {
		req, err := s.repo.GetRequest(ctx, c.RequestID)
		if err != nil {
			s.logger.Warn("failed to load request for expiry",
				zap.String("confirmation_id", c.ID.String()), zap.Error(err))
			continue
		}
		if s.expire(ctx, c, req, now, "worker") {
			expired++
		}
	}
	span.SetAttributes(attribute.Int("expired_count", expired))
	return expired, nil
}

// expire applies the conditional EXPIRED transition and tells both sides.
// It reports whether this call made the change.
func (s *Service) expire(ctx context.Context, c SelectionConfirmation, req *AppointmentRequest, now time.Time, reason string) bool {
	ok, err := s.repo.ExpireConfirmation(ctx, c.ID, now)
	s.metrics.ObserveTransition("expire_selection", err)
	if err != nil {
		s.logger.Warn("failed to expire confirmation",
			zap.String("confirmation_id", c.ID.String()), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	s.logEvent(ctx, c.RequestID, EventSelectionExpired, map[string]any{
		"confirmation_id": c.ID.String(),
		"reason":          reason,
	})
	for _, ev := range []notify.Event{
		{RecipientID: c.LocumID, RecipientKind: string(actor.KindLocum), Message: "your selection expired"},
		{RecipientID: req.OwnerID(), RecipientKind: req.OwnerKind(), Message: "the selected locum did not answer in time"},
	} {
		ev.Type = notify.EventSelectionExpired
		ev.RequestID = &c.RequestID
		ev.ConfirmationID = &c.ID
		s.notifier.Notify(ctx, ev)
	}
	return true
}
