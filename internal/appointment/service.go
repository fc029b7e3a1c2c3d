package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/config"
	"github.com/hackgods/locum-marketplace/internal/logging"
	"github.com/hackgods/locum-marketplace/internal/metrics"
	"github.com/hackgods/locum-marketplace/internal/notify"
	redisclient "github.com/hackgods/locum-marketplace/internal/redis"
)

var tracer = otel.Tracer("locum/appointment")

const (
	EventRequestCreated     = "REQUEST_CREATED"
	EventRequestCancelled   = "REQUEST_CANCELLED"
	EventResponseApplied    = "RESPONSE_APPLIED"
	EventResponseIgnored    = "RESPONSE_IGNORED"
	EventSelectionCreated   = "SELECTION_CREATED"
	EventSelectionConfirmed = "SELECTION_CONFIRMED"
	EventSelectionRejected  = "SELECTION_REJECTED"
	EventSelectionExpired   = "SELECTION_EXPIRED"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	expiryBatchSize  = 500
)

// PaymentGate answers whether an actor has a stored payment method.
type PaymentGate interface {
	HasPaymentMethod(ctx context.Context, actorID uuid.UUID) (bool, error)
	// Require returns nil when the gate passes and an actionable error
	// otherwise.
	Require(ctx context.Context, actorID uuid.UUID) error
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	gate     PaymentGate
	notifier *notify.Notifier
	metrics  *metrics.Lifecycle
	cfg      config.Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	locker redisclient.Locker,
	gate PaymentGate,
	notifier *notify.Notifier,
	m *metrics.Lifecycle,
	cfg config.Config,
	logger *zap.Logger,
) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		gate:     gate,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// CreateRequest validates the input and stores a new OPEN request owned by
// the calling practice or branch.
func (s *Service) CreateRequest(ctx context.Context, act actor.Context, in RequestInput) (created *AppointmentRequest, err error) {
	ctx, span := tracer.Start(ctx, "appointment.create_request")
	defer span.End()
	span.SetAttributes(attribute.String("actor_id", act.ID.String()))
	defer func() { s.metrics.ObserveTransition("create_request", err) }()

	if !act.IsOrganisation() {
		return nil, ErrForbidden
	}

	practiceID := act.ID
	switch {
	case act.Kind == actor.KindBranch:
		branchID := act.ID
		in.BranchID = &branchID
		practiceID = act.PracticeID
	case in.BranchID != nil && *in.BranchID != uuid.Nil:
		owner, err := s.repo.GetBranchPractice(ctx, *in.BranchID)
		if err != nil {
			if errors.Is(err, ErrBranchNotFound) {
				return nil, ValidationErrors{FieldBranch: "branch not found"}
			}
			return nil, err
		}
		if owner != act.ID {
			return nil, ErrForbidden
		}
	}

	now := s.now()
	req, verrs := buildRequest(in, act.Kind, now, s.cfg.Location())
	if len(verrs) > 0 {
		return nil, verrs
	}

	req.ID = uuid.New()
	req.PracticeID = practiceID
	req.CreatedAt = now
	if req.HourlyRate == 0 {
		req.HourlyRate = s.cfg.DefaultHourlyRate
	}

	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.logEvent(ctx, req.ID, EventRequestCreated, map[string]any{
		"practice_id":   req.PracticeID.String(),
		"required_role": req.RequiredRole,
		"starts_at":     req.StartsAt,
	})
	return req, nil
}

// CancelRequest withdraws a request that has not been booked. A pending
// selection on it is expired.
func (s *Service) CancelRequest(ctx context.Context, act actor.Context, requestID uuid.UUID) (cancelled *AppointmentRequest, err error) {
	ctx, span := tracer.Start(ctx, "appointment.cancel_request")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID.String()))
	defer func() { s.metrics.ObserveTransition("cancel_request", err) }()

	if _, err := s.loadOwnedRequest(ctx, act, requestID); err != nil {
		return nil, err
	}

	var expired []SelectionConfirmation
	err = s.locker.WithRequestLock(ctx, requestID, func(lockCtx context.Context) error {
		req, err := s.repo.GetRequest(lockCtx, requestID)
		if err != nil {
			return fmt.Errorf("reload request: %w", err)
		}
		if req.Status != RequestOpen {
			return ErrInvalidState
		}
		cancelled, expired, err = s.repo.CancelRequest(lockCtx, requestID, s.now())
		return err
	})
	if err != nil {
		return nil, lockError(err)
	}

	s.logEvent(ctx, requestID, EventRequestCancelled, map[string]any{
		"expired_confirmations": len(expired),
	})
	for _, c := range expired {
		s.notifier.Notify(ctx, notify.Event{
			Type:           notify.EventRequestCancelled,
			RecipientID:    c.LocumID,
			RecipientKind:  string(actor.KindLocum),
			RequestID:      &cancelled.ID,
			ConfirmationID: &c.ID,
			Message:        "the practice cancelled this request",
		})
	}
	return cancelled, nil
}

// AvailableRequests lists the open requests a locum can still respond to.
// maxDistanceKm of 0 disables the distance filter.
func (s *Service) AvailableRequests(ctx context.Context, act actor.Context, maxDistanceKm float64) ([]VisibleRequest, error) {
	ctx, span := tracer.Start(ctx, "appointment.available_requests")
	defer span.End()
	span.SetAttributes(attribute.String("locum_id", act.ID.String()))

	if !act.IsLocum() {
		return nil, ErrForbidden
	}
	profile, err := s.repo.GetLocumProfile(ctx, act.ID)
	if err != nil {
		return nil, err
	}
	responded, err := s.repo.ListRespondedRequestIDs(ctx, act.ID)
	if err != nil {
		return nil, err
	}
	pool, err := s.repo.ListOpenRequests(ctx, profile.Role, s.now())
	if err != nil {
		return nil, err
	}

	filter := VisibleFilter{
		Role:          profile.Role,
		Location:      profile.Location,
		Responded:     make(map[uuid.UUID]struct{}, len(responded)),
		MaxDistanceKm: maxDistanceKm,
	}
	for _, id := range responded {
		filter.Responded[id] = struct{}{}
	}
	return FilterVisible(filter, pool), nil
}

type RequestsPage struct {
	Requests   []RequestSummary
	Pagination Pagination
}

// PracticeRequests pages through the requests owned by a practice or branch,
// newest first.
func (s *Service) PracticeRequests(ctx context.Context, act actor.Context, page, limit int) (*RequestsPage, error) {
	ctx, span := tracer.Start(ctx, "appointment.practice_requests")
	defer span.End()

	if !act.IsOrganisation() {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page <= 0 {
		page = 1
	}

	list, total, err := s.repo.ListPracticeRequests(ctx, act.ID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list practice requests: %w", err)
	}

	now := s.now()
	for i := range list {
		if exp := list[i].ActiveExpiresAt; exp != nil && !now.Before(*exp) {
			if err := s.refreshExpired(ctx, &list[i], now); err != nil {
				return nil, err
			}
		}
		var active *SelectionConfirmation
		if list[i].ActiveExpiresAt != nil {
			active = &SelectionConfirmation{Status: ConfirmationPracticeConfirmed, ExpiresAt: *list[i].ActiveExpiresAt}
		}
		list[i].State = DeriveState(list[i].Request, active, list[i].ApplicantCount, now)
	}

	return &RequestsPage{
		Requests: list,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// refreshExpired expires the stale selection behind a summary row and
// recounts its applicants without the withdrawn locum.
func (s *Service) refreshExpired(ctx context.Context, sum *RequestSummary, now time.Time) error {
	active, err := s.liveConfirmation(ctx, &sum.Request, now)
	if err != nil {
		return err
	}
	if active != nil {
		return nil
	}
	sum.ActiveExpiresAt = nil
	applied, err := s.repo.CountApplied(ctx, sum.Request.ID)
	if err != nil {
		return fmt.Errorf("count applicants: %w", err)
	}
	sum.ApplicantCount = applied
	return nil
}

type ApplicantsView struct {
	Request    AppointmentRequest
	State      State
	Applicants []Applicant
	// CanSelectApplicant is true when a selection would currently be
	// accepted, payment method included.
	CanSelectApplicant bool
	// AutoSelectAvailable offers a one-click selection when exactly one
	// applicant is selectable. SelectApplicant still has to be called.
	AutoSelectAvailable bool
}

// Applicants returns the ranked applicants of a request. minRating narrows
// the list for display without changing its order.
func (s *Service) Applicants(ctx context.Context, act actor.Context, requestID uuid.UUID, minRating float64) (*ApplicantsView, error) {
	ctx, span := tracer.Start(ctx, "appointment.applicants")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID.String()))

	req, err := s.loadOwnedRequest(ctx, act, requestID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	active, err := s.liveConfirmation(ctx, req, now)
	if err != nil {
		return nil, err
	}
	list, err := s.repo.ListApplicants(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list applicants: %w", err)
	}

	ranked := RankApplicants(*req, list)
	view := &ApplicantsView{
		Request:    *req,
		State:      DeriveState(*req, active, len(ranked), now),
		Applicants: MinRating(ranked, minRating),
	}

	if view.State == StateHasApplicants {
		ok, err := s.gate.HasPaymentMethod(ctx, act.ID)
		if err != nil {
			s.logger.Warn("payment gate lookup failed", zap.String("actor_id", act.ID.String()), zap.Error(err))
		}
		view.CanSelectApplicant = ok
		view.AutoSelectAvailable = ok && len(ranked) == 1
	}
	return view, nil
}

// PendingConfirmations lists the selections waiting on the locum, with the
// time left to answer each.
func (s *Service) PendingConfirmations(ctx context.Context, act actor.Context) ([]PendingConfirmation, error) {
	ctx, span := tracer.Start(ctx, "appointment.pending_confirmations")
	defer span.End()

	if !act.IsLocum() {
		return nil, ErrForbidden
	}
	now := s.now()
	list, err := s.repo.ListPendingConfirmations(ctx, act.ID, now)
	if err != nil {
		return nil, fmt.Errorf("list pending confirmations: %w", err)
	}
	for i := range list {
		list[i].TimeLeft = TimeLeftUntil(list[i].Confirmation.ExpiresAt, now)
	}
	return list, nil
}

func (s *Service) ApplyHistory(ctx context.Context, act actor.Context) ([]ApplyHistoryEntry, error) {
	if !act.IsLocum() {
		return nil, ErrForbidden
	}
	list, err := s.repo.ListApplyHistory(ctx, act.ID)
	if err != nil {
		return nil, fmt.Errorf("list apply history: %w", err)
	}
	return list, nil
}

func (s *Service) loadOwnedRequest(ctx context.Context, act actor.Context, requestID uuid.UUID) (*AppointmentRequest, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	if !act.Owns(req.PracticeID, req.BranchID) {
		return nil, ErrForbidden
	}
	return req, nil
}

// activeConfirmation returns the PRACTICE_CONFIRMED row, or nil.
func (s *Service) activeConfirmation(ctx context.Context, requestID uuid.UUID) (*SelectionConfirmation, error) {
	c, err := s.repo.GetActiveConfirmation(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrConfirmationNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load active confirmation: %w", err)
	}
	return c, nil
}

// liveConfirmation is activeConfirmation after lazy expiry: a row past its
// deadline is flipped to EXPIRED (withdrawing its locum) and reported as nil.
func (s *Service) liveConfirmation(ctx context.Context, req *AppointmentRequest, now time.Time) (*SelectionConfirmation, error) {
	active, err := s.activeConfirmation(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.IsStale(now) {
		s.expire(ctx, *active, req, now, "lazy")
		return nil, nil
	}
	return active, nil
}

func lockError(err error) error {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, requestID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	reqID := requestID

	ev := EventLog{
		EventType: eventType,
		RequestID: &reqID,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("request_id", requestID.String()),
			zap.Error(err),
		)
	}
}
