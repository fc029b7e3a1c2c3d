// Package payment implements the payment method gate consulted before a
// locum applies or a practice selects, and the card management endpoints
// behind the hosted card widget.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/logging"
	"github.com/hackgods/locum-marketplace/internal/metrics"
)

var tracer = otel.Tracer("locum/payment")

var (
	ErrPaymentMethodMissing  = errors.New("payment method required")
	ErrPaymentMethodNotOwned = errors.New("payment method does not belong to this actor")
)

// MissingError is returned when the gate fails. It carries where the actor
// should go to add a card before retrying.
type MissingError struct {
	ActorID     uuid.UUID
	RedirectURL string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("payment method required, add a card at %s and retry", e.RedirectURL)
}

func (e *MissingError) Unwrap() error { return ErrPaymentMethodMissing }

type Config struct {
	CacheTTL            time.Duration
	AddPaymentMethodURL string
}

type Service struct {
	processor Processor
	customers CustomerStore
	cache     *redis.Client
	cfg       Config
	metrics   *metrics.Lifecycle
	logger    *zap.Logger
}

// NewService builds the gate. cache may be nil, in which case every check
// goes to the processor.
func NewService(processor Processor, customers CustomerStore, cache *redis.Client, cfg Config, m *metrics.Lifecycle, logger *zap.Logger) *Service {
	return &Service{
		processor: processor,
		customers: customers,
		cache:     cache,
		cfg:       cfg,
		metrics:   m,
		logger:    logging.OrNop(logger),
	}
}

func cacheKey(actorID uuid.UUID) string {
	return "payment:has_method:" + actorID.String()
}

// HasPaymentMethod reports whether the actor has at least one stored card.
// Only positive answers are cached so a newly added card is seen at once.
func (s *Service) HasPaymentMethod(ctx context.Context, actorID uuid.UUID) (bool, error) {
	ctx, span := tracer.Start(ctx, "payment.has_payment_method")
	defer span.End()
	span.SetAttributes(attribute.String("actor_id", actorID.String()))

	if s.cache != nil {
		hit, err := s.cache.Exists(ctx, cacheKey(actorID)).Result()
		if err != nil {
			s.logger.Warn("payment gate cache read failed", zap.Error(err))
		} else if hit > 0 {
			return true, nil
		}
	}

	methods, err := s.ListPaymentMethods(ctx, actorID)
	if err != nil {
		return false, err
	}
	ok := len(methods) > 0

	if ok && s.cache != nil && s.cfg.CacheTTL > 0 {
		if err := s.cache.Set(ctx, cacheKey(actorID), "1", s.cfg.CacheTTL).Err(); err != nil {
			s.logger.Warn("payment gate cache write failed", zap.Error(err))
		}
	}
	return ok, nil
}

// Require passes when the actor has a card and otherwise returns a
// *MissingError.
func (s *Service) Require(ctx context.Context, actorID uuid.UUID) error {
	ok, err := s.HasPaymentMethod(ctx, actorID)
	if err != nil {
		return fmt.Errorf("check payment method: %w", err)
	}
	s.metrics.ObserveGate(ok)
	if !ok {
		return &MissingError{ActorID: actorID, RedirectURL: s.cfg.AddPaymentMethodURL}
	}
	return nil
}

// ListPaymentMethods returns the actor's cards; an actor who never started
// card setup has none.
func (s *Service) ListPaymentMethods(ctx context.Context, actorID uuid.UUID) ([]PaymentMethod, error) {
	customerID, err := s.customers.GetCustomerID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return []PaymentMethod{}, nil
		}
		return nil, err
	}
	methods, err := s.processor.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return methods, nil
}

// CreateSetupIntent starts card collection, creating the processor
// customer on first use.
func (s *Service) CreateSetupIntent(ctx context.Context, actorID uuid.UUID) (*SetupIntent, error) {
	ctx, span := tracer.Start(ctx, "payment.create_setup_intent")
	defer span.End()

	customerID, err := s.customers.GetCustomerID(ctx, actorID)
	if errors.Is(err, ErrCustomerNotFound) {
		created, cerr := s.processor.CreateCustomer(ctx, actorID)
		if cerr != nil {
			return nil, fmt.Errorf("create customer: %w", cerr)
		}
		customerID, err = s.customers.SaveCustomerID(ctx, actorID, created)
		if err == nil && customerID != created {
			s.logger.Info("payment customer created concurrently, keeping stored one",
				zap.String("actor_id", actorID.String()))
		}
	}
	if err != nil {
		return nil, err
	}

	intent, err := s.processor.CreateSetupIntent(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("create setup intent: %w", err)
	}
	return intent, nil
}

// DetachPaymentMethod removes one of the actor's cards and drops the cached
// gate answer.
func (s *Service) DetachPaymentMethod(ctx context.Context, actorID uuid.UUID, paymentMethodID string) error {
	customerID, err := s.customers.GetCustomerID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return ErrPaymentMethodNotOwned
		}
		return err
	}
	pm, err := s.processor.GetPaymentMethod(ctx, paymentMethodID)
	if err != nil {
		return fmt.Errorf("load payment method: %w", err)
	}
	if pm.Customer != customerID {
		return ErrPaymentMethodNotOwned
	}
	if err := s.processor.DetachPaymentMethod(ctx, paymentMethodID); err != nil {
		return fmt.Errorf("detach payment method: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, cacheKey(actorID)).Err(); err != nil {
			s.logger.Warn("payment gate cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}
