package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListForLocum(ctx context.Context, locumID uuid.UUID) ([]Booking, error)
	// ListForOrganisation returns bookings where orgID is the practice or
	// the branch.
	ListForOrganisation(ctx context.Context, orgID uuid.UUID) ([]Booking, error)

	// CancelWithPenalty moves a confirmed, not yet started booking to
	// CANCELLED and stores its penalty in the same transaction.
	CancelWithPenalty(ctx context.Context, bookingID uuid.UUID, cancelBy, reason string, at time.Time, penalty CancellationPenalty) (*Booking, error)
	ListPenaltiesCharged(ctx context.Context, partyID uuid.UUID) ([]CancellationPenalty, error)
}
