package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/locum-marketplace/internal/booking"
)

// Repository contains all DB interactions needed by the service. Every
// status change is a conditional update; a change that matched no rows is
// reported as ErrConflict.
type Repository interface {
	// Requests
	CreateRequest(ctx context.Context, req *AppointmentRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*AppointmentRequest, error)
	// ListOpenRequests returns OPEN, not yet started requests for a role
	// that have no live selection.
	ListOpenRequests(ctx context.Context, role Role, now time.Time) ([]AppointmentRequest, error)
	ListPracticeRequests(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]RequestSummary, int, error)
	// CancelRequest cancels an OPEN request and expires its pending
	// selection, returning the confirmations that were expired.
	CancelRequest(ctx context.Context, id uuid.UUID, now time.Time) (*AppointmentRequest, []SelectionConfirmation, error)
	GetBranchPractice(ctx context.Context, branchID uuid.UUID) (uuid.UUID, error)

	// Responses
	GetLocumProfile(ctx context.Context, id uuid.UUID) (*LocumProfile, error)
	GetResponse(ctx context.Context, requestID, locumID uuid.UUID) (*ApplicantResponse, error)
	ListRespondedRequestIDs(ctx context.Context, locumID uuid.UUID) ([]uuid.UUID, error)
	CreateResponse(ctx context.Context, resp *ApplicantResponse) error
	// ListApplicants returns APPLIED responses with profiles in response order.
	ListApplicants(ctx context.Context, requestID uuid.UUID) ([]Applicant, error)
	CountApplied(ctx context.Context, requestID uuid.UUID) (int, error)

	// Confirmations
	// GetActiveConfirmation returns the PRACTICE_CONFIRMED row for a request,
	// which may already be past its deadline.
	GetActiveConfirmation(ctx context.Context, requestID uuid.UUID) (*SelectionConfirmation, error)
	GetConfirmation(ctx context.Context, id uuid.UUID) (*SelectionConfirmation, error)
	CreateConfirmation(ctx context.Context, c *SelectionConfirmation) error
	// ExpireConfirmation flips a stale confirmation to EXPIRED and withdraws
	// the locum's response. It reports false when the row was no longer
	// PRACTICE_CONFIRMED or not yet past its deadline.
	ExpireConfirmation(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	FindStaleConfirmations(ctx context.Context, now time.Time, limit int) ([]SelectionConfirmation, error)
	// ConfirmSelection resolves the confirmation, books the request and
	// stores b in one transaction.
	ConfirmSelection(ctx context.Context, c *SelectionConfirmation, now time.Time, b *booking.Booking) error
	RejectSelection(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*SelectionConfirmation, error)
	ListPendingConfirmations(ctx context.Context, locumID uuid.UUID, now time.Time) ([]PendingConfirmation, error)
	ListApplyHistory(ctx context.Context, locumID uuid.UUID) ([]ApplyHistoryEntry, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
