package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/locum-marketplace/internal/geo"
)

type Role string

const (
	RoleNurse        Role = "Nurse"
	RoleReceptionist Role = "Receptionist"
	RoleHygienist    Role = "Hygienist"
	RoleDentist      Role = "Dentist"
)

var Roles = []Role{RoleNurse, RoleReceptionist, RoleHygienist, RoleDentist}

// ParseRole matches raw against the role enum case-insensitively and
// returns the canonical spelling.
func ParseRole(raw string) (Role, bool) {
	raw = strings.TrimSpace(raw)
	for _, r := range Roles {
		if strings.EqualFold(raw, string(r)) {
			return r, true
		}
	}
	return "", false
}

// RequestStatus is what is stored. The lifecycle seen by a practice is
// derived, see DeriveState.
type RequestStatus string

const (
	RequestOpen      RequestStatus = "OPEN"
	RequestBooked    RequestStatus = "BOOKED"
	RequestCancelled RequestStatus = "CANCELLED"
)

type State string

const (
	StateOpen             State = "OPEN"
	StateHasApplicants    State = "HAS_APPLICANTS"
	StateSelectionPending State = "SELECTION_PENDING"
	StateLocumConfirmed   State = "LOCUM_CONFIRMED"
	StateCancelled        State = "CANCELLED"
)

type ResponseStatus string

const (
	ResponseApplied   ResponseStatus = "APPLIED"
	ResponseIgnored   ResponseStatus = "IGNORED"
	ResponseAccepted  ResponseStatus = "ACCEPTED"
	ResponseWithdrawn ResponseStatus = "WITHDRAWN"
)

type ConfirmationStatus string

const (
	ConfirmationPracticeConfirmed ConfirmationStatus = "PRACTICE_CONFIRMED"
	ConfirmationLocumConfirmed    ConfirmationStatus = "LOCUM_CONFIRMED"
	ConfirmationLocumRejected     ConfirmationStatus = "LOCUM_REJECTED"
	ConfirmationExpired           ConfirmationStatus = "EXPIRED"
)

type AppointmentRequest struct {
	ID           uuid.UUID
	PracticeID   uuid.UUID
	BranchID     *uuid.UUID
	RequestDate  time.Time
	StartTime    string // HH:MM, local to the configured timezone
	EndTime      string
	StartsAt     time.Time
	EndsAt       time.Time
	Location     geo.Location
	RequiredRole Role
	HourlyRate   float64
	Status       RequestStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OwnerID is the branch when there is one, otherwise the practice.
func (r AppointmentRequest) OwnerID() uuid.UUID {
	if r.BranchID != nil {
		return *r.BranchID
	}
	return r.PracticeID
}

func (r AppointmentRequest) OwnerKind() string {
	if r.BranchID != nil {
		return "branch"
	}
	return "practice"
}

type ApplicantResponse struct {
	ID          uuid.UUID
	RequestID   uuid.UUID
	LocumID     uuid.UUID
	Status      ResponseStatus
	RespondedAt time.Time
	UpdatedAt   time.Time
}

type SelectionConfirmation struct {
	ID                  uuid.UUID
	ConfirmationNumber  string
	RequestID           uuid.UUID
	LocumID             uuid.UUID
	Status              ConfirmationStatus
	PracticeConfirmedAt time.Time
	ExpiresAt           time.Time
	RespondedAt         *time.Time
	RejectionReason     *string
	UpdatedAt           time.Time
}

// IsActive reports whether the confirmation still blocks re-selection.
func (c SelectionConfirmation) IsActive(now time.Time) bool {
	return c.Status == ConfirmationPracticeConfirmed && now.Before(c.ExpiresAt)
}

// IsStale is a PRACTICE_CONFIRMED row whose deadline has passed but which
// has not been flipped to EXPIRED yet.
func (c SelectionConfirmation) IsStale(now time.Time) bool {
	return c.Status == ConfirmationPracticeConfirmed && !now.Before(c.ExpiresAt)
}

type LocumProfile struct {
	ID            uuid.UUID
	Name          string
	Role          Role
	Location      geo.Location
	AverageRating *float64
}

type Applicant struct {
	Response   ApplicantResponse
	Profile    LocumProfile
	DistanceKm *float64
}

// DeriveState maps stored facts to the lifecycle state. active may be nil
// or stale; a stale confirmation does not count as pending.
func DeriveState(req AppointmentRequest, active *SelectionConfirmation, appliedCount int, now time.Time) State {
	switch {
	case req.Status == RequestCancelled:
		return StateCancelled
	case req.Status == RequestBooked:
		return StateLocumConfirmed
	case active != nil && active.IsActive(now):
		return StateSelectionPending
	case appliedCount > 0:
		return StateHasApplicants
	default:
		return StateOpen
	}
}

type RequestSummary struct {
	Request         AppointmentRequest
	ApplicantCount  int
	ActiveExpiresAt *time.Time
	State           State
}

type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

type TimeLeft struct {
	Hours        int
	Minutes      int
	Seconds      int
	TotalSeconds int
}

// TimeLeftUntil breaks the remaining time down for countdown display. It
// never goes negative.
func TimeLeftUntil(deadline, now time.Time) TimeLeft {
	total := int(deadline.Sub(now) / time.Second)
	if total < 0 {
		total = 0
	}
	return TimeLeft{
		Hours:        total / 3600,
		Minutes:      (total % 3600) / 60,
		Seconds:      total % 60,
		TotalSeconds: total,
	}
}

type PendingConfirmation struct {
	Confirmation SelectionConfirmation
	Request      AppointmentRequest
	TimeLeft     TimeLeft
}

type ApplyHistoryEntry struct {
	Response     ApplicantResponse
	Request      AppointmentRequest
	Confirmation *SelectionConfirmation
}

type EventLog struct {
	ID        int64
	EventType string
	RequestID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
