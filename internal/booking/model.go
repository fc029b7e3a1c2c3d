package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/locum-marketplace/internal/geo"
)

type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

type PenaltyStatus string

const (
	PenaltyPending   PenaltyStatus = "PENDING"
	PenaltyCharged   PenaltyStatus = "CHARGED"
	PenaltyDismissed PenaltyStatus = "DISMISSED"
)

// Booking is the engagement created from exactly one locum-confirmed
// selection.
type Booking struct {
	ID             uuid.UUID
	RequestID      uuid.UUID
	ConfirmationID uuid.UUID
	LocumID        uuid.UUID
	PracticeID     uuid.UUID
	BranchID       *uuid.UUID
	BookingDate    time.Time
	StartTime      string // HH:MM local
	EndTime        string
	StartsAt       time.Time
	EndsAt         time.Time
	Location       geo.Location
	HourlyRate     float64
	Status         Status

	CancelBy           *string
	CancelTime         *time.Time
	CancellationReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanCancel is true only while the booking is confirmed and has not started.
func (b Booking) CanCancel(now time.Time) bool {
	return b.Status == StatusConfirmed && b.StartsAt.After(now)
}

// View is a booking with the flags derived from the server clock.
type View struct {
	Booking
	IsPast           bool
	IsUpcoming       bool
	CanCancel        bool
	TimeUntilBooking float64 // hours, negative once started
}

func (b Booking) Derive(now time.Time) View {
	return View{
		Booking:          b,
		IsPast:           !b.EndsAt.After(now),
		IsUpcoming:       b.StartsAt.After(now),
		CanCancel:        b.CanCancel(now),
		TimeUntilBooking: b.StartsAt.Sub(now).Hours(),
	}
}

// CancellationPenalty is recorded atomically with a booking cancellation and
// is always attributed to the cancelling party.
type CancellationPenalty struct {
	ID                     uuid.UUID
	BookingID              uuid.UUID
	CancelledBy            string // locum, practice or branch
	CancelledPartyType     string // actor kind of the charged party
	ChargedPartyID         uuid.UUID
	PenaltyAmount          float64
	PenaltyHours           int
	HourlyRate             float64
	HoursBeforeAppointment float64
	Status                 PenaltyStatus
	Reason                 string
	CancellationTime       time.Time
	CreatedAt              time.Time
}
