package booking

import (
	"errors"
	"math"
	"time"
)

var ErrAlreadyStarted = errors.New("cannot cancel, booking already started")

const (
	TierNone       = "none"
	TierWithin48h  = "within_48h"
	TierWithin24h  = "within_24h"
	noticeFreeFrom = 48.0
	noticeShort    = 24.0
)

// Penalty is the outcome of the cancellation calculator.
type Penalty struct {
	HoursUntilBooking float64
	PenaltyHours      int
	HourlyRate        float64
	Amount            float64
	Tier              string
}

// CalculatePenalty prices a cancellation made at now for a booking starting
// at startsAt. Boundaries belong to the stricter tier: exactly 48h notice
// costs 3 hours, exactly 24h costs 6 hours.
func CalculatePenalty(startsAt, now time.Time, hourlyRate float64) (Penalty, error) {
	return PenaltyForNotice(startsAt.Sub(now).Hours(), hourlyRate)
}

func PenaltyForNotice(hoursUntilBooking, hourlyRate float64) (Penalty, error) {
	if hoursUntilBooking <= 0 {
		return Penalty{}, ErrAlreadyStarted
	}

	p := Penalty{HoursUntilBooking: hoursUntilBooking, HourlyRate: hourlyRate}
	switch {
	case hoursUntilBooking > noticeFreeFrom:
		p.PenaltyHours, p.Tier = 0, TierNone
	case hoursUntilBooking > noticeShort:
		p.PenaltyHours, p.Tier = 3, TierWithin48h
	default:
		p.PenaltyHours, p.Tier = 6, TierWithin24h
	}
	p.Amount = roundPence(float64(p.PenaltyHours) * hourlyRate)
	return p, nil
}

func roundPence(v float64) float64 {
	return math.Round(v*100) / 100
}
