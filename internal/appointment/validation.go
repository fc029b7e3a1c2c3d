package appointment

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/geo"
)

const (
	minDurationMinutes = 30
	maxDurationMinutes = 720
	maxMonthsAhead     = 6
	minLocationLength  = 3
	maxLocationLength  = 200
	maxHourlyRate      = 500
	dateLayout         = "2006-01-02"
)

// Field names as they appear on the wire.
const (
	FieldRequestDate = "request_date"
	FieldStartTime   = "request_start_time"
	FieldEndTime     = "request_end_time"
	FieldLocation    = "location"
	FieldRole        = "required_role"
	FieldBranch      = "branch_id"
	FieldHourlyRate  = "hourly_rate"
)

var timeLayouts = []string{"15:04", "3:04 PM", "3:04PM"}

// ValidationErrors maps a field to a user facing message. An empty map
// means the input is valid.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type RequestInput struct {
	RequestDate  string
	StartTime    string
	EndTime      string
	Location     string
	RequiredRole string
	BranchID     *uuid.UUID
	HourlyRate   *float64
}

// ValidateAppointmentRequest checks raw input for a new request. It has no
// side effects; now and loc fix what "today" means.
func ValidateAppointmentRequest(in RequestInput, kind actor.Kind, now time.Time, loc *time.Location) ValidationErrors {
	_, errs := buildRequest(in, kind, now, loc)
	return errs
}

// NormalizeTime accepts "HH:MM" or "H:MM AM/PM" and returns the 24-hour form
// together with minutes since midnight.
func NormalizeTime(raw string) (string, int, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return t.Format("15:04"), t.Hour()*60 + t.Minute(), true
	}
	return "", 0, false
}

// buildRequest validates and, when valid, returns the normalised request
// with absolute start and end instants. Identity, ownership and rate
// defaults are filled in by the caller.
func buildRequest(in RequestInput, kind actor.Kind, now time.Time, loc *time.Location) (*AppointmentRequest, ValidationErrors) {
	if loc == nil {
		loc = time.UTC
	}
	errs := ValidationErrors{}
	req := &AppointmentRequest{Status: RequestOpen, BranchID: in.BranchID}

	localNow := now.In(loc)
	today := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)

	var date time.Time
	if strings.TrimSpace(in.RequestDate) == "" {
		errs[FieldRequestDate] = "request date is required"
	} else if d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(in.RequestDate), loc); err != nil {
		errs[FieldRequestDate] = "request date must be YYYY-MM-DD"
	} else if !d.After(today) {
		errs[FieldRequestDate] = "request date must be in the future"
	} else if d.After(today.AddDate(0, maxMonthsAhead, 0)) {
		errs[FieldRequestDate] = fmt.Sprintf("request date must be within %d months", maxMonthsAhead)
	} else {
		date = d
	}

	startOK, endOK := true, true
	var startMin, endMin int
	if strings.TrimSpace(in.StartTime) == "" {
		errs[FieldStartTime] = "start time is required"
		startOK = false
	} else if req.StartTime, startMin, startOK = NormalizeTime(in.StartTime); !startOK {
		errs[FieldStartTime] = "start time must be HH:MM or H:MM AM/PM"
	}
	if strings.TrimSpace(in.EndTime) == "" {
		errs[FieldEndTime] = "end time is required"
		endOK = false
	} else if req.EndTime, endMin, endOK = NormalizeTime(in.EndTime); !endOK {
		errs[FieldEndTime] = "end time must be HH:MM or H:MM AM/PM"
	}
	if startOK && endOK {
		duration := endMin - startMin
		var msg string
		switch {
		case duration <= 0:
			msg = "start time must be before end time"
		case duration < minDurationMinutes:
			msg = fmt.Sprintf("appointment must be at least %d minutes", minDurationMinutes)
		case duration > maxDurationMinutes:
			msg = fmt.Sprintf("appointment must be at most %d hours", maxDurationMinutes/60)
		}
		if msg != "" {
			errs[FieldStartTime] = msg
			errs[FieldEndTime] = msg
		}
	}

	location := strings.TrimSpace(in.Location)
	switch n := utf8.RuneCountInString(location); {
	case n == 0:
		errs[FieldLocation] = "location is required"
	case n < minLocationLength || n > maxLocationLength:
		errs[FieldLocation] = fmt.Sprintf("location must be between %d and %d characters", minLocationLength, maxLocationLength)
	default:
		req.Location = geo.ParseLocation(location)
	}

	if strings.TrimSpace(in.RequiredRole) == "" {
		errs[FieldRole] = "required role is required"
	} else if role, ok := ParseRole(in.RequiredRole); !ok {
		errs[FieldRole] = "required role must be one of Nurse, Receptionist, Hygienist, Dentist"
	} else {
		req.RequiredRole = role
	}

	if kind.RequiresBranch() && (in.BranchID == nil || *in.BranchID == uuid.Nil) {
		errs[FieldBranch] = "branch is required"
	}

	if in.HourlyRate != nil {
		if r := *in.HourlyRate; r <= 0 || r > maxHourlyRate {
			errs[FieldHourlyRate] = fmt.Sprintf("hourly rate must be greater than 0 and at most %d", maxHourlyRate)
		} else {
			req.HourlyRate = r
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	req.RequestDate = date
	req.StartsAt = atMinute(date, startMin, loc)
	req.EndsAt = atMinute(date, endMin, loc)
	return req, errs
}

func atMinute(date time.Time, minutes int, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), minutes/60, minutes%60, 0, 0, loc)
}
