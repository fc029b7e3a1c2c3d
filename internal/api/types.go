package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/locum-marketplace/internal/appointment"
	"github.com/hackgods/locum-marketplace/internal/booking"
	"github.com/hackgods/locum-marketplace/internal/geo"
)

const dateLayout = "2006-01-02"

// Envelope wraps every response body.
type Envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	// Refresh tells the client its view is stale and should be reloaded
	// rather than resubmitted.
	Refresh     bool   `json:"refresh,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type CreateRequestRequest struct {
	PracticeID       string   `json:"practice_id"`
	RequestDate      string   `json:"request_date"`
	RequestStartTime string   `json:"request_start_time"`
	RequestEndTime   string   `json:"request_end_time"`
	Location         string   `json:"location"`
	RequiredRole     string   `json:"required_role"`
	BranchID         string   `json:"branch_id,omitempty"`
	HourlyRate       *float64 `json:"hourly_rate,omitempty"`
}

type CancelRequestRequest struct {
	RequestID string `json:"request_id"`
}

type SelectApplicantRequest struct {
	RequestID string `json:"request_id"`
	LocumID   string `json:"locum_id"`
}

type RespondRequest struct {
	RequestID string `json:"request_id"`
	LocumID   string `json:"locum_id"`
}

type LocumConfirmRequest struct {
	ConfirmationID  string `json:"confirmation_id"`
	LocumID         string `json:"locum_id"`
	Action          string `json:"action"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type CancelBookingRequest struct {
	BookingID          string   `json:"booking_id"`
	UserID             string   `json:"user_id"`
	UserType           string   `json:"user_type"`
	CancellationReason string   `json:"cancellation_reason"`
	HoursUntilBooking  *float64 `json:"hours_until_booking,omitempty"`
	PenaltyHours       *int     `json:"penalty_hours,omitempty"`
	PenaltyAmount      *float64 `json:"penalty_amount,omitempty"`
	HourlyRate         *float64 `json:"hourly_rate,omitempty"`
}

type DetachPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

type RequestResponse struct {
	ID               uuid.UUID    `json:"id"`
	PracticeID       uuid.UUID    `json:"practice_id"`
	BranchID         *uuid.UUID   `json:"branch_id,omitempty"`
	RequestDate      string       `json:"request_date"`
	RequestStartTime string       `json:"request_start_time"`
	RequestEndTime   string       `json:"request_end_time"`
	StartsAt         time.Time    `json:"starts_at"`
	EndsAt           time.Time    `json:"ends_at"`
	Location         geo.Location `json:"location"`
	RequiredRole     string       `json:"required_role"`
	HourlyRate       float64      `json:"hourly_rate"`
	Status           string       `json:"status"`
	State            string       `json:"state,omitempty"`
	ApplicantCount   *int         `json:"applicant_count,omitempty"`
	DistanceKm       *float64     `json:"distance_km,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

func toRequestResponse(r appointment.AppointmentRequest) RequestResponse {
	return RequestResponse{
		ID:               r.ID,
		PracticeID:       r.PracticeID,
		BranchID:         r.BranchID,
		RequestDate:      r.RequestDate.Format(dateLayout),
		RequestStartTime: r.StartTime,
		RequestEndTime:   r.EndTime,
		StartsAt:         r.StartsAt,
		EndsAt:           r.EndsAt,
		Location:         r.Location,
		RequiredRole:     string(r.RequiredRole),
		HourlyRate:       r.HourlyRate,
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt,
	}
}

type PaginationResponse struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type PracticeRequestsResponse struct {
	Requests   []RequestResponse  `json:"requests"`
	Pagination PaginationResponse `json:"pagination"`
}

func toPracticeRequests(p *appointment.RequestsPage) PracticeRequestsResponse {
	out := PracticeRequestsResponse{
		Requests: make([]RequestResponse, 0, len(p.Requests)),
		Pagination: PaginationResponse{
			Page:       p.Pagination.Page,
			Limit:      p.Pagination.Limit,
			Total:      p.Pagination.Total,
			TotalPages: p.Pagination.TotalPages,
		},
	}
	for _, s := range p.Requests {
		r := toRequestResponse(s.Request)
		r.State = string(s.State)
		count := s.ApplicantCount
		r.ApplicantCount = &count
		out.Requests = append(out.Requests, r)
	}
	return out
}

func toVisibleRequests(list []appointment.VisibleRequest) []RequestResponse {
	out := make([]RequestResponse, 0, len(list))
	for _, v := range list {
		r := toRequestResponse(v.Request)
		r.DistanceKm = v.DistanceKm
		out = append(out, r)
	}
	return out
}

type ApplicantResponse struct {
	ResponseID    uuid.UUID    `json:"response_id"`
	LocumID       uuid.UUID    `json:"locum_id"`
	Name          string       `json:"name"`
	Role          string       `json:"role"`
	Location      geo.Location `json:"location"`
	AverageRating *float64     `json:"average_rating,omitempty"`
	DistanceKm    *float64     `json:"distance_km,omitempty"`
	Status        string       `json:"status"`
	RespondedAt   time.Time    `json:"responded_at"`
}

type ApplicantsResponse struct {
	Applicants          []ApplicantResponse `json:"applicants"`
	Job                 RequestResponse     `json:"job"`
	CanSelectApplicant  bool                `json:"can_select_applicant"`
	AutoSelectAvailable bool                `json:"auto_select_available"`
}

func toApplicants(v *appointment.ApplicantsView) ApplicantsResponse {
	job := toRequestResponse(v.Request)
	job.State = string(v.State)
	out := ApplicantsResponse{
		Applicants:          make([]ApplicantResponse, 0, len(v.Applicants)),
		Job:                 job,
		CanSelectApplicant:  v.CanSelectApplicant,
		AutoSelectAvailable: v.AutoSelectAvailable,
	}
	for _, a := range v.Applicants {
		out.Applicants = append(out.Applicants, ApplicantResponse{
			ResponseID:    a.Response.ID,
			LocumID:       a.Profile.ID,
			Name:          a.Profile.Name,
			Role:          string(a.Profile.Role),
			Location:      a.Profile.Location,
			AverageRating: a.Profile.AverageRating,
			DistanceKm:    a.DistanceKm,
			Status:        string(a.Response.Status),
			RespondedAt:   a.Response.RespondedAt,
		})
	}
	return out
}

type ResponseResponse struct {
	ID          uuid.UUID `json:"id"`
	RequestID   uuid.UUID `json:"request_id"`
	LocumID     uuid.UUID `json:"locum_id"`
	Status      string    `json:"status"`
	RespondedAt time.Time `json:"responded_at"`
}

func toResponseResponse(r appointment.ApplicantResponse) ResponseResponse {
	return ResponseResponse{
		ID:          r.ID,
		RequestID:   r.RequestID,
		LocumID:     r.LocumID,
		Status:      string(r.Status),
		RespondedAt: r.RespondedAt,
	}
}

type ConfirmationResponse struct {
	ID                  uuid.UUID  `json:"id"`
	ConfirmationNumber  string     `json:"confirmation_number"`
	RequestID           uuid.UUID  `json:"request_id"`
	LocumID             uuid.UUID  `json:"locum_id"`
	Status              string     `json:"status"`
	PracticeConfirmedAt time.Time  `json:"practice_confirmed_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	RespondedAt         *time.Time `json:"responded_at,omitempty"`
	RejectionReason     *string    `json:"rejection_reason,omitempty"`
}

func toConfirmationResponse(c appointment.SelectionConfirmation) ConfirmationResponse {
	return ConfirmationResponse{
		ID:                  c.ID,
		ConfirmationNumber:  c.ConfirmationNumber,
		RequestID:           c.RequestID,
		LocumID:             c.LocumID,
		Status:              string(c.Status),
		PracticeConfirmedAt: c.PracticeConfirmedAt,
		ExpiresAt:           c.ExpiresAt,
		RespondedAt:         c.RespondedAt,
		RejectionReason:     c.RejectionReason,
	}
}

type TimeLeftResponse struct {
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	Seconds      int `json:"seconds"`
	TotalSeconds int `json:"total_seconds"`
}

type PendingConfirmationResponse struct {
	Confirmation ConfirmationResponse `json:"confirmation"`
	Request      RequestResponse      `json:"request"`
	ExpiresAt    time.Time            `json:"expires_at"`
	TimeLeft     TimeLeftResponse     `json:"time_left"`
}

func toPendingConfirmations(list []appointment.PendingConfirmation) []PendingConfirmationResponse {
	out := make([]PendingConfirmationResponse, 0, len(list))
	for _, p := range list {
		out = append(out, PendingConfirmationResponse{
			Confirmation: toConfirmationResponse(p.Confirmation),
			Request:      toRequestResponse(p.Request),
			ExpiresAt:    p.Confirmation.ExpiresAt,
			TimeLeft: TimeLeftResponse{
				Hours:        p.TimeLeft.Hours,
				Minutes:      p.TimeLeft.Minutes,
				Seconds:      p.TimeLeft.Seconds,
				TotalSeconds: p.TimeLeft.TotalSeconds,
			},
		})
	}
	return out
}

type ApplyHistoryResponse struct {
	Response     ResponseResponse      `json:"response"`
	Request      RequestResponse       `json:"request"`
	Confirmation *ConfirmationResponse `json:"confirmation,omitempty"`
}

func toApplyHistory(list []appointment.ApplyHistoryEntry) []ApplyHistoryResponse {
	out := make([]ApplyHistoryResponse, 0, len(list))
	for _, e := range list {
		item := ApplyHistoryResponse{
			Response: toResponseResponse(e.Response),
			Request:  toRequestResponse(e.Request),
		}
		if e.Confirmation != nil {
			c := toConfirmationResponse(*e.Confirmation)
			item.Confirmation = &c
		}
		out = append(out, item)
	}
	return out
}

type BookingResponse struct {
	ID                 uuid.UUID    `json:"id"`
	RequestID          uuid.UUID    `json:"request_id"`
	ConfirmationID     uuid.UUID    `json:"confirmation_id"`
	LocumID            uuid.UUID    `json:"locum_id"`
	PracticeID         uuid.UUID    `json:"practice_id"`
	BranchID           *uuid.UUID   `json:"branch_id,omitempty"`
	BookingDate        string       `json:"booking_date"`
	BookingStartTime   string       `json:"booking_start_time"`
	BookingEndTime     string       `json:"booking_end_time"`
	StartsAt           time.Time    `json:"starts_at"`
	EndsAt             time.Time    `json:"ends_at"`
	Location           geo.Location `json:"location"`
	HourlyRate         float64      `json:"hourly_rate"`
	Status             string       `json:"status"`
	CancelBy           *string      `json:"cancel_by,omitempty"`
	CancelTime         *time.Time   `json:"cancel_time,omitempty"`
	CancellationReason *string      `json:"cancellation_reason,omitempty"`

	IsPast           *bool    `json:"is_past,omitempty"`
	IsUpcoming       *bool    `json:"is_upcoming,omitempty"`
	CanCancel        *bool    `json:"can_cancel,omitempty"`
	TimeUntilBooking *float64 `json:"time_until_booking,omitempty"`
}

func toBookingResponse(b booking.Booking) BookingResponse {
	return BookingResponse{
		ID:                 b.ID,
		RequestID:          b.RequestID,
		ConfirmationID:     b.ConfirmationID,
		LocumID:            b.LocumID,
		PracticeID:         b.PracticeID,
		BranchID:           b.BranchID,
		BookingDate:        b.BookingDate.Format(dateLayout),
		BookingStartTime:   b.StartTime,
		BookingEndTime:     b.EndTime,
		StartsAt:           b.StartsAt,
		EndsAt:             b.EndsAt,
		Location:           b.Location,
		HourlyRate:         b.HourlyRate,
		Status:             string(b.Status),
		CancelBy:           b.CancelBy,
		CancelTime:         b.CancelTime,
		CancellationReason: b.CancellationReason,
	}
}

func toBookingView(v booking.View) BookingResponse {
	out := toBookingResponse(v.Booking)
	out.IsPast = &v.IsPast
	out.IsUpcoming = &v.IsUpcoming
	out.CanCancel = &v.CanCancel
	out.TimeUntilBooking = &v.TimeUntilBooking
	return out
}

type LocumConfirmResponse struct {
	Confirmation ConfirmationResponse `json:"confirmation"`
	Booking      *BookingResponse     `json:"booking,omitempty"`
}

type PenaltyResponse struct {
	ID                     uuid.UUID `json:"id"`
	BookingID              uuid.UUID `json:"booking_id"`
	CancelledBy            string    `json:"cancelled_by"`
	CancelledPartyType     string    `json:"cancelled_party_type"`
	ChargedPartyID         uuid.UUID `json:"charged_party_id"`
	PenaltyAmount          float64   `json:"penalty_amount"`
	PenaltyHours           int       `json:"penalty_hours"`
	HourlyRate             float64   `json:"hourly_rate"`
	HoursBeforeAppointment float64   `json:"hours_before_appointment"`
	Status                 string    `json:"status"`
	Reason                 string    `json:"reason"`
	CancellationTime       time.Time `json:"cancellation_time"`
}

func toPenaltyResponse(p booking.CancellationPenalty) PenaltyResponse {
	return PenaltyResponse{
		ID:                     p.ID,
		BookingID:              p.BookingID,
		CancelledBy:            p.CancelledBy,
		CancelledPartyType:     p.CancelledPartyType,
		ChargedPartyID:         p.ChargedPartyID,
		PenaltyAmount:          p.PenaltyAmount,
		PenaltyHours:           p.PenaltyHours,
		HourlyRate:             p.HourlyRate,
		HoursBeforeAppointment: p.HoursBeforeAppointment,
		Status:                 string(p.Status),
		Reason:                 p.Reason,
		CancellationTime:       p.CancellationTime,
	}
}

type CancelBookingResponse struct {
	Booking BookingResponse `json:"booking"`
	Penalty PenaltyResponse `json:"penalty"`
	Tier    string          `json:"tier"`
}
