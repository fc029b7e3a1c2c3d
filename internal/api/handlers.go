package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/appointment"
	"github.com/hackgods/locum-marketplace/internal/booking"
)

type handlers struct {
	appointments AppointmentService
	bookings     BookingService
	payments     PaymentService
	logger       *zap.Logger
}

// fail writes err and logs it when it is not one the client can act on.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := writeServiceError(w, err); status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, appointment.ValidationErrors{field: field + " must be a valid UUID"}
	}
	return id, nil
}

// checkSelf rejects a client supplied id that names someone other than the
// caller. Empty ids are accepted; the caller's identity is what counts.
func checkSelf(act actor.Context, raw, field string, alsoAllowed ...uuid.UUID) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	id, err := parseID(raw, field)
	if err != nil {
		return err
	}
	if id == act.ID {
		return nil
	}
	for _, other := range alsoAllowed {
		if other != uuid.Nil && id == other {
			return nil
		}
	}
	return appointment.ErrForbidden
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return def
}

func queryFloat(r *http.Request, key string) float64 {
	v, _ := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	return v
}

func (h *handlers) createRequest(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())

	var req CreateRequestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := checkSelf(act, req.PracticeID, "practice_id", act.PracticeID); err != nil {
		h.fail(w, r, err)
		return
	}

	in := appointment.RequestInput{
		RequestDate:  req.RequestDate,
		StartTime:    req.RequestStartTime,
		EndTime:      req.RequestEndTime,
		Location:     req.Location,
		RequiredRole: req.RequiredRole,
		HourlyRate:   req.HourlyRate,
	}
	if req.BranchID != "" {
		branchID, err := parseID(req.BranchID, "branch_id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.BranchID = &branchID
	}

	created, err := h.appointments.CreateRequest(r.Context(), act, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toRequestResponse(*created), "request created")
}

func (h *handlers) cancelRequest(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())

	var req CancelRequestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := parseID(req.RequestID, "request_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	cancelled, err := h.appointments.CancelRequest(r.Context(), act, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toRequestResponse(*cancelled), "request cancelled")
}

func (h *handlers) availableRequests(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())
	if err := checkSelf(act, r.URL.Query().Get("locum_id"), "locum_id"); err != nil {
		h.fail(w, r, err)
		return
	}

	list, err := h.appointments.AvailableRequests(r.Context(), act, queryFloat(r, "max_distance_km"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toVisibleRequests(list), "")
}

func (h *handlers) practiceRequests(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())
	q := r.URL.Query()
	owner := q.Get("practice_id")
	if owner == "" {
		owner = q.Get("branch_id")
	}
	if err := checkSelf(act, owner, "practice_id"); err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.appointments.PracticeRequests(r.Context(), act, queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPracticeRequests(page), "")
}

func (h *handlers) applicants(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())
	id, err := parseID(r.URL.Query().Get("request_id"), "request_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view, err := h.appointments.Applicants(r.Context(), act, id, queryFloat(r, "min_rating"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toApplicants(view), "")
}

func (h *handlers) selectApplicant(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())

	var req SelectApplicantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	requestID, err := parseID(req.RequestID, "request_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	locumID, err := parseID(req.LocumID, "locum_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.appointments.SelectApplicant(r.Context(), act, requestID, locumID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toConfirmationResponse(*c), "applicant selected, waiting for the locum to confirm")
}

func (h *handlers) accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.appointments.Accept, "application sent")
}

func (h *handlers) ignore(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.appointments.Ignore, "request hidden")
}

type respondFunc func(ctx context.Context, act actor.Context, requestID uuid.UUID) (*appointment.ApplicantResponse, error)

func (h *handlers) respond(w http.ResponseWriter, r *http.Request, fn respondFunc, message string) {
	act, _ := ActorFrom(r.Context())

	var req RespondRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := checkSelf(act, req.LocumID, "locum_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := parseID(req.RequestID, "request_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := fn(r.Context(), act, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toResponseResponse(*resp), message)
}

func (h *handlers) pendingConfirmations(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())
	if err := checkSelf(act, r.URL.Query().Get("locum_id"), "locum_id"); err != nil {
		h.fail(w, r, err)
		return
	}

	list, err := h.appointments.PendingConfirmations(r.Context(), act)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"pending_confirmations": toPendingConfirmations(list)}, "")
}

func (h *handlers) locumConfirm(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())

	var req LocumConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := checkSelf(act, req.LocumID, "locum_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := parseID(req.ConfirmationID, "confirmation_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	action, ok := appointment.ParseAction(req.Action)
	if !ok {
		h.fail(w, r, appointment.ValidationErrors{"action": "action must be CONFIRM or REJECT"})
		return
	}

	res, err := h.appointments.ConfirmOrReject(r.Context(), act, id, action, req.RejectionReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := LocumConfirmResponse{Confirmation: toConfirmationResponse(res.Confirmation)}
	message := "selection rejected"
	if res.Booking != nil {
		b := toBookingResponse(*res.Booking)
		out.Booking = &b
		message = "booking confirmed"
	}
	writeData(w, http.StatusOK, out, message)
}

func (h *handlers) applyHistory(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())
	if err := checkSelf(act, r.URL.Query().Get("locum_id"), "locum_id"); err != nil {
		h.fail(w, r, err)
		return
	}

	list, err := h.appointments.ApplyHistory(r.Context(), act)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"history": toApplyHistory(list)}, "")
}

func (h *handlers) listBookings(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())
	q := r.URL.Query()
	if err := checkSelf(act, q.Get("userId"), "userId"); err != nil {
		h.fail(w, r, err)
		return
	}
	if raw := q.Get("userType"); raw != "" {
		kind, err := actor.ParseKind(raw)
		if err != nil {
			h.fail(w, r, appointment.ValidationErrors{"userType": "unknown user type"})
			return
		}
		if (kind == actor.KindLocum) != act.IsLocum() {
			h.fail(w, r, appointment.ErrForbidden)
			return
		}
	}

	list, err := h.bookings.ListBookings(r.Context(), act.ID, act.Kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]BookingResponse, 0, len(list))
	for _, v := range list {
		out = append(out, toBookingView(v))
	}
	writeData(w, http.StatusOK, map[string]any{"bookings": out}, "")
}

func (h *handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())

	var req CancelBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := checkSelf(act, req.UserID, "user_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := parseID(req.BookingID, "booking_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	in := booking.CancelInput{BookingID: id, Reason: req.CancellationReason}
	if req.HoursUntilBooking != nil || req.PenaltyHours != nil || req.PenaltyAmount != nil || req.HourlyRate != nil {
		q := &booking.Quote{}
		if req.HoursUntilBooking != nil {
			q.HoursUntilBooking = *req.HoursUntilBooking
		}
		if req.PenaltyHours != nil {
			q.PenaltyHours = *req.PenaltyHours
		}
		if req.PenaltyAmount != nil {
			q.PenaltyAmount = *req.PenaltyAmount
		}
		if req.HourlyRate != nil {
			q.HourlyRate = *req.HourlyRate
		}
		in.Quote = q
	}

	res, err := h.bookings.CancelBooking(r.Context(), act, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, CancelBookingResponse{
		Booking: toBookingView(res.Booking),
		Penalty: toPenaltyResponse(res.Penalty),
		Tier:    res.Tier,
	}, "booking cancelled")
}

func (h *handlers) listPenalties(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())

	list, err := h.bookings.ListPenalties(r.Context(), act)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]PenaltyResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPenaltyResponse(p))
	}
	writeData(w, http.StatusOK, map[string]any{"penalties": out}, "")
}

func (h *handlers) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())
	q := r.URL.Query()
	for _, key := range []string{"locum_id", "branch_id", "practice_id"} {
		if err := checkSelf(act, q.Get(key), key); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	methods, err := h.payments.ListPaymentMethods(r.Context(), act.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, methods, "")
}

func (h *handlers) createSetupIntent(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())

	intent, err := h.payments.CreateSetupIntent(r.Context(), act.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, intent, "")
}

func (h *handlers) detachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	act, _ := ActorFrom(r.Context())

	var req DetachPaymentMethodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		h.fail(w, r, appointment.ValidationErrors{"payment_method_id": "payment_method_id is required"})
		return
	}

	if err := h.payments.DetachPaymentMethod(r.Context(), act.ID, req.PaymentMethodID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "payment method removed")
}
