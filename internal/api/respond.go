package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/appointment"
	"github.com/hackgods/locum-marketplace/internal/booking"
	"github.com/hackgods/locum-marketplace/internal/payment"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, Envelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Envelope{Success: false, Error: code, Message: message})
}

// writeServiceError maps domain errors onto status codes and returns the
// status written. Conflicts ask the client to refresh; missing payment
// methods carry where to add one.
func writeServiceError(w http.ResponseWriter, err error) int {
	var verrs appointment.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, http.StatusBadRequest, Envelope{
			Error:   "validation_failed",
			Message: "request failed validation",
			Errors:  verrs,
		})
		return http.StatusBadRequest
	}

	var missing *payment.MissingError
	if errors.As(err, &missing) {
		writeJSON(w, http.StatusPaymentRequired, Envelope{
			Error:       "payment_method_missing",
			Message:     "add a payment card before continuing",
			RedirectURL: missing.RedirectURL,
		})
		return http.StatusPaymentRequired
	}

	if errors.Is(err, appointment.ErrConflict) || errors.Is(err, booking.ErrConflict) {
		writeJSON(w, http.StatusConflict, Envelope{
			Error:   "conflict",
			Message: "this item was changed by someone else, refresh and try again",
			Refresh: true,
		})
		return http.StatusConflict
	}

	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
	return status
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrCancellationReasonRequired):
		return http.StatusBadRequest, "cancellation_reason_required"
	case errors.Is(err, appointment.ErrRejectionReasonRequired):
		return http.StatusBadRequest, "rejection_reason_required"

	case errors.Is(err, appointment.ErrRequestNotFound):
		return http.StatusNotFound, "request_not_found"
	case errors.Is(err, appointment.ErrResponseNotFound):
		return http.StatusNotFound, "response_not_found"
	case errors.Is(err, appointment.ErrConfirmationNotFound):
		return http.StatusNotFound, "confirmation_not_found"
	case errors.Is(err, appointment.ErrLocumNotFound):
		return http.StatusNotFound, "locum_not_found"
	case errors.Is(err, appointment.ErrBranchNotFound):
		return http.StatusNotFound, "branch_not_found"
	case errors.Is(err, booking.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found"

	case errors.Is(err, appointment.ErrForbidden),
		errors.Is(err, booking.ErrNotParty),
		errors.Is(err, payment.ErrPaymentMethodNotOwned):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, actor.ErrInvalidActor):
		return http.StatusUnauthorized, "invalid_actor"

	case errors.Is(err, appointment.ErrAlreadySelected):
		return http.StatusConflict, "already_selected"
	case errors.Is(err, appointment.ErrExpired):
		return http.StatusConflict, "expired"
	case errors.Is(err, appointment.ErrAlreadyResponded):
		return http.StatusConflict, "already_responded"
	case errors.Is(err, appointment.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, booking.ErrNotCancellable):
		return http.StatusConflict, "not_cancellable"

	case errors.Is(err, payment.ErrProcessorNotConfigured):
		return http.StatusServiceUnavailable, "payments_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
