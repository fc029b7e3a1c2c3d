package appointment

import "errors"

var (
	ErrRequestNotFound      = errors.New("appointment request not found")
	ErrResponseNotFound     = errors.New("applicant response not found")
	ErrConfirmationNotFound = errors.New("selection confirmation not found")
	ErrLocumNotFound        = errors.New("locum not found")
	ErrBranchNotFound       = errors.New("branch not found")

	ErrInvalidState            = errors.New("request is not in a state that allows this action")
	ErrAlreadySelected         = errors.New("an applicant has already been selected for this request")
	ErrExpired                 = errors.New("selection confirmation has expired")
	ErrAlreadyResponded        = errors.New("locum has already responded to this request")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
	ErrForbidden               = errors.New("actor may not act on this resource")

	// ErrConflict means a concurrent writer won: a uniqueness constraint
	// fired, a conditional update matched no rows or the request lock was
	// held. Callers should refresh rather than resubmit.
	ErrConflict = errors.New("request was changed concurrently")
)
