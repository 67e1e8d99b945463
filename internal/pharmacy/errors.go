package pharmacy

import "errors"

var (
	ErrValidation  = errors.New("validation failed")
	ErrForbidden   = errors.New("forbidden")
	ErrInvalidRole = errors.New("invalid role")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrCannotDeleteSelf   = errors.New("admins cannot delete their own account")
	ErrNotADoctor         = errors.New("user is not a doctor")
	ErrDoctorNotVerified  = errors.New("doctor account is not verified")

	ErrPrescriptionInvalid = errors.New("prescription is not valid for this patient")

	ErrEmptyOrder           = errors.New("order has no items")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrDuplicatePayment     = errors.New("order is already paid")
	ErrOrderInFlight        = errors.New("an order with this idempotency key is being placed, please retry")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
