package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rxdesk/pharmacy-service/internal/auth"
	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

type errorMapping struct {
	target error
	status int
	kind   string
}

// errorTable is checked in order with errors.Is; the first match wins.
var errorTable = []errorMapping{
	{auth.ErrMissingToken, http.StatusUnauthorized, "missing_token"},
	{auth.ErrExpiredToken, http.StatusUnauthorized, "expired_token"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{pharmacy.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},

	{pharmacy.ErrForbidden, http.StatusForbidden, "forbidden"},
	{pharmacy.ErrDoctorNotVerified, http.StatusForbidden, "doctor_not_verified"},

	{pharmacy.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{pharmacy.ErrPrescriptionNotFound, http.StatusNotFound, "prescription_not_found"},
	{pharmacy.ErrMedicineNotFound, http.StatusNotFound, "medicine_not_found"},
	{pharmacy.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{pharmacy.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},

	{pharmacy.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{pharmacy.ErrOrderInFlight, http.StatusConflict, "order_in_flight"},
	{pharmacy.ErrDuplicateOrder, http.StatusConflict, "duplicate_order"},
	{pharmacy.ErrInventoryInUse, http.StatusConflict, "inventory_in_use"},
	{pharmacy.ErrUserInUse, http.StatusConflict, "user_in_use"},

	{pharmacy.ErrPrescriptionInvalid, http.StatusBadRequest, "prescription_invalid"},
	{pharmacy.ErrInsufficientStock, http.StatusBadRequest, "insufficient_stock"},
	{pharmacy.ErrEmptyOrder, http.StatusBadRequest, "empty_order"},
	{pharmacy.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{pharmacy.ErrInvalidPaymentMethod, http.StatusBadRequest, "invalid_payment_method"},
	{pharmacy.ErrDuplicatePayment, http.StatusBadRequest, "duplicate_payment"},
	{pharmacy.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{pharmacy.ErrInvalidTransition, http.StatusBadRequest, "invalid_transition"},
	{pharmacy.ErrInvalidRole, http.StatusBadRequest, "invalid_role"},
	{pharmacy.ErrNotADoctor, http.StatusBadRequest, "not_a_doctor"},
	{pharmacy.ErrCannotDeleteSelf, http.StatusBadRequest, "cannot_delete_self"},
	{pharmacy.ErrValidation, http.StatusBadRequest, "validation_error"},
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// api carries what every handler needs to answer errors.
type api struct {
	log zerolog.Logger
	dev bool
}

// fail maps err to a status and error kind. Unmapped errors are logged and
// answered with 500; their text is only exposed in dev.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.kind, err.Error(), "")
			return
		}
	}

	log := zerolog.Ctx(r.Context())
	if log.GetLevel() == zerolog.Disabled {
		log = &a.log
	}

	kind, msg := "internal_error", "internal server error"
	if errors.Is(err, context.DeadlineExceeded) {
		kind, msg = "timeout", "the request took too long and was rolled back"
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")

	details := ""
	if a.dev {
		details = err.Error()
	}
	writeError(w, http.StatusInternalServerError, kind, msg, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message, Details: details})
}
