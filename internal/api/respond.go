package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kinebook/booking-engine/internal/auth"
	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/payment"
	"github.com/kinebook/booking-engine/internal/redisx"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain sentinels onto the HTTP taxonomy:
// missing resources are 404, violated state preconditions are 409,
// malformed input is 400 and gateway trouble is 502.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrPractitionerNotFound),
		errors.Is(err, booking.ErrSlotNotFound),
		errors.Is(err, booking.ErrPatientNotFound),
		errors.Is(err, booking.ErrAppointmentNotFound),
		errors.Is(err, booking.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, booking.ErrSlotNotAvailable),
		errors.Is(err, booking.ErrSlotInPast),
		errors.Is(err, booking.ErrSlotOverlap),
		errors.Is(err, booking.ErrSlotReserved),
		errors.Is(err, booking.ErrNotReservationOwner),
		errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrSubscriptionInactive),
		errors.Is(err, booking.ErrNotApproved),
		errors.Is(err, redisx.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, booking.ErrInvalidRUT),
		errors.Is(err, booking.ErrInvalidTimeRange),
		errors.Is(err, booking.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, payment.ErrGateway):
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")

	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")

	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
