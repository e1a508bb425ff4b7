package booking

import "errors"

// Not-found family.
var (
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrPaymentNotFound      = errors.New("payment transaction not found")
)

// Conflict family: a state precondition was violated. Callers must fail,
// not queue.
var (
	ErrSlotNotAvailable     = errors.New("slot is not available")
	ErrSlotInPast           = errors.New("slot start time has already passed")
	ErrSlotOverlap          = errors.New("slot overlaps an existing one")
	ErrSlotReserved         = errors.New("slot is reserved and cannot be deleted")
	ErrNotReservationOwner  = errors.New("slot is reserved by a different appointment")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrSubscriptionInactive = errors.New("active subscription required")
	ErrNotApproved          = errors.New("practitioner is not approved")
)

// Validation family.
var (
	ErrInvalidTimeRange = errors.New("slot end must be after start")
	ErrInvalidAmount    = errors.New("amount must be positive")
)
