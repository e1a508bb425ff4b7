package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store contains all persistence needed by the booking and payment
// services. The slot, appointment and payment rows form one consistency
// boundary: every mutation that touches more than one of them runs
// inside a single InTx call, and slot mutation always begins with a
// Lock* call so concurrent claims serialize on the slot row.
type Store interface {
	// InTx runs fn against a transaction-scoped Store. Row locks taken
	// inside fn are held until fn returns.
	InTx(ctx context.Context, fn func(tx Store) error) error

	GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetPractitionerByAuthUID(ctx context.Context, authUID string) (*Practitioner, error)

	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// LockSlot acquires an exclusive row lock for the remainder of the
	// enclosing transaction.
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// LockSlotByPractitionerStart locates and locks the slot a paid
	// appointment was initiated against.
	LockSlotByPractitionerStart(ctx context.Context, practitionerID uuid.UUID, startAt time.Time) (*Slot, error)
	// HasOverlap reports whether any slot of the practitioner in state
	// {available, reserved, blocked} intersects [startAt, endAt).
	HasOverlap(ctx context.Context, practitionerID uuid.UUID, startAt, endAt time.Time, excludeSlotID *uuid.UUID) (bool, error)
	CreateSlot(ctx context.Context, s *Slot) error
	// ReserveSlot transitions available → reserved and binds the patient
	// and appointment. Returns ErrSlotNotAvailable when the row is no
	// longer available.
	ReserveSlot(ctx context.Context, slotID, patientID, appointmentID uuid.UUID) error
	// ReleaseSlot transitions reserved → available and clears the
	// back-references.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error
	DeleteSlot(ctx context.Context, slotID uuid.UUID) error
	ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, from time.Time) ([]Slot, error)
	ListSlotsByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]Slot, error)

	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByRUT(ctx context.Context, rut string) (*Patient, error)
	// UpsertPatient creates the patient if absent, otherwise fills any
	// previously blank fields. Populated fields are never overwritten.
	UpsertPatient(ctx context.Context, in PatientInput) (*Patient, error)

	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// SetAppointmentLifecycle is a compare-and-set transition; it fails
	// with ErrInvalidTransition when the row is not in `from`.
	SetAppointmentLifecycle(ctx context.Context, id uuid.UUID, from, to Lifecycle) (*Appointment, error)
	// SetAppointmentOutcome applies a reconciliation verdict to both
	// status axes at once.
	SetAppointmentOutcome(ctx context.Context, id uuid.UUID, lifecycle Lifecycle, payment PaymentStatus) error
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)

	CreatePayment(ctx context.Context, p *Payment) error
	SetPaymentToken(ctx context.Context, id uuid.UUID, token string) error
	GetPaymentByBuyOrder(ctx context.Context, buyOrder string) (*Payment, error)
	// LockPaymentByBuyOrder locks the payment row so replayed gateway
	// callbacks for the same order serialize.
	LockPaymentByBuyOrder(ctx context.Context, buyOrder string) (*Payment, error)
	// MarkPaymentPaid transitions pending → paid and stores the raw
	// gateway payload for audit.
	MarkPaymentPaid(ctx context.Context, id uuid.UUID, raw []byte, paidAt time.Time) error
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, raw []byte) error
	FindStalePendingPayments(ctx context.Context, olderThan time.Time) ([]Payment, error)

	CreateSubscriptionPayment(ctx context.Context, p *SubscriptionPayment) error
	SetSubscriptionPaymentToken(ctx context.Context, id uuid.UUID, token string) error
	LockSubscriptionPaymentByBuyOrder(ctx context.Context, buyOrder string) (*SubscriptionPayment, error)
	MarkSubscriptionPaymentPaid(ctx context.Context, id uuid.UUID, raw []byte, expiresAt time.Time) error
	MarkSubscriptionPaymentFailed(ctx context.Context, id uuid.UUID, raw []byte) error
	// LatestPaidSubscription returns the most recent paid subscription
	// payment, or ErrPaymentNotFound if none exists.
	LatestPaidSubscription(ctx context.Context, practitionerID uuid.UUID) (*SubscriptionPayment, error)

	HasReviewForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error)

	// InsertEvent appends to the audit log. Callers treat failures as
	// non-fatal.
	InsertEvent(ctx context.Context, ev EventLog) error
}
