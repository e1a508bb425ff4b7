package booking

import (
	"time"

	"github.com/google/uuid"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotReserved  SlotState = "reserved"
	SlotBlocked   SlotState = "blocked"
)

type Lifecycle string

const (
	LifecyclePending   Lifecycle = "pending"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleCancelled Lifecycle = "cancelled"
)

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentPending     PaymentStatus = "pending"
	PaymentPaid        PaymentStatus = "paid"
	PaymentFailed      PaymentStatus = "failed"
)

type TransactionState string

const (
	TxPending TransactionState = "pending"
	TxPaid    TransactionState = "paid"
	TxFailed  TransactionState = "failed"
)

type Practitioner struct {
	ID                uuid.UUID
	AuthUID           string // external identity provider subject
	FirstName         string
	LastName          string
	Email             string
	Specialty         string
	Verification      VerificationStatus
	ConsultationPrice int64 // CLP
	HomeVisits        bool
	OfficeVisits      bool
	OfficeAddress     *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Slot is a bookable half-open interval [StartAt, EndAt) owned by one
// practitioner. PatientID/AppointmentID are set only while reserved.
type Slot struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	State          SlotState
	PatientID      *uuid.UUID
	AppointmentID  *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Patient rows are deduplicated by normalized RUT and shared across
// appointments.
type Patient struct {
	ID        uuid.UUID
	RUT       string
	FirstName string
	LastName  string
	Email     string
	Phone     *string
	BirthDate *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PatientInput carries the fields a booking request may supply for the
// patient upsert. Blank fields never overwrite existing data.
type PatientInput struct {
	RUT       string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	BirthDate *time.Time
}

type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	ScheduledAt    time.Time // copied from the slot at booking time
	Lifecycle      Lifecycle
	PaymentStatus  PaymentStatus
	Note           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payment is one gateway attempt against an appointment. BuyOrder is the
// core-generated correlation key; the gateway token is ephemeral per attempt.
type Payment struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	BuyOrder       string
	SessionID      string
	Token          *string
	Amount         int64
	State          TransactionState
	RawPayload     []byte
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubscriptionPayment is the recurring-access variant: bound to a
// practitioner, not a slot. ExpiresAt is set only once paid.
type SubscriptionPayment struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	BuyOrder       string
	Token          *string
	Amount         int64
	State          TransactionState
	RawPayload     []byte
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	BuyOrder      *string
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is the public view of an appointment.
type AppointmentDetail struct {
	Appointment
	Practitioner *Practitioner
	Patient      *Patient
	CanReview    bool
}

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) intersect.
// Touching boundaries do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
