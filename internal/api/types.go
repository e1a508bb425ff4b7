package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/kinebook/booking-engine/internal/booking"
)

type patientPayload struct {
	RUT       string `json:"rut"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	BirthDate string `json:"birth_date,omitempty"` // YYYY-MM-DD
}

func (p patientPayload) toInput() (booking.PatientInput, error) {
	in := booking.PatientInput{
		RUT:       p.RUT,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
	}
	if p.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", p.BirthDate)
		if err != nil {
			return in, err
		}
		in.BirthDate = &bd
	}
	return in, nil
}

type bookRequest struct {
	SlotID  string         `json:"slot_id"`
	Patient patientPayload `json:"patient"`
}

type publishSlotRequest struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type slotResponse struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	State          string    `json:"state"`
}

func toSlotResponse(s booking.Slot) slotResponse {
	return slotResponse{
		ID:             s.ID,
		PractitionerID: s.PractitionerID,
		StartAt:        s.StartAt,
		EndAt:          s.EndAt,
		State:          string(s.State),
	}
}

func toSlotResponses(slots []booking.Slot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

type appointmentResponse struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	Lifecycle      string    `json:"lifecycle"`
	PaymentStatus  string    `json:"payment_status"`
}

func toAppointmentResponse(a booking.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:             a.ID,
		PractitionerID: a.PractitionerID,
		PatientID:      a.PatientID,
		ScheduledAt:    a.ScheduledAt,
		Lifecycle:      string(a.Lifecycle),
		PaymentStatus:  string(a.PaymentStatus),
	}
}

type practitionerSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Specialty string    `json:"specialty"`
}

type appointmentDetailResponse struct {
	appointmentResponse
	Practitioner practitionerSummary `json:"practitioner"`
	CanReview    bool                `json:"can_review"`
}

type initiatePaymentRequest struct {
	SlotID  string         `json:"slot_id"`
	Amount  int64          `json:"amount"`
	Patient patientPayload `json:"patient"`
}

type initiatePaymentResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id,omitempty"`
	BuyOrder      string    `json:"buy_order"`
	Token         string    `json:"token"`
	RedirectURL   string    `json:"redirect_url"`
}

type reconcileResponse struct {
	Outcome       string    `json:"outcome"`
	BuyOrder      string    `json:"buy_order"`
	AppointmentID uuid.UUID `json:"appointment_id,omitempty"`
}

type subscriptionInitiateRequest struct {
	Amount int64 `json:"amount"`
}

type subscriptionStatusResponse struct {
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
