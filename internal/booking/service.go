package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/observability/metrics"
)

const (
	EventSlotPublished        = "SLOT_PUBLISHED"
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

// Service is the booking coordinator: it owns slot publication and the
// direct (no-payment) booking path.
type Service struct {
	store   Store
	metrics *metrics.EngineMetrics
	log     *zap.Logger
	now     func() time.Time
}

func NewService(store Store, m *metrics.EngineMetrics, log *zap.Logger) *Service {
	return &Service{
		store:   store,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// HasActiveSubscription is the gating predicate for publishing slots:
// the practitioner's latest paid subscription must not have expired.
func (s *Service) HasActiveSubscription(ctx context.Context, practitionerID uuid.UUID) (bool, error) {
	sub, err := s.store.LatestPaidSubscription(ctx, practitionerID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load latest subscription: %w", err)
	}
	return sub.ExpiresAt != nil && sub.ExpiresAt.After(s.now()), nil
}

// PublishSlot creates a new available slot. Requires an approved
// practitioner with an active subscription; rejects overlapping intervals.
func (s *Service) PublishSlot(ctx context.Context, practitionerID uuid.UUID, startAt, endAt time.Time) (*Slot, error) {
	if !endAt.After(startAt) {
		return nil, ErrInvalidTimeRange
	}

	p, err := s.store.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	if p.Verification != VerificationApproved {
		return nil, ErrNotApproved
	}

	active, err := s.HasActiveSubscription(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrSubscriptionInactive
	}

	overlap, err := s.store.HasOverlap(ctx, practitionerID, startAt, endAt, nil)
	if err != nil {
		return nil, fmt.Errorf("overlap check: %w", err)
	}
	if overlap {
		return nil, ErrSlotOverlap
	}

	slot := &Slot{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		StartAt:        startAt,
		EndAt:          endAt,
		State:          SlotAvailable,
	}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.logEvent(ctx, s.store, EventSlotPublished, nil, map[string]any{
		"slot_id":  slot.ID.String(),
		"start_at": slot.StartAt,
		"end_at":   slot.EndAt,
	})

	return slot, nil
}

// Book reserves a slot for a patient on the direct, no-payment path.
// The slot row lock is the serialization point: all dependent writes
// happen before the enclosing transaction releases it.
func (s *Service) Book(ctx context.Context, slotID uuid.UUID, in PatientInput) (*Appointment, error) {
	rut, err := NormalizeRUT(in.RUT)
	if err != nil {
		return nil, err
	}
	in.RUT = rut

	var appt *Appointment

	err = s.store.InTx(ctx, func(tx Store) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.State != SlotAvailable {
			return ErrSlotNotAvailable
		}
		if !slot.StartAt.After(s.now()) {
			// Stale availability data; reject rather than serve late.
			return ErrSlotInPast
		}

		patient, err := tx.UpsertPatient(ctx, in)
		if err != nil {
			return fmt.Errorf("upsert patient: %w", err)
		}

		a := &Appointment{
			ID:             uuid.New(),
			PatientID:      patient.ID,
			PractitionerID: slot.PractitionerID,
			ScheduledAt:    slot.StartAt,
			Lifecycle:      LifecyclePending,
			PaymentStatus:  PaymentNotRequired,
		}
		if err := tx.CreateAppointment(ctx, a); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		if err := tx.ReserveSlot(ctx, slot.ID, patient.ID, a.ID); err != nil {
			return err
		}

		appt = a
		s.logEvent(ctx, tx, EventAppointmentBooked, &a.ID, map[string]any{
			"slot_id":    slot.ID.String(),
			"patient_id": patient.ID.String(),
		})
		return nil
	})

	if err != nil {
		s.metrics.ObserveBooking("rejected")
		return nil, err
	}

	s.metrics.ObserveBooking("reserved")
	return appt, nil
}

// DeleteSlot removes an unreserved slot owned by the practitioner.
func (s *Service) DeleteSlot(ctx context.Context, practitionerID, slotID uuid.UUID) error {
	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.PractitionerID != practitionerID {
		return ErrSlotNotFound
	}
	return s.store.DeleteSlot(ctx, slotID)
}

// CancelAppointment cancels a pending appointment and frees its slot.
func (s *Service) CancelAppointment(ctx context.Context, practitionerID, appointmentID uuid.UUID) error {
	return s.store.InTx(ctx, func(tx Store) error {
		appt, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.PractitionerID != practitionerID {
			return ErrAppointmentNotFound
		}

		if _, err := tx.SetAppointmentLifecycle(ctx, appointmentID, LifecyclePending, LifecycleCancelled); err != nil {
			return err
		}

		slot, err := tx.LockSlotByPractitionerStart(ctx, appt.PractitionerID, appt.ScheduledAt)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return nil // slot already removed
			}
			return err
		}
		if slot.AppointmentID != nil && *slot.AppointmentID == appointmentID {
			if err := tx.ReleaseSlot(ctx, slot.ID); err != nil {
				return err
			}
		}

		s.logEvent(ctx, tx, EventAppointmentCancelled, &appointmentID, map[string]any{
			"reason": "practitioner",
		})
		return nil
	})
}

// CompleteAppointment marks a pending appointment as completed, which
// unlocks review creation downstream.
func (s *Service) CompleteAppointment(ctx context.Context, practitionerID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PractitionerID != practitionerID {
		return nil, ErrAppointmentNotFound
	}

	updated, err := s.store.SetAppointmentLifecycle(ctx, appointmentID, LifecyclePending, LifecycleCompleted)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, s.store, EventAppointmentCompleted, &appointmentID, map[string]any{})
	return updated, nil
}

// ListAvailableSlots returns the public availability of a practitioner:
// available slots starting at or after now, ascending.
func (s *Service) ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID) ([]Slot, error) {
	slots, err := s.store.ListAvailableSlots(ctx, practitionerID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

func (s *Service) ListPractitionerSlots(ctx context.Context, practitionerID uuid.UUID) ([]Slot, error) {
	slots, err := s.store.ListSlotsByPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("list practitioner slots: %w", err)
	}
	return slots, nil
}

// AppointmentsByRUT returns a patient's appointments, newest first.
func (s *Service) AppointmentsByRUT(ctx context.Context, rawRUT string) (*Patient, []Appointment, error) {
	rut, err := NormalizeRUT(rawRUT)
	if err != nil {
		return nil, nil, err
	}
	patient, err := s.store.GetPatientByRUT(ctx, rut)
	if err != nil {
		return nil, nil, err
	}
	appts, err := s.store.ListAppointmentsByPatient(ctx, patient.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list appointments: %w", err)
	}
	return patient, appts, nil
}

// AppointmentDetail returns the public view of an appointment including
// whether a review may still be left (completed, and none exists yet).
func (s *Service) AppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	practitioner, err := s.store.GetPractitioner(ctx, appt.PractitionerID)
	if err != nil {
		return nil, err
	}

	detail := &AppointmentDetail{
		Appointment:  *appt,
		Practitioner: practitioner,
	}

	hasReview, err := s.store.HasReviewForAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check review: %w", err)
	}
	detail.CanReview = appt.Lifecycle == LifecycleCompleted && !hasReview

	return detail, nil
}

func (s *Service) logEvent(ctx context.Context, store Store, eventType string, appointmentID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := store.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log", zap.String("event", eventType), zap.Error(err))
	}
}
