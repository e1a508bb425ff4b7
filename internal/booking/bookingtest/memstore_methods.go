package bookingtest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kinebook/booking-engine/internal/booking"
)

// Locked wrappers for MemStore.

func (m *MemStore) locked(fn func(c *memCore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.core)
}

func (m *MemStore) GetPractitioner(ctx context.Context, id uuid.UUID) (p *booking.Practitioner, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.getPractitioner(id); return err })
	return
}

func (m *MemStore) GetPractitionerByAuthUID(ctx context.Context, uid string) (p *booking.Practitioner, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.getPractitionerByAuthUID(uid); return err })
	return
}

func (m *MemStore) GetSlot(ctx context.Context, id uuid.UUID) (s *booking.Slot, err error) {
	err = m.locked(func(c *memCore) error { s, err = c.getSlot(id); return err })
	return
}

func (m *MemStore) LockSlot(ctx context.Context, id uuid.UUID) (s *booking.Slot, err error) {
	err = m.locked(func(c *memCore) error { s, err = c.getSlot(id); return err })
	return
}

func (m *MemStore) LockSlotByPractitionerStart(ctx context.Context, practitionerID uuid.UUID, startAt time.Time) (s *booking.Slot, err error) {
	err = m.locked(func(c *memCore) error { s, err = c.lockSlotByPractitionerStart(practitionerID, startAt); return err })
	return
}

func (m *MemStore) HasOverlap(ctx context.Context, practitionerID uuid.UUID, startAt, endAt time.Time, exclude *uuid.UUID) (ok bool, err error) {
	err = m.locked(func(c *memCore) error { ok, err = c.hasOverlap(practitionerID, startAt, endAt, exclude); return err })
	return
}

func (m *MemStore) CreateSlot(ctx context.Context, s *booking.Slot) error {
	return m.locked(func(c *memCore) error { return c.createSlot(s) })
}

func (m *MemStore) ReserveSlot(ctx context.Context, slotID, patientID, appointmentID uuid.UUID) error {
	return m.locked(func(c *memCore) error { return c.reserveSlot(slotID, patientID, appointmentID) })
}

func (m *MemStore) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	return m.locked(func(c *memCore) error { return c.releaseSlot(slotID) })
}

func (m *MemStore) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	return m.locked(func(c *memCore) error { return c.deleteSlot(slotID) })
}

func (m *MemStore) ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, from time.Time) (out []booking.Slot, err error) {
	err = m.locked(func(c *memCore) error { out, err = c.listAvailableSlots(practitionerID, from); return err })
	return
}

func (m *MemStore) ListSlotsByPractitioner(ctx context.Context, practitionerID uuid.UUID) (out []booking.Slot, err error) {
	err = m.locked(func(c *memCore) error { out, err = c.listSlotsByPractitioner(practitionerID); return err })
	return
}

func (m *MemStore) GetPatient(ctx context.Context, id uuid.UUID) (p *booking.Patient, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.getPatient(id); return err })
	return
}

func (m *MemStore) GetPatientByRUT(ctx context.Context, rut string) (p *booking.Patient, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.getPatientByRUT(rut); return err })
	return
}

func (m *MemStore) UpsertPatient(ctx context.Context, in booking.PatientInput) (p *booking.Patient, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.upsertPatient(in); return err })
	return
}

func (m *MemStore) CreateAppointment(ctx context.Context, a *booking.Appointment) error {
	return m.locked(func(c *memCore) error { return c.createAppointment(a) })
}

func (m *MemStore) GetAppointment(ctx context.Context, id uuid.UUID) (a *booking.Appointment, err error) {
	err = m.locked(func(c *memCore) error { a, err = c.getAppointment(id); return err })
	return
}

func (m *MemStore) SetAppointmentLifecycle(ctx context.Context, id uuid.UUID, from, to booking.Lifecycle) (a *booking.Appointment, err error) {
	err = m.locked(func(c *memCore) error { a, err = c.setAppointmentLifecycle(id, from, to); return err })
	return
}

func (m *MemStore) SetAppointmentOutcome(ctx context.Context, id uuid.UUID, lifecycle booking.Lifecycle, payment booking.PaymentStatus) error {
	return m.locked(func(c *memCore) error { return c.setAppointmentOutcome(id, lifecycle, payment) })
}

func (m *MemStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) (out []booking.Appointment, err error) {
	err = m.locked(func(c *memCore) error { out, err = c.listAppointmentsByPatient(patientID); return err })
	return
}

func (m *MemStore) CreatePayment(ctx context.Context, p *booking.Payment) error {
	return m.locked(func(c *memCore) error { return c.createPayment(p) })
}

func (m *MemStore) SetPaymentToken(ctx context.Context, id uuid.UUID, token string) error {
	return m.locked(func(c *memCore) error { return c.setPaymentToken(id, token) })
}

func (m *MemStore) GetPaymentByBuyOrder(ctx context.Context, buyOrder string) (p *booking.Payment, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.getPaymentByBuyOrder(buyOrder); return err })
	return
}

func (m *MemStore) LockPaymentByBuyOrder(ctx context.Context, buyOrder string) (p *booking.Payment, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.getPaymentByBuyOrder(buyOrder); return err })
	return
}

func (m *MemStore) MarkPaymentPaid(ctx context.Context, id uuid.UUID, raw []byte, paidAt time.Time) error {
	return m.locked(func(c *memCore) error { return c.markPaymentPaid(id, raw, paidAt) })
}

func (m *MemStore) MarkPaymentFailed(ctx context.Context, id uuid.UUID, raw []byte) error {
	return m.locked(func(c *memCore) error { return c.markPaymentFailed(id, raw) })
}

func (m *MemStore) FindStalePendingPayments(ctx context.Context, olderThan time.Time) (out []booking.Payment, err error) {
	err = m.locked(func(c *memCore) error { out, err = c.findStalePendingPayments(olderThan); return err })
	return
}

func (m *MemStore) CreateSubscriptionPayment(ctx context.Context, p *booking.SubscriptionPayment) error {
	return m.locked(func(c *memCore) error { return c.createSubscriptionPayment(p) })
}

func (m *MemStore) SetSubscriptionPaymentToken(ctx context.Context, id uuid.UUID, token string) error {
	return m.locked(func(c *memCore) error { return c.setSubscriptionPaymentToken(id, token) })
}

func (m *MemStore) LockSubscriptionPaymentByBuyOrder(ctx context.Context, buyOrder string) (p *booking.SubscriptionPayment, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.lockSubscriptionPaymentByBuyOrder(buyOrder); return err })
	return
}

func (m *MemStore) MarkSubscriptionPaymentPaid(ctx context.Context, id uuid.UUID, raw []byte, expiresAt time.Time) error {
	return m.locked(func(c *memCore) error { return c.markSubscriptionPaymentPaid(id, raw, expiresAt) })
}

func (m *MemStore) MarkSubscriptionPaymentFailed(ctx context.Context, id uuid.UUID, raw []byte) error {
	return m.locked(func(c *memCore) error { return c.markSubscriptionPaymentFailed(id, raw) })
}

func (m *MemStore) LatestPaidSubscription(ctx context.Context, practitionerID uuid.UUID) (p *booking.SubscriptionPayment, err error) {
	err = m.locked(func(c *memCore) error { p, err = c.latestPaidSubscription(practitionerID); return err })
	return
}

func (m *MemStore) HasReviewForAppointment(ctx context.Context, appointmentID uuid.UUID) (ok bool, err error) {
	err = m.locked(func(c *memCore) error { ok, err = c.hasReviewForAppointment(appointmentID); return err })
	return
}

func (m *MemStore) InsertEvent(ctx context.Context, ev booking.EventLog) error {
	return m.locked(func(c *memCore) error { return c.insertEvent(ev) })
}

// Transaction-scoped view: same logic, outer mutex already held.

func (t *memTx) GetPractitioner(ctx context.Context, id uuid.UUID) (*booking.Practitioner, error) {
	return t.core.getPractitioner(id)
}

func (t *memTx) GetPractitionerByAuthUID(ctx context.Context, uid string) (*booking.Practitioner, error) {
	return t.core.getPractitionerByAuthUID(uid)
}

func (t *memTx) GetSlot(ctx context.Context, id uuid.UUID) (*booking.Slot, error) {
	return t.core.getSlot(id)
}

func (t *memTx) LockSlot(ctx context.Context, id uuid.UUID) (*booking.Slot, error) {
	return t.core.getSlot(id)
}

func (t *memTx) LockSlotByPractitionerStart(ctx context.Context, practitionerID uuid.UUID, startAt time.Time) (*booking.Slot, error) {
	return t.core.lockSlotByPractitionerStart(practitionerID, startAt)
}

func (t *memTx) HasOverlap(ctx context.Context, practitionerID uuid.UUID, startAt, endAt time.Time, exclude *uuid.UUID) (bool, error) {
	return t.core.hasOverlap(practitionerID, startAt, endAt, exclude)
}

func (t *memTx) CreateSlot(ctx context.Context, s *booking.Slot) error {
	return t.core.createSlot(s)
}

func (t *memTx) ReserveSlot(ctx context.Context, slotID, patientID, appointmentID uuid.UUID) error {
	return t.core.reserveSlot(slotID, patientID, appointmentID)
}

func (t *memTx) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	return t.core.releaseSlot(slotID)
}

func (t *memTx) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	return t.core.deleteSlot(slotID)
}

func (t *memTx) ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, from time.Time) ([]booking.Slot, error) {
	return t.core.listAvailableSlots(practitionerID, from)
}

func (t *memTx) ListSlotsByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]booking.Slot, error) {
	return t.core.listSlotsByPractitioner(practitionerID)
}

func (t *memTx) GetPatient(ctx context.Context, id uuid.UUID) (*booking.Patient, error) {
	return t.core.getPatient(id)
}

func (t *memTx) GetPatientByRUT(ctx context.Context, rut string) (*booking.Patient, error) {
	return t.core.getPatientByRUT(rut)
}

func (t *memTx) UpsertPatient(ctx context.Context, in booking.PatientInput) (*booking.Patient, error) {
	return t.core.upsertPatient(in)
}

func (t *memTx) CreateAppointment(ctx context.Context, a *booking.Appointment) error {
	return t.core.createAppointment(a)
}

func (t *memTx) GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error) {
	return t.core.getAppointment(id)
}

func (t *memTx) SetAppointmentLifecycle(ctx context.Context, id uuid.UUID, from, to booking.Lifecycle) (*booking.Appointment, error) {
	return t.core.setAppointmentLifecycle(id, from, to)
}

func (t *memTx) SetAppointmentOutcome(ctx context.Context, id uuid.UUID, lifecycle booking.Lifecycle, payment booking.PaymentStatus) error {
	return t.core.setAppointmentOutcome(id, lifecycle, payment)
}

func (t *memTx) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]booking.Appointment, error) {
	return t.core.listAppointmentsByPatient(patientID)
}

func (t *memTx) CreatePayment(ctx context.Context, p *booking.Payment) error {
	return t.core.createPayment(p)
}

func (t *memTx) SetPaymentToken(ctx context.Context, id uuid.UUID, token string) error {
	return t.core.setPaymentToken(id, token)
}

func (t *memTx) GetPaymentByBuyOrder(ctx context.Context, buyOrder string) (*booking.Payment, error) {
	return t.core.getPaymentByBuyOrder(buyOrder)
}

func (t *memTx) LockPaymentByBuyOrder(ctx context.Context, buyOrder string) (*booking.Payment, error) {
	return t.core.getPaymentByBuyOrder(buyOrder)
}

func (t *memTx) MarkPaymentPaid(ctx context.Context, id uuid.UUID, raw []byte, paidAt time.Time) error {
	return t.core.markPaymentPaid(id, raw, paidAt)
}

func (t *memTx) MarkPaymentFailed(ctx context.Context, id uuid.UUID, raw []byte) error {
	return t.core.markPaymentFailed(id, raw)
}

func (t *memTx) FindStalePendingPayments(ctx context.Context, olderThan time.Time) ([]booking.Payment, error) {
	return t.core.findStalePendingPayments(olderThan)
}

func (t *memTx) CreateSubscriptionPayment(ctx context.Context, p *booking.SubscriptionPayment) error {
	return t.core.createSubscriptionPayment(p)
}

func (t *memTx) SetSubscriptionPaymentToken(ctx context.Context, id uuid.UUID, token string) error {
	return t.core.setSubscriptionPaymentToken(id, token)
}

func (t *memTx) LockSubscriptionPaymentByBuyOrder(ctx context.Context, buyOrder string) (*booking.SubscriptionPayment, error) {
	return t.core.lockSubscriptionPaymentByBuyOrder(buyOrder)
}

func (t *memTx) MarkSubscriptionPaymentPaid(ctx context.Context, id uuid.UUID, raw []byte, expiresAt time.Time) error {
	return t.core.markSubscriptionPaymentPaid(id, raw, expiresAt)
}

func (t *memTx) MarkSubscriptionPaymentFailed(ctx context.Context, id uuid.UUID, raw []byte) error {
	return t.core.markSubscriptionPaymentFailed(id, raw)
}

func (t *memTx) LatestPaidSubscription(ctx context.Context, practitionerID uuid.UUID) (*booking.SubscriptionPayment, error) {
	return t.core.latestPaidSubscription(practitionerID)
}

func (t *memTx) HasReviewForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	return t.core.hasReviewForAppointment(appointmentID)
}

func (t *memTx) InsertEvent(ctx context.Context, ev booking.EventLog) error {
	return t.core.insertEvent(ev)
}
