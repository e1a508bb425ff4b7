// Package bookingtest provides an in-memory booking.Store for service
// tests. Transactions serialize on one mutex and roll back by snapshot,
// mirroring the all-or-nothing semantics of the Postgres store.
package bookingtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinebook/booking-engine/internal/booking"
)

type memCore struct {
	practitioners map[uuid.UUID]booking.Practitioner
	slots         map[uuid.UUID]booking.Slot
	patients      map[uuid.UUID]booking.Patient
	appointments  map[uuid.UUID]booking.Appointment
	payments      map[uuid.UUID]booking.Payment
	subs          map[uuid.UUID]booking.SubscriptionPayment
	reviews       map[uuid.UUID]bool
	events        []booking.EventLog
}

func newMemCore() *memCore {
	return &memCore{
		practitioners: make(map[uuid.UUID]booking.Practitioner),
		slots:         make(map[uuid.UUID]booking.Slot),
		patients:      make(map[uuid.UUID]booking.Patient),
		appointments:  make(map[uuid.UUID]booking.Appointment),
		payments:      make(map[uuid.UUID]booking.Payment),
		subs:          make(map[uuid.UUID]booking.SubscriptionPayment),
		reviews:       make(map[uuid.UUID]bool),
	}
}

func (c *memCore) clone() *memCore {
	cp := newMemCore()
	for k, v := range c.practitioners {
		cp.practitioners[k] = v
	}
	for k, v := range c.slots {
		cp.slots[k] = v
	}
	for k, v := range c.patients {
		cp.patients[k] = v
	}
	for k, v := range c.appointments {
		cp.appointments[k] = v
	}
	for k, v := range c.payments {
		cp.payments[k] = v
	}
	for k, v := range c.subs {
		cp.subs[k] = v
	}
	for k, v := range c.reviews {
		cp.reviews[k] = v
	}
	cp.events = append(cp.events, c.events...)
	return cp
}

// MemStore is the locked outer store handed to services.
type MemStore struct {
	mu   sync.Mutex
	core *memCore
}

func NewMemStore() *MemStore {
	return &MemStore{core: newMemCore()}
}

// memTx is the transaction-scoped view; the outer mutex is already held.
type memTx struct {
	core *memCore
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx booking.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.core.clone()
	if err := fn(&memTx{core: m.core}); err != nil {
		m.core = snapshot
		return err
	}
	return nil
}

func (t *memTx) InTx(ctx context.Context, fn func(tx booking.Store) error) error {
	return fn(t) // nested units join the outer one
}

// Seed helpers

func (m *MemStore) AddPractitioner(p booking.Practitioner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.core.practitioners[p.ID] = p
}

func (m *MemStore) AddSlot(s booking.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.core.slots[s.ID] = s
}

func (m *MemStore) AddReview(appointmentID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.core.reviews[appointmentID] = true
}

// Events returns a copy of the audit log.
func (m *MemStore) Events() []booking.EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]booking.EventLog, len(m.core.events))
	copy(out, m.core.events)
	return out
}

// EventsOfType filters the audit log.
func (m *MemStore) EventsOfType(eventType string) []booking.EventLog {
	var out []booking.EventLog
	for _, ev := range m.Events() {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// core logic, shared by locked and tx views

func (c *memCore) getPractitioner(id uuid.UUID) (*booking.Practitioner, error) {
	p, ok := c.practitioners[id]
	if !ok {
		return nil, booking.ErrPractitionerNotFound
	}
	return &p, nil
}

func (c *memCore) getPractitionerByAuthUID(uid string) (*booking.Practitioner, error) {
	for _, p := range c.practitioners {
		if p.AuthUID == uid {
			cp := p
			return &cp, nil
		}
	}
	return nil, booking.ErrPractitionerNotFound
}

func (c *memCore) getSlot(id uuid.UUID) (*booking.Slot, error) {
	s, ok := c.slots[id]
	if !ok {
		return nil, booking.ErrSlotNotFound
	}
	return &s, nil
}

func (c *memCore) lockSlotByPractitionerStart(practitionerID uuid.UUID, startAt time.Time) (*booking.Slot, error) {
	for _, s := range c.slots {
		if s.PractitionerID == practitionerID && s.StartAt.Equal(startAt) {
			cp := s
			return &cp, nil
		}
	}
	return nil, booking.ErrSlotNotFound
}

func (c *memCore) hasOverlap(practitionerID uuid.UUID, startAt, endAt time.Time, exclude *uuid.UUID) (bool, error) {
	for _, s := range c.slots {
		if s.PractitionerID != practitionerID {
			continue
		}
		if exclude != nil && s.ID == *exclude {
			continue
		}
		switch s.State {
		case booking.SlotAvailable, booking.SlotReserved, booking.SlotBlocked:
			if booking.Overlaps(s.StartAt, s.EndAt, startAt, endAt) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *memCore) createSlot(s *booking.Slot) error {
	// Mirrors the slots_no_overlap exclusion constraint.
	overlap, _ := c.hasOverlap(s.PractitionerID, s.StartAt, s.EndAt, &s.ID)
	if overlap {
		return booking.ErrSlotOverlap
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	c.slots[s.ID] = *s
	return nil
}

func (c *memCore) reserveSlot(slotID, patientID, appointmentID uuid.UUID) error {
	s, ok := c.slots[slotID]
	if !ok || s.State != booking.SlotAvailable {
		return booking.ErrSlotNotAvailable
	}
	s.State = booking.SlotReserved
	s.PatientID = &patientID
	s.AppointmentID = &appointmentID
	s.UpdatedAt = time.Now()
	c.slots[slotID] = s
	return nil
}

func (c *memCore) releaseSlot(slotID uuid.UUID) error {
	s, ok := c.slots[slotID]
	if !ok || s.State != booking.SlotReserved {
		return booking.ErrInvalidTransition
	}
	s.State = booking.SlotAvailable
	s.PatientID = nil
	s.AppointmentID = nil
	s.UpdatedAt = time.Now()
	c.slots[slotID] = s
	return nil
}

func (c *memCore) deleteSlot(slotID uuid.UUID) error {
	s, ok := c.slots[slotID]
	if !ok {
		return booking.ErrSlotNotFound
	}
	if s.State == booking.SlotReserved {
		return booking.ErrSlotReserved
	}
	delete(c.slots, slotID)
	return nil
}

func (c *memCore) listAvailableSlots(practitionerID uuid.UUID, from time.Time) ([]booking.Slot, error) {
	var out []booking.Slot
	for _, s := range c.slots {
		if s.PractitionerID == practitionerID && s.State == booking.SlotAvailable && !s.StartAt.Before(from) {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (c *memCore) listSlotsByPractitioner(practitionerID uuid.UUID) ([]booking.Slot, error) {
	var out []booking.Slot
	for _, s := range c.slots {
		if s.PractitionerID == practitionerID {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func sortSlots(slots []booking.Slot) {
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j].StartAt.Before(slots[j-1].StartAt); j-- {
			slots[j], slots[j-1] = slots[j-1], slots[j]
		}
	}
}

func (c *memCore) getPatient(id uuid.UUID) (*booking.Patient, error) {
	p, ok := c.patients[id]
	if !ok {
		return nil, booking.ErrPatientNotFound
	}
	return &p, nil
}

func (c *memCore) getPatientByRUT(rut string) (*booking.Patient, error) {
	for _, p := range c.patients {
		if p.RUT == rut {
			cp := p
			return &cp, nil
		}
	}
	return nil, booking.ErrPatientNotFound
}

func (c *memCore) upsertPatient(in booking.PatientInput) (*booking.Patient, error) {
	for id, p := range c.patients {
		if p.RUT != in.RUT {
			continue
		}
		if p.FirstName == "" {
			p.FirstName = in.FirstName
		}
		if p.LastName == "" {
			p.LastName = in.LastName
		}
		if p.Email == "" {
			p.Email = in.Email
		}
		if p.Phone == nil && in.Phone != "" {
			phone := in.Phone
			p.Phone = &phone
		}
		if p.BirthDate == nil {
			p.BirthDate = in.BirthDate
		}
		p.UpdatedAt = time.Now()
		c.patients[id] = p
		return &p, nil
	}

	p := booking.Patient{
		ID:        uuid.New(),
		RUT:       in.RUT,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		BirthDate: in.BirthDate,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if in.Phone != "" {
		phone := in.Phone
		p.Phone = &phone
	}
	c.patients[p.ID] = p
	return &p, nil
}

func (c *memCore) createAppointment(a *booking.Appointment) error {
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	c.appointments[a.ID] = *a
	return nil
}

func (c *memCore) getAppointment(id uuid.UUID) (*booking.Appointment, error) {
	a, ok := c.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	return &a, nil
}

func (c *memCore) setAppointmentLifecycle(id uuid.UUID, from, to booking.Lifecycle) (*booking.Appointment, error) {
	a, ok := c.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	if a.Lifecycle != from {
		return nil, booking.ErrInvalidTransition
	}
	a.Lifecycle = to
	a.UpdatedAt = time.Now()
	c.appointments[id] = a
	return &a, nil
}

func (c *memCore) setAppointmentOutcome(id uuid.UUID, lifecycle booking.Lifecycle, payment booking.PaymentStatus) error {
	a, ok := c.appointments[id]
	if !ok {
		return booking.ErrAppointmentNotFound
	}
	a.Lifecycle = lifecycle
	a.PaymentStatus = payment
	a.UpdatedAt = time.Now()
	c.appointments[id] = a
	return nil
}

func (c *memCore) listAppointmentsByPatient(patientID uuid.UUID) ([]booking.Appointment, error) {
	var out []booking.Appointment
	for _, a := range c.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ScheduledAt.After(out[j-1].ScheduledAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (c *memCore) createPayment(p *booking.Payment) error {
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	c.payments[p.ID] = *p
	return nil
}

func (c *memCore) setPaymentToken(id uuid.UUID, token string) error {
	p, ok := c.payments[id]
	if !ok {
		return booking.ErrPaymentNotFound
	}
	p.Token = &token
	p.UpdatedAt = time.Now()
	c.payments[id] = p
	return nil
}

func (c *memCore) getPaymentByBuyOrder(buyOrder string) (*booking.Payment, error) {
	for _, p := range c.payments {
		if p.BuyOrder == buyOrder {
			cp := p
			return &cp, nil
		}
	}
	return nil, booking.ErrPaymentNotFound
}

func (c *memCore) markPaymentPaid(id uuid.UUID, raw []byte, paidAt time.Time) error {
	p, ok := c.payments[id]
	if !ok || p.State != booking.TxPending {
		return booking.ErrInvalidTransition
	}
	p.State = booking.TxPaid
	p.RawPayload = raw
	p.PaidAt = &paidAt
	p.UpdatedAt = time.Now()
	c.payments[id] = p
	return nil
}

func (c *memCore) markPaymentFailed(id uuid.UUID, raw []byte) error {
	p, ok := c.payments[id]
	if !ok || p.State != booking.TxPending {
		return booking.ErrInvalidTransition
	}
	p.State = booking.TxFailed
	p.RawPayload = raw
	p.UpdatedAt = time.Now()
	c.payments[id] = p
	return nil
}

func (c *memCore) findStalePendingPayments(olderThan time.Time) ([]booking.Payment, error) {
	var out []booking.Payment
	for _, p := range c.payments {
		if p.State == booking.TxPending && p.CreatedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *memCore) createSubscriptionPayment(p *booking.SubscriptionPayment) error {
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	c.subs[p.ID] = *p
	return nil
}

func (c *memCore) setSubscriptionPaymentToken(id uuid.UUID, token string) error {
	p, ok := c.subs[id]
	if !ok {
		return booking.ErrPaymentNotFound
	}
	p.Token = &token
	p.UpdatedAt = time.Now()
	c.subs[id] = p
	return nil
}

func (c *memCore) lockSubscriptionPaymentByBuyOrder(buyOrder string) (*booking.SubscriptionPayment, error) {
	for _, p := range c.subs {
		if p.BuyOrder == buyOrder {
			cp := p
			return &cp, nil
		}
	}
	return nil, booking.ErrPaymentNotFound
}

func (c *memCore) markSubscriptionPaymentPaid(id uuid.UUID, raw []byte, expiresAt time.Time) error {
	p, ok := c.subs[id]
	if !ok || p.State != booking.TxPending {
		return booking.ErrInvalidTransition
	}
	p.State = booking.TxPaid
	p.RawPayload = raw
	p.ExpiresAt = &expiresAt
	p.UpdatedAt = time.Now()
	c.subs[id] = p
	return nil
}

func (c *memCore) markSubscriptionPaymentFailed(id uuid.UUID, raw []byte) error {
	p, ok := c.subs[id]
	if !ok || p.State != booking.TxPending {
		return booking.ErrInvalidTransition
	}
	p.State = booking.TxFailed
	p.RawPayload = raw
	p.UpdatedAt = time.Now()
	c.subs[id] = p
	return nil
}

func (c *memCore) latestPaidSubscription(practitionerID uuid.UUID) (*booking.SubscriptionPayment, error) {
	var latest *booking.SubscriptionPayment
	for _, p := range c.subs {
		if p.PractitionerID != practitionerID || p.State != booking.TxPaid {
			continue
		}
		cp := p
		if latest == nil || !cp.CreatedAt.Before(latest.CreatedAt) {
			latest = &cp
		}
	}
	if latest == nil {
		return nil, booking.ErrPaymentNotFound
	}
	return latest, nil
}

func (c *memCore) hasReviewForAppointment(appointmentID uuid.UUID) (bool, error) {
	return c.reviews[appointmentID], nil
}

func (c *memCore) insertEvent(ev booking.EventLog) error {
	ev.ID = int64(len(c.events) + 1)
	c.events = append(c.events, ev)
	return nil
}
