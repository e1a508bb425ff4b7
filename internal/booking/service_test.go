package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/booking/bookingtest"
)

type serviceEnv struct {
	store *bookingtest.MemStore
	svc   *booking.Service
	pract booking.Practitioner
	slot  booking.Slot
	now   time.Time
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	store := bookingtest.NewMemStore()
	pract := booking.Practitioner{
		ID:           uuid.New(),
		FirstName:    "Laura",
		LastName:     "Mena",
		Specialty:    "kinesiology",
		Verification: booking.VerificationApproved,
	}
	store.AddPractitioner(pract)

	slot := booking.Slot{
		ID:             uuid.New(),
		PractitionerID: pract.ID,
		StartAt:        now.Add(24 * time.Hour),
		EndAt:          now.Add(25 * time.Hour),
		State:          booking.SlotAvailable,
	}
	store.AddSlot(slot)

	svc := booking.NewService(store, nil, zap.NewNop())
	svc.WithClock(func() time.Time { return now })

	return &serviceEnv{store: store, svc: svc, pract: pract, slot: slot, now: now}
}

func (e *serviceEnv) activateSubscription(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	expires := e.now.AddDate(0, 1, 0)
	sub := &booking.SubscriptionPayment{
		ID:             uuid.New(),
		PractitionerID: e.pract.ID,
		BuyOrder:       "SUB-00112233445566778899aa",
		Amount:         4990,
		State:          booking.TxPending,
	}
	require.NoError(t, e.store.CreateSubscriptionPayment(ctx, sub))
	require.NoError(t, e.store.MarkSubscriptionPaymentPaid(ctx, sub.ID, nil, expires))
}

func patientInput() booking.PatientInput {
	return booking.PatientInput{
		RUT:       "12.345.678-5",
		FirstName: "Pedro",
		LastName:  "Soto",
		Email:     "pedro@mail.test",
	}
}

func TestBookReservesSlot(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	appt, err := env.svc.Book(ctx, env.slot.ID, patientInput())
	require.NoError(t, err)
	assert.Equal(t, booking.LifecyclePending, appt.Lifecycle)
	assert.Equal(t, booking.PaymentNotRequired, appt.PaymentStatus)
	assert.Equal(t, env.slot.StartAt, appt.ScheduledAt)

	slot, err := env.store.GetSlot(ctx, env.slot.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.SlotReserved, slot.State)
	require.NotNil(t, slot.AppointmentID)
	assert.Equal(t, appt.ID, *slot.AppointmentID)

	// The RUT is stored normalized.
	patient, err := env.store.GetPatientByRUT(ctx, "12345678-5")
	require.NoError(t, err)
	assert.Equal(t, patient.ID, appt.PatientID)

	assert.Len(t, env.store.EventsOfType(booking.EventAppointmentBooked), 1)
}

func TestBookLoserFailsFast(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	_, err := env.svc.Book(ctx, env.slot.ID, patientInput())
	require.NoError(t, err)

	other := booking.PatientInput{RUT: "1.000.005-K", FirstName: "Ana", LastName: "Rojas", Email: "ana@mail.test"}
	_, err = env.svc.Book(ctx, env.slot.ID, other)
	assert.ErrorIs(t, err, booking.ErrSlotNotAvailable)
}

func TestBookConcurrentSingleWinner(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Book(ctx, env.slot.ID, patientInput())
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, booking.ErrSlotNotAvailable)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestBookRejectsPastAndMissingSlots(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	past := booking.Slot{
		ID:             uuid.New(),
		PractitionerID: env.pract.ID,
		StartAt:        env.now.Add(-time.Hour),
		EndAt:          env.now,
		State:          booking.SlotAvailable,
	}
	env.store.AddSlot(past)

	_, err := env.svc.Book(ctx, past.ID, patientInput())
	assert.ErrorIs(t, err, booking.ErrSlotInPast)

	_, err = env.svc.Book(ctx, uuid.New(), patientInput())
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)

	in := patientInput()
	in.RUT = "12345678-9"
	_, err = env.svc.Book(ctx, env.slot.ID, in)
	assert.ErrorIs(t, err, booking.ErrInvalidRUT)

	// Failed attempts leave the slot untouched.
	slot, err := env.store.GetSlot(ctx, env.slot.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.SlotAvailable, slot.State)
}

func TestBookEnrichesExistingPatient(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	sparse := booking.PatientInput{RUT: "12.345.678-5", FirstName: "Pedro", Email: "pedro@mail.test"}
	first, err := env.svc.Book(ctx, env.slot.ID, sparse)
	require.NoError(t, err)

	second := booking.Slot{
		ID:             uuid.New(),
		PractitionerID: env.pract.ID,
		StartAt:        env.now.Add(48 * time.Hour),
		EndAt:          env.now.Add(49 * time.Hour),
		State:          booking.SlotAvailable,
	}
	env.store.AddSlot(second)

	richer := booking.PatientInput{
		RUT:       "12345678-5",
		FirstName: "Pedro Ignacio", // existing value must win
		LastName:  "Soto",
		Email:     "other@mail.test",
		Phone:     "+56911112222",
	}
	appt, err := env.svc.Book(ctx, second.ID, richer)
	require.NoError(t, err)
	assert.Equal(t, first.PatientID, appt.PatientID, "same RUT resolves to one patient row")

	patient, err := env.store.GetPatientByRUT(ctx, "12345678-5")
	require.NoError(t, err)
	assert.Equal(t, "Pedro", patient.FirstName)
	assert.Equal(t, "Soto", patient.LastName, "blank field was filled")
	assert.Equal(t, "pedro@mail.test", patient.Email, "populated field was not overwritten")
	require.NotNil(t, patient.Phone)
	assert.Equal(t, "+56911112222", *patient.Phone)
}

func TestPublishSlotGating(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	start := env.now.Add(72 * time.Hour)
	end := start.Add(time.Hour)

	// No subscription yet.
	_, err := env.svc.PublishSlot(ctx, env.pract.ID, start, end)
	assert.ErrorIs(t, err, booking.ErrSubscriptionInactive)

	env.activateSubscription(t)

	slot, err := env.svc.PublishSlot(ctx, env.pract.ID, start, end)
	require.NoError(t, err)
	assert.Equal(t, booking.SlotAvailable, slot.State)

	// Unapproved practitioners cannot publish.
	pending := booking.Practitioner{ID: uuid.New(), Verification: booking.VerificationPending}
	env.store.AddPractitioner(pending)
	_, err = env.svc.PublishSlot(ctx, pending.ID, start, end)
	assert.ErrorIs(t, err, booking.ErrNotApproved)

	// Inverted range.
	_, err = env.svc.PublishSlot(ctx, env.pract.ID, end, start)
	assert.ErrorIs(t, err, booking.ErrInvalidTimeRange)
}

func TestPublishSlotOverlapBoundaries(t *testing.T) {
	env := newServiceEnv(t)
	env.activateSubscription(t)
	ctx := context.Background()

	// Existing seeded slot occupies [now+24h, now+25h).
	overlapping := []struct{ startOff, endOff time.Duration }{
		{23*time.Hour + 30*time.Minute, 24*time.Hour + 30*time.Minute}, // straddles start
		{24*time.Hour + 15*time.Minute, 24*time.Hour + 45*time.Minute}, // contained
		{23 * time.Hour, 26 * time.Hour},                               // contains
	}
	for _, c := range overlapping {
		_, err := env.svc.PublishSlot(ctx, env.pract.ID, env.now.Add(c.startOff), env.now.Add(c.endOff))
		assert.ErrorIs(t, err, booking.ErrSlotOverlap)
	}

	// Touching intervals do not overlap.
	_, err := env.svc.PublishSlot(ctx, env.pract.ID, env.now.Add(25*time.Hour), env.now.Add(26*time.Hour))
	assert.NoError(t, err)
	_, err = env.svc.PublishSlot(ctx, env.pract.ID, env.now.Add(23*time.Hour), env.now.Add(24*time.Hour))
	assert.NoError(t, err)
}

func TestDeleteSlotRules(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	// Foreign slots look like they do not exist.
	err := env.svc.DeleteSlot(ctx, uuid.New(), env.slot.ID)
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)

	// Reserved slots cannot be removed.
	_, err = env.svc.Book(ctx, env.slot.ID, patientInput())
	require.NoError(t, err)
	err = env.svc.DeleteSlot(ctx, env.pract.ID, env.slot.ID)
	assert.ErrorIs(t, err, booking.ErrSlotReserved)

	free := booking.Slot{
		ID:             uuid.New(),
		PractitionerID: env.pract.ID,
		StartAt:        env.now.Add(48 * time.Hour),
		EndAt:          env.now.Add(49 * time.Hour),
		State:          booking.SlotAvailable,
	}
	env.store.AddSlot(free)
	assert.NoError(t, env.svc.DeleteSlot(ctx, env.pract.ID, free.ID))
}

func TestCancelAppointmentFreesSlot(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	appt, err := env.svc.Book(ctx, env.slot.ID, patientInput())
	require.NoError(t, err)

	require.NoError(t, env.svc.CancelAppointment(ctx, env.pract.ID, appt.ID))

	slot, err := env.store.GetSlot(ctx, env.slot.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.SlotAvailable, slot.State)
	assert.Nil(t, slot.AppointmentID)

	got, err := env.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.LifecycleCancelled, got.Lifecycle)

	// Cancelling twice violates the pending precondition.
	err = env.svc.CancelAppointment(ctx, env.pract.ID, appt.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestCompleteAppointmentAndReviewWindow(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	appt, err := env.svc.Book(ctx, env.slot.ID, patientInput())
	require.NoError(t, err)

	detail, err := env.svc.AppointmentDetail(ctx, appt.ID)
	require.NoError(t, err)
	assert.False(t, detail.CanReview, "pending appointments cannot be reviewed")

	updated, err := env.svc.CompleteAppointment(ctx, env.pract.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.LifecycleCompleted, updated.Lifecycle)

	detail, err = env.svc.AppointmentDetail(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, detail.CanReview)

	env.store.AddReview(appt.ID)
	detail, err = env.svc.AppointmentDetail(ctx, appt.ID)
	require.NoError(t, err)
	assert.False(t, detail.CanReview, "one review per appointment")
}

func TestListAvailableSlotsFiltersAndSorts(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	later := booking.Slot{
		ID:             uuid.New(),
		PractitionerID: env.pract.ID,
		StartAt:        env.now.Add(96 * time.Hour),
		EndAt:          env.now.Add(97 * time.Hour),
		State:          booking.SlotAvailable,
	}
	past := booking.Slot{
		ID:             uuid.New(),
		PractitionerID: env.pract.ID,
		StartAt:        env.now.Add(-2 * time.Hour),
		EndAt:          env.now.Add(-time.Hour),
		State:          booking.SlotAvailable,
	}
	env.store.AddSlot(later)
	env.store.AddSlot(past)

	slots, err := env.svc.ListAvailableSlots(ctx, env.pract.ID)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, env.slot.ID, slots[0].ID)
	assert.Equal(t, later.ID, slots[1].ID)
}

func TestAppointmentsByRUT(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	appt, err := env.svc.Book(ctx, env.slot.ID, patientInput())
	require.NoError(t, err)

	patient, appts, err := env.svc.AppointmentsByRUT(ctx, "12.345.678-5")
	require.NoError(t, err)
	assert.Equal(t, appt.PatientID, patient.ID)
	require.Len(t, appts, 1)
	assert.Equal(t, appt.ID, appts[0].ID)

	_, _, err = env.svc.AppointmentsByRUT(ctx, "1.000.005-K")
	assert.ErrorIs(t, err, booking.ErrPatientNotFound)
}
