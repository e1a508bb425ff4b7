package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStoreWithConn(mock), mock
}

func slotRow(id, practitionerID uuid.UUID, start, end time.Time, state SlotState) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "practitioner_id", "start_at", "end_at", "state",
		"patient_id", "appointment_id", "created_at", "updated_at",
	}).AddRow(id, practitionerID, start, end, state, nil, nil, start, start)
}

func TestReserveSlotCompareAndSet(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	slotID, patientID, apptID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE slots").
		WithArgs(slotID, patientID, apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.ReserveSlot(ctx, slotID, patientID, apptID))

	// A concurrent claim already flipped the row away from 'available'.
	mock.ExpectExec("UPDATE slots").
		WithArgs(slotID, patientID, apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.ReserveSlot(ctx, slotID, patientID, apptID), ErrSlotNotAvailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseSlotRequiresReserved(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	slotID := uuid.New()

	mock.ExpectExec("UPDATE slots").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.ReleaseSlot(ctx, slotID), ErrInvalidTransition)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSlotDistinguishesReservedFromMissing(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	slotID := uuid.New()
	pid := uuid.New()
	now := time.Now()

	// Zero rows deleted and the row exists: it must be reserved.
	mock.ExpectExec("DELETE FROM slots").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("FROM slots").
		WithArgs(slotID).
		WillReturnRows(slotRow(slotID, pid, now, now.Add(time.Hour), SlotReserved))
	assert.ErrorIs(t, store.DeleteSlot(ctx, slotID), ErrSlotReserved)

	// Zero rows deleted and no row at all.
	mock.ExpectExec("DELETE FROM slots").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("FROM slots").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "practitioner_id", "start_at", "end_at", "state",
			"patient_id", "appointment_id", "created_at", "updated_at",
		}))
	assert.ErrorIs(t, store.DeleteSlot(ctx, slotID), ErrSlotNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSlotMapsExclusionViolation(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	slot := &Slot{
		ID:             uuid.New(),
		PractitionerID: uuid.New(),
		StartAt:        now.Add(time.Hour),
		EndAt:          now.Add(2 * time.Hour),
		State:          SlotAvailable,
	}

	// An interval that raced past the read-side overlap check trips the
	// slots_no_overlap constraint at insert time.
	mock.ExpectQuery("INSERT INTO slots").
		WithArgs(slot.ID, slot.PractitionerID, slot.StartAt, slot.EndAt, slot.State).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "slots_no_overlap"})

	assert.ErrorIs(t, store.CreateSlot(ctx, slot), ErrSlotOverlap)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasOverlapQuery(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	pid := uuid.New()
	start := time.Now()
	end := start.Add(time.Hour)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(pid, start, end, (*uuid.UUID)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	overlap, err := store.HasOverlap(ctx, pid, start, end, nil)
	require.NoError(t, err)
	assert.True(t, overlap)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaymentPaidIsCompareAndSet(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	id := uuid.New()
	paidAt := time.Now()
	raw := []byte(`{"status":"AUTHORIZED"}`)

	mock.ExpectExec("UPDATE appointment_payments").
		WithArgs(id, raw, paidAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkPaymentPaid(ctx, id, raw, paidAt))

	// Replays find the row already settled.
	mock.ExpectExec("UPDATE appointment_payments").
		WithArgs(id, raw, paidAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.MarkPaymentPaid(ctx, id, raw, paidAt), ErrInvalidTransition)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPaymentByBuyOrderNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM appointment_payments").
		WithArgs("APT-0000000000000000000000").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "appointment_id", "practitioner_id", "patient_id", "buy_order", "session_id",
			"token", "amount", "state", "raw_payload", "paid_at", "created_at", "updated_at",
		}))

	_, err := store.GetPaymentByBuyOrder(ctx, "APT-0000000000000000000000")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockSlotUsesRowLock(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	slotID := uuid.New()
	pid := uuid.New()
	now := time.Now()

	mock.ExpectQuery("FOR UPDATE").
		WithArgs(slotID).
		WillReturnRows(slotRow(slotID, pid, now, now.Add(time.Hour), SlotAvailable))

	slot, err := store.LockSlot(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, slotID, slot.ID)
	assert.Equal(t, SlotAvailable, slot.State)

	assert.NoError(t, mock.ExpectationsWereMet())
}
