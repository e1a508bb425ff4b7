package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbConn is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pool *pgxpool.Pool // nil when transaction-scoped
	conn dbConn
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, conn: pool}
}

// NewPgStoreWithConn allows injecting a mocked connection for tests.
func NewPgStoreWithConn(conn dbConn) *PgStore {
	return &PgStore{conn: conn}
}

func (s *PgStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		// Already transaction-scoped; nested units join the outer one.
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgStore{conn: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Scan helpers

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(
		&p.ID,
		&p.AuthUID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Specialty,
		&p.Verification,
		&p.ConsultationPrice,
		&p.HomeVisits,
		&p.OfficeVisits,
		&p.OfficeAddress,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.PractitionerID,
		&s.StartAt,
		&s.EndAt,
		&s.State,
		&s.PatientID,
		&s.AppointmentID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.RUT,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.BirthDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.ScheduledAt,
		&a.Lifecycle,
		&a.PaymentStatus,
		&a.Note,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.PractitionerID,
		&p.PatientID,
		&p.BuyOrder,
		&p.SessionID,
		&p.Token,
		&p.Amount,
		&p.State,
		&p.RawPayload,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSubscriptionPayment(row pgx.Row) (*SubscriptionPayment, error) {
	var p SubscriptionPayment
	err := row.Scan(
		&p.ID,
		&p.PractitionerID,
		&p.BuyOrder,
		&p.Token,
		&p.Amount,
		&p.State,
		&p.RawPayload,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Practitioners

const practitionerColumns = `id, auth_uid, first_name, last_name, email, specialty, verification,
		consultation_price, home_visits, office_visits, office_address, created_at, updated_at`

func (s *PgStore) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (s *PgStore) GetPractitionerByAuthUID(ctx context.Context, authUID string) (*Practitioner, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE auth_uid = $1
	`, authUID)
	return scanPractitioner(row)
}

// Slots

const slotColumns = `id, practitioner_id, start_at, end_at, state, patient_id, appointment_id, created_at, updated_at`

func (s *PgStore) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (s *PgStore) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (s *PgStore) LockSlotByPractitionerStart(ctx context.Context, practitionerID uuid.UUID, startAt time.Time) (*Slot, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE practitioner_id = $1 AND start_at = $2
		FOR UPDATE
	`, practitionerID, startAt)
	return scanSlot(row)
}

func (s *PgStore) HasOverlap(ctx context.Context, practitionerID uuid.UUID, startAt, endAt time.Time, excludeSlotID *uuid.UUID) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM slots
			WHERE practitioner_id = $1
			  AND state IN ('available', 'reserved', 'blocked')
			  AND start_at < $3
			  AND end_at > $2
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`, practitionerID, startAt, endAt, excludeSlotID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PgStore) CreateSlot(ctx context.Context, slot *Slot) error {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO slots (id, practitioner_id, start_at, end_at, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+slotColumns+`
	`, slot.ID, slot.PractitionerID, slot.StartAt, slot.EndAt, slot.State)

	created, err := scanSlot(row)
	if err != nil {
		// The slots_no_overlap exclusion constraint catches intervals
		// that raced past the application-level overlap check.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return ErrSlotOverlap
		}
		return err
	}
	*slot = *created
	return nil
}

func (s *PgStore) ReserveSlot(ctx context.Context, slotID, patientID, appointmentID uuid.UUID) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE slots
		SET state = 'reserved',
		    patient_id = $2,
		    appointment_id = $3,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'available'
	`, slotID, patientID, appointmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotAvailable
	}
	return nil
}

func (s *PgStore) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE slots
		SET state = 'available',
		    patient_id = NULL,
		    appointment_id = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'reserved'
	`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PgStore) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1
		  AND state <> 'reserved'
	`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetSlot(ctx, slotID); getErr != nil {
			return getErr
		}
		return ErrSlotReserved
	}
	return nil
}

func (s *PgStore) ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, from time.Time) ([]Slot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE practitioner_id = $1
		  AND state = 'available'
		  AND start_at >= $2
		ORDER BY start_at ASC
	`, practitionerID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (s *PgStore) ListSlotsByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]Slot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE practitioner_id = $1
		ORDER BY start_at ASC
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	var result []Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Patients

const patientColumns = `id, rut, first_name, last_name, email, phone, birth_date, created_at, updated_at`

func (s *PgStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (s *PgStore) GetPatientByRUT(ctx context.Context, rut string) (*Patient, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE rut = $1
	`, rut)
	return scanPatient(row)
}

func (s *PgStore) UpsertPatient(ctx context.Context, in PatientInput) (*Patient, error) {
	// Enrichment is fill-blanks-only: an existing populated field always
	// wins over the incoming value.
	row := s.conn.QueryRow(ctx, `
		INSERT INTO patients (id, rut, first_name, last_name, email, phone, birth_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, now(), now())
		ON CONFLICT (rut) DO UPDATE SET
			first_name = COALESCE(NULLIF(patients.first_name, ''), EXCLUDED.first_name),
			last_name  = COALESCE(NULLIF(patients.last_name, ''), EXCLUDED.last_name),
			email      = COALESCE(NULLIF(patients.email, ''), EXCLUDED.email),
			phone      = COALESCE(patients.phone, EXCLUDED.phone),
			birth_date = COALESCE(patients.birth_date, EXCLUDED.birth_date),
			updated_at = now()
		RETURNING `+patientColumns+`
	`, uuid.New(), in.RUT, in.FirstName, in.LastName, in.Email, in.Phone, in.BirthDate)
	return scanPatient(row)
}

// Appointments

const appointmentColumns = `id, patient_id, practitioner_id, scheduled_at, lifecycle, payment_status, note, created_at, updated_at`

func (s *PgStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, practitioner_id, scheduled_at, lifecycle, payment_status, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.PractitionerID, a.ScheduledAt, a.Lifecycle, a.PaymentStatus, a.Note)

	created, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*a = *created
	return nil
}

func (s *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) SetAppointmentLifecycle(ctx context.Context, id uuid.UUID, from, to Lifecycle) (*Appointment, error) {
	row := s.conn.QueryRow(ctx, `
		UPDATE appointments
		SET lifecycle = $2,
		    updated_at = now()
		WHERE id = $1
		  AND lifecycle = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Distinguish a missing row from a lost CAS.
		if _, getErr := s.GetAppointment(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return appt, err
}

func (s *PgStore) SetAppointmentOutcome(ctx context.Context, id uuid.UUID, lifecycle Lifecycle, payment PaymentStatus) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE appointments
		SET lifecycle = $2,
		    payment_status = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, lifecycle, payment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *PgStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Appointment payments

const paymentColumns = `id, appointment_id, practitioner_id, patient_id, buy_order, session_id, token,
		amount, state, raw_payload, paid_at, created_at, updated_at`

func (s *PgStore) CreatePayment(ctx context.Context, p *Payment) error {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO appointment_payments
			(id, appointment_id, practitioner_id, patient_id, buy_order, session_id, amount, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+paymentColumns+`
	`, p.ID, p.AppointmentID, p.PractitionerID, p.PatientID, p.BuyOrder, p.SessionID, p.Amount, p.State)

	created, err := scanPayment(row)
	if err != nil {
		return err
	}
	*p = *created
	return nil
}

func (s *PgStore) SetPaymentToken(ctx context.Context, id uuid.UUID, token string) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE appointment_payments
		SET token = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *PgStore) GetPaymentByBuyOrder(ctx context.Context, buyOrder string) (*Payment, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM appointment_payments
		WHERE buy_order = $1
	`, buyOrder)
	return scanPayment(row)
}

func (s *PgStore) LockPaymentByBuyOrder(ctx context.Context, buyOrder string) (*Payment, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM appointment_payments
		WHERE buy_order = $1
		FOR UPDATE
	`, buyOrder)
	return scanPayment(row)
}

func (s *PgStore) MarkPaymentPaid(ctx context.Context, id uuid.UUID, raw []byte, paidAt time.Time) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE appointment_payments
		SET state = 'paid',
		    raw_payload = $2,
		    paid_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'pending'
	`, id, raw, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PgStore) MarkPaymentFailed(ctx context.Context, id uuid.UUID, raw []byte) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE appointment_payments
		SET state = 'failed',
		    raw_payload = $2,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'pending'
	`, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PgStore) FindStalePendingPayments(ctx context.Context, olderThan time.Time) ([]Payment, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM appointment_payments
		WHERE state = 'pending'
		  AND created_at < $1
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Subscription payments

const subscriptionColumns = `id, practitioner_id, buy_order, token, amount, state, raw_payload, expires_at, created_at, updated_at`

func (s *PgStore) CreateSubscriptionPayment(ctx context.Context, p *SubscriptionPayment) error {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO subscription_payments (id, practitioner_id, buy_order, amount, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+subscriptionColumns+`
	`, p.ID, p.PractitionerID, p.BuyOrder, p.Amount, p.State)

	created, err := scanSubscriptionPayment(row)
	if err != nil {
		return err
	}
	*p = *created
	return nil
}

func (s *PgStore) SetSubscriptionPaymentToken(ctx context.Context, id uuid.UUID, token string) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE subscription_payments
		SET token = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *PgStore) LockSubscriptionPaymentByBuyOrder(ctx context.Context, buyOrder string) (*SubscriptionPayment, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscription_payments
		WHERE buy_order = $1
		FOR UPDATE
	`, buyOrder)
	return scanSubscriptionPayment(row)
}

func (s *PgStore) MarkSubscriptionPaymentPaid(ctx context.Context, id uuid.UUID, raw []byte, expiresAt time.Time) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE subscription_payments
		SET state = 'paid',
		    raw_payload = $2,
		    expires_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'pending'
	`, id, raw, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PgStore) MarkSubscriptionPaymentFailed(ctx context.Context, id uuid.UUID, raw []byte) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE subscription_payments
		SET state = 'failed',
		    raw_payload = $2,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'pending'
	`, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PgStore) LatestPaidSubscription(ctx context.Context, practitionerID uuid.UUID) (*SubscriptionPayment, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscription_payments
		WHERE practitioner_id = $1
		  AND state = 'paid'
		ORDER BY created_at DESC
		LIMIT 1
	`, practitionerID)
	return scanSubscriptionPayment(row)
}

// Reviews

func (s *PgStore) HasReviewForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM reviews WHERE appointment_id = $1)
	`, appointmentID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Events

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, buy_order, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.BuyOrder, ev.Payload, nullableTime(ev.CreatedAt))
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
