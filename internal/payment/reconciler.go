package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/observability/metrics"
	"github.com/kinebook/booking-engine/internal/redisx"
)

// Audit event types written by the reconcilers.
const (
	EventPaymentInitiated = "PAYMENT_INITIATED"
	EventPaymentPaid      = "PAYMENT_PAID"
	EventPaymentDeclined  = "PAYMENT_DECLINED"
	EventPaymentAbandoned = "PAYMENT_ABANDONED"
	EventPaymentExpired   = "PAYMENT_EXPIRED"
	EventIntegrityAnomaly = "INTEGRITY_ANOMALY"
)

// Outcome classifies what a reconcile did with an order.
type Outcome string

const (
	// OutcomeAuthorized: payment captured and the slot is reserved for
	// this appointment.
	OutcomeAuthorized Outcome = "authorized"
	// OutcomeDeclined: the gateway rejected the charge; nothing is held.
	OutcomeDeclined Outcome = "declined"
	// OutcomeAlreadyFinal: a replayed callback found the order already
	// settled. No writes happened.
	OutcomeAlreadyFinal Outcome = "already_final"
	// OutcomeManualRefund: money was captured but the slot was taken by
	// someone else in the meantime. The payment stays paid, the
	// appointment is cancelled, and an operator must refund.
	OutcomeManualRefund Outcome = "requires_manual_refund"
)

// ConfirmationNotifier is the post-commit hook fired after a successful
// reconcile. Implementations must not fail the caller.
type ConfirmationNotifier interface {
	BookingConfirmed(ctx context.Context, appt *booking.Appointment, pract *booking.Practitioner, patient *booking.Patient)
}

// InitiateInput starts a paid reservation attempt.
type InitiateInput struct {
	SlotID  uuid.UUID
	Amount  int64
	Patient booking.PatientInput
}

// InitiateResult carries what the frontend needs to redirect the payer.
type InitiateResult struct {
	AppointmentID uuid.UUID
	BuyOrder      string
	Token         string
	RedirectURL   string
}

// ReconcileResult is the settled verdict for one gateway return.
type ReconcileResult struct {
	Outcome       Outcome
	BuyOrder      string
	AppointmentID uuid.UUID
}

// Reconciler owns the paid reservation path: initiating orders against
// the gateway and applying its verdicts exactly once.
type Reconciler struct {
	store      booking.Store
	gateway    Gateway
	locker     redisx.Locker
	notifier   ConfirmationNotifier
	metrics    *metrics.EngineMetrics
	log        *zap.Logger
	returnURL  string
	paymentTTL time.Duration
	now        func() time.Time
}

func NewReconciler(store booking.Store, gateway Gateway, locker redisx.Locker, notifier ConfirmationNotifier, m *metrics.EngineMetrics, log *zap.Logger, returnURL string, paymentTTL time.Duration) *Reconciler {
	return &Reconciler{
		store:      store,
		gateway:    gateway,
		locker:     locker,
		notifier:   notifier,
		metrics:    m,
		log:        log,
		returnURL:  returnURL,
		paymentTTL: paymentTTL,
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Initiate creates the appointment and payment rows as pending and opens
// the order at the gateway. The slot is NOT reserved here: a pending
// order never holds inventory. If the gateway call fails the local rows
// stay pending for the expiry worker to sweep.
func (r *Reconciler) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	if in.Amount <= 0 {
		return nil, booking.ErrInvalidAmount
	}
	rut, err := booking.NormalizeRUT(in.Patient.RUT)
	if err != nil {
		return nil, err
	}
	in.Patient.RUT = rut

	buyOrder := NewBuyOrder(BuyOrderPrefixAppointment)
	sessionID := uuid.NewString()

	var (
		appt *booking.Appointment
		pay  *booking.Payment
	)
	err = r.store.InTx(ctx, func(tx booking.Store) error {
		// Plain read, no row lock: a pending order holds no inventory,
		// so availability here is advisory. The locked check happens at
		// reconcile time, after the gateway verdict.
		slot, err := tx.GetSlot(ctx, in.SlotID)
		if err != nil {
			return err
		}
		if slot.State != booking.SlotAvailable {
			return booking.ErrSlotNotAvailable
		}
		if !slot.StartAt.After(r.now()) {
			return booking.ErrSlotInPast
		}

		patient, err := tx.UpsertPatient(ctx, in.Patient)
		if err != nil {
			return fmt.Errorf("upsert patient: %w", err)
		}

		appt = &booking.Appointment{
			ID:             uuid.New(),
			PatientID:      patient.ID,
			PractitionerID: slot.PractitionerID,
			ScheduledAt:    slot.StartAt,
			Lifecycle:      booking.LifecyclePending,
			PaymentStatus:  booking.PaymentPending,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		pay = &booking.Payment{
			ID:             uuid.New(),
			AppointmentID:  appt.ID,
			PractitionerID: slot.PractitionerID,
			PatientID:      patient.ID,
			BuyOrder:       buyOrder,
			SessionID:      sessionID,
			Amount:         in.Amount,
			State:          booking.TxPending,
		}
		if err := tx.CreatePayment(ctx, pay); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := r.gateway.CreateTransaction(ctx, buyOrder, sessionID, in.Amount, r.returnURL)
	if err != nil {
		r.log.Error("gateway create failed, order left pending",
			zap.String("buy_order", buyOrder),
			zap.Error(err))
		return nil, err
	}

	if err := r.store.SetPaymentToken(ctx, pay.ID, created.Token); err != nil {
		return nil, fmt.Errorf("persist gateway token: %w", err)
	}

	r.logEvent(ctx, r.store, EventPaymentInitiated, &appt.ID, &buyOrder, map[string]any{
		"amount":  in.Amount,
		"slot_id": in.SlotID.String(),
	})

	return &InitiateResult{
		AppointmentID: appt.ID,
		BuyOrder:      buyOrder,
		Token:         created.Token,
		RedirectURL:   created.URL,
	}, nil
}

// Reconcile commits the token at the gateway and applies the verdict.
// The payment row is located by buy order, never by token: tokens are
// per-attempt and attacker-suppliable, the buy order is ours.
//
// Replays are safe twice over: a redis guard serializes concurrent
// handlers per order, and a terminal-state check under the row lock
// makes later replays write-free.
func (r *Reconciler) Reconcile(ctx context.Context, token string) (*ReconcileResult, error) {
	commit, err := r.gateway.CommitTransaction(ctx, token)
	if err != nil {
		return nil, err
	}
	if commit.BuyOrder == "" {
		return nil, fmt.Errorf("%w: commit response carries no buy order", ErrGateway)
	}

	var result *ReconcileResult
	err = r.locker.WithOrderLock(ctx, commit.BuyOrder, func(ctx context.Context) error {
		var err error
		result, err = r.applyVerdict(ctx, commit)
		return err
	})
	if err != nil {
		if errors.Is(err, booking.ErrPaymentNotFound) {
			// The gateway settled an order we never created.
			r.metrics.ObserveAnomaly()
			r.logEvent(ctx, r.store, EventIntegrityAnomaly, nil, &commit.BuyOrder, map[string]any{
				"reason": "unknown_buy_order",
			})
		}
		return nil, err
	}

	if result.Outcome == OutcomeAuthorized {
		r.notifyConfirmed(ctx, result.AppointmentID)
	}
	r.metrics.ObserveReconcile("appointment", string(result.Outcome))
	return result, nil
}

func (r *Reconciler) applyVerdict(ctx context.Context, commit *CommitResult) (*ReconcileResult, error) {
	var result *ReconcileResult

	err := r.store.InTx(ctx, func(tx booking.Store) error {
		pay, err := tx.LockPaymentByBuyOrder(ctx, commit.BuyOrder)
		if err != nil {
			return err
		}
		if pay.State != booking.TxPending {
			result = &ReconcileResult{
				Outcome:       OutcomeAlreadyFinal,
				BuyOrder:      pay.BuyOrder,
				AppointmentID: pay.AppointmentID,
			}
			return nil
		}

		if !commit.Authorized() {
			result, err = r.applyDeclined(ctx, tx, pay, commit.Raw)
			return err
		}
		result, err = r.applyAuthorized(ctx, tx, pay, commit.Raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Reconciler) applyAuthorized(ctx context.Context, tx booking.Store, pay *booking.Payment, raw []byte) (*ReconcileResult, error) {
	// Money first. Once the gateway says captured, the payment row is
	// paid no matter what the slot looks like.
	if err := tx.MarkPaymentPaid(ctx, pay.ID, raw, r.now()); err != nil {
		return nil, err
	}

	appt, err := tx.GetAppointment(ctx, pay.AppointmentID)
	if err != nil {
		return nil, err
	}

	slot, err := tx.LockSlotByPractitionerStart(ctx, pay.PractitionerID, appt.ScheduledAt)
	if err != nil && !errors.Is(err, booking.ErrSlotNotFound) {
		return nil, err
	}

	switch {
	case slot != nil && slot.State == booking.SlotAvailable:
		if err := tx.ReserveSlot(ctx, slot.ID, pay.PatientID, pay.AppointmentID); err != nil {
			return nil, err
		}
	case slot != nil && slot.State == booking.SlotReserved &&
		slot.AppointmentID != nil && *slot.AppointmentID == pay.AppointmentID:
		// Already ours: a prior attempt got this far. Nothing to do.
	default:
		// Slot gone, blocked, or reserved by someone else. Keep the
		// payment paid, cancel the appointment, flag for manual refund.
		if err := tx.SetAppointmentOutcome(ctx, pay.AppointmentID, booking.LifecycleCancelled, booking.PaymentPaid); err != nil {
			return nil, err
		}
		r.metrics.ObserveAnomaly()
		r.logEvent(ctx, tx, EventIntegrityAnomaly, &pay.AppointmentID, &pay.BuyOrder, map[string]any{
			"reason": "slot_conflict_after_capture",
		})
		return &ReconcileResult{
			Outcome:       OutcomeManualRefund,
			BuyOrder:      pay.BuyOrder,
			AppointmentID: pay.AppointmentID,
		}, nil
	}

	if err := tx.SetAppointmentOutcome(ctx, pay.AppointmentID, booking.LifecyclePending, booking.PaymentPaid); err != nil {
		return nil, err
	}
	r.logEvent(ctx, tx, EventPaymentPaid, &pay.AppointmentID, &pay.BuyOrder, map[string]any{
		"amount": pay.Amount,
	})
	return &ReconcileResult{
		Outcome:       OutcomeAuthorized,
		BuyOrder:      pay.BuyOrder,
		AppointmentID: pay.AppointmentID,
	}, nil
}

func (r *Reconciler) applyDeclined(ctx context.Context, tx booking.Store, pay *booking.Payment, raw []byte) (*ReconcileResult, error) {
	if err := r.failPending(ctx, tx, pay, raw); err != nil {
		return nil, err
	}
	r.logEvent(ctx, tx, EventPaymentDeclined, &pay.AppointmentID, &pay.BuyOrder, nil)
	return &ReconcileResult{
		Outcome:       OutcomeDeclined,
		BuyOrder:      pay.BuyOrder,
		AppointmentID: pay.AppointmentID,
	}, nil
}

// failPending settles a still-pending order as failed: payment failed,
// appointment cancelled, and the slot released if this appointment
// somehow holds it.
func (r *Reconciler) failPending(ctx context.Context, tx booking.Store, pay *booking.Payment, raw []byte) error {
	if err := tx.MarkPaymentFailed(ctx, pay.ID, raw); err != nil {
		return err
	}
	if err := tx.SetAppointmentOutcome(ctx, pay.AppointmentID, booking.LifecycleCancelled, booking.PaymentFailed); err != nil {
		return err
	}

	appt, err := tx.GetAppointment(ctx, pay.AppointmentID)
	if err != nil {
		return err
	}
	slot, err := tx.LockSlotByPractitionerStart(ctx, pay.PractitionerID, appt.ScheduledAt)
	if err != nil {
		if errors.Is(err, booking.ErrSlotNotFound) {
			return nil
		}
		return err
	}
	if slot.State == booking.SlotReserved && slot.AppointmentID != nil && *slot.AppointmentID == pay.AppointmentID {
		return tx.ReleaseSlot(ctx, slot.ID)
	}
	return nil
}

// Abandon settles an order the payer walked away from. The gateway
// reports these with the order id, so no commit round-trip happens and
// nothing is guessed: an abandonment without its buy order is rejected.
func (r *Reconciler) Abandon(ctx context.Context, buyOrder string) error {
	return r.locker.WithOrderLock(ctx, buyOrder, func(ctx context.Context) error {
		return r.store.InTx(ctx, func(tx booking.Store) error {
			pay, err := tx.LockPaymentByBuyOrder(ctx, buyOrder)
			if err != nil {
				return err
			}
			if pay.State != booking.TxPending {
				return nil // replayed abandonment, already settled
			}

			raw, _ := json.Marshal(map[string]string{"reason": "abandoned"})
			if err := r.failPending(ctx, tx, pay, raw); err != nil {
				return err
			}
			r.logEvent(ctx, tx, EventPaymentAbandoned, &pay.AppointmentID, &pay.BuyOrder, nil)
			r.metrics.ObserveReconcile("appointment", "abandoned")
			return nil
		})
	})
}

// ExpireStalePending sweeps orders whose payer never came back. Each
// order settles in its own transaction so one poisoned row cannot stall
// the sweep.
func (r *Reconciler) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.paymentTTL)
	stale, err := r.store.FindStalePendingPayments(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale payments: %w", err)
	}

	expired := 0
	for _, candidate := range stale {
		err := r.store.InTx(ctx, func(tx booking.Store) error {
			pay, err := tx.LockPaymentByBuyOrder(ctx, candidate.BuyOrder)
			if err != nil {
				return err
			}
			if pay.State != booking.TxPending {
				return nil // settled between the scan and the lock
			}
			raw, _ := json.Marshal(map[string]string{"reason": "expired"})
			if err := r.failPending(ctx, tx, pay, raw); err != nil {
				return err
			}
			r.logEvent(ctx, tx, EventPaymentExpired, &pay.AppointmentID, &pay.BuyOrder, nil)
			expired++
			return nil
		})
		if err != nil {
			r.log.Error("expire stale payment",
				zap.String("buy_order", candidate.BuyOrder),
				zap.Error(err))
		}
	}
	return expired, nil
}

func (r *Reconciler) notifyConfirmed(ctx context.Context, appointmentID uuid.UUID) {
	if r.notifier == nil {
		return
	}
	appt, err := r.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		r.log.Warn("load appointment for confirmation", zap.Error(err))
		return
	}
	pract, err := r.store.GetPractitioner(ctx, appt.PractitionerID)
	if err != nil {
		r.log.Warn("load practitioner for confirmation", zap.Error(err))
		return
	}
	patient, err := r.store.GetPatient(ctx, appt.PatientID)
	if err != nil {
		r.log.Warn("load patient for confirmation", zap.Error(err))
		return
	}
	r.notifier.BookingConfirmed(ctx, appt, pract, patient)
}

func (r *Reconciler) logEvent(ctx context.Context, store booking.Store, eventType string, appointmentID *uuid.UUID, buyOrder *string, payload map[string]any) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			r.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
			data = nil
		}
	}
	ev := booking.EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		BuyOrder:      buyOrder,
		Payload:       data,
		CreatedAt:     r.now(),
	}
	if err := store.InsertEvent(ctx, ev); err != nil {
		r.log.Warn("insert event log", zap.String("event", eventType), zap.Error(err))
	}
}
