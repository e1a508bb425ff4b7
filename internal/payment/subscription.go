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

const (
	EventSubscriptionInitiated = "SUBSCRIPTION_INITIATED"
	EventSubscriptionActivated = "SUBSCRIPTION_ACTIVATED"
	EventSubscriptionDeclined  = "SUBSCRIPTION_DECLINED"
)

// SubscriptionStatus is what the frontend shows a practitioner.
type SubscriptionStatus struct {
	Active    bool
	ExpiresAt *time.Time
}

// SubscriptionReconciler handles the recurring-access orders. Same
// gateway, same guard discipline as appointment orders, but the verdict
// binds an expiry date to the practitioner instead of a slot.
type SubscriptionReconciler struct {
	store     booking.Store
	gateway   Gateway
	locker    redisx.Locker
	metrics   *metrics.EngineMetrics
	log       *zap.Logger
	returnURL string
	now       func() time.Time
}

func NewSubscriptionReconciler(store booking.Store, gateway Gateway, locker redisx.Locker, m *metrics.EngineMetrics, log *zap.Logger, returnURL string) *SubscriptionReconciler {
	return &SubscriptionReconciler{
		store:     store,
		gateway:   gateway,
		locker:    locker,
		metrics:   m,
		log:       log,
		returnURL: returnURL,
		now:       time.Now,
	}
}

func (s *SubscriptionReconciler) WithClock(now func() time.Time) *SubscriptionReconciler {
	s.now = now
	return s
}

// Initiate opens a subscription order for an approved practitioner.
func (s *SubscriptionReconciler) Initiate(ctx context.Context, practitionerID uuid.UUID, amount int64) (*InitiateResult, error) {
	if amount <= 0 {
		return nil, booking.ErrInvalidAmount
	}
	pract, err := s.store.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	if pract.Verification != booking.VerificationApproved {
		return nil, booking.ErrNotApproved
	}

	sub := &booking.SubscriptionPayment{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		BuyOrder:       NewBuyOrder(BuyOrderPrefixSubscription),
		Amount:         amount,
		State:          booking.TxPending,
	}
	if err := s.store.CreateSubscriptionPayment(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription payment: %w", err)
	}

	created, err := s.gateway.CreateTransaction(ctx, sub.BuyOrder, uuid.NewString(), amount, s.returnURL)
	if err != nil {
		s.log.Error("gateway create failed, subscription order left pending",
			zap.String("buy_order", sub.BuyOrder),
			zap.Error(err))
		return nil, err
	}
	if err := s.store.SetSubscriptionPaymentToken(ctx, sub.ID, created.Token); err != nil {
		return nil, fmt.Errorf("persist gateway token: %w", err)
	}

	s.logEvent(ctx, s.store, EventSubscriptionInitiated, &sub.BuyOrder, map[string]any{
		"practitioner_id": practitionerID.String(),
		"amount":          amount,
	})

	return &InitiateResult{
		BuyOrder:    sub.BuyOrder,
		Token:       created.Token,
		RedirectURL: created.URL,
	}, nil
}

// Reconcile settles a subscription order. A paid order grants exactly
// one billing month from the moment of payment; paying early does not
// stack onto the previous period.
func (s *SubscriptionReconciler) Reconcile(ctx context.Context, token string) (*ReconcileResult, error) {
	commit, err := s.gateway.CommitTransaction(ctx, token)
	if err != nil {
		return nil, err
	}
	if commit.BuyOrder == "" {
		return nil, fmt.Errorf("%w: commit response carries no buy order", ErrGateway)
	}

	var result *ReconcileResult
	err = s.locker.WithOrderLock(ctx, commit.BuyOrder, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx booking.Store) error {
			sub, err := tx.LockSubscriptionPaymentByBuyOrder(ctx, commit.BuyOrder)
			if err != nil {
				return err
			}
			if sub.State != booking.TxPending {
				result = &ReconcileResult{Outcome: OutcomeAlreadyFinal, BuyOrder: sub.BuyOrder}
				return nil
			}

			if !commit.Authorized() {
				if err := tx.MarkSubscriptionPaymentFailed(ctx, sub.ID, commit.Raw); err != nil {
					return err
				}
				s.logEvent(ctx, tx, EventSubscriptionDeclined, &sub.BuyOrder, nil)
				result = &ReconcileResult{Outcome: OutcomeDeclined, BuyOrder: sub.BuyOrder}
				return nil
			}

			expiresAt := s.now().AddDate(0, 1, 0)
			if err := tx.MarkSubscriptionPaymentPaid(ctx, sub.ID, commit.Raw, expiresAt); err != nil {
				return err
			}
			s.logEvent(ctx, tx, EventSubscriptionActivated, &sub.BuyOrder, map[string]any{
				"practitioner_id": sub.PractitionerID.String(),
				"expires_at":      expiresAt,
			})
			result = &ReconcileResult{Outcome: OutcomeAuthorized, BuyOrder: sub.BuyOrder}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveReconcile("subscription", string(result.Outcome))
	return result, nil
}

// Abandon settles a subscription order the payer walked away from.
func (s *SubscriptionReconciler) Abandon(ctx context.Context, buyOrder string) error {
	return s.locker.WithOrderLock(ctx, buyOrder, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx booking.Store) error {
			sub, err := tx.LockSubscriptionPaymentByBuyOrder(ctx, buyOrder)
			if err != nil {
				return err
			}
			if sub.State != booking.TxPending {
				return nil
			}
			raw, _ := json.Marshal(map[string]string{"reason": "abandoned"})
			if err := tx.MarkSubscriptionPaymentFailed(ctx, sub.ID, raw); err != nil {
				return err
			}
			s.logEvent(ctx, tx, EventSubscriptionDeclined, &sub.BuyOrder, map[string]any{
				"reason": "abandoned",
			})
			s.metrics.ObserveReconcile("subscription", "abandoned")
			return nil
		})
	})
}

// Status reports whether the practitioner's access is currently active.
func (s *SubscriptionReconciler) Status(ctx context.Context, practitionerID uuid.UUID) (*SubscriptionStatus, error) {
	sub, err := s.store.LatestPaidSubscription(ctx, practitionerID)
	if err != nil {
		if errors.Is(err, booking.ErrPaymentNotFound) {
			return &SubscriptionStatus{Active: false}, nil
		}
		return nil, err
	}
	return &SubscriptionStatus{
		Active:    sub.ExpiresAt != nil && sub.ExpiresAt.After(s.now()),
		ExpiresAt: sub.ExpiresAt,
	}, nil
}

func (s *SubscriptionReconciler) logEvent(ctx context.Context, store booking.Store, eventType string, buyOrder *string, payload map[string]any) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
			data = nil
		}
	}
	ev := booking.EventLog{
		EventType: eventType,
		BuyOrder:  buyOrder,
		Payload:   data,
		CreatedAt: s.now(),
	}
	if err := store.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log", zap.String("event", eventType), zap.Error(err))
	}
}
