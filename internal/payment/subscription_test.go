package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/booking/bookingtest"
)

type subscriptionEnv struct {
	store   *bookingtest.MemStore
	gateway *fakeGateway
	rec     *SubscriptionReconciler
	pract   booking.Practitioner
	now     time.Time
}

func newSubscriptionEnv(t *testing.T) *subscriptionEnv {
	t.Helper()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	store := bookingtest.NewMemStore()
	pract := booking.Practitioner{
		ID:           uuid.New(),
		FirstName:    "Laura",
		LastName:     "Mena",
		Verification: booking.VerificationApproved,
	}
	store.AddPractitioner(pract)

	gateway := newFakeGateway()
	rec := NewSubscriptionReconciler(store, gateway, newLocalLocker(), nil, zap.NewNop(), "https://app.test/sub/return")
	rec.WithClock(func() time.Time { return now })

	return &subscriptionEnv{store: store, gateway: gateway, rec: rec, pract: pract, now: now}
}

func TestSubscriptionInitiateRequiresApproval(t *testing.T) {
	env := newSubscriptionEnv(t)
	ctx := context.Background()

	pending := booking.Practitioner{ID: uuid.New(), Verification: booking.VerificationPending}
	env.store.AddPractitioner(pending)

	_, err := env.rec.Initiate(ctx, pending.ID, 4990)
	assert.ErrorIs(t, err, booking.ErrNotApproved)

	_, err = env.rec.Initiate(ctx, env.pract.ID, 0)
	assert.ErrorIs(t, err, booking.ErrInvalidAmount)

	res, err := env.rec.Initiate(ctx, env.pract.ID, 4990)
	require.NoError(t, err)
	assert.Contains(t, res.BuyOrder, BuyOrderPrefixSubscription)
	assert.Len(t, res.BuyOrder, 26)
}

func TestSubscriptionReconcileActivatesOneMonth(t *testing.T) {
	env := newSubscriptionEnv(t)
	ctx := context.Background()

	res, err := env.rec.Initiate(ctx, env.pract.ID, 4990)
	require.NoError(t, err)

	active, err := env.rec.Status(ctx, env.pract.ID)
	require.NoError(t, err)
	assert.False(t, active.Active)

	verdict, err := env.rec.Reconcile(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthorized, verdict.Outcome)

	status, err := env.rec.Status(ctx, env.pract.ID)
	require.NoError(t, err)
	assert.True(t, status.Active)
	require.NotNil(t, status.ExpiresAt)
	assert.Equal(t, env.now.AddDate(0, 1, 0), *status.ExpiresAt)

	// Replay settles nothing new.
	again, err := env.rec.Reconcile(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyFinal, again.Outcome)
}

func TestSubscriptionRenewalDoesNotStack(t *testing.T) {
	env := newSubscriptionEnv(t)
	ctx := context.Background()

	first, err := env.rec.Initiate(ctx, env.pract.ID, 4990)
	require.NoError(t, err)
	_, err = env.rec.Reconcile(ctx, first.Token)
	require.NoError(t, err)

	// Renew ten days in, with three weeks still left on the clock.
	renewAt := env.now.AddDate(0, 0, 10)
	env.rec.WithClock(func() time.Time { return renewAt })

	second, err := env.rec.Initiate(ctx, env.pract.ID, 4990)
	require.NoError(t, err)
	_, err = env.rec.Reconcile(ctx, second.Token)
	require.NoError(t, err)

	status, err := env.rec.Status(ctx, env.pract.ID)
	require.NoError(t, err)
	require.NotNil(t, status.ExpiresAt)
	assert.Equal(t, renewAt.AddDate(0, 1, 0), *status.ExpiresAt, "remaining time must not carry over")
}

func TestSubscriptionDeclinedStaysInactive(t *testing.T) {
	env := newSubscriptionEnv(t)
	env.gateway.status = "FAILED"
	env.gateway.respCode = -1
	ctx := context.Background()

	res, err := env.rec.Initiate(ctx, env.pract.ID, 4990)
	require.NoError(t, err)

	verdict, err := env.rec.Reconcile(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, verdict.Outcome)

	status, err := env.rec.Status(ctx, env.pract.ID)
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Nil(t, status.ExpiresAt)
}

func TestSubscriptionAbandon(t *testing.T) {
	env := newSubscriptionEnv(t)
	ctx := context.Background()

	res, err := env.rec.Initiate(ctx, env.pract.ID, 4990)
	require.NoError(t, err)

	require.NoError(t, env.rec.Abandon(ctx, res.BuyOrder))
	require.NoError(t, env.rec.Abandon(ctx, res.BuyOrder)) // replay is a no-op

	status, err := env.rec.Status(ctx, env.pract.ID)
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Equal(t, 0, env.gateway.commits)
}

func TestSubscriptionStatusExpired(t *testing.T) {
	env := newSubscriptionEnv(t)
	ctx := context.Background()

	res, err := env.rec.Initiate(ctx, env.pract.ID, 4990)
	require.NoError(t, err)
	_, err = env.rec.Reconcile(ctx, res.Token)
	require.NoError(t, err)

	env.rec.WithClock(func() time.Time { return env.now.AddDate(0, 2, 0) })

	status, err := env.rec.Status(ctx, env.pract.ID)
	require.NoError(t, err)
	assert.False(t, status.Active)
	require.NotNil(t, status.ExpiresAt)
}
