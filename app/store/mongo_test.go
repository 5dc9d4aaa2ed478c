package store

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"example/mockup-billing/app/models"
	"example/mockup-billing/app/reconcile"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	_ reconcile.Store  = (*Store)(nil)
	_ reconcile.Ledger = (*Store)(nil)
)

// newTestStore connects to MONGODB_TEST_URI and uses a throwaway database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := "billing_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	s, err := Connect(ctx, uri, dbName, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureIndexes(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.db.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func insertUser(t *testing.T, s *Store, u *models.User) {
	t.Helper()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	_, err := s.users.InsertOne(context.Background(), u)
	require.NoError(t, err)
}

func TestFindUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &models.User{
		Email:                "Mixed.Case@Example.com",
		StripeCustomerID:     strPtr("cus_1"),
		StripeSubscriptionID: strPtr("sub_1"),
	}
	insertUser(t, s, u)

	got, err := s.FindUserByEmail(ctx, "mixed.case@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.FindUserByStripeCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.FindUserByStripeSubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.FindUserByID(ctx, u.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Mixed.Case@Example.com", got.Email)

	_, err = s.FindUserByID(ctx, "not-an-object-id")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGrantCreditsIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &models.User{Email: "a@example.com", TotalCreditsEarned: 10}
	insertUser(t, s, u)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.GrantCredits(ctx, u.ID, 5, ""))
		}()
	}
	wg.Wait()

	require.NoError(t, s.GrantCredits(ctx, u.ID, 50, "cus_fixed"))
	got, err := s.FindUserByID(ctx, u.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 110, got.TotalCreditsEarned)
	assert.Equal(t, "cus_fixed", got.CustomerID())

	assert.ErrorIs(t, s.GrantCredits(ctx, primitive.NewObjectID(), 5, ""), models.ErrNotFound)
}

func TestActivateSubscriptionOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &models.User{Email: "b@example.com", StripeCustomerID: strPtr("cus_keep"), CreditsUsed: 80, TotalCreditsEarned: 7}
	insertUser(t, s, u)

	end := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	grant := models.SubscriptionGrant{Tier: models.TierPro, SubscriptionID: "sub_9", EndDate: end, MonthlyCredits: 500, ResetDate: end}
	require.NoError(t, s.ActivateSubscription(ctx, u.ID, grant))
	require.NoError(t, s.ActivateSubscription(ctx, u.ID, grant))

	got, err := s.FindUserByID(ctx, u.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.SubscriptionStatus)
	assert.Equal(t, models.TierPro, got.SubscriptionTier)
	assert.Equal(t, 500, got.MonthlyCredits)
	assert.Equal(t, 0, got.CreditsUsed)
	assert.Equal(t, 7, got.TotalCreditsEarned)
	assert.Equal(t, "cus_keep", got.CustomerID())
	assert.True(t, got.CreditsResetDate.Equal(end))
}

func TestEventLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.ClaimEvent(ctx, models.ProviderStripe, "evt_1", "checkout.session.completed")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimEvent(ctx, models.ProviderStripe, "evt_1", "checkout.session.completed")
	require.NoError(t, err)
	assert.False(t, ok, "fresh claim is held")

	require.NoError(t, s.ReleaseEvent(ctx, models.ProviderStripe, "evt_1"))
	ok, err = s.ClaimEvent(ctx, models.ProviderStripe, "evt_1", "checkout.session.completed")
	require.NoError(t, err)
	assert.True(t, ok, "released claim can be taken again")

	require.NoError(t, s.CompleteEvent(ctx, models.ProviderStripe, "evt_1"))
	require.NoError(t, s.ReleaseEvent(ctx, models.ProviderStripe, "evt_1"))
	ev, err := s.FindEvent(ctx, models.ProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.EventCompleted, ev.State)

	ok, err = s.ClaimEvent(ctx, models.ProviderStripe, "evt_1", "checkout.session.completed")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ClaimEvent(ctx, models.ProviderAbacatePay, "evt_1", "billing.paid")
	require.NoError(t, err)
	assert.True(t, ok, "keys are per provider")
}

func TestStaleClaimIsTakenOver(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }

	ok, err := s.ClaimEvent(ctx, models.ProviderAbacatePay, "bill_1", "billing.paid")
	require.NoError(t, err)
	require.True(t, ok)

	s.now = func() time.Time { return start.Add(staleClaimAfter + time.Minute) }
	ok, err = s.ClaimEvent(ctx, models.ProviderAbacatePay, "bill_1", "billing.paid")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPendingAndMismatchQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i, resolved := range []bool{false, true, false} {
		require.NoError(t, s.InsertPendingPayment(ctx, &models.PendingPayment{
			Provider:  models.ProviderStripe,
			SessionID: "cs_" + string(rune('a'+i)),
			Amount:    5000,
			Credits:   50,
			Currency:  "brl",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Resolved:  resolved,
		}))
	}
	open, err := s.ListPendingPayments(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "cs_c", open[0].SessionID)
	assert.Nil(t, open[0].Email)

	require.NoError(t, s.InsertEmailMismatch(ctx, &models.EmailMismatch{UserID: "u1", AccountEmail: "a@x.com", PaymentEmail: "b@x.com", SessionID: "cs_a", CreatedAt: base}))
	mm, err := s.ListEmailMismatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, mm, 1)
	assert.Equal(t, "b@x.com", mm[0].PaymentEmail)
}

func TestFindPaymentByBillID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.payments.InsertOne(ctx, models.Payment{ID: primitive.NewObjectID(), BillID: "bill_1", UserID: "u1", Credits: 100, Amount: 9000, Currency: "brl"})
	require.NoError(t, err)

	p, err := s.FindPaymentByBillID(ctx, "bill_1")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Credits)

	_, err = s.FindPaymentByBillID(ctx, "bill_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func strPtr(s string) *string { return &s }
