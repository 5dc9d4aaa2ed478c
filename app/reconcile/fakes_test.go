package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"example/mockup-billing/app/lookup"
	"example/mockup-billing/app/models"
	"example/mockup-billing/app/pricing"

	"github.com/stripe/stripe-go/v79"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeStore is an in-memory Store and Ledger.
type fakeStore struct {
	mu         sync.Mutex
	users      map[primitive.ObjectID]*models.User
	payments   map[string]*models.Payment
	pending    []models.PendingPayment
	mismatches []models.EmailMismatch
	events     map[string]models.EventState
	writes     int

	findErr error
}

func newFakeStore(users ...*models.User) *fakeStore {
	s := &fakeStore{
		users:    make(map[primitive.ObjectID]*models.User),
		payments: make(map[string]*models.Payment),
		events:   make(map[string]models.EventState),
	}
	for _, u := range users {
		if u.ID.IsZero() {
			u.ID = primitive.NewObjectID()
		}
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) addUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	s.users[u.ID] = u
}

func (s *fakeStore) user(id primitive.ObjectID) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *fakeStore) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *fakeStore) FindUserByID(_ context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, models.ErrNotFound
	}
	return s.find(func(u *models.User) bool { return u.ID == oid })
}

func (s *fakeStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (s *fakeStore) FindUserByStripeCustomerID(_ context.Context, id string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.CustomerID() == id })
}

func (s *fakeStore) FindUserByStripeSubscriptionID(_ context.Context, id string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.StripeSubscriptionID != nil && *u.StripeSubscriptionID == id })
}

func (s *fakeStore) SampleUsers(_ context.Context, n int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if len(out) == n {
			break
		}
		out = append(out, *u)
	}
	return out, nil
}

func (s *fakeStore) ActivateSubscription(_ context.Context, id primitive.ObjectID, g models.SubscriptionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	s.writes++
	subID, custID := g.SubscriptionID, g.CustomerID
	end, reset := g.EndDate, g.ResetDate
	u.SubscriptionStatus = models.SubscriptionActive
	u.SubscriptionTier = g.Tier
	u.StripeSubscriptionID = &subID
	if custID != "" {
		u.StripeCustomerID = &custID
	}
	u.SubscriptionEndDate = &end
	u.MonthlyCredits = g.MonthlyCredits
	u.CreditsUsed = 0
	u.CreditsResetDate = &reset
	return nil
}

func (s *fakeStore) GrantCredits(_ context.Context, id primitive.ObjectID, credits int, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	s.writes++
	u.TotalCreditsEarned += credits
	if customerID != "" {
		u.StripeCustomerID = &customerID
	}
	return nil
}

func (s *fakeStore) FindPaymentByBillID(_ context.Context, billID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[billID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) InsertPendingPayment(_ context.Context, p *models.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.pending = append(s.pending, *p)
	return nil
}

func (s *fakeStore) InsertEmailMismatch(_ context.Context, m *models.EmailMismatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.mismatches = append(s.mismatches, *m)
	return nil
}

func (s *fakeStore) ClaimEvent(_ context.Context, p models.Provider, id, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.EventKey(p, id)
	if _, ok := s.events[key]; ok {
		return false, nil
	}
	s.events[key] = models.EventProcessing
	return true, nil
}

func (s *fakeStore) CompleteEvent(_ context.Context, p models.Provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[models.EventKey(p, id)] = models.EventCompleted
	return nil
}

func (s *fakeStore) ReleaseEvent(_ context.Context, p models.Provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, models.EventKey(p, id))
	return nil
}

// fakeStripe answers from maps; anything absent is NotFound.
type fakeStripe struct {
	subscriptions  map[string]*stripe.Subscription
	products       map[string]*stripe.Product
	lineItems      map[string][]*stripe.LineItem
	customers      map[string]*stripe.Customer
	paymentIntents map[string]*stripe.PaymentIntent
	transient      map[string]bool
	created        []string
}

func newFakeStripe() *fakeStripe {
	return &fakeStripe{
		subscriptions:  map[string]*stripe.Subscription{},
		products:       map[string]*stripe.Product{},
		lineItems:      map[string][]*stripe.LineItem{},
		customers:      map[string]*stripe.Customer{},
		paymentIntents: map[string]*stripe.PaymentIntent{},
		transient:      map[string]bool{},
	}
}

func get[T any](f *fakeStripe, m map[string]T, id string) lookup.Result[T] {
	if f.transient[id] {
		return lookup.Failed[T](errors.New("stripe unavailable"))
	}
	v, ok := m[id]
	if !ok {
		return lookup.Missing[T]()
	}
	return lookup.Of(v)
}

func (f *fakeStripe) GetSubscription(_ context.Context, id string) lookup.Result[*stripe.Subscription] {
	return get(f, f.subscriptions, id)
}

func (f *fakeStripe) GetProduct(_ context.Context, id string) lookup.Result[*stripe.Product] {
	return get(f, f.products, id)
}

func (f *fakeStripe) ListLineItems(_ context.Context, id string) lookup.Result[[]*stripe.LineItem] {
	return get(f, f.lineItems, id)
}

func (f *fakeStripe) GetCustomer(_ context.Context, id string) lookup.Result[*stripe.Customer] {
	return get(f, f.customers, id)
}

func (f *fakeStripe) GetPaymentIntent(_ context.Context, id string) lookup.Result[*stripe.PaymentIntent] {
	return get(f, f.paymentIntents, id)
}

func (f *fakeStripe) CreateCustomer(_ context.Context, email, userID string) (*stripe.Customer, error) {
	id := "cus_new_" + userID
	f.created = append(f.created, id)
	c := &stripe.Customer{ID: id, Email: email}
	f.customers[id] = c
	return c, nil
}

type fakeStatus struct {
	result lookup.Result[string]
	calls  int
}

func (f *fakeStatus) GetPaymentStatus(context.Context, string) lookup.Result[string] {
	f.calls++
	return f.result
}

type fakeMailer struct {
	configured bool
	sent       []CreditsPurchased
	err        error
}

func (m *fakeMailer) Configured() bool { return m.configured }

func (m *fakeMailer) SendCreditsPurchased(_ context.Context, msg CreditsPurchased) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type fakeAlerter struct {
	alerts []Alert
}

func (a *fakeAlerter) Publish(_ context.Context, alert Alert) error {
	a.alerts = append(a.alerts, alert)
	return nil
}

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store   *fakeStore
	stripe  *fakeStripe
	status  *fakeStatus
	mailer  *fakeMailer
	alerter *fakeAlerter
	engine  *Engine
}

func newHarness(users ...*models.User) *harness {
	h := &harness{
		store:   newFakeStore(users...),
		stripe:  newFakeStripe(),
		status:  &fakeStatus{result: lookup.Missing[string]()},
		mailer:  &fakeMailer{configured: true},
		alerter: &fakeAlerter{},
	}
	h.engine = New(Deps{
		Store:   h.store,
		Ledger:  h.store,
		Stripe:  h.stripe,
		Abacate: h.status,
		Prices:  pricing.Default(),
		Mailer:  h.mailer,
		Alerter: h.alerter,
		DevMode: true,
		Now:     func() time.Time { return fixedNow },
	})
	return h
}

func strPtr(s string) *string { return &s }
