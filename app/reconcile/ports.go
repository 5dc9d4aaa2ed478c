package reconcile

import (
	"context"

	"example/mockup-billing/app/lookup"
	"example/mockup-billing/app/models"
	"example/mockup-billing/app/pricing"

	"github.com/stripe/stripe-go/v79"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the document store the engine reads and writes. Lookups return
// models.ErrNotFound when nothing matches.
type Store interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	FindUserByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error)
	SampleUsers(ctx context.Context, n int) ([]models.User, error)

	// ActivateSubscription overwrites the subscription fields and resets creditsUsed.
	ActivateSubscription(ctx context.Context, userID primitive.ObjectID, grant models.SubscriptionGrant) error
	// GrantCredits increments totalCreditsEarned and, when customerID is not
	// empty, sets stripeCustomerId in the same update.
	GrantCredits(ctx context.Context, userID primitive.ObjectID, credits int, customerID string) error

	FindPaymentByBillID(ctx context.Context, billID string) (*models.Payment, error)
	InsertPendingPayment(ctx context.Context, p *models.PendingPayment) error
	InsertEmailMismatch(ctx context.Context, m *models.EmailMismatch) error
}

// Ledger records which provider events have been applied.
type Ledger interface {
	// ClaimEvent returns false when the event was already claimed.
	ClaimEvent(ctx context.Context, provider models.Provider, eventID, eventType string) (bool, error)
	CompleteEvent(ctx context.Context, provider models.Provider, eventID string) error
	ReleaseEvent(ctx context.Context, provider models.Provider, eventID string) error
}

// StripeGateway is implemented by stripeapi.Gateway.
type StripeGateway interface {
	GetSubscription(ctx context.Context, id string) lookup.Result[*stripe.Subscription]
	GetProduct(ctx context.Context, id string) lookup.Result[*stripe.Product]
	ListLineItems(ctx context.Context, sessionID string) lookup.Result[[]*stripe.LineItem]
	GetCustomer(ctx context.Context, id string) lookup.Result[*stripe.Customer]
	GetPaymentIntent(ctx context.Context, id string) lookup.Result[*stripe.PaymentIntent]
	CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error)
}

// StatusChecker is implemented by abacatepay.Client.
type StatusChecker interface {
	GetPaymentStatus(ctx context.Context, id string) lookup.Result[string]
}

// PriceTable is implemented by pricing.Table.
type PriceTable interface {
	CreditsForAmount(amount int64, currency string) (int, pricing.MatchKind)
	PriceForCredits(credits int, currency string) (int64, bool)
}

// CreditsPurchased is the content of the purchase confirmation email.
type CreditsPurchased struct {
	To       string
	Name     string
	Credits  int
	Amount   int64
	Currency string
}

type Mailer interface {
	Configured() bool
	SendCreditsPurchased(ctx context.Context, msg CreditsPurchased) error
}

type AlertKind string

const (
	AlertProcessingFailed   AlertKind = "processing_failed"
	AlertPendingPayment     AlertKind = "pending_payment"
	AlertUserNotResolved    AlertKind = "user_not_resolved"
	AlertCreditsNotResolved AlertKind = "credits_not_resolved"
)

// Alert is published for reconciliation outcomes that need a human.
type Alert struct {
	Kind      AlertKind       `json:"kind"`
	Provider  models.Provider `json:"provider"`
	Reference string          `json:"reference"`
	Message   string          `json:"message"`
	Fields    map[string]any  `json:"fields,omitempty"`
}

type Alerter interface {
	Publish(ctx context.Context, alert Alert) error
}
