// Package reconcile maps payment provider events onto the credits ledger.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"example/mockup-billing/app/fallback"
	"example/mockup-billing/app/models"

	"go.uber.org/zap"
)

var (
	ErrUserNotResolved    = errors.New("user not resolved")
	ErrCreditsNotResolved = errors.New("credits not resolved")
)

type Action string

const (
	ActionSubscriptionActivated Action = "subscription_activated"
	ActionCredited              Action = "credited"
	ActionPendingPayment        Action = "pending_payment"
	ActionUserNotResolved       Action = "user_not_resolved"
	ActionCreditsNotResolved    Action = "credits_not_resolved"
	ActionNotPaid               Action = "not_paid"
	ActionDuplicate             Action = "duplicate"
	ActionIgnored               Action = "ignored"
)

// Outcome describes what processing an event did.
type Outcome struct {
	Action   Action
	UserID   string
	Credits  int
	Strategy string
}

// Deps are the collaborators an Engine is built from. Mailer and Alerter may be nil.
type Deps struct {
	Store   Store
	Ledger  Ledger
	Stripe  StripeGateway
	Abacate StatusChecker
	Prices  PriceTable
	Mailer  Mailer
	Alerter Alerter
	Logger  *zap.Logger
	DevMode bool
	Now     func() time.Time
}

type Engine struct {
	store   Store
	ledger  Ledger
	stripe  StripeGateway
	abacate StatusChecker
	prices  PriceTable
	mailer  Mailer
	alerter Alerter
	log     *zap.Logger
	dev     bool
	now     func() time.Time
}

func New(d Deps) *Engine {
	e := &Engine{
		store:   d.Store,
		ledger:  d.Ledger,
		stripe:  d.Stripe,
		abacate: d.Abacate,
		prices:  d.Prices,
		mailer:  d.Mailer,
		alerter: d.Alerter,
		log:     d.Logger,
		dev:     d.DevMode,
		now:     d.Now,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Alert publishes a best-effort alert.
func (e *Engine) Alert(ctx context.Context, alert Alert) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Publish(ctx, alert); err != nil {
		e.log.Warn("alert publish failed",
			zap.String("kind", string(alert.Kind)),
			zap.String("reference", alert.Reference),
			zap.Error(err))
	}
}

// applied reports whether the outcome changed or recorded anything. Events
// that applied nothing stay replayable once the user or price is fixed.
func (o Outcome) applied() bool {
	switch o.Action {
	case ActionUserNotResolved, ActionCreditsNotResolved:
		return false
	}
	return true
}

// claim runs fn once per provider event id. Runs that fail, panic or apply
// nothing release the claim so a replay can apply the event.
func (e *Engine) claim(ctx context.Context, provider models.Provider, eventID, eventType string, fn func() (Outcome, error)) (Outcome, error) {
	if e.ledger == nil || eventID == "" {
		return fn()
	}
	claimed, err := e.ledger.ClaimEvent(ctx, provider, eventID, eventType)
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		e.log.Info("event already processed",
			zap.String("provider", string(provider)),
			zap.String("event_id", eventID),
			zap.String("event_type", eventType))
		return Outcome{Action: ActionDuplicate}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.release(ctx, provider, eventID)
			panic(r)
		}
	}()

	out, err := fn()
	if err != nil || !out.applied() {
		e.release(ctx, provider, eventID)
		return out, err
	}
	if cerr := e.ledger.CompleteEvent(ctx, provider, eventID); cerr != nil {
		e.log.Error("event completion failed", zap.String("event_id", eventID), zap.Error(cerr))
	}
	return out, nil
}

func (e *Engine) release(ctx context.Context, provider models.Provider, eventID string) {
	if err := e.ledger.ReleaseEvent(ctx, provider, eventID); err != nil {
		e.log.Error("event release failed",
			zap.String("provider", string(provider)),
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

type userStep = fallback.Step[*models.User]

func userResult(u *models.User, err error) (*models.User, bool, error) {
	if errors.Is(err, models.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return u, u != nil, nil
}

func byStripeCustomer(s Store, customerID string) userStep {
	return userStep{
		Name: "stripe_customer_id",
		Resolve: func(ctx context.Context) (*models.User, bool, error) {
			if customerID == "" {
				return nil, false, nil
			}
			return userResult(s.FindUserByStripeCustomerID(ctx, customerID))
		},
	}
}

func byUserID(s Store, name, userID string) userStep {
	return userStep{
		Name: name,
		Resolve: func(ctx context.Context) (*models.User, bool, error) {
			if userID == "" {
				return nil, false, nil
			}
			return userResult(s.FindUserByID(ctx, userID))
		},
	}
}

func byEmail(s Store, email string) userStep {
	return userStep{
		Name: "email",
		Resolve: func(ctx context.Context) (*models.User, bool, error) {
			if email == "" {
				return nil, false, nil
			}
			return userResult(s.FindUserByEmail(ctx, email))
		},
	}
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
