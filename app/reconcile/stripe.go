package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"example/mockup-billing/app/fallback"
	"example/mockup-billing/app/lookup"
	"example/mockup-billing/app/models"
	"example/mockup-billing/app/stripeapi"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

const (
	defaultTier           = models.TierPremium
	defaultMonthlyCredits = 100
	fallbackPeriod        = 30 * 24 * time.Hour
	debugUserSample       = 5
)

// HandleStripeEvent applies a verified Stripe event.
func (e *Engine) HandleStripeEvent(ctx context.Context, event stripe.Event) (Outcome, error) {
	log := e.log.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		if event.Data == nil {
			return Outcome{}, fmt.Errorf("event %s has no data", event.ID)
		}
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return Outcome{}, fmt.Errorf("decode checkout session: %w", err)
		}
		return e.claim(ctx, models.ProviderStripe, event.ID, string(event.Type), func() (Outcome, error) {
			return e.checkoutCompleted(ctx, &sess)
		})

	case stripe.EventTypeCheckoutSessionExpired:
		log.Info("checkout session expired")
		return Outcome{Action: ActionIgnored}, nil

	case stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeInvoicePaymentSucceeded,
		stripe.EventTypeInvoicePaymentFailed:
		// Subscription lifecycle events are not applied yet.
		log.Info("stripe event not handled")
		return Outcome{Action: ActionIgnored}, nil

	default:
		log.Debug("stripe event ignored")
		return Outcome{Action: ActionIgnored}, nil
	}
}

func (e *Engine) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) (Outcome, error) {
	switch sess.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return e.ActivateSubscription(ctx, sess)
	case stripe.CheckoutSessionModePayment:
		return e.PurchaseCredits(ctx, sess)
	default:
		e.log.Info("checkout session mode ignored", zap.String("session_id", sess.ID), zap.String("mode", string(sess.Mode)))
		return Outcome{Action: ActionIgnored}, nil
	}
}

type subscriptionPlan struct {
	tier           string
	monthlyCredits int
	periodEnd      time.Time
	source         string
}

// ActivateSubscription overwrites the resolved user's subscription state.
// Applying it twice leaves the same state as applying it once.
func (e *Engine) ActivateSubscription(ctx context.Context, sess *stripe.CheckoutSession) (Outcome, error) {
	subID := stripeapi.SubscriptionID(sess.Subscription)
	customerID := stripeapi.CustomerID(sess.Customer)
	email := stripeapi.SessionEmail(sess)
	log := e.log.With(
		zap.String("session_id", sess.ID),
		zap.String("subscription_id", subID),
		zap.String("customer_id", customerID))

	plan := e.subscriptionPlan(ctx, sess, subID, log)

	user, strategy, ok, err := fallback.First(ctx,
		byStripeCustomer(e.store, customerID),
		byEmail(e.store, email),
		userStep{
			Name: "stripe_subscription_id",
			Resolve: func(ctx context.Context) (*models.User, bool, error) {
				if subID == "" {
					return nil, false, nil
				}
				return userResult(e.store.FindUserByStripeSubscriptionID(ctx, subID))
			},
		},
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve subscription user: %w", err)
	}
	if !ok {
		// No pending record on this path; the one-time path keeps one.
		log.Error("subscription user not resolved", zap.String("email", email))
		e.Alert(ctx, Alert{
			Kind:      AlertUserNotResolved,
			Provider:  models.ProviderStripe,
			Reference: sess.ID,
			Message:   "paid subscription could not be matched to a user",
			Fields: map[string]any{
				"email":           email,
				"customer_id":     customerID,
				"subscription_id": subID,
				"tier":            plan.tier,
			},
		})
		return Outcome{Action: ActionUserNotResolved}, nil
	}

	grant := models.SubscriptionGrant{
		Tier:           plan.tier,
		SubscriptionID: subID,
		CustomerID:     customerID,
		EndDate:        plan.periodEnd,
		MonthlyCredits: plan.monthlyCredits,
		ResetDate:      plan.periodEnd,
	}
	if grant.CustomerID == "" {
		grant.CustomerID = user.CustomerID()
	}
	if err := e.store.ActivateSubscription(ctx, user.ID, grant); err != nil {
		return Outcome{}, fmt.Errorf("activate subscription for user %s: %w", user.ID.Hex(), err)
	}

	log.Info("subscription activated",
		zap.String("user_id", user.ID.Hex()),
		zap.String("strategy", strategy),
		zap.String("tier", plan.tier),
		zap.Int("monthly_credits", plan.monthlyCredits),
		zap.String("plan_source", plan.source),
		zap.Time("credits_reset", plan.periodEnd))

	return Outcome{
		Action:   ActionSubscriptionActivated,
		UserID:   user.ID.Hex(),
		Credits:  plan.monthlyCredits,
		Strategy: strategy,
	}, nil
}

// subscriptionPlan reads tier and allotment from the subscription's product,
// falling back to session metadata when the subscription is not retrievable yet.
func (e *Engine) subscriptionPlan(ctx context.Context, sess *stripe.CheckoutSession, subID string, log *zap.Logger) subscriptionPlan {
	res := e.stripe.GetSubscription(ctx, subID)
	sub, found := res.Get()
	if !found {
		log.Warn("subscription not retrievable, using session metadata",
			zap.Stringer("lookup", res.Outcome),
			zap.Error(res.Err))
		tier := metadataString(sess.Metadata, "tier", defaultTier)
		credits := metadataInt(sess.Metadata, "monthlyCredits")
		if credits <= 0 {
			credits = defaultMonthlyCredits
		}
		return subscriptionPlan{
			tier:           tier,
			monthlyCredits: credits,
			periodEnd:      e.now().Add(fallbackPeriod),
			source:         "session_metadata",
		}
	}

	product := e.subscriptionProduct(ctx, sub, log)
	var productMeta map[string]string
	if product != nil {
		productMeta = product.Metadata
	}
	tier := metadataString(productMeta, "tier", metadataString(sess.Metadata, "tier", defaultTier))
	credits := metadataInt(productMeta, "monthlyCredits")
	if credits <= 0 {
		credits = tierMonthlyCredits(tier)
	}

	periodEnd := e.now().Add(fallbackPeriod)
	if sub.CurrentPeriodEnd > 0 {
		periodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return subscriptionPlan{
		tier:           tier,
		monthlyCredits: credits,
		periodEnd:      periodEnd,
		source:         "product_metadata",
	}
}

func (e *Engine) subscriptionProduct(ctx context.Context, sub *stripe.Subscription, log *zap.Logger) *stripe.Product {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil || item.Price.Product == nil {
		return nil
	}
	product := item.Price.Product
	if len(product.Metadata) > 0 {
		return product
	}
	// Product came back unexpanded.
	res := e.stripe.GetProduct(ctx, stripeapi.ProductID(product))
	if p, ok := res.Get(); ok {
		return p
	}
	log.Warn("subscription product lookup failed",
		zap.String("product_id", product.ID),
		zap.Stringer("lookup", res.Outcome),
		zap.Error(res.Err))
	return product
}

func tierMonthlyCredits(tier string) int {
	switch strings.ToLower(tier) {
	case models.TierPremium:
		return 100
	case models.TierPro:
		return 500
	default:
		return 3
	}
}

// PurchaseCredits resolves the credit quantity and the paying user for a
// one-time checkout and adds the credits to the user's balance.
func (e *Engine) PurchaseCredits(ctx context.Context, sess *stripe.CheckoutSession) (Outcome, error) {
	customerID := stripeapi.CustomerID(sess.Customer)
	email := stripeapi.SessionEmail(sess)
	log := e.log.With(
		zap.String("session_id", sess.ID),
		zap.String("customer_id", customerID))

	credits, creditSource := e.stripeCredits(ctx, sess, log)
	if credits <= 0 {
		log.Error("credits not resolved for payment",
			zap.String("product_id", e.firstProductID(ctx, sess)),
			zap.Int64("amount_subtotal", sess.AmountSubtotal),
			zap.Int64("amount_total", sess.AmountTotal),
			zap.String("currency", string(sess.Currency)))
		e.Alert(ctx, Alert{
			Kind:      AlertCreditsNotResolved,
			Provider:  models.ProviderStripe,
			Reference: sess.ID,
			Message:   "paid checkout did not map to a credit package",
			Fields: map[string]any{
				"customer_id":     customerID,
				"amount_subtotal": sess.AmountSubtotal,
				"amount_total":    sess.AmountTotal,
				"currency":        string(sess.Currency),
			},
		})
		return Outcome{Action: ActionCreditsNotResolved}, nil
	}

	metadataUserID := ""
	if sess.Metadata != nil {
		metadataUserID = strings.TrimSpace(sess.Metadata["userId"])
	}

	user, strategy, ok, err := fallback.First(ctx,
		byStripeCustomer(e.store, customerID),
		e.withEmailAudit(byUserID(e.store, "client_reference_id", strings.TrimSpace(sess.ClientReferenceID)), sess.ID, email),
		e.withEmailAudit(byUserID(e.store, "metadata_user_id", metadataUserID), sess.ID, email),
		byEmail(e.store, email),
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve payment user: %w", err)
	}
	if !ok {
		return e.recordPending(ctx, sess, email, credits, log)
	}
	if strategy == "email" {
		log.Warn("payment matched by email only", zap.String("user_id", user.ID.Hex()))
	}

	candidate := customerID
	if candidate == "" {
		candidate = e.paymentIntentCustomer(ctx, sess, log)
	}

	customerFix := e.customerFix(ctx, user, candidate, email, log)
	if err := e.store.GrantCredits(ctx, user.ID, credits, customerFix); err != nil {
		return Outcome{}, fmt.Errorf("grant %d credits to user %s: %w", credits, user.ID.Hex(), err)
	}

	log.Info("credits granted",
		zap.String("user_id", user.ID.Hex()),
		zap.String("strategy", strategy),
		zap.String("credit_source", creditSource),
		zap.Int("credits", credits),
		zap.String("customer_fix", customerFix))

	return Outcome{
		Action:   ActionCredited,
		UserID:   user.ID.Hex(),
		Credits:  credits,
		Strategy: strategy,
	}, nil
}

// stripeCredits reads credits from product metadata, falling back to the price table.
func (e *Engine) stripeCredits(ctx context.Context, sess *stripe.CheckoutSession, log *zap.Logger) (int, string) {
	res := e.stripe.ListLineItems(ctx, sess.ID)
	if items, ok := res.Get(); ok {
		total := 0
		for _, li := range items {
			if li == nil || li.Price == nil || li.Price.Product == nil {
				continue
			}
			n := metadataInt(li.Price.Product.Metadata, "credits")
			if n <= 0 {
				continue
			}
			qty := li.Quantity
			if qty <= 0 {
				qty = 1
			}
			total += n * int(qty)
		}
		if total > 0 {
			return total, "product_metadata"
		}
	} else {
		log.Info("line items unavailable, falling back to amount",
			zap.Stringer("lookup", res.Outcome),
			zap.Error(res.Err))
	}

	amount := chargedAmount(sess)
	currency := string(sess.Currency)
	credits, match := e.prices.CreditsForAmount(amount, currency)
	if credits <= 0 {
		return 0, ""
	}
	log.Info("credits matched by amount",
		zap.Int64("amount", amount),
		zap.String("currency", currency),
		zap.Int("credits", credits),
		zap.String("match", string(match)))
	return credits, "amount_" + string(match)
}

// chargedAmount prefers the pre-discount subtotal when a coupon changed the total.
func chargedAmount(sess *stripe.CheckoutSession) int64 {
	if sess.AmountSubtotal > 0 && sess.AmountSubtotal != sess.AmountTotal {
		return sess.AmountSubtotal
	}
	return sess.AmountTotal
}

func (e *Engine) firstProductID(ctx context.Context, sess *stripe.CheckoutSession) string {
	items, ok := e.stripe.ListLineItems(ctx, sess.ID).Get()
	if !ok {
		return ""
	}
	for _, li := range items {
		if li != nil && li.Price != nil {
			return stripeapi.ProductID(li.Price.Product)
		}
	}
	return ""
}

// withEmailAudit records an EmailMismatch when the step resolves a user whose
// account email differs from the payment email.
func (e *Engine) withEmailAudit(step userStep, sessionID, paymentEmail string) userStep {
	inner := step.Resolve
	step.Resolve = func(ctx context.Context) (*models.User, bool, error) {
		u, ok, err := inner(ctx)
		if err != nil || !ok {
			return u, ok, err
		}
		if paymentEmail != "" && !sameEmail(u.Email, paymentEmail) {
			m := &models.EmailMismatch{
				UserID:       u.ID.Hex(),
				AccountEmail: u.Email,
				PaymentEmail: paymentEmail,
				SessionID:    sessionID,
				CreatedAt:    e.now().UTC(),
			}
			if err := e.store.InsertEmailMismatch(ctx, m); err != nil {
				e.log.Warn("email mismatch record failed",
					zap.String("session_id", sessionID),
					zap.String("user_id", m.UserID),
					zap.Error(err))
			} else {
				e.log.Warn("payment email differs from account email",
					zap.String("session_id", sessionID),
					zap.String("user_id", m.UserID),
					zap.String("strategy", step.Name))
			}
		}
		return u, ok, nil
	}
	return step
}

func (e *Engine) paymentIntentCustomer(ctx context.Context, sess *stripe.CheckoutSession, log *zap.Logger) string {
	piID := stripeapi.PaymentIntentID(sess.PaymentIntent)
	if piID == "" {
		return ""
	}
	if id := stripeapi.CustomerID(sess.PaymentIntent.Customer); id != "" {
		return id
	}
	res := e.stripe.GetPaymentIntent(ctx, piID)
	pi, ok := res.Get()
	if !ok {
		log.Info("payment intent customer unavailable",
			zap.String("payment_intent_id", piID),
			zap.Stringer("lookup", res.Outcome),
			zap.Error(res.Err))
		return ""
	}
	return stripeapi.CustomerID(pi.Customer)
}

// customerFix decides which stripeCustomerId, if any, to write with the credit grant.
func (e *Engine) customerFix(ctx context.Context, user *models.User, candidate, email string, log *zap.Logger) string {
	stored := user.CustomerID()
	if stored != "" {
		if candidate != "" && candidate != stored {
			log.Info("replacing stored stripe customer",
				zap.String("user_id", user.ID.Hex()),
				zap.String("stored_customer_id", stored),
				zap.String("candidate_customer_id", candidate))
			return candidate
		}
		return ""
	}

	if candidate != "" {
		res := e.stripe.GetCustomer(ctx, candidate)
		switch res.Outcome {
		case lookup.Found:
			return candidate
		case lookup.Transient:
			log.Warn("stripe customer verification failed, keeping candidate",
				zap.String("candidate_customer_id", candidate),
				zap.Error(res.Err))
			return candidate
		}
		log.Info("candidate stripe customer no longer exists", zap.String("candidate_customer_id", candidate))
	}

	if email == "" {
		email = user.Email
	}
	cust, err := e.stripe.CreateCustomer(ctx, email, user.ID.Hex())
	if err != nil {
		log.Error("stripe customer creation failed", zap.String("user_id", user.ID.Hex()), zap.Error(err))
		return ""
	}
	return cust.ID
}

func (e *Engine) recordPending(ctx context.Context, sess *stripe.CheckoutSession, email string, credits int, log *zap.Logger) (Outcome, error) {
	p := &models.PendingPayment{
		Provider:  models.ProviderStripe,
		SessionID: sess.ID,
		Amount:    sess.AmountTotal,
		Credits:   credits,
		Currency:  string(sess.Currency),
		CreatedAt: e.now().UTC(),
		Resolved:  false,
	}
	if email != "" {
		p.Email = &email
	}
	if err := e.store.InsertPendingPayment(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("record pending payment %s: %w", sess.ID, err)
	}

	log.Error("payment user not resolved, pending payment recorded",
		zap.String("email", email),
		zap.String("client_reference_id", sess.ClientReferenceID),
		zap.Int("credits", credits),
		zap.Int64("amount", sess.AmountTotal))

	if e.dev {
		e.logUserSample(ctx, log)
	}

	e.Alert(ctx, Alert{
		Kind:      AlertPendingPayment,
		Provider:  models.ProviderStripe,
		Reference: sess.ID,
		Message:   "paid checkout could not be matched to a user",
		Fields: map[string]any{
			"email":    email,
			"credits":  credits,
			"amount":   sess.AmountTotal,
			"currency": string(sess.Currency),
		},
	})
	return Outcome{Action: ActionPendingPayment, Credits: credits}, nil
}

func (e *Engine) logUserSample(ctx context.Context, log *zap.Logger) {
	users, err := e.store.SampleUsers(ctx, debugUserSample)
	if err != nil {
		log.Debug("user sample failed", zap.Error(err))
		return
	}
	for _, u := range users {
		log.Debug("user sample",
			zap.String("user_id", u.ID.Hex()),
			zap.String("email", u.Email),
			zap.String("stripe_customer_id", u.CustomerID()))
	}
}

func metadataString(md map[string]string, key, def string) string {
	if v := strings.TrimSpace(md[key]); v != "" {
		return v
	}
	return def
}

func metadataInt(md map[string]string, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(md[key]))
	if err != nil {
		return 0
	}
	return n
}
