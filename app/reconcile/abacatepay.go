package reconcile

import (
	"context"
	"errors"
	"fmt"

	"example/mockup-billing/app/abacatepay"
	"example/mockup-billing/app/fallback"
	"example/mockup-billing/app/lookup"
	"example/mockup-billing/app/models"

	"go.uber.org/zap"
)

const abacateCurrency = "brl"

// HandleAbacatePayEvent applies an AbacatePay webhook. Unlike the Stripe path,
// an unresolved user is returned as ErrUserNotResolved so the caller can fail
// the delivery and let AbacatePay retry.
func (e *Engine) HandleAbacatePayEvent(ctx context.Context, ev *abacatepay.WebhookEvent) (Outcome, error) {
	billID := ev.BillID()
	amount := ev.AmountPaid()
	log := e.log.With(
		zap.String("event", ev.Event),
		zap.String("bill_id", billID),
		zap.Int64("amount", amount),
		zap.Bool("dev_mode", ev.DevMode))

	if ev.Event != abacatepay.EventBillingPaid {
		log.Info("abacatepay event ignored")
		return Outcome{Action: ActionIgnored}, nil
	}

	if !e.abacatePaid(ctx, ev, billID, amount, log) {
		log.Warn("abacatepay payment not confirmed")
		return Outcome{Action: ActionNotPaid}, nil
	}

	return e.claim(ctx, models.ProviderAbacatePay, billID, ev.Event, func() (Outcome, error) {
		return e.creditAbacatePayment(ctx, ev, billID, amount, log)
	})
}

// abacatePaid trusts the webhook body first and only asks the API when the
// body is inconclusive. If the API cannot answer, a billing.paid event with a
// positive amount is taken at its word.
func (e *Engine) abacatePaid(ctx context.Context, ev *abacatepay.WebhookEvent, billID string, amount int64, log *zap.Logger) bool {
	if paid, conclusive := ev.PaidSignal(); conclusive {
		return paid
	}
	if e.abacate == nil {
		return ev.Event == abacatepay.EventBillingPaid && amount > 0
	}
	res := e.abacate.GetPaymentStatus(ctx, billID)
	switch res.Outcome {
	case lookup.Found:
		return res.Value == abacatepay.StatusPaid
	case lookup.NotFound:
		log.Warn("abacatepay bill unknown to status api")
		return false
	default:
		log.Warn("abacatepay status check failed", zap.Error(res.Err))
		return ev.Event == abacatepay.EventBillingPaid && amount > 0
	}
}

func (e *Engine) creditAbacatePayment(ctx context.Context, ev *abacatepay.WebhookEvent, billID string, amount int64, log *zap.Logger) (Outcome, error) {
	var payment *models.Payment
	if billID != "" {
		p, err := e.store.FindPaymentByBillID(ctx, billID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return Outcome{}, fmt.Errorf("load payment %s: %w", billID, err)
		default:
			payment = p
		}
	}

	currency := abacateCurrency
	if payment != nil && payment.Currency != "" {
		currency = payment.Currency
	}

	credits, creditSource, _, _ := fallback.First(ctx,
		fallback.Step[int]{Name: "metadata", Resolve: func(context.Context) (int, bool, error) {
			n := ev.MetadataCredits()
			return n, n > 0, nil
		}},
		fallback.Step[int]{Name: "payment_record", Resolve: func(context.Context) (int, bool, error) {
			if payment == nil {
				return 0, false, nil
			}
			return payment.Credits, payment.Credits > 0, nil
		}},
		fallback.Step[int]{Name: "amount", Resolve: func(context.Context) (int, bool, error) {
			n, _ := e.prices.CreditsForAmount(amount, currency)
			return n, n > 0, nil
		}},
	)
	if credits <= 0 {
		log.Error("abacatepay credits not resolved", zap.String("currency", currency))
		return Outcome{Action: ActionCreditsNotResolved}, ErrCreditsNotResolved
	}

	paymentUserID := ""
	if payment != nil {
		paymentUserID = payment.UserID
	}
	email := ev.CustomerEmail()

	user, strategy, ok, err := fallback.First(ctx,
		byUserID(e.store, "metadata_user_id", ev.MetadataUserID()),
		byUserID(e.store, "payment_record", paymentUserID),
		byEmail(e.store, email),
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve abacatepay user: %w", err)
	}
	if !ok {
		log.Error("abacatepay user not resolved", zap.String("email", email), zap.Int("credits", credits))
		e.Alert(ctx, Alert{
			Kind:      AlertUserNotResolved,
			Provider:  models.ProviderAbacatePay,
			Reference: billID,
			Message:   "paid bill could not be matched to a user",
			Fields: map[string]any{
				"email":   email,
				"credits": credits,
				"amount":  amount,
			},
		})
		return Outcome{Action: ActionUserNotResolved, Credits: credits}, ErrUserNotResolved
	}

	if err := e.store.GrantCredits(ctx, user.ID, credits, ""); err != nil {
		return Outcome{}, fmt.Errorf("grant %d credits to user %s: %w", credits, user.ID.Hex(), err)
	}

	log.Info("credits granted",
		zap.String("user_id", user.ID.Hex()),
		zap.String("strategy", strategy),
		zap.String("credit_source", creditSource),
		zap.Int("credits", credits))

	e.sendPurchaseEmail(ctx, user, credits, amount, currency, log)

	return Outcome{
		Action:   ActionCredited,
		UserID:   user.ID.Hex(),
		Credits:  credits,
		Strategy: strategy,
	}, nil
}

func (e *Engine) sendPurchaseEmail(ctx context.Context, user *models.User, credits int, amount int64, currency string, log *zap.Logger) {
	if e.mailer == nil || !e.mailer.Configured() || user.Email == "" {
		return
	}
	if amount <= 0 {
		// Status-only events carry no amount; quote the package list price.
		if price, ok := e.prices.PriceForCredits(credits, currency); ok {
			amount = price
		}
	}
	err := e.mailer.SendCreditsPurchased(ctx, CreditsPurchased{
		To:       user.Email,
		Name:     user.Name,
		Credits:  credits,
		Amount:   amount,
		Currency: currency,
	})
	if err != nil {
		log.Warn("credits purchased email failed", zap.String("user_id", user.ID.Hex()), zap.Error(err))
	}
}
