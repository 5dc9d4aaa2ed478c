// Package stripeapi wraps the Stripe SDK calls the reconciliation engine needs
// and classifies their failures into lookup results.
package stripeapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"example/mockup-billing/app/lookup"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Gateway is a constructed Stripe client. Build one per process and share it.
type Gateway struct {
	sc *client.API
}

// NewGateway builds a gateway for the given secret key.
func NewGateway(secretKey string) *Gateway {
	return &Gateway{sc: client.New(secretKey, nil)}
}

// NewGatewayWithBackends lets tests point the SDK at a stub server.
func NewGatewayWithBackends(secretKey string, backends *stripe.Backends) *Gateway {
	return &Gateway{sc: client.New(secretKey, backends)}
}

// VerifyEvent checks the Stripe-Signature header against the raw body.
func VerifyEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(
		payload,
		sigHeader,
		secret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
}

// GetSubscription fetches a subscription with its price products expanded.
func (g *Gateway) GetSubscription(ctx context.Context, id string) lookup.Result[*stripe.Subscription] {
	if id == "" {
		return lookup.Missing[*stripe.Subscription]()
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")
	sub, err := g.sc.Subscriptions.Get(id, params)
	if err != nil {
		return fromError[*stripe.Subscription](err)
	}
	return lookup.Of(sub)
}

func (g *Gateway) GetProduct(ctx context.Context, id string) lookup.Result[*stripe.Product] {
	if id == "" {
		return lookup.Missing[*stripe.Product]()
	}
	params := &stripe.ProductParams{}
	params.Context = ctx
	p, err := g.sc.Products.Get(id, params)
	if err != nil {
		return fromError[*stripe.Product](err)
	}
	return lookup.Of(p)
}

// ListLineItems returns a checkout session's line items with products expanded.
// Sessions replayed by hand or created through Payment Links come back as not found.
func (g *Gateway) ListLineItems(ctx context.Context, sessionID string) lookup.Result[[]*stripe.LineItem] {
	if sessionID == "" {
		return lookup.Missing[[]*stripe.LineItem]()
	}
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	params.AddExpand("data.price.product")

	var items []*stripe.LineItem
	it := g.sc.CheckoutSessions.ListLineItems(params)
	for it.Next() {
		items = append(items, it.LineItem())
	}
	if err := it.Err(); err != nil {
		return fromError[[]*stripe.LineItem](err)
	}
	return lookup.Of(items)
}

// GetCustomer treats deleted customers as missing.
func (g *Gateway) GetCustomer(ctx context.Context, id string) lookup.Result[*stripe.Customer] {
	if id == "" {
		return lookup.Missing[*stripe.Customer]()
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := g.sc.Customers.Get(id, params)
	if err != nil {
		return fromError[*stripe.Customer](err)
	}
	if c.Deleted {
		return lookup.Missing[*stripe.Customer]()
	}
	return lookup.Of(c)
}

func (g *Gateway) GetPaymentIntent(ctx context.Context, id string) lookup.Result[*stripe.PaymentIntent] {
	if id == "" {
		return lookup.Missing[*stripe.PaymentIntent]()
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.sc.PaymentIntents.Get(id, params)
	if err != nil {
		return fromError[*stripe.PaymentIntent](err)
	}
	return lookup.Of(pi)
}

// CreateCustomer creates a customer linked to the internal user id.
func (g *Gateway) CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"userId": userID,
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	return g.sc.Customers.New(params)
}

func fromError[T any](err error) lookup.Result[T] {
	if IsNotFound(err) {
		return lookup.Missing[T]()
	}
	return lookup.Failed[T](err)
}

// IsNotFound reports whether err is Stripe's "resource missing".
func IsNotFound(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing
}

// CustomerID returns the id of a customer reference, expanded or not.
func CustomerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.ID)
}

func SubscriptionID(s *stripe.Subscription) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.ID)
}

func PaymentIntentID(pi *stripe.PaymentIntent) string {
	if pi == nil {
		return ""
	}
	return strings.TrimSpace(pi.ID)
}

func ProductID(p *stripe.Product) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.ID)
}

// SessionEmail returns the customer email a checkout session carries.
func SessionEmail(s *stripe.CheckoutSession) string {
	if s == nil {
		return ""
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return strings.TrimSpace(s.CustomerDetails.Email)
	}
	return strings.TrimSpace(s.CustomerEmail)
}
