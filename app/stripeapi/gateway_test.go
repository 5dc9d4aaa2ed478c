package stripeapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example/mockup-billing/app/lookup"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"404", &stripe.Error{HTTPStatusCode: http.StatusNotFound}, true},
		{"resource missing code", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeResourceMissing}, true},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusInternalServerError}, false},
		{"plain error", errors.New("dial tcp: timeout"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNotFound(tc.err); got != tc.want {
				t.Fatalf("IsNotFound(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestReferenceIDs(t *testing.T) {
	if got := CustomerID(nil); got != "" {
		t.Fatalf("CustomerID(nil) = %q, want empty", got)
	}
	if got := CustomerID(&stripe.Customer{ID: " cus_1 "}); got != "cus_1" {
		t.Fatalf("CustomerID = %q, want cus_1", got)
	}
	if got := SubscriptionID(&stripe.Subscription{ID: "sub_1"}); got != "sub_1" {
		t.Fatalf("SubscriptionID = %q, want sub_1", got)
	}
	if got := PaymentIntentID(nil); got != "" {
		t.Fatalf("PaymentIntentID(nil) = %q, want empty", got)
	}
}

func TestSessionEmailPrefersCustomerDetails(t *testing.T) {
	s := &stripe.CheckoutSession{
		CustomerEmail:   "typed@example.com",
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "details@example.com"},
	}
	if got := SessionEmail(s); got != "details@example.com" {
		t.Fatalf("SessionEmail = %q, want details@example.com", got)
	}
	s.CustomerDetails = nil
	if got := SessionEmail(s); got != "typed@example.com" {
		t.Fatalf("SessionEmail = %q, want typed@example.com", got)
	}
}

func TestGetCustomerClassifiesMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/customers/cus_gone":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such customer"}}`))
		case "/v1/customers/cus_deleted":
			_, _ = w.Write([]byte(`{"id":"cus_deleted","object":"customer","deleted":true}`))
		default:
			_, _ = w.Write([]byte(`{"id":"cus_ok","object":"customer","email":"a@example.com"}`))
		}
	}))
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	g := NewGatewayWithBackends("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	ctx := context.Background()
	if got := g.GetCustomer(ctx, "cus_gone").Outcome; got != lookup.NotFound {
		t.Fatalf("GetCustomer(cus_gone) = %s, want not_found", got)
	}
	if got := g.GetCustomer(ctx, "cus_deleted").Outcome; got != lookup.NotFound {
		t.Fatalf("GetCustomer(cus_deleted) = %s, want not_found", got)
	}
	res := g.GetCustomer(ctx, "cus_ok")
	if !res.Found() || res.Value.Email != "a@example.com" {
		t.Fatalf("GetCustomer(cus_ok) = %+v, want found", res)
	}
	if got := g.GetCustomer(ctx, "").Outcome; got != lookup.NotFound {
		t.Fatalf("GetCustomer(\"\") = %s, want not_found", got)
	}
}

func TestVerifyEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.expired","data":{"object":{"id":"cs_1","object":"checkout.session"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := VerifyEvent(signed.Payload, signed.Header, "whsec_test")
	if err != nil {
		t.Fatalf("VerifyEvent error = %v", err)
	}
	if event.Type != stripe.EventTypeCheckoutSessionExpired {
		t.Fatalf("event.Type = %s, want checkout.session.expired", event.Type)
	}
	if _, err := VerifyEvent(signed.Payload, signed.Header, "whsec_other"); err == nil {
		t.Fatalf("VerifyEvent should fail for the wrong secret")
	}
}
