// Package abacatepay models AbacatePay (PIX) webhook payloads and its billing API.
package abacatepay

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	EventBillingPaid = "billing.paid"

	StatusPaid      = "PAID"
	StatusPending   = "PENDING"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
	StatusRefunded  = "REFUNDED"
)

// WebhookEvent is the body AbacatePay posts. The same fields show up in
// different places depending on whether the charge was a PIX QR code or a bill.
type WebhookEvent struct {
	ID      string      `json:"id"`
	Event   string      `json:"event"`
	DevMode bool        `json:"devMode"`
	Data    WebhookData `json:"data"`
}

type WebhookData struct {
	ID        string         `json:"id"`
	Metadata  map[string]any `json:"metadata"`
	PixQrCode *PixQrCode     `json:"pixQrCode"`
	Billing   *Billing       `json:"billing"`
	Payment   *PaymentInfo   `json:"payment"`
}

type PixQrCode struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Amount   int64          `json:"amount"`
	Metadata map[string]any `json:"metadata"`
	Customer *Customer      `json:"customer"`
}

type Billing struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Amount     int64          `json:"amount"`
	PaidAmount int64          `json:"paidAmount"`
	Metadata   map[string]any `json:"metadata"`
	Customer   *Customer      `json:"customer"`
}

type PaymentInfo struct {
	Amount int64  `json:"amount"`
	Fee    int64  `json:"fee"`
	Method string `json:"method"`
}

type Customer struct {
	ID       string           `json:"id"`
	Metadata CustomerMetadata `json:"metadata"`
}

type CustomerMetadata struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	TaxID string `json:"taxId"`
}

// Decode parses a webhook body.
func Decode(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// BillID is the identifier used to look the charge up again.
func (e *WebhookEvent) BillID() string {
	switch {
	case e.Data.Billing != nil && e.Data.Billing.ID != "":
		return e.Data.Billing.ID
	case e.Data.PixQrCode != nil && e.Data.PixQrCode.ID != "":
		return e.Data.PixQrCode.ID
	default:
		return e.Data.ID
	}
}

// AmountPaid returns the paid amount in cents, most specific field first.
func (e *WebhookEvent) AmountPaid() int64 {
	if b := e.Data.Billing; b != nil {
		if b.PaidAmount > 0 {
			return b.PaidAmount
		}
		if b.Amount > 0 {
			return b.Amount
		}
	}
	if p := e.Data.PixQrCode; p != nil && p.Amount > 0 {
		return p.Amount
	}
	if p := e.Data.Payment; p != nil && p.Amount > 0 {
		return p.Amount
	}
	return 0
}

// PaidSignal reads the webhook body's own statement about payment:
// pixQrCode.status, then billing.status, then a positive paidAmount.
// conclusive is false when none of them settle it.
func (e *WebhookEvent) PaidSignal() (paid, conclusive bool) {
	for _, status := range []string{e.pixStatus(), e.billingStatus()} {
		switch strings.ToUpper(strings.TrimSpace(status)) {
		case StatusPaid:
			return true, true
		case StatusExpired, StatusCancelled, StatusRefunded:
			return false, true
		}
	}
	if e.Data.Billing != nil && e.Data.Billing.PaidAmount > 0 {
		return true, true
	}
	return false, false
}

func (e *WebhookEvent) pixStatus() string {
	if e.Data.PixQrCode == nil {
		return ""
	}
	return e.Data.PixQrCode.Status
}

func (e *WebhookEvent) billingStatus() string {
	if e.Data.Billing == nil {
		return ""
	}
	return e.Data.Billing.Status
}

func (e *WebhookEvent) metadataSources() []map[string]any {
	out := []map[string]any{e.Data.Metadata}
	if e.Data.Billing != nil {
		out = append(out, e.Data.Billing.Metadata)
	}
	if e.Data.PixQrCode != nil {
		out = append(out, e.Data.PixQrCode.Metadata)
	}
	return out
}

// MetadataCredits returns an explicit credit count from any metadata location.
func (e *WebhookEvent) MetadataCredits() int {
	for _, md := range e.metadataSources() {
		if n := intValue(md["credits"]); n > 0 {
			return n
		}
	}
	return 0
}

// MetadataUserID returns the internal user id from any metadata location.
func (e *WebhookEvent) MetadataUserID() string {
	for _, md := range e.metadataSources() {
		for _, key := range []string{"userId", "user_id"} {
			if s := stringValue(md[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

// CustomerEmail returns the payer email from any customer or metadata location.
func (e *WebhookEvent) CustomerEmail() string {
	if b := e.Data.Billing; b != nil && b.Customer != nil && b.Customer.Metadata.Email != "" {
		return strings.TrimSpace(b.Customer.Metadata.Email)
	}
	if p := e.Data.PixQrCode; p != nil && p.Customer != nil && p.Customer.Metadata.Email != "" {
		return strings.TrimSpace(p.Customer.Metadata.Email)
	}
	for _, md := range e.metadataSources() {
		if s := stringValue(md["email"]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	}
	return 0
}
