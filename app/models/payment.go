package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Provider string

const (
	ProviderStripe     Provider = "stripe"
	ProviderAbacatePay Provider = "abacatepay"
)

// Payment is an AbacatePay bill recorded when checkout was created.
type Payment struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	BillID   string             `bson:"billId" json:"billId"`
	UserID   string             `bson:"userId,omitempty" json:"userId,omitempty"`
	Credits  int                `bson:"credits,omitempty" json:"credits,omitempty"`
	Amount   int64              `bson:"amount" json:"amount"`
	Currency string             `bson:"currency,omitempty" json:"currency,omitempty"`
	Status   string             `bson:"status,omitempty" json:"status,omitempty"`
}

// PendingPayment is a paid checkout that could not be matched to a user.
// Operators resolve these by hand.
type PendingPayment struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Provider  Provider           `bson:"provider" json:"provider"`
	SessionID string             `bson:"sessionId" json:"sessionId"`
	Email     *string            `bson:"email" json:"email"`
	Amount    int64              `bson:"amount" json:"amount"`
	Credits   int                `bson:"credits" json:"credits"`
	Currency  string             `bson:"currency" json:"currency"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	Resolved  bool               `bson:"resolved" json:"resolved"`
}

// EmailMismatch records a payment whose email differs from the account it was credited to.
type EmailMismatch struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"userId" json:"userId"`
	AccountEmail string             `bson:"accountEmail" json:"accountEmail"`
	PaymentEmail string             `bson:"paymentEmail" json:"paymentEmail"`
	SessionID    string             `bson:"sessionId" json:"sessionId"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
}

type EventState string

const (
	EventProcessing EventState = "processing"
	EventCompleted  EventState = "completed"
)

// ProcessedEvent is a ledger entry keyed by provider and provider event id.
type ProcessedEvent struct {
	Key         string     `bson:"_id" json:"key"`
	Provider    Provider   `bson:"provider" json:"provider"`
	EventID     string     `bson:"eventId" json:"eventId"`
	EventType   string     `bson:"eventType" json:"eventType"`
	State       EventState `bson:"state" json:"state"`
	ClaimedAt   time.Time  `bson:"claimedAt" json:"claimedAt"`
	CompletedAt *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// EventKey builds the ledger key for a provider event.
func EventKey(provider Provider, eventID string) string {
	return string(provider) + ":" + eventID
}
