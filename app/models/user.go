// Package models defines the documents the billing webhooks read and write.
package models

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned by the store when no document matches a lookup.
var ErrNotFound = errors.New("not found")

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionFree     SubscriptionStatus = "free"
)

const (
	TierFree    = "free"
	TierPremium = "premium"
	TierPro     = "pro"
)

// User is an account holder. Only the billing-relevant fields are mapped.
type User struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email                string             `bson:"email" json:"email"`
	Name                 string             `bson:"name,omitempty" json:"name,omitempty"`
	StripeCustomerID     *string            `bson:"stripeCustomerId,omitempty" json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID *string            `bson:"stripeSubscriptionId,omitempty" json:"stripeSubscriptionId,omitempty"`
	SubscriptionStatus   SubscriptionStatus `bson:"subscriptionStatus,omitempty" json:"subscriptionStatus,omitempty"`
	SubscriptionTier     string             `bson:"subscriptionTier,omitempty" json:"subscriptionTier,omitempty"`
	SubscriptionEndDate  *time.Time         `bson:"subscriptionEndDate,omitempty" json:"subscriptionEndDate,omitempty"`
	MonthlyCredits       int                `bson:"monthlyCredits" json:"monthlyCredits"`
	CreditsUsed          int                `bson:"creditsUsed" json:"creditsUsed"`
	CreditsResetDate     *time.Time         `bson:"creditsResetDate,omitempty" json:"creditsResetDate,omitempty"`
	TotalCreditsEarned   int                `bson:"totalCreditsEarned" json:"totalCreditsEarned"`
}

// CustomerID returns the stored Stripe customer id or "".
func (u *User) CustomerID() string {
	if u == nil || u.StripeCustomerID == nil {
		return ""
	}
	return *u.StripeCustomerID
}

// SubscriptionGrant is the overwrite applied when a subscription checkout completes.
type SubscriptionGrant struct {
	Tier           string
	SubscriptionID string
	CustomerID     string
	EndDate        time.Time
	MonthlyCredits int
	ResetDate      time.Time
}
