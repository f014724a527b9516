// Package billing wraps the payment provider behind a small interface so the
// subscription service can be exercised without network access.
package billing

import (
	"context"
	"errors"
	"time"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventSubscriptionUpdated = "customer.subscription.updated"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	PlanType   string
	UserID     string
	SuccessURL string
	CancelURL  string
}

// SubscriptionInfo is the provider's view of a subscription.
type SubscriptionInfo struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	Metadata           map[string]string
	StartDate          time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAt           *time.Time
	CancelAtPeriodEnd  bool
}

type Price struct {
	ID       string
	Amount   float64
	Currency string
	Interval string
}

// Event is a verified webhook event. Subscription is set for
// customer.subscription.* events; SubscriptionID and CustomerID are set for
// invoice and checkout events.
type Event struct {
	ID             string
	Type           string
	Subscription   *SubscriptionInfo
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}

type Provider interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	GetSubscription(ctx context.Context, id string) (*SubscriptionInfo, error)
	GetPrice(ctx context.Context, id string) (*Price, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
