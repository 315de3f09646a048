package storage

import (
	"context"
	"time"
)

// Payment record kinds, mirroring the provider object that produced them.
const (
	PaymentKindCheckout = "checkout"
	PaymentKindIntent   = "payment_intent"
	PaymentKindInvoice  = "invoice"
)

// PaymentRecord stores one logical payment outcome: a completed checkout
// session, a payment intent result, or a recurring invoice result. Records
// are keyed by (provider, kind, payment id) so a redelivered event
// overwrites rather than duplicates.
type PaymentRecord struct {
	Provider       string
	Kind           string
	PaymentID      string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	Amount         int64
	Currency       string
	Status         string
	FailureReason  string
	Dunning        bool
	MetadataJSON   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubscriptionRecord stores the latest known subscription state. Writes are
// last-write-wins; the gateway applies events in arrival order.
type SubscriptionRecord struct {
	Provider           string
	SubscriptionID     string
	CustomerID         string
	Status             string
	PriceID            string
	Quantity           int64
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	TerminatedAt       *time.Time
	MetadataJSON       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PaymentFilter selects payment rows.
type PaymentFilter struct {
	Provider       string
	Kind           string
	CustomerID     string
	SubscriptionID string
	Status         string
	Dunning        *bool
}

// PaymentStore defines the persistence interface for payment records.
type PaymentStore interface {
	UpsertPayment(ctx context.Context, record PaymentRecord) error
	GetPayment(ctx context.Context, provider, kind, paymentID string) (*PaymentRecord, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRecord, error)
	Close() error
}

// SubscriptionStore defines persistence for subscription state.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, record SubscriptionRecord) error
	MarkTerminated(ctx context.Context, provider, subscriptionID string, endedAt time.Time) error
	GetSubscription(ctx context.Context, provider, subscriptionID string) (*SubscriptionRecord, error)
	ListSubscriptions(ctx context.Context, provider, customerID string) ([]SubscriptionRecord, error)
	Close() error
}
