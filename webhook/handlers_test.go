package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"stripehooks/internal"
	"stripehooks/pkg/storage"
)

// stubPaymentStore is an in-memory payment store for testing.
type stubPaymentStore struct {
	mu      sync.Mutex
	records map[string]storage.PaymentRecord
	upserts int
	err     error
}

func newStubPaymentStore() *stubPaymentStore {
	return &stubPaymentStore{records: make(map[string]storage.PaymentRecord)}
}

func (s *stubPaymentStore) key(provider, kind, paymentID string) string {
	return provider + "|" + kind + "|" + paymentID
}

func (s *stubPaymentStore) UpsertPayment(ctx context.Context, record storage.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.upserts++
	s.records[s.key(record.Provider, record.Kind, record.PaymentID)] = record
	return nil
}

func (s *stubPaymentStore) GetPayment(ctx context.Context, provider, kind, paymentID string) (*storage.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[s.key(provider, kind, paymentID)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *stubPaymentStore) ListPayments(ctx context.Context, filter storage.PaymentFilter) ([]storage.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.PaymentRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out, nil
}

func (s *stubPaymentStore) Close() error { return nil }

// stubSubscriptionStore is an in-memory subscription store for testing.
type stubSubscriptionStore struct {
	mu      sync.Mutex
	records map[string]storage.SubscriptionRecord
	upserts int
}

func newStubSubscriptionStore() *stubSubscriptionStore {
	return &stubSubscriptionStore{records: make(map[string]storage.SubscriptionRecord)}
}

func (s *stubSubscriptionStore) UpsertSubscription(ctx context.Context, record storage.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.records[record.Provider+"|"+record.SubscriptionID] = record
	return nil
}

func (s *stubSubscriptionStore) MarkTerminated(ctx context.Context, provider, subscriptionID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[provider+"|"+subscriptionID]
	record.Provider = provider
	record.SubscriptionID = subscriptionID
	record.Status = "canceled"
	record.TerminatedAt = &endedAt
	s.records[provider+"|"+subscriptionID] = record
	return nil
}

func (s *stubSubscriptionStore) GetSubscription(ctx context.Context, provider, subscriptionID string) (*storage.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[provider+"|"+subscriptionID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *stubSubscriptionStore) ListSubscriptions(ctx context.Context, provider, customerID string) ([]storage.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.SubscriptionRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.CustomerID == customerID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *stubSubscriptionStore) Close() error { return nil }

func stripeEvent(name, id string) internal.Event {
	return internal.Event{Provider: "stripe", Name: name, ID: id}
}

// TestCheckoutSessionCompleted tests that a completed checkout session is recorded.
func TestCheckoutSessionCompleted(t *testing.T) {
	payments := newStubPaymentStore()
	rec := &Recorder{Payments: payments}

	object := json.RawMessage(`{
		"id": "cs_1",
		"customer": "cus_1",
		"customer_details": {"email": "jo@example.com"},
		"subscription": "sub_1",
		"amount_total": 2500,
		"currency": "usd",
		"metadata": {"plan": "premium"}
	}`)

	if err := rec.CheckoutSessionCompleted(context.Background(), stripeEvent("checkout.session.completed", "evt_1"), object); err != nil {
		t.Fatalf("checkout session completed: %v", err)
	}

	record, err := payments.GetPayment(context.Background(), "stripe", storage.PaymentKindCheckout, "cs_1")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if record == nil {
		t.Fatalf("expected payment record for cs_1")
	}
	if record.Amount != 2500 || record.Currency != "usd" {
		t.Fatalf("unexpected amount/currency: %d %s", record.Amount, record.Currency)
	}
	if record.CustomerEmail != "jo@example.com" {
		t.Fatalf("expected email from customer_details, got %q", record.CustomerEmail)
	}
	if record.Status != "succeeded" {
		t.Fatalf("expected status succeeded, got %q", record.Status)
	}
}

// TestPaymentIntentRedelivery tests that a redelivered event overwrites rather than duplicates.
func TestPaymentIntentRedelivery(t *testing.T) {
	payments := newStubPaymentStore()
	rec := &Recorder{Payments: payments}

	object := json.RawMessage(`{"id":"pi_1","customer":"cus_1","amount":5000,"currency":"usd"}`)
	event := stripeEvent("payment_intent.succeeded", "evt_1")

	if err := rec.PaymentIntentSucceeded(context.Background(), event, object); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := rec.PaymentIntentSucceeded(context.Background(), event, object); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(payments.records) != 1 {
		t.Fatalf("expected 1 record after redelivery, got %d", len(payments.records))
	}
	if payments.upserts != 2 {
		t.Fatalf("expected 2 upserts, got %d", payments.upserts)
	}
}

// TestPaymentIntentFailedReason tests that the failure reason is recorded.
func TestPaymentIntentFailedReason(t *testing.T) {
	payments := newStubPaymentStore()
	rec := &Recorder{Payments: payments}

	object := json.RawMessage(`{
		"id": "pi_2",
		"amount": 900,
		"currency": "eur",
		"last_payment_error": {"message": "card_declined"}
	}`)

	if err := rec.PaymentIntentFailed(context.Background(), stripeEvent("payment_intent.payment_failed", "evt_2"), object); err != nil {
		t.Fatalf("payment intent failed: %v", err)
	}

	record, _ := payments.GetPayment(context.Background(), "stripe", storage.PaymentKindIntent, "pi_2")
	if record == nil {
		t.Fatalf("expected payment record for pi_2")
	}
	if record.Status != "failed" || record.FailureReason != "card_declined" {
		t.Fatalf("unexpected status/reason: %q %q", record.Status, record.FailureReason)
	}
}

// TestSubscriptionChangedLastWriteWins tests that created and updated events share one record.
func TestSubscriptionChangedLastWriteWins(t *testing.T) {
	subs := newStubSubscriptionStore()
	rec := &Recorder{Subscriptions: subs}

	created := json.RawMessage(`{
		"id": "sub_1",
		"customer": "cus_1",
		"status": "trialing",
		"items": {"data": [{"price": {"id": "price_1"}, "quantity": 1}]},
		"current_period_start": 1700000000,
		"current_period_end": 1702592000
	}`)
	updated := json.RawMessage(`{
		"id": "sub_1",
		"customer": "cus_1",
		"status": "active",
		"items": {"data": [{"price": {"id": "price_2"}, "quantity": 2}]},
		"current_period_start": 1702592000,
		"current_period_end": 1705270400
	}`)

	// Updated arrives before created; the later write simply overwrites.
	if err := rec.SubscriptionChanged(context.Background(), stripeEvent("customer.subscription.updated", "evt_4"), updated); err != nil {
		t.Fatalf("subscription updated: %v", err)
	}
	if err := rec.SubscriptionChanged(context.Background(), stripeEvent("customer.subscription.created", "evt_3"), created); err != nil {
		t.Fatalf("subscription created: %v", err)
	}

	if len(subs.records) != 1 {
		t.Fatalf("expected 1 subscription record, got %d", len(subs.records))
	}
	record, _ := subs.GetSubscription(context.Background(), "stripe", "sub_1")
	if record.Status != "trialing" || record.PriceID != "price_1" {
		t.Fatalf("expected last write to win, got status=%q price=%q", record.Status, record.PriceID)
	}
}

// TestSubscriptionDeletedBeforeCreated tests that deletion lands even when no record exists yet.
func TestSubscriptionDeletedBeforeCreated(t *testing.T) {
	subs := newStubSubscriptionStore()
	rec := &Recorder{Subscriptions: subs}

	object := json.RawMessage(`{"id":"sub_9","customer":"cus_9","status":"canceled","ended_at":1700000000}`)
	if err := rec.SubscriptionDeleted(context.Background(), stripeEvent("customer.subscription.deleted", "evt_5"), object); err != nil {
		t.Fatalf("subscription deleted: %v", err)
	}

	record, _ := subs.GetSubscription(context.Background(), "stripe", "sub_9")
	if record == nil {
		t.Fatalf("expected terminated record for sub_9")
	}
	if record.Status != "canceled" || record.TerminatedAt == nil {
		t.Fatalf("expected canceled with terminated_at, got %q %v", record.Status, record.TerminatedAt)
	}
}

// TestInvoicePaymentFailedFlagsDunning tests that a failed invoice is flagged for dunning.
func TestInvoicePaymentFailedFlagsDunning(t *testing.T) {
	payments := newStubPaymentStore()
	rec := &Recorder{Payments: payments}

	object := json.RawMessage(`{
		"id": "in_1",
		"customer": "cus_1",
		"subscription": "sub_1",
		"amount_due": 1500,
		"currency": "usd"
	}`)

	if err := rec.InvoicePaymentFailed(context.Background(), stripeEvent("invoice.payment_failed", "evt_6"), object); err != nil {
		t.Fatalf("invoice payment failed: %v", err)
	}

	record, _ := payments.GetPayment(context.Background(), "stripe", storage.PaymentKindInvoice, "in_1")
	if record == nil {
		t.Fatalf("expected payment record for in_1")
	}
	if !record.Dunning {
		t.Fatalf("expected failed invoice to be flagged for dunning")
	}
	if record.Amount != 1500 || record.Status != "failed" {
		t.Fatalf("unexpected amount/status: %d %q", record.Amount, record.Status)
	}
}

// TestHandlerWithoutStores tests that handlers degrade to log lines without stores.
func TestHandlerWithoutStores(t *testing.T) {
	rec := &Recorder{}
	object := json.RawMessage(`{"id":"pi_3","amount":100,"currency":"usd"}`)
	if err := rec.PaymentIntentSucceeded(context.Background(), stripeEvent("payment_intent.succeeded", "evt_7"), object); err != nil {
		t.Fatalf("expected nil error without stores, got %v", err)
	}
}

// TestHandlerStoreError tests that a store failure propagates to the dispatcher.
func TestHandlerStoreError(t *testing.T) {
	payments := newStubPaymentStore()
	payments.err = errors.New("db down")
	rec := &Recorder{Payments: payments}

	object := json.RawMessage(`{"id":"pi_4","amount":100,"currency":"usd"}`)
	err := rec.PaymentIntentSucceeded(context.Background(), stripeEvent("payment_intent.succeeded", "evt_8"), object)
	if err == nil {
		t.Fatalf("expected store error to propagate")
	}
}

// TestNotifyPublishesMatchedTopics tests that matched rules publish to the notifier.
func TestNotifyPublishesMatchedTopics(t *testing.T) {
	engine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules: []internal.Rule{
			{When: "name == \"invoice.payment_failed\"", Emit: "billing.payment.failed"},
		},
	})
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	notifier := &stubNotifier{}
	rec := &Recorder{Notifier: notifier, Rules: engine}

	object := json.RawMessage(`{"id":"in_2","amount_due":700,"currency":"usd"}`)
	if err := rec.InvoicePaymentFailed(context.Background(), stripeEvent("invoice.payment_failed", "evt_9"), object); err != nil {
		t.Fatalf("invoice payment failed: %v", err)
	}

	if notifier.published != 1 || notifier.lastTopic != "billing.payment.failed" {
		t.Fatalf("expected one publish to billing.payment.failed, got %d to %q", notifier.published, notifier.lastTopic)
	}
}

// TestNotifyFailureIsBestEffort tests that a failed publish does not fail the handler.
func TestNotifyFailureIsBestEffort(t *testing.T) {
	engine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules: []internal.Rule{
			{When: "name == \"payment_intent.succeeded\"", Emit: "billing.payment.succeeded"},
		},
	})
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	notifier := &stubNotifier{err: errors.New("broker down")}
	payments := newStubPaymentStore()
	rec := &Recorder{Payments: payments, Notifier: notifier, Rules: engine}

	object := json.RawMessage(`{"id":"pi_5","amount":100,"currency":"usd"}`)
	if err := rec.PaymentIntentSucceeded(context.Background(), stripeEvent("payment_intent.succeeded", "evt_10"), object); err != nil {
		t.Fatalf("expected publish failure to be swallowed, got %v", err)
	}
	if payments.upserts != 1 {
		t.Fatalf("expected record to be written despite publish failure")
	}
}

// stubNotifier is a mock publisher for testing.
type stubNotifier struct {
	published int
	lastTopic string
	err       error
}

func (s *stubNotifier) Publish(ctx context.Context, topic string, event internal.Event) error {
	return s.PublishForDrivers(ctx, topic, event, nil)
}

func (s *stubNotifier) PublishForDrivers(ctx context.Context, topic string, event internal.Event, drivers []string) error {
	if s.err != nil {
		return s.err
	}
	s.published++
	s.lastTopic = topic
	return nil
}

func (s *stubNotifier) Close() error { return nil }
