package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"stripehooks/internal"
	"stripehooks/pkg/storage"
)

// Recorder implements the per-event-type side effects against the
// persistence/notification sink. Every write is an idempotent upsert keyed
// by the provider-assigned id, so at-least-once delivery results in one
// logical record. Stores and notifier are optional; without them a handler
// degrades to a log line, matching a sink-less deployment.
type Recorder struct {
	Payments      storage.PaymentStore
	Subscriptions storage.SubscriptionStore
	Notifier      internal.Publisher
	Rules         *internal.RuleEngine
	Logger        *log.Logger
}

// Register wires the recognized event types into the dispatcher.
func (rec *Recorder) Register(d *Dispatcher) {
	d.Handle("checkout.session.completed", rec.CheckoutSessionCompleted)
	d.Handle("payment_intent.succeeded", rec.PaymentIntentSucceeded)
	d.Handle("payment_intent.payment_failed", rec.PaymentIntentFailed)
	d.Handle("customer.subscription.created", rec.SubscriptionChanged)
	d.Handle("customer.subscription.updated", rec.SubscriptionChanged)
	d.Handle("customer.subscription.deleted", rec.SubscriptionDeleted)
	d.Handle("invoice.payment_succeeded", rec.InvoicePaymentSucceeded)
	d.Handle("invoice.payment_failed", rec.InvoicePaymentFailed)
}

// Local payload shapes: decoding only the fields the handlers read keeps
// the gateway tolerant of provider API version drift.

type checkoutSession struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Subscription  string            `json:"subscription"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

type paymentIntent struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type subscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Quantity           int64 `json:"quantity"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	EndedAt            int64             `json:"ended_at"`
	Metadata           map[string]string `json:"metadata"`
}

type invoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
}

// CheckoutSessionCompleted records a completed payment: session id, payer
// identity, amount, currency, metadata.
func (rec *Recorder) CheckoutSessionCompleted(ctx context.Context, event internal.Event, object json.RawMessage) error {
	var session checkoutSession
	if err := json.Unmarshal(object, &session); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	email := session.CustomerEmail
	if email == "" {
		email = session.CustomerDetails.Email
	}
	record := storage.PaymentRecord{
		Provider:       event.Provider,
		Kind:           storage.PaymentKindCheckout,
		PaymentID:      session.ID,
		CustomerID:     session.Customer,
		CustomerEmail:  email,
		SubscriptionID: session.Subscription,
		Amount:         session.AmountTotal,
		Currency:       session.Currency,
		Status:         "succeeded",
		MetadataJSON:   encodeMetadata(session.Metadata),
	}
	if err := rec.upsertPayment(ctx, record); err != nil {
		return err
	}
	rec.notify(ctx, event)
	return nil
}

// PaymentIntentSucceeded records payment success for the intent id.
func (rec *Recorder) PaymentIntentSucceeded(ctx context.Context, event internal.Event, object json.RawMessage) error {
	var intent paymentIntent
	if err := json.Unmarshal(object, &intent); err != nil {
		return fmt.Errorf("decode payment intent: %w", err)
	}
	record := storage.PaymentRecord{
		Provider:   event.Provider,
		Kind:       storage.PaymentKindIntent,
		PaymentID:  intent.ID,
		CustomerID: intent.Customer,
		Amount:     intent.Amount,
		Currency:   intent.Currency,
		Status:     "succeeded",
	}
	if err := rec.upsertPayment(ctx, record); err != nil {
		return err
	}
	rec.notify(ctx, event)
	return nil
}

// PaymentIntentFailed records the failure reason for the intent id.
func (rec *Recorder) PaymentIntentFailed(ctx context.Context, event internal.Event, object json.RawMessage) error {
	var intent paymentIntent
	if err := json.Unmarshal(object, &intent); err != nil {
		return fmt.Errorf("decode payment intent: %w", err)
	}
	record := storage.PaymentRecord{
		Provider:      event.Provider,
		Kind:          storage.PaymentKindIntent,
		PaymentID:     intent.ID,
		CustomerID:    intent.Customer,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Status:        "failed",
		FailureReason: intent.LastPaymentError.Message,
	}
	if err := rec.upsertPayment(ctx, record); err != nil {
		return err
	}
	rec.notify(ctx, event)
	return nil
}

// SubscriptionChanged overwrites the recorded subscription state with the
// latest status and period fields. Created and updated events share this
// path: writes are last-write-wins, so out-of-order delivery never needs
// reconciliation.
func (rec *Recorder) SubscriptionChanged(ctx context.Context, event internal.Event, object json.RawMessage) error {
	var sub subscription
	if err := json.Unmarshal(object, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	record := storage.SubscriptionRecord{
		Provider:           event.Provider,
		SubscriptionID:     sub.ID,
		CustomerID:         sub.Customer,
		Status:             sub.Status,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		MetadataJSON:       encodeMetadata(sub.Metadata),
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		record.PriceID = item.Price.ID
		record.Quantity = item.Quantity
		if record.CurrentPeriodStart == nil {
			record.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		}
		if record.CurrentPeriodEnd == nil {
			record.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}
	if err := rec.upsertSubscription(ctx, record); err != nil {
		return err
	}
	rec.notify(ctx, event)
	return nil
}

// SubscriptionDeleted marks the recorded subscription as terminated.
func (rec *Recorder) SubscriptionDeleted(ctx context.Context, event internal.Event, object json.RawMessage) error {
	var sub subscription
	if err := json.Unmarshal(object, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	if rec.Subscriptions == nil {
		rec.logf("subscription terminated (no store): %s", sub.ID)
		rec.notify(ctx, event)
		return nil
	}
	endedAt := time.Now().UTC()
	if sub.EndedAt > 0 {
		endedAt = time.Unix(sub.EndedAt, 0).UTC()
	}
	if err := rec.Subscriptions.MarkTerminated(ctx, event.Provider, sub.ID, endedAt); err != nil {
		return err
	}
	internal.IncRecordUpsert("subscription")
	rec.notify(ctx, event)
	return nil
}

// InvoicePaymentSucceeded records a recurring-payment success.
func (rec *Recorder) InvoicePaymentSucceeded(ctx context.Context, event internal.Event, object json.RawMessage) error {
	var inv invoice
	if err := json.Unmarshal(object, &inv); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	record := storage.PaymentRecord{
		Provider:       event.Provider,
		Kind:           storage.PaymentKindInvoice,
		PaymentID:      inv.ID,
		CustomerID:     inv.Customer,
		CustomerEmail:  inv.CustomerEmail,
		SubscriptionID: inv.Subscription,
		Amount:         inv.AmountPaid,
		Currency:       inv.Currency,
		Status:         "succeeded",
	}
	if err := rec.upsertPayment(ctx, record); err != nil {
		return err
	}
	rec.notify(ctx, event)
	return nil
}

// InvoicePaymentFailed records a recurring-payment failure and flags it for
// dunning.
func (rec *Recorder) InvoicePaymentFailed(ctx context.Context, event internal.Event, object json.RawMessage) error {
	var inv invoice
	if err := json.Unmarshal(object, &inv); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	record := storage.PaymentRecord{
		Provider:       event.Provider,
		Kind:           storage.PaymentKindInvoice,
		PaymentID:      inv.ID,
		CustomerID:     inv.Customer,
		CustomerEmail:  inv.CustomerEmail,
		SubscriptionID: inv.Subscription,
		Amount:         inv.AmountDue,
		Currency:       inv.Currency,
		Status:         "failed",
		Dunning:        true,
	}
	if err := rec.upsertPayment(ctx, record); err != nil {
		return err
	}
	rec.notify(ctx, event)
	return nil
}

func (rec *Recorder) upsertPayment(ctx context.Context, record storage.PaymentRecord) error {
	if rec.Payments == nil {
		rec.logf("payment %s %s %s amount=%d %s status=%s (no store)",
			record.Kind, record.PaymentID, record.CustomerID, record.Amount, record.Currency, record.Status)
		return nil
	}
	if err := rec.Payments.UpsertPayment(ctx, record); err != nil {
		return fmt.Errorf("upsert payment %s: %w", record.PaymentID, err)
	}
	internal.IncRecordUpsert("payment")
	return nil
}

func (rec *Recorder) upsertSubscription(ctx context.Context, record storage.SubscriptionRecord) error {
	if rec.Subscriptions == nil {
		rec.logf("subscription %s customer=%s status=%s (no store)",
			record.SubscriptionID, record.CustomerID, record.Status)
		return nil
	}
	if err := rec.Subscriptions.UpsertSubscription(ctx, record); err != nil {
		return fmt.Errorf("upsert subscription %s: %w", record.SubscriptionID, err)
	}
	internal.IncRecordUpsert("subscription")
	return nil
}

// notify publishes the envelope to every rule-matched topic. Notification is
// best effort: a failed publish is logged and counted, not surfaced as a
// handler failure, since the durable write already happened.
func (rec *Recorder) notify(ctx context.Context, event internal.Event) {
	if rec.Rules == nil || rec.Notifier == nil {
		return
	}
	matches := rec.Rules.Evaluate(event)
	for _, match := range matches {
		if err := rec.Notifier.PublishForDrivers(ctx, match.Topic, event, match.Drivers); err != nil {
			rec.logf("publish %s failed: %v", match.Topic, err)
		}
	}
}

func (rec *Recorder) logf(format string, args ...interface{}) {
	if rec.Logger != nil {
		rec.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func encodeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func unixTime(value int64) *time.Time {
	if value <= 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}
