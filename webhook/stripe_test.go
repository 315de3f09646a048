package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"stripehooks/pkg/storage"
)

const testSecret = "whsec_test_secret"

func signBody(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	payload := []byte(strconv.FormatInt(timestamp, 10) + ".")
	payload = append(payload, body...)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "t="+strconv.FormatInt(ts, 10)+",v1="+signBody(testSecret, ts, body))
	return req
}

func newTestHandler(t *testing.T, rec *Recorder) *StripeHandler {
	t.Helper()
	dispatcher := NewDispatcher(nil)
	rec.Register(dispatcher)
	verifier := NewStripeVerifier(testSecret, 300*time.Second)
	handler, err := NewStripeHandler(verifier, dispatcher, 1<<20, nil)
	if err != nil {
		t.Fatalf("new stripe handler: %v", err)
	}
	return handler
}

// TestStripeHandlerValidEvent tests the full ingestion path for a signed payment event.
func TestStripeHandlerValidEvent(t *testing.T) {
	payments := newStubPaymentStore()
	handler := newTestHandler(t, &Recorder{Payments: payments})

	body := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"created": 1700000000,
		"data": {"object": {"id": "pi_1", "customer": "cus_1", "amount": 5000, "currency": "usd"}}
	}`)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, signedRequest(t, body))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var ack map[string]bool
	if err := json.Unmarshal(res.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack["received"] {
		t.Fatalf("expected received=true ack, got %s", res.Body.String())
	}

	record, _ := payments.GetPayment(context.Background(), "stripe", storage.PaymentKindIntent, "pi_1")
	if record == nil {
		t.Fatalf("expected recorded payment for pi_1")
	}
	if record.Amount != 5000 || record.Status != "succeeded" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

// TestStripeHandlerMissingSignature tests that a missing signature header is rejected.
func TestStripeHandlerMissingSignature(t *testing.T) {
	handler := newTestHandler(t, &Recorder{})

	body := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.HasPrefix(res.Body.String(), "Webhook Error:") {
		t.Fatalf("expected Webhook Error prefix, got %q", res.Body.String())
	}
}

// TestStripeHandlerTamperedPayload tests that a modified body fails verification.
func TestStripeHandlerTamperedPayload(t *testing.T) {
	payments := newStubPaymentStore()
	handler := newTestHandler(t, &Recorder{Payments: payments})

	body := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":5000}}}`)
	ts := time.Now().Unix()
	tampered := bytes.Replace(body, []byte("5000"), []byte("5001"), 1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(tampered))
	req.Header.Set(SignatureHeader, "t="+strconv.FormatInt(ts, 10)+",v1="+signBody(testSecret, ts, body))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for tampered payload, got %d", res.Code)
	}
	if !strings.HasPrefix(res.Body.String(), "Webhook Error:") {
		t.Fatalf("expected Webhook Error prefix, got %q", res.Body.String())
	}
	if payments.upserts != 0 {
		t.Fatalf("expected no writes for rejected delivery")
	}
}

// TestStripeHandlerStaleTimestamp tests that a timestamp outside the tolerance is rejected.
func TestStripeHandlerStaleTimestamp(t *testing.T) {
	handler := newTestHandler(t, &Recorder{})

	body := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)
	ts := time.Now().Add(-time.Hour).Unix()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "t="+strconv.FormatInt(ts, 10)+",v1="+signBody(testSecret, ts, body))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for stale timestamp, got %d", res.Code)
	}
}

// TestStripeHandlerUnknownEventType tests that unrecognized event types are acked without side effects.
func TestStripeHandlerUnknownEventType(t *testing.T) {
	payments := newStubPaymentStore()
	subs := newStubSubscriptionStore()
	handler := newTestHandler(t, &Recorder{Payments: payments, Subscriptions: subs})

	body := []byte(`{
		"id": "evt_2",
		"object": "event",
		"type": "product.created",
		"data": {"object": {"id": "prod_1"}}
	}`)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, signedRequest(t, body))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown type, got %d: %s", res.Code, res.Body.String())
	}
	if payments.upserts != 0 || subs.upserts != 0 {
		t.Fatalf("expected no sink writes for unknown type")
	}
}

// TestStripeHandlerHandlerFailure tests that a failed handler surfaces as HTTP 500.
func TestStripeHandlerHandlerFailure(t *testing.T) {
	payments := newStubPaymentStore()
	payments.err = errors.New("db down")
	handler := newTestHandler(t, &Recorder{Payments: payments})

	body := []byte(`{
		"id": "evt_3",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "amount": 100, "currency": "usd"}}
	}`)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, signedRequest(t, body))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	var reply map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode error reply: %v", err)
	}
	if reply["error"] != "Webhook handler failed" {
		t.Fatalf("unexpected error body: %s", res.Body.String())
	}
}

// TestStripeHandlerMethodNotAllowed tests that non-POST requests are rejected.
func TestStripeHandlerMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, &Recorder{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

// TestVerifierMissingSecret tests that an unconfigured secret always rejects.
func TestVerifierMissingSecret(t *testing.T) {
	verifier := NewStripeVerifier("", 0)
	if _, err := verifier.Verify([]byte(`{}`), "t=1,v1=deadbeef"); err == nil {
		t.Fatalf("expected error when secret is unset")
	}
	var verr *VerificationError
	_, err := verifier.Verify([]byte(`{}`), "t=1,v1=deadbeef")
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %T", err)
	}
}
