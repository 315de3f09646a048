package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"stripehooks/internal"

	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// SignatureHeader is the provider-defined HMAC signature header.
const SignatureHeader = "Stripe-Signature"

// VerificationError reports a rejected delivery: malformed or missing
// signature, wrong secret, or stale timestamp. The request is rejected
// before any handler runs; the provider's own retry schedule handles
// redelivery.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// StripeVerifier validates signed payloads against the endpoint signing
// secret. Verification operates on the exact raw bytes received; any
// re-serialization before this point invalidates the signature.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier builds a verifier. A positive tolerance bounds the
// accepted timestamp skew; zero keeps the SDK default; a negative value
// disables the timestamp check entirely.
func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

// Verify either returns the parsed event or fails with a VerificationError.
func (v *StripeVerifier) Verify(rawBody []byte, sigHeader string) (stripe.Event, error) {
	if strings.TrimSpace(v.secret) == "" {
		return stripe.Event{}, &VerificationError{Reason: "webhook secret is not configured"}
	}
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, &VerificationError{Reason: "missing " + SignatureHeader + " header"}
	}

	// The provider pins events to the API version the endpoint was created
	// with, which rarely matches the SDK's pinned version. The signature
	// check is unaffected, so version drift is not treated as a failure.
	opts := stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	switch {
	case v.tolerance > 0:
		opts.Tolerance = v.tolerance
	case v.tolerance < 0:
		opts.IgnoreTolerance = true
	}
	event, err := stripewebhook.ConstructEventWithOptions(rawBody, sigHeader, v.secret, opts)
	if err != nil {
		return stripe.Event{}, &VerificationError{Reason: "signature verification failed", Err: err}
	}
	return event, nil
}

// StripeHandler is the webhook ingestion gateway. A request moves through
// verification, single-handler dispatch, and acknowledgment within one
// request lifetime; nothing is persisted between those transitions.
type StripeHandler struct {
	verifier   *StripeVerifier
	dispatcher *Dispatcher
	maxBody    int64
	logger     *log.Logger
}

func NewStripeHandler(verifier *StripeVerifier, dispatcher *Dispatcher, maxBody int64, logger *log.Logger) (*StripeHandler, error) {
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	if logger == nil {
		logger = log.Default()
	}
	return &StripeHandler{verifier: verifier, dispatcher: dispatcher, maxBody: maxBody, logger: logger}, nil
}

func (h *StripeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	internal.IncRequest(r.URL.Path)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Webhook Error: failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.Verify(rawBody, r.Header.Get(SignatureHeader))
	if err != nil {
		internal.IncVerifyError("stripe")
		h.logger.Printf("stripe verify failed: %v", err)
		http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	rawObject, data := rawObjectAndFlatten(event.Data.Raw)
	envelope := internal.Event{
		Provider:   "stripe",
		Name:       string(event.Type),
		ID:         event.ID,
		Created:    event.Created,
		Data:       data,
		RawPayload: rawBody,
		RawObject:  rawObject,
	}

	if err := h.dispatcher.Dispatch(r.Context(), envelope, event.Data.Raw); err != nil {
		internal.IncHandlerError(string(event.Type))
		h.logger.Printf("stripe handler failed for %s (%s): %v", event.Type, event.ID, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Webhook handler failed"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
