package worker

import (
	"context"
	"errors"
	"testing"
)

// TestDedupeByEventID tests that repeated event ids are processed once.
func TestDedupeByEventID(t *testing.T) {
	calls := 0
	handler := DedupeByEventID()(func(ctx context.Context, evt *Event) error {
		calls++
		return nil
	})

	evt := &Event{Provider: "stripe", Type: "payment_intent.succeeded", EventID: "evt_1"}
	for i := 0; i < 3; i++ {
		if err := handler(context.Background(), evt); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call for duplicate event, got %d", calls)
	}
}

// TestDedupeAllowsRetryAfterFailure tests that a failed event is not marked as seen.
func TestDedupeAllowsRetryAfterFailure(t *testing.T) {
	calls := 0
	handler := DedupeByEventID()(func(ctx context.Context, evt *Event) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	evt := &Event{EventID: "evt_2"}
	if err := handler(context.Background(), evt); err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

// TestDedupePassesThroughMissingID tests that events without an id are never skipped.
func TestDedupePassesThroughMissingID(t *testing.T) {
	calls := 0
	handler := DedupeByEventID()(func(ctx context.Context, evt *Event) error {
		calls++
		return nil
	})

	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), &Event{}); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every event without an id to pass, got %d calls", calls)
	}
}
