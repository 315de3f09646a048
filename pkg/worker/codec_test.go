package worker

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

// TestDefaultCodecDecodesMetadata tests that envelope fields fall back to message metadata.
func TestDefaultCodecDecodesMetadata(t *testing.T) {
	msg := message.NewMessage("1", []byte(`{"id":"evt_1","type":"invoice.payment_failed","data":{"object":{"id":"in_1"}}}`))
	msg.Metadata.Set("provider", "stripe")
	msg.Metadata.Set("event", "invoice.payment_failed")
	msg.Metadata.Set("event_id", "evt_1")

	evt, err := DefaultCodec{}.Decode("billing.payment.failed", msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Provider != "stripe" {
		t.Fatalf("expected provider from metadata, got %q", evt.Provider)
	}
	if evt.Type != "invoice.payment_failed" {
		t.Fatalf("expected type from metadata, got %q", evt.Type)
	}
	if evt.EventID != "evt_1" {
		t.Fatalf("expected event id, got %q", evt.EventID)
	}
	if evt.Topic != "billing.payment.failed" {
		t.Fatalf("expected topic to be set, got %q", evt.Topic)
	}
	if len(evt.Payload) == 0 {
		t.Fatalf("expected raw payload to be carried")
	}
	if evt.Normalized == nil {
		t.Fatalf("expected normalized payload map")
	}
}

// TestDefaultCodecInvalidJSON tests that malformed payloads fail to decode.
func TestDefaultCodecInvalidJSON(t *testing.T) {
	msg := message.NewMessage("1", []byte(`{not-json`))
	if _, err := (DefaultCodec{}).Decode("topic", msg); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}
}
