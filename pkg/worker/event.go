package worker

import "encoding/json"

// Event represents a message received by the worker.
type Event struct {
	// Provider is the name of the payment provider (e.g., "stripe").
	Provider string `json:"provider"`
	// Type is the provider event name (e.g., "invoice.payment_failed").
	Type string `json:"type"`
	// EventID is the provider-assigned delivery id used for deduplication.
	EventID string `json:"event_id"`
	// Topic is the name of the topic the message was received on.
	Topic string `json:"topic"`
	// Metadata contains message-broker-specific metadata.
	Metadata map[string]string `json:"metadata"`
	// Payload is the raw JSON payload of the message.
	Payload json.RawMessage `json:"payload"`
	// Normalized is the decoded JSON payload of the event.
	Normalized map[string]interface{} `json:"normalized"`
}
