package controllers

import (
	"context"
	"log"

	"stripehooks/pkg/worker"
)

// HandlePaymentFailed is where a deployment plugs in dunning emails or a CRM
// update. The boilerplate only logs what it received.
func HandlePaymentFailed(ctx context.Context, evt *worker.Event) error {
	log.Printf("topic=%s provider=%s type=%s event_id=%s", evt.Topic, evt.Provider, evt.Type, evt.EventID)
	return nil
}

// HandleSubscriptionChanged reacts to subscription lifecycle notifications.
func HandleSubscriptionChanged(ctx context.Context, evt *worker.Event) error {
	log.Printf("topic=%s provider=%s type=%s event_id=%s", evt.Topic, evt.Provider, evt.Type, evt.EventID)
	return nil
}
