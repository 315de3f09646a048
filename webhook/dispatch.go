package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"stripehooks/internal"
)

// HandlerError reports a failed event handler. The whole delivery is the
// unit of retry, so the gateway surfaces it as HTTP 500 and the provider
// redelivers the event; handlers must be safe to re-run.
type HandlerError struct {
	EventType string
	EventID   string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s (%s): %v", e.EventType, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// HandlerFunc processes one verified event. object holds the event-type
// specific payload (the provider's `data.object`), undecoded.
type HandlerFunc func(ctx context.Context, event internal.Event, object json.RawMessage) error

// Dispatcher maps event types to handlers. The registry is built at process
// start and never mutated afterwards; unknown types fall through to a
// log-only default that always succeeds, keeping the gateway forward
// compatible with new provider event types.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *log.Logger
}

func NewDispatcher(logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers a handler for an event type. Later registrations for the
// same type replace earlier ones.
func (d *Dispatcher) Handle(eventType string, h HandlerFunc) {
	if eventType == "" || h == nil {
		return
	}
	d.handlers[eventType] = h
}

// Dispatch invokes exactly one handler for the event and propagates its
// outcome. No compensation is attempted on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, event internal.Event, object json.RawMessage) error {
	handler, ok := d.handlers[event.Name]
	if !ok {
		internal.IncUnhandledEvent(event.Name)
		d.logger.Printf("unhandled event type %s (%s)", event.Name, event.ID)
		return nil
	}
	if err := handler(ctx, event, object); err != nil {
		return &HandlerError{EventType: event.Name, EventID: event.ID, Err: err}
	}
	return nil
}
