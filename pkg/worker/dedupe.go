package worker

import (
	"context"
	"sync"
)

// DedupeByEventID skips events whose provider-assigned id has already been
// processed by this worker. The provider delivers at least once, so
// consumers either dedupe here or make their handlers idempotent. The seen
// set is in-memory only; a restart forgets it, which is safe because the
// downstream writes are upserts.
func DedupeByEventID() Middleware {
	var mu sync.Mutex
	seen := make(map[string]struct{})

	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			if evt == nil || evt.EventID == "" {
				return next(ctx, evt)
			}
			mu.Lock()
			_, dup := seen[evt.EventID]
			if !dup {
				seen[evt.EventID] = struct{}{}
			}
			mu.Unlock()
			if dup {
				return nil
			}
			if err := next(ctx, evt); err != nil {
				mu.Lock()
				delete(seen, evt.EventID)
				mu.Unlock()
				return err
			}
			return nil
		}
	}
}
