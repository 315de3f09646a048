package internal

// Event is the verified envelope for a single webhook delivery.
type Event struct {
	Provider string                 `json:"provider"`
	Name     string                 `json:"name"`
	ID       string                 `json:"id"`
	Created  int64                  `json:"created"`
	Data     map[string]interface{} `json:"data"`
	// RawPayload carries the exact bytes the provider signed. Publishers
	// forward it untouched so downstream consumers can re-parse the
	// original delivery.
	RawPayload []byte      `json:"-"`
	RawObject  interface{} `json:"-"`
}
