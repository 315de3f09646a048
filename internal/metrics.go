package internal

import "expvar"

var (
	requestsTotal   = expvar.NewMap("stripehooks_requests_total")
	verifyErrors    = expvar.NewMap("stripehooks_verify_errors_total")
	handlerErrors   = expvar.NewMap("stripehooks_handler_errors_total")
	publishErrors   = expvar.NewMap("stripehooks_publish_errors_total")
	recordUpserts   = expvar.NewMap("stripehooks_record_upserts_total")
	unhandledEvents = expvar.NewMap("stripehooks_unhandled_events_total")
)

func IncRequest(path string) {
	requestsTotal.Add(path, 1)
}

func IncVerifyError(provider string) {
	verifyErrors.Add(provider, 1)
}

func IncHandlerError(eventType string) {
	handlerErrors.Add(eventType, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

func IncRecordUpsert(kind string) {
	recordUpserts.Add(kind, 1)
}

func IncUnhandledEvent(eventType string) {
	unhandledEvents.Add(eventType, 1)
}
