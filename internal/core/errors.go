package core

import "errors"

// Operation failures surfaced to the requesting connection as typed
// error events. Lookup misses (ErrTransportMissing, ErrProducerMissing)
// are always local to one request and never affect other participants.
var (
	ErrRouterCreationFailed    = errors.New("routing context creation failed")
	ErrTransportMissing        = errors.New("transport not found")
	ErrTransportCreationFailed = errors.New("transport creation failed")
	ErrProducerMissing         = errors.New("producer not found")
	ErrProduceFailed           = errors.New("produce failed")
	ErrConsumeFailed           = errors.New("consume failed")
	ErrInvalidLink             = errors.New("invalid share link")
	ErrMalformedCandidate      = errors.New("malformed ICE candidate")

	// ErrEngineFatal marks operations against a routing context whose
	// engine worker died. Non-recoverable for those contexts.
	ErrEngineFatal = errors.New("engine worker failed")
)
