package core

import (
	"context"
	"encoding/json"
)

// MediaKind discriminates producer streams.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// Engine is the media engine capability provider: an opaque SFU that
// hands out worker/router/transport/producer/consumer primitives.
// The orchestration core never looks inside the handles it gets back;
// capability and parameter payloads are relayed to clients as-is.
type Engine interface {
	CreateWorker(ctx context.Context) (Worker, error)
	CreateRouter(ctx context.Context, w Worker) (Router, error)
	Close() error
}

// Worker is one engine processing unit. Its unexpected termination is
// fatal to every router created on it.
type Worker interface {
	ID() string
	// OnDied registers a callback fired once if the worker terminates
	// unexpectedly. Must be set before routers are created on it.
	OnDied(func(err error))
	Close() error
}

// Router is the codec-negotiation and forwarding scope of one ride.
type Router interface {
	ID() string
	// Capabilities is the codec/negotiation descriptor sent to joining
	// clients, opaque to the core.
	Capabilities() json.RawMessage
	CreateTransport(ctx context.Context) (Transport, error)
	Close() error
}

// Transport is a participant's network endpoint bound to a router.
type Transport interface {
	ID() string
	// Params carries the connection parameters (ICE/DTLS) a client
	// needs to complete transport negotiation.
	Params() json.RawMessage
	// OnClosed fires once when the transport reaches a terminal state.
	OnClosed(func())
	// Connect completes transport negotiation with the parameters the
	// client sent back (opaque to the core; SDP for the WebRTC
	// adapter) and returns the engine's answer parameters.
	Connect(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	Produce(ctx context.Context, kind MediaKind, rtpParameters json.RawMessage) (Producer, error)
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (Consumer, error)
	Close() error
}

// Producer is a participant's outgoing media stream handle.
type Producer interface {
	ID() string
	Kind() MediaKind
	Close() error
}

// Consumer is a participant's handle for receiving one remote producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Close() error
}
