package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
)

// CreateTransport obtains the participant's transport on the ride's
// router, creating at most one per (router, participant) even under
// concurrent negotiation requests.
func (o *Orchestrator) CreateTransport(
	ctx context.Context,
	sid core.SessionID,
	rideID domain.RideID,
) (core.Transport, error) {
	router, err := o.Registry.GetOrCreateRouter(ctx, rideID)
	if err != nil {
		return nil, err
	}
	pid := domain.ParticipantID(sid)
	return o.Registry.GetOrCreateTransport(router.ID(), pid, func() (core.Transport, error) {
		return router.CreateTransport(ctx)
	})
}

// ConnectTransport completes transport negotiation with the
// parameters the client sent back. The transport must already exist.
func (o *Orchestrator) ConnectTransport(
	ctx context.Context,
	sid core.SessionID,
	rideID domain.RideID,
	params json.RawMessage,
) (json.RawMessage, error) {
	transport, err := o.transportOf(sid, rideID)
	if err != nil {
		return nil, err
	}
	answer, err := transport.Connect(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransportCreationFailed, err)
	}
	return answer, nil
}

// Produce creates the participant's outgoing stream handle. The
// transport must already exist; a miss fails before any engine call.
// Engine failure leaves the registry untouched.
func (o *Orchestrator) Produce(
	ctx context.Context,
	sid core.SessionID,
	rideID domain.RideID,
	kind core.MediaKind,
	rtpParameters json.RawMessage,
) (core.Producer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown media kind %q", core.ErrProduceFailed, kind)
	}
	transport, err := o.transportOf(sid, rideID)
	if err != nil {
		return nil, err
	}

	producer, err := transport.Produce(ctx, kind, rtpParameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProduceFailed, err)
	}
	pid := domain.ParticipantID(sid)
	o.Registry.SetProducer(rideID, pid, producer)
	o.countProducer()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("ride", string(rideID)).
		Str("producer", producer.ID()).Str("kind", string(kind)).Msg("producer created")
	return producer, nil
}

// Consume creates the participant's handle for one remote producer.
// Both the participant's transport and the producer must exist; a
// producer torn down between broadcast and this call fails cleanly
// without installing a consumer.
func (o *Orchestrator) Consume(
	ctx context.Context,
	sid core.SessionID,
	rideID domain.RideID,
	producerID string,
	rtpCapabilities json.RawMessage,
) (core.Consumer, error) {
	transport, err := o.transportOf(sid, rideID)
	if err != nil {
		return nil, err
	}
	producer, ok := o.Registry.ProducerByID(rideID, producerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrProducerMissing, producerID)
	}

	consumer, err := transport.Consume(ctx, producer.ID(), rtpCapabilities)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConsumeFailed, err)
	}
	pid := domain.ParticipantID(sid)
	o.Registry.SetConsumer(rideID, pid, consumer)
	o.countConsumer()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("ride", string(rideID)).
		Str("consumer", consumer.ID()).Str("producer", producer.ID()).Msg("consumer created")
	return consumer, nil
}

// transportOf looks up the participant's transport without creating
// engine resources. A missing router implies a missing transport.
func (o *Orchestrator) transportOf(sid core.SessionID, rideID domain.RideID) (core.Transport, error) {
	router, ok := o.Registry.Router(rideID)
	if !ok {
		return nil, fmt.Errorf("%w: no router for ride %q", core.ErrTransportMissing, rideID)
	}
	transport, ok := o.Registry.Transport(router.ID(), domain.ParticipantID(sid))
	if !ok {
		return nil, fmt.Errorf("%w: participant %q on ride %q", core.ErrTransportMissing, sid, rideID)
	}
	return transport, nil
}
