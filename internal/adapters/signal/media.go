package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
)

func (ctl *SignalWSController) handleCreateTransport(
	ctx context.Context,
	sid core.SessionID,
	conn core.SignalConnection,
	data []byte,
) {
	var p struct {
		Type   string `json:"type"`
		RideID string `json:"rideId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	transport, err := ctl.Orch.CreateTransport(ctx, sid, domain.RideID(p.RideID))
	if err != nil {
		ctl.replyErr(conn, "transport_error", err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Params json.RawMessage `json:"params"`
	}{"transport_created", transport.ID(), transport.Params()})
}

func (ctl *SignalWSController) handleConnectTransport(
	ctx context.Context,
	sid core.SessionID,
	conn core.SignalConnection,
	data []byte,
) {
	var p struct {
		Type   string          `json:"type"`
		RideID string          `json:"rideId"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	answer, err := ctl.Orch.ConnectTransport(ctx, sid, domain.RideID(p.RideID), p.Params)
	if err != nil {
		ctl.replyErr(conn, "transport_error", err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type   string          `json:"type"`
		Params json.RawMessage `json:"params"`
	}{"transport_connected", answer})
}

func (ctl *SignalWSController) handleProduce(
	ctx context.Context,
	sid core.SessionID,
	conn core.SignalConnection,
	data []byte,
) {
	var p struct {
		Type          string          `json:"type"`
		RideID        string          `json:"rideId"`
		Kind          core.MediaKind  `json:"kind"`
		RTPParameters json.RawMessage `json:"rtpParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	producer, err := ctl.Orch.Produce(ctx, sid, domain.RideID(p.RideID), p.Kind, p.RTPParameters)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("produce rejected")
		ctl.replyErr(conn, "produce_error", err)
		return
	}

	ctl.sendJSON(conn, struct {
		Type       string `json:"type"`
		ProducerID string `json:"producerId"`
	}{"producer_created", producer.ID()})

	// Peers learn about the stream only after the registry write in
	// Produce committed, so a consume racing this broadcast will
	// resolve the producer.
	if room, ok := ctl.Orch.Rooms.Get(domain.RoomName(p.RideID)); ok {
		ctl.broadcastRoom(room, sid, struct {
			Type       string         `json:"type"`
			ProducerID string         `json:"producerId"`
			UserID     string         `json:"userId"`
			Kind       core.MediaKind `json:"kind"`
		}{"new_producer", producer.ID(), string(sid), p.Kind})
	}
}

func (ctl *SignalWSController) handleConsume(
	ctx context.Context,
	sid core.SessionID,
	conn core.SignalConnection,
	data []byte,
) {
	var p struct {
		Type            string          `json:"type"`
		RideID          string          `json:"rideId"`
		ProducerID      string          `json:"producerId"`
		RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" || p.ProducerID == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	consumer, err := ctl.Orch.Consume(ctx, sid, domain.RideID(p.RideID), p.ProducerID, p.RTPCapabilities)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("consume rejected")
		ctl.replyErr(conn, "consume_error", err)
		return
	}

	ctl.sendJSON(conn, struct {
		Type       string `json:"type"`
		ConsumerID string `json:"consumerId"`
		ProducerID string `json:"producerId"`
	}{"consumer_created", consumer.ID(), consumer.ProducerID()})
}
