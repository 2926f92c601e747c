package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/core"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c core.SignalConnection, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join_ride":
		ctl.handleJoinRide(ctx, sid, c, data)
	case "share_ride":
		ctl.handleShareRide(sid, c, data)
	case "join_shared_ride":
		ctl.handleJoinSharedRide(sid, c, data)
	case "leave_ride":
		ctl.handleLeaveRide(sid)
	case "create_transport":
		ctl.handleCreateTransport(ctx, sid, c, data)
	case "connect_transport":
		ctl.handleConnectTransport(ctx, sid, c, data)
	case "produce":
		ctl.handleProduce(ctx, sid, c, data)
	case "consume":
		ctl.handleConsume(ctx, sid, c, data)
	case "joinRoom":
		ctl.handleJoinRoom(sid, c, data)
	case "offer", "answer", "requestOffer":
		ctl.handleMeshRelay(sid, c, env.Type, data)
	case "candidate":
		ctl.handleCandidate(sid, data)
	case "ping":
		ctl.sendJSON(c, map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func marshalFrame(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal frame")
		return nil, err
	}
	return b, nil
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := marshalFrame(v)
	if err != nil {
		return
	}
	_ = c.TrySend(b)
}

// replyErr sends exactly one typed error event to the requester.
func (ctl *SignalWSController) replyErr(c core.SignalConnection, event string, err error) {
	code := errCode(err)
	if ctl.Metrics != nil {
		ctl.Metrics.SignalErrors.WithLabelValues(code).Inc()
	}
	ctl.sendJSON(c, struct {
		Type  string `json:"type"`
		Code  string `json:"code"`
		Error string `json:"error"`
	}{event, code, err.Error()})
}

func errCode(err error) string {
	switch {
	case errors.Is(err, core.ErrTransportMissing):
		return "transport_missing"
	case errors.Is(err, core.ErrProducerMissing):
		return "producer_missing"
	case errors.Is(err, core.ErrRouterCreationFailed):
		return "router_creation_failed"
	case errors.Is(err, core.ErrTransportCreationFailed):
		return "transport_creation_failed"
	case errors.Is(err, core.ErrProduceFailed):
		return "produce_failed"
	case errors.Is(err, core.ErrConsumeFailed):
		return "consume_failed"
	case errors.Is(err, core.ErrInvalidLink):
		return "invalid_link"
	case errors.Is(err, core.ErrEngineFatal):
		return "engine_fatal"
	default:
		return "internal"
	}
}
