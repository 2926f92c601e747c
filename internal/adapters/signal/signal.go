// Package signal is the WebSocket signaling gateway. It decodes named
// events per connection, dispatches them to orchestrator operations
// and performs addressed/room delivery of the results. The mesh relay
// protocol lives here too; it shares the room primitive but touches no
// engine resources.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/app"
	"github.com/dev-kishor/webcam-backend/internal/app/orch"
	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
	"github.com/dev-kishor/webcam-backend/internal/metrics"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Orch        *orch.Orchestrator
	Metrics     *metrics.Collectors
	JoinLimiter *JoinRateLimiter
	ReadLimit   int64
	PingPeriod  time.Duration

	mu    sync.RWMutex
	conns map[core.SessionID]*connEntry
}

type connEntry struct {
	conn core.SignalConnection
	sess core.ParticipantSession
}

func NewSignalWSController(o *orch.Orchestrator, m *metrics.Collectors) *SignalWSController {
	return &SignalWSController{
		Orch:        o,
		Metrics:     m,
		JoinLimiter: NewJoinRateLimiter(10, time.Minute),
		ReadLimit:   32768,
		PingPeriod:  54 * time.Second,
		conns:       make(map[core.SessionID]*connEntry),
	}
}

// wsConn adapts one websocket to core.SignalConnection. Sends are
// buffered; a full buffer drops the frame and reports backpressure.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sess := core.NewParticipantSession(domain.NewParticipant(domain.ParticipantID(sid)), conn)
	ctl.register(sid, conn, sess)
	if ctl.Metrics != nil {
		ctl.Metrics.ActiveConnections.Inc()
	}

	// Existing peers learn about the newcomer right away.
	ctl.broadcastGlobal(sid, struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}{"joined", string(sid)})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, sid, conn)
		ctl.disconnect(sid, conn)
	}()
}

func (ctl *SignalWSController) register(sid core.SessionID, conn core.SignalConnection, sess core.ParticipantSession) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if old, ok := ctl.conns[sid]; ok {
		old.conn.Close()
	}
	ctl.conns[sid] = &connEntry{conn: conn, sess: sess}
}

// disconnect runs the same cleanup as an explicit leave_ride, then
// announces the departure to everyone still connected.
func (ctl *SignalWSController) disconnect(sid core.SessionID, conn core.SignalConnection) {
	ctl.mu.Lock()
	if e, ok := ctl.conns[sid]; ok && e.conn == conn {
		delete(ctl.conns, sid)
	}
	ctl.mu.Unlock()

	ctl.leaveAll(sid)

	ctl.broadcastGlobal(sid, struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}{"left", string(sid)})

	conn.Close()
	if ctl.Metrics != nil {
		ctl.Metrics.ActiveConnections.Dec()
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("disconnected")
}

// leaveAll removes the session from every room and notifies remaining
// members per room.
func (ctl *SignalWSController) leaveAll(sid core.SessionID) {
	for _, name := range ctl.Orch.Leave(sid) {
		room, ok := ctl.Orch.Rooms.Get(name)
		if !ok {
			continue
		}
		ctl.broadcastRoom(room, "", struct {
			Type   string `json:"type"`
			UserID string `json:"userId"`
		}{"user_left", string(sid)})
	}
}

func (ctl *SignalWSController) sessionOf(sid core.SessionID) (core.ParticipantSession, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	e, ok := ctl.conns[sid]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// broadcastGlobal delivers a notice to every live connection but from.
func (ctl *SignalWSController) broadcastGlobal(from core.SessionID, v any) {
	b, err := marshalFrame(v)
	if err != nil {
		return
	}
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	for sid, e := range ctl.conns {
		if sid == from {
			continue
		}
		_ = e.conn.TrySend(b)
	}
}

// broadcastRoom fans an event out to a room, excluding from when set,
// and applies the backpressure policy to members that dropped it.
func (ctl *SignalWSController) broadcastRoom(room core.RoomService, from core.SessionID, v any) {
	b, err := marshalFrame(v)
	if err != nil {
		return
	}
	var res core.PublishResult
	if from == "" {
		res = room.BroadcastAll(b)
	} else {
		res = room.Broadcast(from, b)
	}
	ctl.handleDropped(room, res)
}

func (ctl *SignalWSController) handleDropped(room core.RoomService, res core.PublishResult) {
	if ctl.Orch.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		if ctl.Orch.Policy.OnBackPressure(room, slow) != app.KickMember {
			continue
		}
		log.Warn().Str("module", "signal").Str("sid", string(slow)).
			Str("room", string(room.Name())).Msg("kicking slow member")
		ctl.mu.RLock()
		e, ok := ctl.conns[slow]
		ctl.mu.RUnlock()
		if ok {
			e.conn.Close()
		}
	}
}
