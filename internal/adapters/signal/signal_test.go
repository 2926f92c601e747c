package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-kishor/webcam-backend/internal/app"
	"github.com/dev-kishor/webcam-backend/internal/app/orch"
	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
	"github.com/dev-kishor/webcam-backend/internal/enginetest"
)

// fakeConn records every frame a handler sends so tests can assert on
// the event stream a client would observe.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// events decodes every recorded frame into a generic map.
func (c *fakeConn) events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if json.Unmarshal(f, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) eventsOfType(t string) []map[string]any {
	var out []map[string]any
	for _, e := range c.events() {
		if e["type"] == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) lastOfType(t *testing.T, typ string) map[string]any {
	t.Helper()
	evs := c.eventsOfType(typ)
	require.NotEmpty(t, evs, "expected a %q event, got %v", typ, c.events())
	return evs[len(evs)-1]
}

func newTestController(t *testing.T) (*SignalWSController, *enginetest.Engine) {
	t.Helper()
	engine := enginetest.New()
	reg := app.NewRegistry(engine, 1)
	require.NoError(t, reg.Start(context.Background()))
	o := &orch.Orchestrator{
		Registry: reg,
		Rooms:    app.NewRoomManager(),
		Links:    app.NewLinkService(),
		Policy:   app.SimplePolicy{},
	}
	return NewSignalWSController(o, nil), engine
}

func connect(ctl *SignalWSController, sid core.SessionID) *fakeConn {
	conn := &fakeConn{}
	sess := core.NewParticipantSession(domain.NewParticipant(domain.ParticipantID(sid)), conn)
	ctl.register(sid, conn, sess)
	return conn
}

func send(ctl *SignalWSController, sid core.SessionID, conn *fakeConn, payload string) {
	ctl.handleSignal(context.Background(), sid, conn, []byte(payload))
}

func TestJoinRideEvents(t *testing.T) {
	ctl, engine := newTestController(t)
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")

	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"driver"}`)

	caps := connA.lastOfType(t, "router_capabilities")
	assert.Contains(t, caps["capabilities"], "codecs")
	joined := connA.lastOfType(t, "user_joined")
	assert.Equal(t, "A", joined["userId"])
	assert.Equal(t, "driver", joined["role"])
	assert.Equal(t, 1, engine.RouterCalls())

	send(ctl, "B", connB, `{"type":"join_ride","rideId":"ride-1","role":"rider"}`)

	// The whole ride sees B's arrival, A included.
	got := connA.lastOfType(t, "user_joined")
	assert.Equal(t, "B", got["userId"])
	assert.Equal(t, "rider", got["role"])
	assert.Equal(t, 1, engine.RouterCalls(), "second join reuses the router")
}

func TestJoinRideDefaultsRole(t *testing.T) {
	ctl, _ := newTestController(t)
	connA := connect(ctl, "A")

	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"pilot"}`)

	joined := connA.lastOfType(t, "user_joined")
	assert.Equal(t, "rider", joined["role"])
}

func TestRideMediaScenario(t *testing.T) {
	ctl, engine := newTestController(t)
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")

	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"driver"}`)
	send(ctl, "B", connB, `{"type":"join_ride","rideId":"ride-1","role":"rider"}`)

	send(ctl, "A", connA, `{"type":"create_transport","rideId":"ride-1"}`)
	created := connA.lastOfType(t, "transport_created")
	assert.NotEmpty(t, created["id"])

	send(ctl, "A", connA, `{"type":"connect_transport","rideId":"ride-1","params":{"sdp":"offer"}}`)
	connected := connA.lastOfType(t, "transport_connected")
	assert.NotNil(t, connected["params"])

	send(ctl, "A", connA, `{"type":"produce","rideId":"ride-1","kind":"video"}`)
	pc := connA.lastOfType(t, "producer_created")
	producerID, _ := pc["producerId"].(string)
	require.NotEmpty(t, producerID)

	// The announcement reaches B only, carrying producer id, author
	// and kind.
	assert.Empty(t, connA.eventsOfType("new_producer"))
	np := connB.lastOfType(t, "new_producer")
	assert.Equal(t, producerID, np["producerId"])
	assert.Equal(t, "A", np["userId"])
	assert.Equal(t, "video", np["kind"])

	// B consumes using exactly the id from the announcement.
	send(ctl, "B", connB, `{"type":"create_transport","rideId":"ride-1"}`)
	send(ctl, "B", connB, `{"type":"consume","rideId":"ride-1","producerId":"`+producerID+`"}`)
	cc := connB.lastOfType(t, "consumer_created")
	assert.Equal(t, producerID, cc["producerId"])
	assert.NotEmpty(t, cc["consumerId"])

	assert.Equal(t, 1, engine.ProduceCalls())
	assert.Equal(t, 1, engine.ConsumeCalls())
}

func TestProduceBeforeTransport(t *testing.T) {
	ctl, engine := newTestController(t)
	connA := connect(ctl, "A")
	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"driver"}`)

	send(ctl, "A", connA, `{"type":"produce","rideId":"ride-1","kind":"video"}`)

	errs := connA.eventsOfType("produce_error")
	require.Len(t, errs, 1, "exactly one typed error event")
	assert.Equal(t, "transport_missing", errs[0]["code"])
	assert.Equal(t, 0, engine.ProduceCalls())
	assert.Empty(t, connA.eventsOfType("producer_created"))
}

func TestConsumeUnknownProducer(t *testing.T) {
	ctl, engine := newTestController(t)
	connA := connect(ctl, "A")
	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"rider"}`)
	send(ctl, "A", connA, `{"type":"create_transport","rideId":"ride-1"}`)

	send(ctl, "A", connA, `{"type":"consume","rideId":"ride-1","producerId":"ghost"}`)

	errs := connA.eventsOfType("consume_error")
	require.Len(t, errs, 1)
	assert.Equal(t, "producer_missing", errs[0]["code"])
	assert.Equal(t, 0, engine.ConsumeCalls())
}

func TestShareAndJoinSharedRide(t *testing.T) {
	ctl, _ := newTestController(t)
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")

	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"driver"}`)
	send(ctl, "A", connA, `{"type":"share_ride","rideId":"ride-1"}`)
	link, _ := connA.lastOfType(t, "share_link_generated")["link"].(string)
	require.NotEmpty(t, link)

	send(ctl, "B", connB, `{"type":"join_shared_ride","link":"`+link+`"}`)
	joined := connB.lastOfType(t, "joined_shared_ride")
	assert.Equal(t, "ride-1", joined["rideId"])

	room, ok := ctl.Orch.Rooms.Get("ride-1")
	require.True(t, ok)
	assert.True(t, room.Member("B"))
}

func TestJoinSharedRideInvalidLink(t *testing.T) {
	ctl, _ := newTestController(t)
	connB := connect(ctl, "B")

	send(ctl, "B", connB, `{"type":"join_shared_ride","link":"bogus"}`)

	errs := connB.eventsOfType("invalid_link")
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid_link", errs[0]["code"])
}

func TestLeaveRideNotifiesRemaining(t *testing.T) {
	ctl, _ := newTestController(t)
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")
	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"driver"}`)
	send(ctl, "B", connB, `{"type":"join_ride","rideId":"ride-1","role":"rider"}`)

	send(ctl, "A", connA, `{"type":"leave_ride"}`)

	left := connB.lastOfType(t, "user_left")
	assert.Equal(t, "A", left["userId"])
	room, ok := ctl.Orch.Rooms.Get("ride-1")
	require.True(t, ok)
	assert.False(t, room.Member("A"))
	assert.True(t, room.Member("B"))
}

func TestMeshRelay(t *testing.T) {
	ctl, _ := newTestController(t)
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")
	connC := connect(ctl, "C")

	send(ctl, "A", connA, `{"type":"joinRoom","roomId":"mesh-1"}`)
	send(ctl, "B", connB, `{"type":"joinRoom","roomId":"mesh-1"}`)
	peer := connA.lastOfType(t, "peer_joined")
	assert.Equal(t, "B", peer["userId"])

	send(ctl, "A", connA, `{"type":"offer","roomId":"mesh-1","sdp":"v=0..."}`)
	offer := connB.lastOfType(t, "offer")
	assert.Equal(t, "v=0...", offer["sdp"])
	assert.Equal(t, "A", offer["from"])
	assert.Empty(t, connA.eventsOfType("offer"), "sender never receives its own relay")

	// Non-member relays are dropped silently.
	send(ctl, "C", connC, `{"type":"offer","roomId":"mesh-1","sdp":"v=0..."}`)
	assert.Len(t, connB.eventsOfType("offer"), 1)
	assert.Empty(t, connC.events())
}

func TestCandidateValidation(t *testing.T) {
	ctl, _ := newTestController(t)
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")
	send(ctl, "A", connA, `{"type":"joinRoom","roomId":"mesh-1"}`)
	send(ctl, "B", connB, `{"type":"joinRoom","roomId":"mesh-1"}`)

	// Missing sdpMid: dropped, no reply, no relay.
	send(ctl, "A", connA, `{"type":"candidate","roomId":"mesh-1","candidate":"candidate:1 1 udp"}`)
	assert.Empty(t, connB.eventsOfType("candidate"))

	// Empty candidate string: dropped too.
	send(ctl, "A", connA, `{"type":"candidate","roomId":"mesh-1","candidate":"","sdpMid":"0"}`)
	assert.Empty(t, connB.eventsOfType("candidate"))

	send(ctl, "A", connA, `{"type":"candidate","roomId":"mesh-1","candidate":"candidate:1 1 udp","sdpMid":"0","sdpMLineIndex":0}`)
	cand := connB.lastOfType(t, "candidate")
	assert.Equal(t, "candidate:1 1 udp", cand["candidate"])
	assert.Equal(t, "0", cand["sdpMid"])
	assert.Equal(t, "A", cand["from"])
	assert.Empty(t, connA.eventsOfType("candidate"))
}

func TestJoinRateLimited(t *testing.T) {
	ctl, _ := newTestController(t)
	ctl.JoinLimiter = NewJoinRateLimiter(1, time.Minute)
	connA := connect(ctl, "A")

	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"driver"}`)
	require.NotEmpty(t, connA.eventsOfType("router_capabilities"))

	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-2","role":"driver"}`)
	limited := connA.lastOfType(t, "error")
	assert.Equal(t, "rate_limited", limited["error"])
}

func TestBackpressureKicksSlowMember(t *testing.T) {
	ctl, _ := newTestController(t)
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")
	send(ctl, "A", connA, `{"type":"join_ride","rideId":"ride-1","role":"driver"}`)
	send(ctl, "B", connB, `{"type":"join_ride","rideId":"ride-1","role":"rider"}`)
	send(ctl, "A", connA, `{"type":"create_transport","rideId":"ride-1"}`)

	connB.mu.Lock()
	connB.full = true
	connB.mu.Unlock()

	// B cannot drain the new_producer broadcast; policy kicks it.
	send(ctl, "A", connA, `{"type":"produce","rideId":"ride-1","kind":"audio"}`)
	assert.True(t, connB.isClosed())
	require.NotEmpty(t, connA.eventsOfType("producer_created"))
}

func TestPingPong(t *testing.T) {
	ctl, _ := newTestController(t)
	connA := connect(ctl, "A")
	send(ctl, "A", connA, `{"type":"ping"}`)
	require.Len(t, connA.eventsOfType("pong"), 1)
}

func TestUnknownEventIgnored(t *testing.T) {
	ctl, _ := newTestController(t)
	connA := connect(ctl, "A")
	send(ctl, "A", connA, `{"type":"teleport"}`)
	send(ctl, "A", connA, `not json`)
	assert.Empty(t, connA.events())
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewJoinRateLimiter(2, 50*time.Millisecond)
	assert.True(t, rl.Allow("A"))
	assert.True(t, rl.Allow("A"))
	assert.False(t, rl.Allow("A"))
	assert.True(t, rl.Allow("B"), "limits are per session")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("A"), "window slides")
}
