package orch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-kishor/webcam-backend/internal/app"
	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
	"github.com/dev-kishor/webcam-backend/internal/enginetest"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func newSession(sid core.SessionID) core.ParticipantSession {
	return core.NewParticipantSession(domain.NewParticipant(domain.ParticipantID(sid)), nopConn{})
}

func newOrchestrator(t *testing.T, engine *enginetest.Engine) *Orchestrator {
	t.Helper()
	reg := app.NewRegistry(engine, 2)
	require.NoError(t, reg.Start(context.Background()))
	return &Orchestrator{
		Registry: reg,
		Rooms:    app.NewRoomManager(),
		Links:    app.NewLinkService(),
		Policy:   app.SimplePolicy{},
	}
}

func TestJoinReturnsCapabilities(t *testing.T) {
	engine := enginetest.New()
	o := newOrchestrator(t, engine)

	caps, err := o.Join(context.Background(), newSession("A"), "ride-1", domain.RoleDriver)
	require.NoError(t, err)
	assert.Contains(t, string(caps), "audio/opus")

	room, ok := o.Rooms.Get("ride-1")
	require.True(t, ok)
	assert.True(t, room.Member("A"))
	assert.Equal(t, 1, engine.RouterCalls())

	// Second join reuses the router.
	_, err = o.Join(context.Background(), newSession("B"), "ride-1", domain.RoleRider)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.RouterCalls())
	assert.Equal(t, 2, room.MemberCount())
}

func TestJoinRouterFailureRollsBackMembership(t *testing.T) {
	engine := enginetest.New()
	engine.RouterErr = errors.New("no ports left")
	o := newOrchestrator(t, engine)

	_, err := o.Join(context.Background(), newSession("A"), "ride-1", domain.RoleDriver)
	require.ErrorIs(t, err, core.ErrRouterCreationFailed)

	room, ok := o.Rooms.Get("ride-1")
	require.True(t, ok)
	assert.False(t, room.Member("A"), "failed join must not leave membership behind")
}

func TestProduceWithoutTransport(t *testing.T) {
	engine := enginetest.New()
	o := newOrchestrator(t, engine)
	_, err := o.Join(context.Background(), newSession("A"), "ride-1", domain.RoleDriver)
	require.NoError(t, err)

	_, err = o.Produce(context.Background(), "A", "ride-1", core.MediaVideo, nil)
	require.ErrorIs(t, err, core.ErrTransportMissing)
	assert.Equal(t, 0, engine.ProduceCalls(), "no engine call on a missing transport")
}

func TestProduceRejectsUnknownKind(t *testing.T) {
	engine := enginetest.New()
	o := newOrchestrator(t, engine)

	_, err := o.Produce(context.Background(), "A", "ride-1", core.MediaKind("screen"), nil)
	require.ErrorIs(t, err, core.ErrProduceFailed)
	assert.Equal(t, 0, engine.ProduceCalls())
}

func TestConsumeMissingProducer(t *testing.T) {
	engine := enginetest.New()
	o := newOrchestrator(t, engine)
	_, err := o.Join(context.Background(), newSession("A"), "ride-1", domain.RoleRider)
	require.NoError(t, err)
	_, err = o.CreateTransport(context.Background(), "A", "ride-1")
	require.NoError(t, err)

	_, err = o.Consume(context.Background(), "A", "ride-1", "ghost", nil)
	require.ErrorIs(t, err, core.ErrProducerMissing)
	assert.Equal(t, 0, engine.ConsumeCalls())
	_, ok := o.Registry.Consumer("ride-1", "A")
	assert.False(t, ok)
}

func TestConnectTransport(t *testing.T) {
	engine := enginetest.New()
	o := newOrchestrator(t, engine)
	_, err := o.Join(context.Background(), newSession("A"), "ride-1", domain.RoleDriver)
	require.NoError(t, err)

	_, err = o.ConnectTransport(context.Background(), "A", "ride-1", json.RawMessage(`{"sdp":"offer"}`))
	require.ErrorIs(t, err, core.ErrTransportMissing)

	_, err = o.CreateTransport(context.Background(), "A", "ride-1")
	require.NoError(t, err)
	answer, err := o.ConnectTransport(context.Background(), "A", "ride-1", json.RawMessage(`{"sdp":"offer"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sdp":"answer"}`, string(answer))
}

func TestDriverRiderFlow(t *testing.T) {
	engine := enginetest.New()
	o := newOrchestrator(t, engine)
	ctx := context.Background()

	_, err := o.Join(ctx, newSession("A"), "ride-1", domain.RoleDriver)
	require.NoError(t, err)
	_, err = o.Join(ctx, newSession("B"), "ride-1", domain.RoleRider)
	require.NoError(t, err)

	_, err = o.CreateTransport(ctx, "A", "ride-1")
	require.NoError(t, err)
	producer, err := o.Produce(ctx, "A", "ride-1", core.MediaVideo, nil)
	require.NoError(t, err)
	assert.Equal(t, core.MediaVideo, producer.Kind())

	// B consumes the producer id it would learn from the broadcast.
	_, err = o.CreateTransport(ctx, "B", "ride-1")
	require.NoError(t, err)
	consumer, err := o.Consume(ctx, "B", "ride-1", producer.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, producer.ID(), consumer.ProducerID())

	assert.Equal(t, 1, engine.RouterCalls())
	assert.Equal(t, 2, engine.TransportCalls())
}

func TestLeaveTearsDownRide(t *testing.T) {
	engine := enginetest.New()
	o := newOrchestrator(t, engine)
	ctx := context.Background()

	_, err := o.Join(ctx, newSession("A"), "ride-1", domain.RoleDriver)
	require.NoError(t, err)
	_, err = o.Join(ctx, newSession("B"), "ride-1", domain.RoleRider)
	require.NoError(t, err)
	_, err = o.CreateTransport(ctx, "A", "ride-1")
	require.NoError(t, err)
	_, err = o.Produce(ctx, "A", "ride-1", core.MediaAudio, nil)
	require.NoError(t, err)

	router, ok := o.Registry.Router("ride-1")
	require.True(t, ok)

	left := o.Leave("A")
	require.Equal(t, []domain.RoomName{"ride-1"}, left)
	_, ok = o.Registry.Producer("ride-1", "A")
	assert.False(t, ok)
	room, ok := o.Rooms.Get("ride-1")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
	assert.False(t, router.(*enginetest.Router).Closed(), "router survives while members remain")

	o.Leave("B")
	_, ok = o.Rooms.Get("ride-1")
	assert.False(t, ok, "empty room is stopped")
	_, ok = o.Registry.Router("ride-1")
	assert.False(t, ok, "empty ride releases its router")
	assert.True(t, router.(*enginetest.Router).Closed())

	// Leave after leave is a no-op.
	assert.Empty(t, o.Leave("B"))
}

func TestShareAndResolveLink(t *testing.T) {
	engine := enginetest.New()
	o := newOrchestrator(t, engine)

	link := o.ShareRide("ride-1")
	require.NotEmpty(t, link)

	rideID, err := o.ResolveLink(link)
	require.NoError(t, err)
	assert.Equal(t, domain.RideID("ride-1"), rideID)

	_, err = o.ResolveLink("nope")
	require.ErrorIs(t, err, core.ErrInvalidLink)
}
