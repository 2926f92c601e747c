package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
)

// Join adds the participant to the ride's broadcast group and
// resolves the ride's router, creating it on first join. Returns the
// router's capability descriptor for the reply event.
func (o *Orchestrator) Join(
	ctx context.Context,
	sess core.ParticipantSession,
	rideID domain.RideID,
	role domain.Role,
) (json.RawMessage, error) {
	sid := core.SessionID(sess.Meta().ID)
	room := o.Rooms.GetOrCreate(domain.RoomName(rideID))
	room.AddMember(sid, sess)
	sess.Meta().Role = role

	router, err := o.Registry.GetOrCreateRouter(ctx, rideID)
	if err != nil {
		// No capabilities to hand out, so no membership either.
		room.RemoveMember(sid)
		return nil, err
	}

	log.Info().Str("module", "orch").Str("sid", string(sid)).
		Str("ride", string(rideID)).Str("role", string(role)).Msg("joined ride")
	return router.Capabilities(), nil
}

// Leave removes the participant from every room it is a member of and
// tears down its registry entries per ride. Returns the rooms left so
// the gateway can notify remaining members. Idempotent.
func (o *Orchestrator) Leave(sid core.SessionID) []domain.RoomName {
	pid := domain.ParticipantID(sid)
	left := o.Rooms.RoomsOf(sid)
	for _, name := range left {
		room, ok := o.Rooms.Get(name)
		if !ok {
			continue
		}
		room.RemoveMember(sid)

		rideID := domain.RideID(name)
		if router, ok := o.Registry.Router(rideID); ok {
			o.Registry.RemoveParticipant(router.ID(), pid)
		}
		if room.MemberCount() == 0 {
			o.Registry.CloseRide(rideID)
			o.Rooms.StopRoom(name)
		}
	}
	if len(left) > 0 {
		log.Info().Str("module", "orch").Str("sid", string(sid)).
			Int("rooms", len(left)).Msg("left rides")
	}
	return left
}

// ShareRide returns a shareable invite token for the ride.
func (o *Orchestrator) ShareRide(rideID domain.RideID) string {
	return o.Links.Generate(rideID)
}

// ResolveLink maps an invite token back to a ride id.
func (o *Orchestrator) ResolveLink(link string) (domain.RideID, error) {
	rideID, ok := o.Links.Resolve(link)
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrInvalidLink, link)
	}
	return rideID, nil
}
