package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
)

func (ctl *SignalWSController) handleJoinRide(
	ctx context.Context,
	sid core.SessionID,
	conn core.SignalConnection,
	data []byte,
) {
	var p struct {
		Type   string      `json:"type"`
		RideID string      `json:"rideId"`
		Role   domain.Role `json:"role"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join_ride payload")
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	if !p.Role.Valid() {
		p.Role = domain.RoleRider
	}
	if ctl.JoinLimiter != nil && !ctl.JoinLimiter.Allow(sid) {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "rate_limited"})
		return
	}
	sess, ok := ctl.sessionOf(sid)
	if !ok {
		return
	}

	caps, err := ctl.Orch.Join(ctx, sess, domain.RideID(p.RideID), p.Role)
	if err != nil {
		ctl.replyErr(conn, "join_error", err)
		return
	}

	ctl.sendJSON(conn, struct {
		Type         string          `json:"type"`
		Capabilities json.RawMessage `json:"capabilities"`
	}{"router_capabilities", caps})

	// The whole ride, joiner included, sees the membership change.
	if room, ok := ctl.Orch.Rooms.Get(domain.RoomName(p.RideID)); ok {
		ctl.broadcastRoom(room, "", struct {
			Type   string      `json:"type"`
			UserID string      `json:"userId"`
			Role   domain.Role `json:"role"`
		}{"user_joined", string(sid), p.Role})
	}
}

func (ctl *SignalWSController) handleShareRide(
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
	link := ctl.Orch.ShareRide(domain.RideID(p.RideID))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("ride", p.RideID).Msg("share link requested")
	ctl.sendJSON(conn, struct {
		Type string `json:"type"`
		Link string `json:"link"`
	}{"share_link_generated", link})
}

func (ctl *SignalWSController) handleJoinSharedRide(
	sid core.SessionID,
	conn core.SignalConnection,
	data []byte,
) {
	var p struct {
		Type string `json:"type"`
		Link string `json:"link"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Link == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	rideID, err := ctl.Orch.ResolveLink(p.Link)
	if err != nil {
		ctl.replyErr(conn, "invalid_link", err)
		return
	}
	sess, ok := ctl.sessionOf(sid)
	if !ok {
		return
	}
	ctl.Orch.Rooms.GetOrCreate(domain.RoomName(rideID)).AddMember(sid, sess)
	ctl.sendJSON(conn, struct {
		Type   string `json:"type"`
		RideID string `json:"rideId"`
	}{"joined_shared_ride", string(rideID)})
}

func (ctl *SignalWSController) handleLeaveRide(sid core.SessionID) {
	ctl.leaveAll(sid)
}
