package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
)

// Mesh relay mode: call-setup messages are relayed verbatim between
// room members. No engine resources, no registry bookkeeping.

func (ctl *SignalWSController) handleJoinRoom(
	sid core.SessionID,
	conn core.SignalConnection,
	data []byte,
) {
	var p struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	if ctl.JoinLimiter != nil && !ctl.JoinLimiter.Allow(sid) {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "rate_limited"})
		return
	}
	sess, ok := ctl.sessionOf(sid)
	if !ok {
		return
	}
	room := ctl.Orch.Rooms.GetOrCreate(domain.RoomName(p.RoomID))
	room.AddMember(sid, sess)

	ctl.broadcastRoom(room, sid, struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
		UserID string `json:"userId"`
	}{"peer_joined", p.RoomID, string(sid)})
}

// handleMeshRelay forwards offer/answer/requestOffer payloads to every
// other room member untouched, stamped with the sender.
func (ctl *SignalWSController) handleMeshRelay(
	sid core.SessionID,
	conn core.SignalConnection,
	event string,
	data []byte,
) {
	var p struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
		SDP    string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	room, ok := ctl.Orch.Rooms.Get(domain.RoomName(p.RoomID))
	if !ok || !room.Member(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).
			Str("room", p.RoomID).Str("event", event).Msg("relay from non-member dropped")
		return
	}

	ctl.broadcastRoom(room, sid, struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
		SDP    string `json:"sdp,omitempty"`
		From   string `json:"from"`
	}{event, p.RoomID, p.SDP, string(sid)})
}

// handleCandidate validates ICE candidates before relaying. Malformed
// candidates are logged and dropped, never replied to.
func (ctl *SignalWSController) handleCandidate(sid core.SessionID, data []byte) {
	var p struct {
		Type          string  `json:"type"`
		RoomID        string  `json:"roomId"`
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad candidate payload, dropped")
		return
	}
	if p.Candidate == "" || p.SDPMid == nil {
		log.Warn().Err(core.ErrMalformedCandidate).Str("module", "signal").
			Str("sid", string(sid)).Str("room", p.RoomID).Msg("candidate dropped")
		if ctl.Metrics != nil {
			ctl.Metrics.SignalErrors.WithLabelValues("malformed_candidate").Inc()
		}
		return
	}
	room, ok := ctl.Orch.Rooms.Get(domain.RoomName(p.RoomID))
	if !ok || !room.Member(sid) {
		return
	}

	ctl.broadcastRoom(room, sid, struct {
		Type          string  `json:"type"`
		RoomID        string  `json:"roomId"`
		Candidate     string  `json:"candidate"`
		SDPMid        string  `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
		From          string  `json:"from"`
	}{p.Type, p.RoomID, p.Candidate, *p.SDPMid, p.SDPMLineIndex, string(sid)})
}
