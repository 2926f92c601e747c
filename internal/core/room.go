package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/domain"
)

// roomImpl is a threadsafe in-memory broadcast group.
// It never closes adapter-owned connections.
type roomImpl struct {
	name  domain.RoomName
	mu    sync.RWMutex
	bySID map[SessionID]ParticipantSession
}

func NewRoomService(name domain.RoomName) RoomService {
	return &roomImpl{
		name:  name,
		bySID: make(map[SessionID]ParticipantSession),
	}
}

func (r *roomImpl) Name() domain.RoomName { return r.name }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Member(sid SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

func (r *roomImpl) Members() []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionID, 0, len(r.bySID))
	for sid := range r.bySID {
		out = append(out, sid)
	}
	return out
}

func (r *roomImpl) AddMember(sid SessionID, ps ParticipantSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = ps
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("sid", string(sid)).Msg("member added")
}

func (r *roomImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("sid", string(sid)).Msg("member removed")
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	return r.fanout(&from, data)
}

func (r *roomImpl) BroadcastAll(data Frame) PublishResult {
	return r.fanout(nil, data)
}

func (r *roomImpl) fanout(skip *SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, ps := range r.bySID {
		if skip != nil && sid == *skip {
			continue
		}
		if err := ps.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.name)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
