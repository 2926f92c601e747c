package app

import "github.com/dev-kishor/webcam-backend/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
)

// Policy decides what to do with members whose signal channel is full
// during a broadcast.
type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
}

// SimplePolicy kicks slow receivers. A member that cannot drain
// membership events will not drain media signaling either.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.SessionID) BackpressureAction {
	return KickMember
}
