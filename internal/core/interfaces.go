package core

import "github.com/dev-kishor/webcam-backend/internal/domain"

// Frame is a raw signaling payload (marshaled JSON event).
type Frame []byte

// SessionID identifies one connection. It doubles as the participant
// id in registry keys.
type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ParticipantSession binds domain.Participant and its signaling
// endpoint. This is what a room stores and fans out to.
type ParticipantSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []SessionID
}

// RoomService is the core-facing API of a broadcast group.
// It owns the membership set but never touches engine resources.
type RoomService interface {
	Name() domain.RoomName
	MemberCount() int
	Member(sid SessionID) bool
	Members() []SessionID

	AddMember(sid SessionID, ps ParticipantSession)
	RemoveMember(sid SessionID)

	// Broadcast fans data out to every member except from.
	Broadcast(from SessionID, data Frame) PublishResult
	// BroadcastAll fans data out to every member including from.
	BroadcastAll(data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	RoomsOf(sid SessionID) []domain.RoomName
	List() []RoomInfo
	StopRoom(name domain.RoomName)
}
