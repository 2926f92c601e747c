package domain

type ParticipantID string

// Participant represents one connection's membership meta for a ride.
// No transport or engine handles here.
type Participant struct {
	ID   ParticipantID
	Role Role
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id ParticipantID) *Participant {
	return &Participant{ID: id}
}
