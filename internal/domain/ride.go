// Package domain contains entities without logic, just meta-data.
package domain

type (
	RideID   string
	RoomName string
)

// Ride is one logical multi-party call. A ride owns at most one
// routing context on the media engine side; that handle lives in the
// registry, not here.
type Ride struct {
	ID RideID
}

// Role determines what a participant is expected to do with media.
// Drivers publish their stream, riders subscribe to it. Both may do
// either; the role is advisory meta-data carried in membership events.
type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

func (r Role) Valid() bool {
	return r == RoleDriver || r == RoleRider
}
