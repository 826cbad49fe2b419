package aula

import "time"

// Room types.
const (
	RoomClass = "CLASS"
	RoomLab   = "LAB"
)

// Room statuses.
const (
	RoomFree = "FREE"
	RoomBusy = "BUSY"
)

// Reservation statuses.
const (
	ReservationPending   = "PENDING"
	ReservationConfirmed = "CONFIRMED"
	ReservationFailed    = "FAILED"
)

// Replica roles.
const (
	RolePrimary = "PRIMARY"
	RoleBackup  = "BACKUP"
)

// Room is a single classroom or laboratory in the shared inventory.
// A BUSY room belongs to exactly one active reservation. Adapted is
// only set while a CLASS room serves as a substitute lab ("aula móvil")
// and resets to false when the room returns to FREE.
type Room struct {
	ID       int64
	Type     string
	Adapted  bool
	Status   string
	Semester string
}

// Reservation tracks one allocation through its lifecycle:
// PENDING on allocate, CONFIRMED on ACK-ACCEPT, FAILED on reject,
// timeout or shortage.
type Reservation struct {
	ID        int64
	FacultyID int
	ProgramID int
	TsReq     int64
	TsAck     int64 // zero until resolved
	Status    string
}

// Clock abstracts time for liveness tracking and tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
