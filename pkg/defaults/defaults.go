// Package defaults centralizes the tunables of the reservation system.
package defaults

import "time"

const (
	// Semester is the academic period seeded into new inventories.
	Semester = "2025-2"

	// Initial inventory sizes.
	InitialClassrooms = 380
	InitialLabs       = 60

	// Heartbeat cadence and the liveness window in intervals. A peer is
	// declared dead after HBLiveness intervals of silence.
	HBInterval = 1 * time.Second
	HBLiveness = 3

	// AckTimeout bounds how long a PENDING reservation waits for the
	// gateway's ACK before the monitor cancels it.
	AckTimeout = 5 * time.Second

	// MonitorPoll is the reservation monitor sweep period. Kept at or
	// below half a heartbeat so expirations land within one interval.
	MonitorPoll = 500 * time.Millisecond

	// WorkerCount is the broker worker pool size.
	WorkerCount = 5

	// Ports.
	AllocatePort  = 5555
	HeartbeatPort = 7000
	GatewayPort   = 6000

	// ClientTimeout is the program-side wait for the gateway reply.
	ClientTimeout = 15 * time.Second

	// ContextGC is how long a gateway keeps a transaction whose RES
	// never arrived before discarding it.
	ContextGC = 30 * time.Second
)

// URL paths served by a broker replica.
const (
	AllocatePath  = "/v1/allocate"
	HeartbeatPath = "/v1/heartbeat"
)

// DataRoot is the default location of the shared reservation database.
const DataRoot = "/srv/classroom_db"

// DBPath is the default database file inside DataRoot.
const DBPath = DataRoot + "/classroom.db"
