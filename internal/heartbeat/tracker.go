// Package heartbeat implements the replica liveness bus: an always-on
// HTTP endpoint streaming "HB" ticks, and an observer that tracks which
// peers are alive inside a fixed liveness window.
package heartbeat

import (
	"sync"
	"time"

	"aula"
	"aula/pkg/defaults"
)

// Tracker keeps a last-seen timestamp per peer and declares a peer
// alive while the silence stays under the liveness window
// (HBInterval × HBLiveness).
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	window   time.Duration
	clock    aula.Clock
}

func NewTracker(clock aula.Clock) *Tracker {
	if clock == nil {
		clock = aula.RealClock{}
	}
	return &Tracker{
		lastSeen: make(map[string]time.Time),
		window:   defaults.HBInterval * defaults.HBLiveness,
		clock:    clock,
	}
}

// RecordSeen notes a heartbeat from the named peer.
func (t *Tracker) RecordSeen(peer string) {
	now := t.clock.Now()
	t.mu.Lock()
	t.lastSeen[peer] = now
	t.mu.Unlock()
}

// Alive reports whether the peer has been heard from inside the window.
func (t *Tracker) Alive(peer string) bool {
	t.mu.RLock()
	seen, ok := t.lastSeen[peer]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return t.clock.Now().Sub(seen) < t.window
}

// Remove forgets a peer.
func (t *Tracker) Remove(peer string) {
	t.mu.Lock()
	delete(t.lastSeen, peer)
	t.mu.Unlock()
}
