package broker

import (
	"sync"
	"time"

	"aula"
)

// txContext is the broker-side state of one PROP awaiting its ACK.
type txContext struct {
	client        *client
	facultad      string
	reservationID int64
	proposal      aula.Proposal
	deadline      time.Time
}

// txTable holds outstanding transaction contexts under a single lock.
// The ACK path and the timeout sweeper race for each entry; Take is the
// arbiter — the loser observes a missing context and backs off.
type txTable struct {
	mu sync.Mutex
	m  map[string]*txContext
}

func newTxTable() *txTable {
	return &txTable{m: make(map[string]*txContext)}
}

func (t *txTable) Put(tx string, c *txContext) {
	t.mu.Lock()
	t.m[tx] = c
	t.mu.Unlock()
}

// Take removes and returns the context for tx.
func (t *txTable) Take(tx string) (*txContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.m[tx]
	if ok {
		delete(t.m, tx)
	}
	return c, ok
}

// TakeExpired removes and returns every context whose deadline passed.
func (t *txTable) TakeExpired(now time.Time) map[string]*txContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out map[string]*txContext
	for tx, c := range t.m {
		if c.deadline.Before(now) {
			if out == nil {
				out = make(map[string]*txContext)
			}
			out[tx] = c
			delete(t.m, tx)
		}
	}
	return out
}

// HasReservation reports whether any live context owns the reservation.
func (t *txTable) HasReservation(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.m {
		if c.reservationID == id {
			return true
		}
	}
	return false
}

func (t *txTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
