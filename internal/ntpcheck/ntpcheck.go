// Package ntpcheck watches local clock drift against an NTP pool.
// Liveness windows and metric timestamps both assume the replicas'
// clocks roughly agree; the checker makes silent drift visible in the
// logs before it skews failover decisions.
package ntpcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"aula"
	"aula/internal/check"

	"github.com/beevik/ntp"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultInterval  = 60 * time.Second
	defaultThreshold = 500 * time.Millisecond
)

type Status struct {
	Offset    time.Duration
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

type Checker struct {
	mu        sync.RWMutex
	status    Status
	pool      string
	interval  time.Duration
	threshold time.Duration
	clock     aula.Clock

	// queryFunc stands in for the NTP query in tests.
	queryFunc func(pool string) (time.Duration, error)
}

func NewChecker(clock aula.Clock) *Checker {
	check.Assert(clock != nil, "ntpcheck.NewChecker: clock must not be nil")
	return &Checker{
		pool:      defaultPool,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		clock:     clock,
		queryFunc: queryOffset,
	}
}

func queryOffset(pool string) (time.Duration, error) {
	resp, err := ntp.Query(pool)
	if err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Run checks once immediately, then on every interval until ctx is
// cancelled. Failures are logged, never fatal.
func (n *Checker) Run(ctx context.Context) {
	n.check()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.check()
		}
	}
}

func (n *Checker) check() {
	offset, err := n.queryFunc(n.pool)

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	if err != nil {
		n.status = Status{Error: err.Error(), Healthy: false, CheckedAt: now}
		slog.Debug("ntp check failed", "pool", n.pool, "err", err)
		return
	}

	healthy := offset.Abs() < n.threshold
	n.status = Status{Offset: offset, Healthy: healthy, CheckedAt: now}
	if !healthy {
		slog.Warn("clock drift beyond threshold",
			"offset", offset, "threshold", n.threshold, "pool", n.pool)
	}
}

func (n *Checker) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}
