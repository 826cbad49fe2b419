package broker

import (
	"context"
	"log/slog"
	"time"

	"aula"
	"aula/internal/store"
	"aula/pkg/defaults"
)

// staleFactor scales AckTimeout into the cutoff for the orphan sweep:
// PENDING reservations older than this with no live context were left
// behind by a failed-over replica.
const staleFactor = 2

// monitor cancels PROP-without-ACK transactions once their deadline
// passes, and sweeps orphaned PENDING reservations that no live
// context owns.
type monitor struct {
	store *store.Store
	table *txTable
	poll  time.Duration
}

func (m *monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.expire(time.Now())
			m.sweepOrphans()
		}
	}
}

// expire cancels every transaction whose ACK deadline passed. The ACK
// path and this sweep race per entry; TakeExpired holds the table lock,
// so a concurrent ACK either got the context first or finds it gone.
func (m *monitor) expire(now time.Time) {
	for tx, entry := range m.table.TakeExpired(now) {
		if err := m.store.FailReservation(entry.reservationID); err != nil {
			slog.Error("timeout rollback failed", "tx", tx, "reservation", entry.reservationID, "err", err)
			continue
		}
		slog.Info("reservation expired", "tx", tx, "reservation", entry.reservationID)
		if err := entry.client.send(aula.ErrorRes(tx, aula.StatusCanceled, "timeout")); err != nil {
			slog.Debug("timeout RES undeliverable", "tx", tx, "err", err)
		}
	}
}

// sweepOrphans fails PENDING reservations past the stale cutoff that
// belong to no live context. After a failover these are the previous
// replica's abandoned in-flight transactions.
func (m *monitor) sweepOrphans() {
	cutoff := time.Now().Add(-staleFactor * defaults.AckTimeout).Unix()
	ids, err := m.store.PendingBefore(cutoff)
	if err != nil {
		slog.Error("stale reservation query failed", "err", err)
		return
	}
	for _, id := range ids {
		if m.table.HasReservation(id) {
			continue
		}
		if err := m.store.FailReservation(id); err != nil {
			slog.Error("stale reservation rollback failed", "reservation", id, "err", err)
			continue
		}
		slog.Info("orphaned reservation released", "reservation", id)
	}
}
