package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aula"
	"aula/internal/store"
	"aula/pkg/defaults"
)

// worker serves frames from the fan-out queue. Handling is idempotent
// per transaction id: a duplicate SOL allocates twice only in the
// datastore's terms (two reservations), and a duplicate or late ACK
// finds no context and is dropped.
type worker struct {
	store *store.Store
	table *txTable
	id    int
}

func (w *worker) run(ctx context.Context, jobs <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-jobs:
			w.dispatch(j)
		}
	}
}

func (w *worker) dispatch(j job) {
	msg, err := aula.Decode(j.data)
	if err != nil {
		slog.Warn("worker dropped undecodable frame", "worker", w.id, "err", err)
		return
	}
	switch m := msg.(type) {
	case *aula.Sol:
		w.handleSol(j.client, m)
	case *aula.Ack:
		w.handleAck(m)
	default:
		slog.Debug("worker ignored unexpected message", "worker", w.id, "tipo", fmtTipo(msg))
	}
}

func fmtTipo(msg any) string {
	switch msg.(type) {
	case *aula.Prop:
		return aula.TypeProp
	case *aula.Res:
		return aula.TypeRes
	default:
		return "?"
	}
}

func (w *worker) handleSol(c *client, sol *aula.Sol) {
	slog.Info("SOL received",
		"tx", sol.TransactionID, "faculty", sol.Facultad, "program", sol.Programa,
		"salones", sol.Salones, "laboratorios", sol.Laboratorios)

	if err := w.store.EnsureFaculty(sol.FacultyID, sol.Facultad, sol.Semester); err != nil {
		slog.Error("ensure faculty failed", "tx", sol.TransactionID, "err", err)
	}
	if err := w.store.EnsureProgram(sol.ProgramID, sol.FacultyID, sol.Programa, sol.Semester); err != nil {
		slog.Error("ensure program failed", "tx", sol.TransactionID, "err", err)
	}

	done := w.store.Timed("sol->prop", sol.Facultad, "SERVER")
	defer done()

	clsFree, labFree, err := w.store.FreeCounts()
	if err != nil {
		slog.Error("free counts failed", "tx", sol.TransactionID, "err", err)
		return
	}
	prop := ComputeProposal(clsFree, labFree, sol.Salones, sol.Laboratorios)

	// A non-zero request with nothing to grant is a shortage, not an
	// empty proposal.
	if empty := prop == (aula.Proposal{}); empty && (sol.Salones > 0 || sol.Laboratorios > 0) {
		reason := store.ErrShortageClass
		if sol.Salones == 0 {
			reason = store.ErrShortageLab
		}
		slog.Info("SOL denied", "tx", sol.TransactionID, "reason", reason.Error())
		w.reply(c, aula.ErrorRes(sol.TransactionID, aula.StatusDenied, reason.Error()))
		return
	}

	// The substitute demand rides the lab argument so the allocator
	// adapts that many classrooms; the plain classroom picks are
	// excluded from the adaptable pool, so nothing is counted twice.
	resID, err := w.store.AllocateRooms(
		prop.Salones, prop.Laboratorios+prop.AulasMoviles,
		sol.FacultyID, sol.ProgramID)
	if err != nil {
		if errors.Is(err, store.ErrShortageClass) || errors.Is(err, store.ErrShortageLab) {
			slog.Info("SOL denied", "tx", sol.TransactionID, "reason", err.Error())
			w.reply(c, aula.ErrorRes(sol.TransactionID, aula.StatusDenied, err.Error()))
			return
		}
		slog.Error("allocation failed", "tx", sol.TransactionID, "err", err)
		return
	}

	w.table.Put(sol.TransactionID, &txContext{
		client:        c,
		facultad:      sol.Facultad,
		reservationID: resID,
		proposal:      prop,
		deadline:      time.Now().Add(defaults.AckTimeout),
	})

	slog.Info("PROP sent",
		"tx", sol.TransactionID, "reservation", resID,
		"salones", prop.Salones, "laboratorios", prop.Laboratorios, "moviles", prop.AulasMoviles)
	w.reply(c, aula.Prop{Tipo: aula.TypeProp, TransactionID: sol.TransactionID, Data: prop})
}

func (w *worker) handleAck(ack *aula.Ack) {
	entry, ok := w.table.Take(ack.TransactionID)
	if !ok {
		// Already resolved or timed out.
		slog.Debug("ACK without context dropped", "tx", ack.TransactionID)
		return
	}

	done := w.store.Timed("prop->res", entry.facultad, "SERVER")
	defer done()

	if ack.Confirm == aula.ConfirmAccept {
		if err := w.store.ConfirmReservation(entry.reservationID); err != nil {
			slog.Error("confirm reservation failed", "tx", ack.TransactionID, "err", err)
			return
		}
		slog.Info("reservation confirmed", "tx", ack.TransactionID, "reservation", entry.reservationID)
		w.reply(entry.client, aula.AcceptedRes(ack.TransactionID, entry.proposal))
		return
	}

	if err := w.store.FailReservation(entry.reservationID); err != nil {
		slog.Error("fail reservation failed", "tx", ack.TransactionID, "err", err)
		return
	}
	slog.Info("reservation canceled by gateway", "tx", ack.TransactionID, "reservation", entry.reservationID)
	w.reply(entry.client, aula.ErrorRes(ack.TransactionID, aula.StatusCanceled, "rechazado"))
}

func (w *worker) reply(c *client, v any) {
	if err := c.send(v); err != nil {
		slog.Warn("reply to gateway failed", "worker", w.id, "err", err)
	}
}
