package gateway

import (
	"log/slog"
	"time"

	"aula"
	"aula/internal/store"
)

// identity is the faculty this gateway speaks for, shared by both
// gateway variants: it composes SOLs and records this faculty's
// metrics.
type identity struct {
	store       *store.Store
	programs    *programSet
	facultyID   int
	facultyName string
	semester    string
}

func newIdentity(st *store.Store, facultyID int, facultyName, semester string) identity {
	return identity{
		store:       st,
		programs:    newProgramSet(),
		facultyID:   facultyID,
		facultyName: facultyName,
		semester:    semester,
	}
}

func (id *identity) composeSol(tx string, req aula.Request) aula.Sol {
	programID, created := id.programs.id(req.Programa)
	if created {
		if err := id.store.EnsureProgram(programID, id.facultyID, req.Programa, id.semester); err != nil {
			slog.Error("ensure program failed", "program", req.Programa, "err", err)
		}
	}
	return aula.Sol{
		Tipo:          aula.TypeSol,
		TransactionID: tx,
		Programa:      req.Programa,
		Salones:       req.Salones,
		Laboratorios:  req.Laboratorios,
		FacultyID:     id.facultyID,
		ProgramID:     programID,
		Facultad:      id.facultyName,
		Semester:      id.semester,
	}
}

// metric records a duration in milliseconds. Best-effort.
func (id *identity) metric(kind string, d time.Duration) {
	ms := float64(d.Nanoseconds()) / 1e6
	_ = id.store.RecordMetric(kind, ms, id.facultyName, "SERVER")
}
