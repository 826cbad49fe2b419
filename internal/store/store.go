// Package store is the shared sqlite datastore behind the allocation
// broker: room inventory, reservations, faculties, programs, replica
// registry and metrics.
//
// All multi-statement mutations run inside an exclusive transaction and
// additionally serialize on a process-wide writer lock; the replicated
// deployment relies on the Binary-Star controller to keep at most one
// writer process active per store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aula"

	_ "modernc.org/sqlite"
)

// Allocation shortage errors. The broker maps these to DENIED responses
// carrying the error text as the reason.
var (
	ErrShortageClass = errors.New("no hay suficientes aulas libres")
	ErrShortageLab   = errors.New("no hay recursos para adaptar laboratorios")
)

type Store struct {
	db *sql.DB
	// mu is the process-wide writer lock; multi-statement mutations
	// must hold it for their whole transaction.
	mu sync.Mutex
}

// Open opens (creating if needed) the reservation database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create datastore directory: %w", err)
		}
	}

	// busy_timeout and foreign_keys are per-connection, so they ride
	// the DSN and reach every pooled connection.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open reservation db: %w", err)
	}
	// WAL is persistent in the database file and lets readers proceed
	// while a write transaction is open.
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize reservation schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS room (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL CHECK (type IN ('CLASS','LAB')),
	adapted INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK (status IN ('FREE','BUSY')),
	semester TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS faculty (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	semester TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS program (
	id INTEGER PRIMARY KEY,
	faculty_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	semester TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS reservation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	faculty_id INTEGER NOT NULL,
	program_id INTEGER NOT NULL,
	ts_req INTEGER NOT NULL,
	ts_ack INTEGER,
	status TEXT NOT NULL CHECK (status IN ('PENDING','CONFIRMED','FAILED'))
);
CREATE TABLE IF NOT EXISTS reservation_room (
	reservation_id INTEGER NOT NULL REFERENCES reservation(id),
	room_id INTEGER NOT NULL REFERENCES room(id),
	PRIMARY KEY (reservation_id, room_id)
);
CREATE TABLE IF NOT EXISTS server (
	host TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	last_hb INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metric (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	value REAL NOT NULL,
	ts INTEGER NOT NULL,
	src TEXT NOT NULL,
	dst TEXT NOT NULL
);
`

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SeedInventory inserts the initial room stock if the room table is
// empty. Idempotent.
func (s *Store) SeedInventory(classrooms, labs int, semester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM room`).Scan(&count); err != nil {
		return fmt.Errorf("count rooms: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	ins, err := tx.Prepare(`INSERT INTO room (type, adapted, status, semester) VALUES (?, 0, 'FREE', ?)`)
	if err != nil {
		return fmt.Errorf("prepare seed insert: %w", err)
	}
	defer ins.Close()

	for i := 0; i < classrooms; i++ {
		if _, err := ins.Exec(aula.RoomClass, semester); err != nil {
			return fmt.Errorf("seed classroom: %w", err)
		}
	}
	for i := 0; i < labs; i++ {
		if _, err := ins.Exec(aula.RoomLab, semester); err != nil {
			return fmt.Errorf("seed lab: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

// AllocateRooms atomically reserves nClass regular classrooms and nLab
// labs for the given program, substituting free classrooms as mobile
// labs when the lab stock runs short. It returns the id of the new
// PENDING reservation, ErrShortageClass when nClass cannot be met, or
// ErrShortageLab when the substitute classrooms cannot be found.
func (s *Store) AllocateRooms(nClass, nLab, facultyID, programID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin allocation: %w", err)
	}
	defer tx.Rollback()

	classRooms, err := pickRooms(tx,
		`SELECT id FROM room WHERE type='CLASS' AND status='FREE' AND adapted=0 ORDER BY id LIMIT ?`, nClass)
	if err != nil {
		return 0, err
	}
	if len(classRooms) < nClass {
		return 0, ErrShortageClass
	}

	labRooms, err := pickRooms(tx,
		`SELECT id FROM room WHERE type='LAB' AND status='FREE' ORDER BY id LIMIT ?`, nLab)
	if err != nil {
		return 0, err
	}

	if deficit := nLab - len(labRooms); deficit > 0 {
		adapt, err := pickAdaptable(tx, classRooms, deficit)
		if err != nil {
			return 0, err
		}
		if len(adapt) < deficit {
			return 0, ErrShortageLab
		}
		for _, id := range adapt {
			if _, err := tx.Exec(`UPDATE room SET adapted=1 WHERE id=?`, id); err != nil {
				return 0, fmt.Errorf("adapt room %d: %w", id, err)
			}
		}
		labRooms = append(labRooms, adapt...)
	}

	res, err := tx.Exec(
		`INSERT INTO reservation (faculty_id, program_id, ts_req, status) VALUES (?, ?, ?, 'PENDING')`,
		facultyID, programID, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert reservation: %w", err)
	}
	resID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reservation id: %w", err)
	}

	all := append(append([]int64(nil), classRooms...), labRooms...)
	for _, id := range all {
		if _, err := tx.Exec(`INSERT INTO reservation_room (reservation_id, room_id) VALUES (?, ?)`, resID, id); err != nil {
			return 0, fmt.Errorf("link room %d: %w", id, err)
		}
		if _, err := tx.Exec(`UPDATE room SET status='BUSY' WHERE id=?`, id); err != nil {
			return 0, fmt.Errorf("mark room %d busy: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit allocation: %w", err)
	}
	return resID, nil
}

func pickRooms(tx *sql.Tx, query string, limit int) ([]int64, error) {
	rows, err := tx.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("pick rooms: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// pickAdaptable selects free classrooms to serve as mobile labs,
// excluding the rooms already claimed as plain classrooms.
func pickAdaptable(tx *sql.Tx, exclude []int64, limit int) ([]int64, error) {
	query := `SELECT id FROM room WHERE type='CLASS' AND status='FREE' AND adapted=0`
	args := make([]any, 0, len(exclude)+1)
	if len(exclude) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(exclude)), ",")
		query += ` AND id NOT IN (` + placeholders + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("pick adaptable rooms: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan adaptable id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ConfirmReservation marks the reservation CONFIRMED.
func (s *Store) ConfirmReservation(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE reservation SET status='CONFIRMED', ts_ack=? WHERE id=?`,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("confirm reservation %d: %w", id, err)
	}
	return nil
}

// FailReservation releases every room linked to the reservation,
// resetting the adapted flag, and marks the reservation FAILED.
func (s *Store) FailReservation(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin fail reservation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE room SET status='FREE', adapted=0
		 WHERE id IN (SELECT room_id FROM reservation_room WHERE reservation_id=?)`, id); err != nil {
		return fmt.Errorf("release rooms for reservation %d: %w", id, err)
	}
	if _, err := tx.Exec(
		`UPDATE reservation SET status='FAILED', ts_ack=? WHERE id=?`,
		time.Now().Unix(), id); err != nil {
		return fmt.Errorf("fail reservation %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail reservation %d: %w", id, err)
	}
	return nil
}

// EnsureFaculty inserts the faculty if absent. Idempotent.
func (s *Store) EnsureFaculty(id int, name, semester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO faculty (id, name, semester) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, name, semester)
	if err != nil {
		return fmt.Errorf("ensure faculty %d: %w", id, err)
	}
	return nil
}

// EnsureProgram inserts the program if absent. Idempotent.
func (s *Store) EnsureProgram(id, facultyID int, name, semester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO program (id, faculty_id, name, semester) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, facultyID, name, semester)
	if err != nil {
		return fmt.Errorf("ensure program %d: %w", id, err)
	}
	return nil
}

// RecordMetric appends a metric row with the current timestamp.
func (s *Store) RecordMetric(kind string, value float64, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO metric (kind, value, ts, src, dst) VALUES (?, ?, ?, ?, ?)`,
		kind, value, time.Now().Unix(), src, dst)
	if err != nil {
		return fmt.Errorf("record metric %q: %w", kind, err)
	}
	return nil
}

// Timed returns a closure that records the elapsed milliseconds since
// the call as a metric of the given kind.
func (s *Store) Timed(kind, src, dst string) func() {
	start := time.Now()
	return func() {
		ms := float64(time.Since(start).Nanoseconds()) / 1e6
		// Metrics are best-effort.
		_ = s.RecordMetric(kind, ms, src, dst)
	}
}

// RegisterServerRole upserts this replica's row in the server registry.
func (s *Store) RegisterServerRole(host, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO server (host, role, last_hb) VALUES (?, ?, ?)
		 ON CONFLICT(host) DO UPDATE SET role=excluded.role, last_hb=excluded.last_hb`,
		host, role, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("register server %q: %w", host, err)
	}
	return nil
}

// FreeCounts returns the number of FREE classrooms (excluding adapted
// ones) and FREE labs.
func (s *Store) FreeCounts() (class, lab int, err error) {
	rows, err := s.db.Query(
		`SELECT type, COUNT(*) FROM room WHERE status='FREE' AND adapted=0 GROUP BY type`)
	if err != nil {
		return 0, 0, fmt.Errorf("count free rooms: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return 0, 0, fmt.Errorf("scan free count: %w", err)
		}
		switch typ {
		case aula.RoomClass:
			class = n
		case aula.RoomLab:
			lab = n
		}
	}
	return class, lab, rows.Err()
}

// Reservation returns one reservation row.
func (s *Store) Reservation(id int64) (aula.Reservation, error) {
	var r aula.Reservation
	var tsAck sql.NullInt64
	err := s.db.QueryRow(
		`SELECT id, faculty_id, program_id, ts_req, ts_ack, status FROM reservation WHERE id=?`, id).
		Scan(&r.ID, &r.FacultyID, &r.ProgramID, &r.TsReq, &tsAck, &r.Status)
	if err != nil {
		return aula.Reservation{}, fmt.Errorf("query reservation %d: %w", id, err)
	}
	r.TsAck = tsAck.Int64
	return r, nil
}

// ReservationRooms returns the rooms linked to a reservation.
func (s *Store) ReservationRooms(id int64) ([]aula.Room, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.type, r.adapted, r.status, r.semester
		 FROM room r JOIN reservation_room rr ON rr.room_id = r.id
		 WHERE rr.reservation_id = ? ORDER BY r.id`, id)
	if err != nil {
		return nil, fmt.Errorf("query reservation rooms %d: %w", id, err)
	}
	defer rows.Close()

	var out []aula.Room
	for rows.Next() {
		var r aula.Room
		var adapted int
		if err := rows.Scan(&r.ID, &r.Type, &adapted, &r.Status, &r.Semester); err != nil {
			return nil, fmt.Errorf("scan reservation room: %w", err)
		}
		r.Adapted = adapted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRooms returns how many rooms are in the given status.
func (s *Store) CountRooms(status string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM room WHERE status=?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s rooms: %w", status, err)
	}
	return n, nil
}

// CountAdapted returns how many rooms currently carry the adapted flag.
func (s *Store) CountAdapted() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM room WHERE adapted=1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count adapted rooms: %w", err)
	}
	return n, nil
}

// PendingBefore returns ids of PENDING reservations requested before
// the given unix timestamp. The reservation monitor uses this to sweep
// orphans left behind by a failed-over replica.
func (s *Store) PendingBefore(ts int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT id FROM reservation WHERE status='PENDING' AND ts_req < ? ORDER BY id`, ts)
	if err != nil {
		return nil, fmt.Errorf("query stale pending reservations: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MetricCount returns how many metric rows of the given kind exist.
func (s *Store) MetricCount(kind string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM metric WHERE kind=?`, kind).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %q metrics: %w", kind, err)
	}
	return n, nil
}

// ServerRole returns the registered role for a host, or "" when the
// host has never registered.
func (s *Store) ServerRole(host string) (string, error) {
	var role string
	err := s.db.QueryRow(`SELECT role FROM server WHERE host=?`, host).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query server role %q: %w", host, err)
	}
	return role, nil
}

// FacultyCount counts faculty rows with the given id.
func (s *Store) FacultyCount(id int) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM faculty WHERE id=?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count faculty %d: %w", id, err)
	}
	return n, nil
}
