package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aula"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "classroom.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, classrooms, labs int) {
	t.Helper()
	if err := s.SeedInventory(classrooms, labs, "2025-2"); err != nil {
		t.Fatalf("SeedInventory: %v", err)
	}
}

func TestSeedInventory_Idempotent(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 380, 60)
	seed(t, s, 380, 60)

	cls, lab, err := s.FreeCounts()
	if err != nil {
		t.Fatalf("FreeCounts: %v", err)
	}
	if cls != 380 {
		t.Errorf("free classrooms = %d, want 380", cls)
	}
	if lab != 60 {
		t.Errorf("free labs = %d, want 60", lab)
	}
}

func TestAllocateRooms_Basic(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 10, 5)

	id, err := s.AllocateRooms(3, 1, 1, 1)
	if err != nil {
		t.Fatalf("AllocateRooms: %v", err)
	}

	r, err := s.Reservation(id)
	if err != nil {
		t.Fatalf("Reservation: %v", err)
	}
	if r.Status != aula.ReservationPending {
		t.Errorf("status = %q, want PENDING", r.Status)
	}

	rooms, err := s.ReservationRooms(id)
	if err != nil {
		t.Fatalf("ReservationRooms: %v", err)
	}
	if len(rooms) != 4 {
		t.Fatalf("linked rooms = %d, want 4", len(rooms))
	}
	for _, room := range rooms {
		if room.Status != aula.RoomBusy {
			t.Errorf("room %d status = %q, want BUSY", room.ID, room.Status)
		}
	}

	busy, err := s.CountRooms(aula.RoomBusy)
	if err != nil {
		t.Fatal(err)
	}
	if busy != 4 {
		t.Errorf("busy rooms = %d, want 4", busy)
	}
}

func TestAllocateRooms_MonotonicIDs(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 10, 5)

	var last int64
	for i := 0; i < 3; i++ {
		id, err := s.AllocateRooms(1, 0, 1, 1)
		if err != nil {
			t.Fatalf("AllocateRooms #%d: %v", i, err)
		}
		if id <= last {
			t.Errorf("reservation id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestAllocateRooms_SubstitutesMobileLabs(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 10, 0)

	// 2 classrooms + 2 labs, but no labs exist: two extra classrooms
	// get adapted.
	id, err := s.AllocateRooms(2, 2, 1, 1)
	if err != nil {
		t.Fatalf("AllocateRooms: %v", err)
	}

	rooms, err := s.ReservationRooms(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 4 {
		t.Fatalf("linked rooms = %d, want 4", len(rooms))
	}

	adapted := 0
	for _, room := range rooms {
		if room.Type != aula.RoomClass {
			t.Errorf("room %d type = %q, want CLASS", room.ID, room.Type)
		}
		if room.Adapted {
			adapted++
		}
	}
	if adapted != 2 {
		t.Errorf("adapted rooms = %d, want 2", adapted)
	}
}

func TestAllocateRooms_SubstituteDoesNotReuseClassPick(t *testing.T) {
	s := openTestStore(t)
	// Exactly 2 classrooms: one requested as a classroom, one needed as
	// a substitute lab. The substitute must not be the same room.
	seed(t, s, 2, 0)

	id, err := s.AllocateRooms(1, 1, 1, 1)
	if err != nil {
		t.Fatalf("AllocateRooms: %v", err)
	}
	rooms, err := s.ReservationRooms(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("linked rooms = %d, want 2 distinct rooms", len(rooms))
	}
	if rooms[0].ID == rooms[1].ID {
		t.Error("substitute lab reused the classroom pick")
	}
}

func TestAllocateRooms_ShortageClass(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 2, 1)

	_, err := s.AllocateRooms(3, 0, 1, 1)
	if !errors.Is(err, ErrShortageClass) {
		t.Fatalf("err = %v, want ErrShortageClass", err)
	}

	// Nothing may leak from the rolled-back attempt.
	busy, err := s.CountRooms(aula.RoomBusy)
	if err != nil {
		t.Fatal(err)
	}
	if busy != 0 {
		t.Errorf("busy rooms after rollback = %d, want 0", busy)
	}
}

func TestAllocateRooms_ShortageLab(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 1, 0)

	// One classroom requested plus one lab that would need a substitute
	// classroom, but there is only one classroom in total.
	_, err := s.AllocateRooms(1, 1, 1, 1)
	if !errors.Is(err, ErrShortageLab) {
		t.Fatalf("err = %v, want ErrShortageLab", err)
	}

	adapted, err := s.CountAdapted()
	if err != nil {
		t.Fatal(err)
	}
	if adapted != 0 {
		t.Errorf("adapted rooms after rollback = %d, want 0", adapted)
	}
}

func TestConfirmReservation(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 5, 2)

	id, err := s.AllocateRooms(2, 1, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmReservation(id); err != nil {
		t.Fatalf("ConfirmReservation: %v", err)
	}

	r, err := s.Reservation(id)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != aula.ReservationConfirmed {
		t.Errorf("status = %q, want CONFIRMED", r.Status)
	}
	if r.TsAck == 0 {
		t.Error("ts_ack not set on confirm")
	}

	// Confirmed reservations keep their rooms BUSY.
	rooms, err := s.ReservationRooms(id)
	if err != nil {
		t.Fatal(err)
	}
	for _, room := range rooms {
		if room.Status != aula.RoomBusy {
			t.Errorf("room %d status = %q, want BUSY", room.ID, room.Status)
		}
	}
}

func TestFailReservation_ReleasesRoomsAndAdaptedFlag(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 4, 0)

	id, err := s.AllocateRooms(2, 2, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if adapted, _ := s.CountAdapted(); adapted != 2 {
		t.Fatalf("adapted before fail = %d, want 2", adapted)
	}

	if err := s.FailReservation(id); err != nil {
		t.Fatalf("FailReservation: %v", err)
	}

	r, err := s.Reservation(id)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != aula.ReservationFailed {
		t.Errorf("status = %q, want FAILED", r.Status)
	}

	busy, err := s.CountRooms(aula.RoomBusy)
	if err != nil {
		t.Fatal(err)
	}
	if busy != 0 {
		t.Errorf("busy rooms after fail = %d, want 0", busy)
	}
	adapted, err := s.CountAdapted()
	if err != nil {
		t.Fatal(err)
	}
	if adapted != 0 {
		t.Errorf("adapted rooms after fail = %d, want 0", adapted)
	}
}

func TestBusyCountMatchesActiveReservations(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 10, 4)

	a, err := s.AllocateRooms(2, 1, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.AllocateRooms(1, 0, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmReservation(a); err != nil {
		t.Fatal(err)
	}
	if err := s.FailReservation(b); err != nil {
		t.Fatal(err)
	}

	// Only reservation a (3 rooms) still holds inventory.
	busy, err := s.CountRooms(aula.RoomBusy)
	if err != nil {
		t.Fatal(err)
	}
	if busy != 3 {
		t.Errorf("busy rooms = %d, want 3", busy)
	}
}

func TestEnsureFaculty_Idempotent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.EnsureFaculty(7, "Ingeniería", "2025-2"); err != nil {
			t.Fatalf("EnsureFaculty: %v", err)
		}
	}
	n, err := s.FacultyCount(7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("faculty rows = %d, want 1", n)
	}
}

func TestEnsureProgram_Idempotent(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnsureProgram(1, 7, "IngSw", "2025-2"); err != nil {
		t.Fatal(err)
	}
	// A second upsert with a different name must not replace the row.
	if err := s.EnsureProgram(1, 7, "Other", "2025-2"); err != nil {
		t.Fatal(err)
	}
}

func TestRecordMetricAndTimed(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordMetric("request_outcome", 1, "Programa:IngSw", "Facultad:1"); err != nil {
		t.Fatalf("RecordMetric: %v", err)
	}
	done := s.Timed("sol->prop", "Ingeniería", "SERVER")
	time.Sleep(5 * time.Millisecond)
	done()

	n, err := s.MetricCount("sol->prop")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("sol->prop metrics = %d, want 1", n)
	}
	n, err = s.MetricCount("request_outcome")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("request_outcome metrics = %d, want 1", n)
	}
}

func TestRegisterServerRole_Upserts(t *testing.T) {
	s := openTestStore(t)

	if err := s.RegisterServerRole("node-a", aula.RoleBackup); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterServerRole("node-a", aula.RolePrimary); err != nil {
		t.Fatal(err)
	}
	role, err := s.ServerRole("node-a")
	if err != nil {
		t.Fatal(err)
	}
	if role != aula.RolePrimary {
		t.Errorf("role = %q, want PRIMARY", role)
	}
}

func TestPendingBefore(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 5, 2)

	id, err := s.AllocateRooms(1, 0, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	stale, err := s.PendingBefore(time.Now().Unix() + 60)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0] != id {
		t.Errorf("stale pending = %v, want [%d]", stale, id)
	}

	none, err := s.PendingBefore(time.Now().Unix() - 60)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("stale pending before past cutoff = %v, want empty", none)
	}
}

func TestReadsProceedDuringConcurrentWrites(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, 100, 10)

	var wg sync.WaitGroup
	errCh := make(chan error, 60)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AllocateRooms(1, 0, 1, i+1); err != nil {
				errCh <- err
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.FreeCounts(); err != nil {
				errCh <- err
			}
			if _, err := s.CountRooms(aula.RoomBusy); err != nil {
				errCh <- err
			}
			if _, err := s.MetricCount("sol->prop"); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent access: %v", err)
	}

	busy, err := s.CountRooms(aula.RoomBusy)
	if err != nil {
		t.Fatal(err)
	}
	if busy != 10 {
		t.Errorf("busy rooms = %d, want 10", busy)
	}
}
