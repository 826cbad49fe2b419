package heartbeat

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable clock shared by tracker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTracker_LivenessWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tr := NewTracker(clock)

	if tr.Alive("primary") {
		t.Error("peer alive before any heartbeat")
	}

	tr.RecordSeen("primary")
	if !tr.Alive("primary") {
		t.Error("peer not alive right after heartbeat")
	}

	// Inside the 3-interval window.
	clock.advance(2 * time.Second)
	if !tr.Alive("primary") {
		t.Error("peer declared dead inside liveness window")
	}

	// Past the window.
	clock.advance(2 * time.Second)
	if tr.Alive("primary") {
		t.Error("peer still alive past liveness window")
	}

	// A new heartbeat revives it.
	tr.RecordSeen("primary")
	if !tr.Alive("primary") {
		t.Error("peer not revived by fresh heartbeat")
	}
}

func TestTracker_Remove(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tr := NewTracker(clock)

	tr.RecordSeen("backup")
	tr.Remove("backup")
	if tr.Alive("backup") {
		t.Error("removed peer still alive")
	}
}

func TestObserver_ReceivesTicks(t *testing.T) {
	pub := NewPublisher(20 * time.Millisecond)
	srv := httptest.NewServer(pub)
	defer srv.Close()

	obs := NewObserver([]Peer{
		{Name: "primary", HeartbeatURL: srv.URL, Endpoint: "primary:5555"},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go obs.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !obs.Alive("primary") {
		if time.Now().After(deadline) {
			t.Fatal("observer never saw a heartbeat")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ep, ok := obs.Live()
	if !ok {
		t.Fatal("Live() reported no alive peer")
	}
	if ep != "primary:5555" {
		t.Errorf("live endpoint = %q, want primary:5555", ep)
	}
}

func TestObserver_PriorityOrder(t *testing.T) {
	pub := NewPublisher(20 * time.Millisecond)
	primary := httptest.NewServer(pub)
	defer primary.Close()
	backup := httptest.NewServer(pub)
	defer backup.Close()

	obs := NewObserver([]Peer{
		{Name: "primary", HeartbeatURL: primary.URL, Endpoint: "primary:5555"},
		{Name: "backup", HeartbeatURL: backup.URL, Endpoint: "backup:5555"},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go obs.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !(obs.Alive("primary") && obs.Alive("backup")) {
		if time.Now().After(deadline) {
			t.Fatal("observer never saw both peers")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Both alive: the first configured peer wins.
	ep, ok := obs.Live()
	if !ok || ep != "primary:5555" {
		t.Errorf("live endpoint = %q (ok=%v), want primary:5555", ep, ok)
	}
}

func TestObserver_FailsOverToBackup(t *testing.T) {
	pub := NewPublisher(20 * time.Millisecond)
	primary := httptest.NewServer(pub)
	backup := httptest.NewServer(pub)
	defer backup.Close()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	obs := NewObserver([]Peer{
		{Name: "primary", HeartbeatURL: primary.URL, Endpoint: "primary:5555"},
		{Name: "backup", HeartbeatURL: backup.URL, Endpoint: "backup:5555"},
	}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go obs.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !(obs.Alive("primary") && obs.Alive("backup")) {
		if time.Now().After(deadline) {
			t.Fatal("observer never saw both peers")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Kill the primary and age its last heartbeat out of the window.
	// The backup keeps ticking at the advanced clock.
	primary.CloseClientConnections()
	primary.Close()
	clock.advance(4 * time.Second)

	deadline = time.Now().Add(2 * time.Second)
	for {
		if ep, ok := obs.Live(); ok && ep == "backup:5555" {
			break
		}
		if time.Now().After(deadline) {
			ep, ok := obs.Live()
			t.Fatalf("observer never failed over; live=%q ok=%v", ep, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestObserver_NoPeers(t *testing.T) {
	obs := NewObserver(nil, nil)
	if _, ok := obs.Live(); ok {
		t.Error("Live() reported an endpoint with no peers configured")
	}
}
