// Package broker is the central allocation service: a websocket front
// end fanning inbound frames out to a fixed worker pool that runs the
// SOL → PROP → ACK → RES state machine over the shared room inventory.
//
// The broker binds its endpoint only while this replica is active; the
// Binary-Star controller drives Activate/Deactivate.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"aula/internal/store"
	"aula/pkg/defaults"

	"github.com/gorilla/websocket"
)

const jobQueueCapacity = 128

// job is one inbound frame plus the identity of the gateway connection
// it arrived on.
type job struct {
	client *client
	data   []byte
}

// client wraps one gateway websocket connection. Workers and the
// monitor write replies concurrently, so writes serialize on mu.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type Broker struct {
	store   *store.Store
	addr    string
	workers int

	mu     sync.Mutex
	ln     net.Listener
	srv    *http.Server
	cancel context.CancelFunc
	done   chan struct{}
	jobs   chan job
	table  *txTable
}

func New(st *store.Store, addr string) *Broker {
	return &Broker{
		store:   st,
		addr:    addr,
		workers: defaults.WorkerCount,
	}
}

// Addr returns the bound allocation address, or "" while inactive.
func (b *Broker) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return ""
	}
	return b.ln.Addr().String()
}

// Activate binds the allocation endpoint and starts the proxy, the
// worker pool and the reservation monitor. Idempotent.
func (b *Broker) Activate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln != nil {
		return nil
	}

	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("bind allocation endpoint %s: %w", b.addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.ln = ln
	b.cancel = cancel
	b.jobs = make(chan job, jobQueueCapacity)
	b.table = newTxTable()
	b.done = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(defaults.AllocatePath, func(w http.ResponseWriter, r *http.Request) {
		b.handleConn(runCtx, w, r)
	})
	b.srv = &http.Server{Handler: mux}

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := worker{store: b.store, table: b.table, id: i}
			w.run(runCtx, b.jobs)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m := monitor{store: b.store, table: b.table, poll: defaults.MonitorPoll}
		m.run(runCtx)
	}()

	srv, done := b.srv, b.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("allocation server stopped", "err", err)
		}
		wg.Wait()
	}()

	slog.Info("broker active", "addr", ln.Addr().String(), "workers", b.workers)
	return nil
}

// Deactivate closes the allocation endpoint and stops the workers.
// Workers must exit within one heartbeat interval. In-flight
// transactions are abandoned; the takeover replica's monitor times
// their reservations out. Idempotent.
func (b *Broker) Deactivate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return nil
	}

	b.cancel()
	// Close rather than Shutdown: open websocket connections must drop
	// now, not drain.
	_ = b.srv.Close()

	select {
	case <-b.done:
	case <-time.After(defaults.HBInterval):
		slog.Warn("broker workers did not stop within one heartbeat")
	}

	b.ln = nil
	b.srv = nil
	b.cancel = nil
	b.jobs = nil
	b.table = nil
	b.done = nil
	slog.Info("broker passive")
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleConn upgrades one gateway connection and feeds its frames to
// the worker pool. The connection itself is the client identity replies
// route back on.
func (b *Broker) handleConn(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	jobs := b.jobsChan()
	slog.Debug("gateway connected", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("gateway disconnected", "remote", r.RemoteAddr, "err", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case jobs <- job{client: c, data: data}:
		}
	}
}

func (b *Broker) jobsChan() chan job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jobs
}
