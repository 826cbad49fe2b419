// Package gateway bridges academic programs to the allocation broker.
// Each faculty runs one gateway: programs speak plain request/reply
// JSON to it, and it multiplexes their requests over a single websocket
// to whichever broker replica is currently live.
//
// The gateway auto-accepts every proposal on behalf of its programs,
// so the broker-facing handshake is SOL → PROP → ACK(ACCEPT) → RES and
// the program only ever sees the final RES.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"aula"
	"aula/internal/store"
	"aula/pkg/defaults"

	"github.com/gorilla/websocket"
)

// responseWait bounds how long a program request waits for the final
// RES before the gateway synthesizes a timeout. Twice the broker's ACK
// timeout: long enough for the broker's own cancellation to arrive
// first.
const responseWait = 2 * defaults.AckTimeout

// gcPoll is how often stale transaction contexts are swept.
const gcPoll = 5 * time.Second

var errNoServer = errors.New("no live allocation endpoint")

// Locator names the currently-live broker allocation endpoint;
// ok=false means neither replica is alive. *heartbeat.Observer
// satisfies it.
type Locator interface {
	Live() (endpoint string, ok bool)
}

// Handler processes one program request into its final RES. Both the
// canonical asynchronous gateway and the serialized variant satisfy it.
type Handler interface {
	Process(ctx context.Context, req aula.Request) aula.Res
}

// txState is the gateway-side context of one in-flight transaction.
type txState struct {
	program   string
	startedAt time.Time
	solSentAt time.Time
	ackSentAt time.Time
	resCh     chan aula.Res
}

// Gateway is the canonical asynchronous faculty gateway: one shared
// broker connection, a transaction table keyed by transaction id, and
// a read loop steering PROP and RES frames back to their waiters.
type Gateway struct {
	identity
	locator Locator

	mu       sync.Mutex
	conn     *websocket.Conn
	endpoint string
	table    map[string]*txState

	writeMu sync.Mutex
}

func New(st *store.Store, loc Locator, facultyID int, facultyName, semester string) *Gateway {
	return &Gateway{
		identity: newIdentity(st, facultyID, facultyName, semester),
		locator:  loc,
		table:    make(map[string]*txState),
	}
}

// Run sweeps abandoned transaction contexts until ctx is cancelled,
// then drops the broker connection.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(gcPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			if g.conn != nil {
				g.conn.Close()
				g.conn = nil
				g.endpoint = ""
			}
			g.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			g.collect(time.Now())
		}
	}
}

// collect removes contexts older than the GC window. Their waiters
// already timed out; only the table entry is left behind.
func (g *Gateway) collect(now time.Time) {
	cutoff := now.Add(-defaults.ContextGC)
	g.mu.Lock()
	defer g.mu.Unlock()
	for tx, st := range g.table {
		if st.startedAt.Before(cutoff) {
			delete(g.table, tx)
			slog.Warn("transaction context garbage-collected", "tx", tx, "program", st.program)
		}
	}
}

// Process forwards one program request through the live broker and
// blocks until the final RES, a synthesized error RES, or ctx ends.
// Every path returns a well-formed RES carrying the transaction id.
func (g *Gateway) Process(ctx context.Context, req aula.Request) aula.Res {
	tx := aula.NewTransactionID()
	sol := g.composeSol(tx, req)

	now := time.Now()
	st := &txState{
		program:   req.Programa,
		startedAt: now,
		solSentAt: now,
		resCh:     make(chan aula.Res, 1),
	}
	g.mu.Lock()
	g.table[tx] = st
	g.mu.Unlock()

	if err := g.sendSol(sol); err != nil {
		status := aula.StatusSendFailed
		if errors.Is(err, errNoServer) {
			status = aula.StatusNoServer
		}
		slog.Warn("SOL not sent", "tx", tx, "program", req.Programa, "err", err)
		if _, ok := g.take(tx); ok {
			g.recordProcessing(st)
		}
		return aula.ErrorRes(tx, status, err.Error())
	}
	slog.Info("SOL sent", "tx", tx, "program", req.Programa,
		"salones", req.Salones, "laboratorios", req.Laboratorios)

	select {
	case res := <-st.resCh:
		return res
	case <-time.After(responseWait):
		slog.Warn("no RES within window", "tx", tx, "program", req.Programa)
		if _, ok := g.take(tx); ok {
			g.recordProcessing(st)
		}
		return aula.ErrorRes(tx, aula.StatusTimeout, "sin respuesta del servidor")
	case <-ctx.Done():
		if _, ok := g.take(tx); ok {
			g.recordProcessing(st)
		}
		return aula.ErrorRes(tx, aula.StatusTimeout, "solicitud cancelada")
	}
}

// sendSol writes the SOL on the live broker connection, dialing or
// re-dialing first when the live endpoint changed.
func (g *Gateway) sendSol(sol aula.Sol) error {
	conn, err := g.ensureConn()
	if err != nil {
		return err
	}
	if err := g.write(conn, sol); err != nil {
		g.dropConn(conn)
		return fmt.Errorf("send SOL: %w", err)
	}
	return nil
}

// ensureConn returns the broker connection, dialing the live endpoint
// if there is none or liveness flipped to the other replica.
func (g *Gateway) ensureConn() (*websocket.Conn, error) {
	endpoint, ok := g.locator.Live()
	if !ok {
		return nil, errNoServer
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil && g.endpoint == endpoint {
		return g.conn, nil
	}
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}

	url := "ws://" + endpoint + defaults.AllocatePath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial broker %s: %w", endpoint, err)
	}
	g.conn = conn
	g.endpoint = endpoint
	go g.readLoop(conn)
	slog.Info("connected to broker", "endpoint", endpoint)
	return conn, nil
}

func (g *Gateway) write(conn *websocket.Conn, v any) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// dropConn forgets conn and resolves every pending transaction with a
// send failure, so waiters do not sit out the full response window on
// a dead link. A connection that was already replaced by a re-dial
// leaves the table alone: the entries in it belong to the new
// connection.
func (g *Gateway) dropConn(conn *websocket.Conn) {
	conn.Close()
	g.mu.Lock()
	if g.conn != conn {
		g.mu.Unlock()
		return
	}
	g.conn = nil
	g.endpoint = ""
	orphans := g.table
	g.table = make(map[string]*txState)
	g.mu.Unlock()

	for tx, st := range orphans {
		st.resCh <- aula.ErrorRes(tx, aula.StatusSendFailed, "conexión con el servidor perdida")
		g.recordProcessing(st)
	}
}

// readLoop dispatches broker frames for one connection until it dies.
func (g *Gateway) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("broker connection closed", "err", err)
			g.dropConn(conn)
			return
		}
		msg, err := aula.Decode(data)
		if err != nil {
			slog.Warn("undecodable broker frame dropped", "err", err)
			continue
		}
		switch m := msg.(type) {
		case *aula.Prop:
			g.handleProp(conn, m)
		case *aula.Res:
			g.handleRes(m)
		default:
			slog.Warn("unexpected broker message dropped")
		}
	}
}

// handleProp auto-accepts the proposal. The program already committed
// to its request; there is nothing to negotiate at this layer.
func (g *Gateway) handleProp(conn *websocket.Conn, prop *aula.Prop) {
	g.mu.Lock()
	st, ok := g.table[prop.TransactionID]
	var rtt time.Duration
	if ok {
		st.ackSentAt = time.Now()
		rtt = st.ackSentAt.Sub(st.solSentAt)
	}
	g.mu.Unlock()
	if !ok {
		slog.Debug("PROP without context dropped", "tx", prop.TransactionID)
		return
	}

	g.metric("sol_prop_roundtrip", rtt)
	ack := aula.Ack{Tipo: aula.TypeAck, TransactionID: prop.TransactionID, Confirm: aula.ConfirmAccept}
	if err := g.write(conn, ack); err != nil {
		slog.Warn("ACK not sent", "tx", prop.TransactionID, "err", err)
		g.dropConn(conn)
	}
}

// handleRes resolves the waiting program request. A RES may arrive
// without a preceding PROP (shortage denials), so the ACK roundtrip is
// only recorded when an ACK actually went out.
func (g *Gateway) handleRes(res *aula.Res) {
	st, ok := g.take(res.TransactionID)
	if !ok {
		slog.Debug("RES without context dropped", "tx", res.TransactionID)
		return
	}
	if !st.ackSentAt.IsZero() {
		g.metric("ack_res_roundtrip", time.Since(st.ackSentAt))
	}
	g.recordProcessing(st)
	slog.Info("RES delivered", "tx", res.TransactionID, "program", st.program, "status", res.Status)
	st.resCh <- *res
}

func (g *Gateway) take(tx string) (*txState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.table[tx]
	if ok {
		delete(g.table, tx)
	}
	return st, ok
}

func (g *Gateway) recordProcessing(st *txState) {
	g.metric("faculty_processing_total_ms", time.Since(st.startedAt))
}
