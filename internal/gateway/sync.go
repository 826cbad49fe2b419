package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"aula"
	"aula/internal/store"
	"aula/pkg/defaults"

	"github.com/gorilla/websocket"
)

// SyncGateway is the serialized gateway variant: one transaction at a
// time over a fresh broker connection, the whole SOL → PROP → ACK → RES
// handshake run inline. No transaction table; the connection itself is
// the context.
type SyncGateway struct {
	identity
	locator Locator

	mu sync.Mutex
}

func NewSync(st *store.Store, loc Locator, facultyID int, facultyName, semester string) *SyncGateway {
	return &SyncGateway{
		identity: newIdentity(st, facultyID, facultyName, semester),
		locator:  loc,
	}
}

// Process runs one full handshake. Requests serialize on the gateway
// mutex, matching the one-at-a-time semantics of the variant.
func (g *SyncGateway) Process(ctx context.Context, req aula.Request) aula.Res {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx := aula.NewTransactionID()
	started := time.Now()
	res := g.exchange(tx, req)
	g.metric("faculty_processing_total_ms", time.Since(started))
	return res
}

func (g *SyncGateway) exchange(tx string, req aula.Request) aula.Res {
	endpoint, ok := g.locator.Live()
	if !ok {
		slog.Warn("no live broker", "tx", tx, "program", req.Programa)
		return aula.ErrorRes(tx, aula.StatusNoServer, errNoServer.Error())
	}

	url := "ws://" + endpoint + defaults.AllocatePath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		slog.Warn("broker dial failed", "tx", tx, "endpoint", endpoint, "err", err)
		return aula.ErrorRes(tx, aula.StatusSendFailed, err.Error())
	}
	defer conn.Close()

	sol := g.composeSol(tx, req)
	solSent := time.Now()
	if err := conn.WriteJSON(sol); err != nil {
		return aula.ErrorRes(tx, aula.StatusSendFailed, err.Error())
	}

	// First reply is either the PROP or, on shortage, the final RES.
	msg, err := g.read(conn)
	if err != nil {
		return g.readError(tx, err)
	}
	var prop *aula.Prop
	switch m := msg.(type) {
	case *aula.Prop:
		prop = m
	case *aula.Res:
		return *m
	default:
		return aula.ErrorRes(tx, aula.StatusUnexpectedRes, "respuesta inesperada a SOL")
	}
	g.metric("sol_prop_roundtrip", time.Since(solSent))

	ack := aula.Ack{Tipo: aula.TypeAck, TransactionID: prop.TransactionID, Confirm: aula.ConfirmAccept}
	ackSent := time.Now()
	if err := conn.WriteJSON(ack); err != nil {
		return aula.ErrorRes(tx, aula.StatusSendFailed, err.Error())
	}

	msg, err = g.read(conn)
	if err != nil {
		return g.readError(tx, err)
	}
	res, ok := msg.(*aula.Res)
	if !ok {
		return aula.ErrorRes(tx, aula.StatusUnexpectedRes, "respuesta inesperada a ACK")
	}
	g.metric("ack_res_roundtrip", time.Since(ackSent))
	slog.Info("RES delivered", "tx", tx, "program", req.Programa, "status", res.Status)
	return *res
}

var errReadTimeout = errors.New("sin respuesta del servidor")

func (g *SyncGateway) read(conn *websocket.Conn) (any, error) {
	conn.SetReadDeadline(time.Now().Add(responseWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, errReadTimeout
	}
	msg, err := aula.Decode(data)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (g *SyncGateway) readError(tx string, err error) aula.Res {
	if errors.Is(err, errReadTimeout) {
		return aula.ErrorRes(tx, aula.StatusTimeout, err.Error())
	}
	return aula.ErrorRes(tx, aula.StatusDecodeError, err.Error())
}

