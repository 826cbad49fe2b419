package main

import (
	"bufio"
	"net"
	"testing"
	"time"

	"aula"
)

// stubGateway answers every connection with a fixed line.
func stubGateway(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if _, err := bufio.NewReader(conn).ReadBytes('\n'); err != nil {
					return
				}
				if reply != "" {
					conn.Write([]byte(reply + "\n"))
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestExchange_Accepted(t *testing.T) {
	addr := stubGateway(t, `{"tipo":"RES","status":"ACCEPTED","transaction_id":"cafe0123","salones_propuestos":3}`)

	res, outcome := exchange(addr, aula.Request{Programa: "IngSw", Salones: 3}, 2*time.Second)
	if outcome != outcomeAccepted {
		t.Fatalf("outcome = %d, want %d", outcome, outcomeAccepted)
	}
	if res.TransactionID != "cafe0123" || res.Salones == nil || *res.Salones != 3 {
		t.Errorf("res = %+v", res)
	}
}

func TestExchange_TimeoutWithoutReply(t *testing.T) {
	addr := stubGateway(t, "")

	res, outcome := exchange(addr, aula.Request{Programa: "IngSw"}, 200*time.Millisecond)
	if outcome != outcomeTimeout {
		t.Fatalf("outcome = %d, want %d", outcome, outcomeTimeout)
	}
	if res.Status != aula.StatusTimeout {
		t.Errorf("status = %q", res.Status)
	}
}

func TestExchange_InvalidReply(t *testing.T) {
	addr := stubGateway(t, "not json")

	_, outcome := exchange(addr, aula.Request{Programa: "IngSw"}, 2*time.Second)
	if outcome != outcomeInvalidResponse {
		t.Fatalf("outcome = %d, want %d", outcome, outcomeInvalidResponse)
	}
}

func TestExchange_NoGateway(t *testing.T) {
	res, outcome := exchange("127.0.0.1:1", aula.Request{Programa: "IngSw"}, 500*time.Millisecond)
	if outcome != outcomeNoResponse {
		t.Fatalf("outcome = %d, want %d", outcome, outcomeNoResponse)
	}
	if res.Status != aula.StatusNoServer {
		t.Errorf("status = %q", res.Status)
	}
}

func TestStatusOutcome(t *testing.T) {
	cases := map[string]int{
		aula.StatusAccepted: outcomeAccepted,
		aula.StatusDenied:   outcomeDenied,
		aula.StatusCanceled: outcomeCanceled,
		aula.StatusTimeout:  outcomeTimeout,
		aula.StatusNoServer: outcomeUnknown,
		"SOMETHING_ELSE":    outcomeUnknown,
	}
	for status, want := range cases {
		if got := statusOutcome(status); got != want {
			t.Errorf("statusOutcome(%q) = %d, want %d", status, got, want)
		}
	}
}
