package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"aula"
	"aula/pkg/defaults"
)

// Server is the program-facing surface: newline-delimited JSON over
// TCP, one request and one reply per connection. Connections are served
// one at a time; the reply socket is strictly synchronous.
type Server struct {
	handler Handler
	addr    string

	mu sync.Mutex
	ln net.Listener
}

func NewServer(h Handler, addr string) *Server {
	return &Server{handler: h, addr: addr}
}

// Addr returns the bound program-facing address, or "" before binding.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// ListenAndServe accepts program connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind program endpoint %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	slog.Info("gateway listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept program connection: %w", err)
		}
		s.serve(ctx, conn)
	}
}

// serve handles exactly one request/reply exchange. A client that
// holds the line open without sending hits the read deadline rather
// than wedging the gateway.
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(defaults.ClientTimeout))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		slog.Debug("program request not read", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	var req aula.Request
	if err := json.Unmarshal(line, &req); err != nil {
		slog.Warn("undecodable program request", "remote", conn.RemoteAddr(), "err", err)
		s.reply(conn, aula.ErrorRes("", aula.StatusDecodeError, "solicitud inválida"))
		return
	}

	res := s.handler.Process(ctx, req)
	s.reply(conn, res)
}

func (s *Server) reply(conn net.Conn, res aula.Res) {
	data, err := json.Marshal(res)
	if err != nil {
		slog.Error("encode RES failed", "err", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		slog.Debug("reply to program failed", "remote", conn.RemoteAddr(), "err", err)
	}
}
