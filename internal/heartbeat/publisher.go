package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"aula/pkg/defaults"
)

// Tick is one heartbeat line on the wire.
type Tick struct {
	Topic string `json:"topic"`
}

// TopicHB is the only topic the bus carries.
const TopicHB = "HB"

// Publisher streams heartbeat ticks to every subscriber. It stays bound
// for the whole life of the replica, active or passive; liveness is
// what lets the peer and the gateways pick the replica that owns the
// allocation endpoint.
type Publisher struct {
	interval time.Duration
}

func NewPublisher(interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = defaults.HBInterval
	}
	return &Publisher{interval: interval}
}

// ServeHTTP streams one ndjson tick per interval until the subscriber
// goes away. Delivery is best-effort; subscribers judge liveness on
// time windows, not tick counts.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := enc.Encode(Tick{Topic: TopicHB}); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// ListenAndServe binds the heartbeat endpoint on addr and blocks until
// ctx is cancelled.
func (p *Publisher) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(defaults.HeartbeatPath, p)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen heartbeat %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("heartbeat publisher bound", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve heartbeat: %w", err)
	}
	return nil
}
