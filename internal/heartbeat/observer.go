package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"aula"
)

const (
	resubscribeDelay    = 1 * time.Second
	maxResubscribeDelay = 5 * time.Second
)

// Peer is one heartbeat source the observer watches. Name doubles as
// the priority order: the first alive peer in the configured order wins
// Live().
type Peer struct {
	Name string
	// HeartbeatURL is the full heartbeat stream URL.
	HeartbeatURL string
	// Endpoint is what Live returns for this peer (the peer's
	// allocation endpoint for gateways, unused by replicas).
	Endpoint string
}

// Observer subscribes to a fixed set of heartbeat streams and feeds a
// liveness tracker. Both the Binary-Star controller (watching its one
// peer) and the faculty gateways (watching both replicas) embed one.
type Observer struct {
	peers   []Peer
	tracker *Tracker
	client  *http.Client
}

func NewObserver(peers []Peer, clock aula.Clock) *Observer {
	return &Observer{
		peers:   peers,
		tracker: NewTracker(clock),
		client:  http.DefaultClient,
	}
}

// Run subscribes to every peer's stream and blocks until ctx is
// cancelled. Dropped subscriptions are re-dialed with backoff; a dead
// peer simply ages out of the liveness window.
func (o *Observer) Run(ctx context.Context) error {
	for _, p := range o.peers {
		go o.watch(ctx, p)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Alive reports whether the named peer is inside the liveness window.
func (o *Observer) Alive(name string) bool {
	return o.tracker.Alive(name)
}

// Live returns the endpoint of the first alive peer in configuration
// order, or ok=false when every peer is silent.
func (o *Observer) Live() (endpoint string, ok bool) {
	for _, p := range o.peers {
		if o.tracker.Alive(p.Name) {
			return p.Endpoint, true
		}
	}
	return "", false
}

func (o *Observer) watch(ctx context.Context, p Peer) {
	backoff := resubscribeDelay
	for {
		err := o.stream(ctx, p)
		if ctx.Err() != nil {
			return
		}
		slog.Debug("heartbeat subscription lost", "peer", p.Name, "err", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxResubscribeDelay)
	}
}

// stream reads ticks from one subscription until it breaks.
func (o *Observer) stream(ctx context.Context, p Peer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.HeartbeatURL, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat stream status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var tick Tick
		if err := dec.Decode(&tick); err != nil {
			return err
		}
		if tick.Topic == TopicHB {
			o.tracker.RecordSeen(p.Name)
		}
	}
}
