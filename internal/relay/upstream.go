package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"fediwall/internal/mastodon"
	"fediwall/internal/models"
	"fediwall/internal/observability"
)

// State is the lifecycle of an upstream connection.
type State int32

const (
	// StateConnecting covers the window between pool registration and a
	// successful dial. Sessions may already attach.
	StateConnecting State = iota
	// StateOpen means the receive loop is running.
	StateOpen
	// StateClosed is terminal; the connection has removed itself from the
	// pool and a subsequent Acquire for the same key dials fresh.
	StateClosed
)

// streamConn is the subset of the upstream socket the receive loop needs.
// *websocket.Conn satisfies it; tests substitute scripted fakes.
type streamConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// Upstream owns one streaming connection for a logical stream key and fans
// every accepted status out to its attached sessions in arrival order.
type Upstream struct {
	key  models.StreamKey
	pool *Pool

	mu       sync.RWMutex
	state    State
	conn     streamConn
	sessions map[*Session]struct{}
}

func newUpstream(pool *Pool, key models.StreamKey) *Upstream {
	return &Upstream{
		key:      key,
		pool:     pool,
		sessions: make(map[*Session]struct{}),
	}
}

// Key returns the logical stream key this connection serves.
func (u *Upstream) Key() models.StreamKey { return u.key }

// State returns the current lifecycle state.
func (u *Upstream) State() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// SessionCount returns the number of currently attached sessions.
func (u *Upstream) SessionCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.sessions)
}

// connect dials the streaming endpoint and starts the receive loop. Called
// once, by the goroutine that registered this connection in the pool.
func (u *Upstream) connect(ctx context.Context) error {
	streamURL := u.pool.streamURL(ctx, u.key)

	var header http.Header
	if u.pool.accessToken != "" {
		header = http.Header{"Authorization": []string{"Bearer " + u.pool.accessToken}}
	}

	conn, resp, err := u.pool.dial(ctx, streamURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		u.close("dial_failed")
		return err
	}

	u.mu.Lock()
	if u.state == StateClosed {
		// Shut down while dialing.
		u.mu.Unlock()
		_ = conn.Close()
		return context.Canceled
	}
	u.conn = conn
	u.state = StateOpen
	u.mu.Unlock()

	observability.UpstreamConnectionsActive.Inc()
	u.pool.logger.LogConnect(ctx, u.key.String(), map[string]interface{}{"url": streamURL})

	go u.readLoop()
	return nil
}

// readLoop parses event envelopes until the socket dies. Envelopes that are
// not status updates are ignored and malformed frames are dropped;
// upstream noise must never take the relay down.
func (u *Upstream) readLoop() {
	defer func() {
		observability.UpstreamConnectionsActive.Dec()
		u.close("socket_closed")
	}()

	for {
		_, message, err := u.conn.ReadMessage()
		if err != nil {
			return
		}

		var event mastodon.StreamEvent
		if err := json.Unmarshal(message, &event); err != nil {
			observability.UpstreamMalformedTotal.Inc()
			continue
		}

		observability.UpstreamEventsTotal.WithLabelValues(eventLabel(event.Event)).Inc()
		if event.Event != mastodon.EventUpdate {
			continue
		}

		var status mastodon.Status
		if err := json.Unmarshal([]byte(event.Payload), &status); err != nil {
			observability.UpstreamMalformedTotal.Inc()
			continue
		}

		u.deliver(&status)
	}
}

// eventLabel buckets the upstream event name for the events metric. The name
// is upstream-controlled input, so anything outside the known streaming event
// types collapses into one label instead of growing metric cardinality.
func eventLabel(event string) string {
	switch event {
	case "update", "delete", "notification", "status.update", "filters_changed":
		return event
	default:
		return "other"
	}
}

// deliver normalizes a status once and offers it to every attached session.
// Sessions attached to this connection all see the same arrival order.
func (u *Upstream) deliver(status *mastodon.Status) {
	post := u.pool.normalizer.Normalize(status)

	encoded, err := json.Marshal(&post)
	if err != nil {
		return
	}

	delivered := 0
	u.mu.RLock()
	for s := range u.sessions {
		if s.offer(&post, status.Language, encoded, u.pool.bannedWords) {
			delivered++
		}
	}
	u.mu.RUnlock()

	if delivered > 0 {
		observability.FanoutDeliveries.WithLabelValues(u.key.String()).Add(float64(delivered))
	}
}

// attach registers a session for fanout. The per-key session cap is enforced
// here, under the same lock that guards the session set, so concurrent
// attaches at the boundary cannot overshoot it. Returns errUpstreamClosed
// once the connection is closed so the pool can dial a replacement.
func (u *Upstream) attach(s *Session) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == StateClosed {
		return errUpstreamClosed
	}
	if len(u.sessions) >= maxSessionsPerKey {
		return ErrSessionLimit
	}
	u.sessions[s] = struct{}{}
	s.upstream = u
	return nil
}

// detach removes a session. Idempotent; safe concurrently with deliver.
func (u *Upstream) detach(s *Session) {
	u.mu.Lock()
	_, present := u.sessions[s]
	delete(u.sessions, s)
	u.mu.Unlock()

	if present {
		u.pool.sessionDetached()
	}
}

// close transitions to Closed, removes the connection from the pool, and
// releases all attached sessions. Idempotent: the socket dying and an
// explicit shutdown may both land here.
func (u *Upstream) close(reason string) {
	u.mu.Lock()
	if u.state == StateClosed {
		u.mu.Unlock()
		return
	}
	u.state = StateClosed
	conn := u.conn
	u.conn = nil
	orphaned := u.sessions
	u.sessions = make(map[*Session]struct{})
	u.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	// Released sessions get their outbound buffers closed so their write
	// pumps exit instead of idling until the next ping failure.
	for s := range orphaned {
		s.closeSend()
	}
	u.pool.remove(u.key, u, len(orphaned))
	u.pool.logger.LogDisconnect(context.Background(), u.key.String(), reason)
}
