package relay

import (
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"fediwall/internal/models"
	"fediwall/internal/observability"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Downstream clients only ever
	// send control frames, so this stays small.
	maxMessageSize = 1024

	// Outbound buffer per session. When it fills, messages are dropped
	// rather than stalling the upstream receive loop.
	sendBufferSize = 256
)

// Session is one downstream websocket connection: its filter criteria, its
// outbound buffer, and a reference to the upstream connection it is attached
// to. A session never blocks the upstream: delivery to a slow client drops.
type Session struct {
	// ID is a per-connection identifier used in logs.
	ID string

	// Criteria is the session's requested filter set, fixed at connect time.
	Criteria models.Criteria

	// Conn is the downstream websocket connection.
	Conn *websocket.Conn

	send      chan []byte
	upstream  *Upstream
	closeOnce sync.Once
}

// newSession creates an unattached session.
func newSession(criteria models.Criteria, conn *websocket.Conn) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Criteria: criteria,
		Conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}
}

// offer applies the session's filter to a normalized post and queues the
// pre-encoded message on match. Called from the upstream receive loop; must
// never block.
func (s *Session) offer(post *models.Post, rawLang string, encoded []byte, banned []string) bool {
	if !s.Criteria.Matches(post, rawLang, banned) {
		return false
	}
	s.trySend(encoded)
	return true
}

// trySend attempts to queue a message, dropping it when the buffer is full or
// the channel is already closed. Dropping is the backpressure policy: a
// backlogged client misses events instead of exhausting relay memory.
func (s *Session) trySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.BackpressureDrops.WithLabelValues("closed").Inc()
		}
	}()

	select {
	case s.send <- message:
	default:
		observability.BackpressureDrops.WithLabelValues("full").Inc()
		log.Printf("session %s: buffer full, dropped message", s.ID)
	}
}

// ReadPump consumes the downstream connection until it closes or errors,
// then detaches the session. Clients send nothing meaningful; reading only
// services control frames and close detection.
func (s *Session) ReadPump() {
	defer func() {
		s.Detach()
		_ = s.Conn.Close()
	}()

	s.Conn.SetReadLimit(maxMessageSize)
	_ = s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error { _ = s.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("session %s: read error: %v", s.ID, err)
			}
			return
		}
	}
}

// WritePump pumps queued messages to the downstream connection and keeps the
// connection alive with pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The relay closed the channel.
				_ = s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Detach removes the session from its upstream connection and closes its
// outbound buffer, which ends the write pump. Safe to call multiple times and
// concurrently with an in-flight delivery: removal happens under the
// upstream's session-set lock, so no delivery can queue a message after the
// channel closes. Detaching the last session does not close the upstream; the
// upstream tears down on its own socket close.
func (s *Session) Detach() {
	if s.upstream != nil {
		s.upstream.detach(s)
	}
	s.closeSend()
}

func (s *Session) closeSend() {
	s.closeOnce.Do(func() { close(s.send) })
}
