package server

import (
	"context"
	"errors"
	"log"

	"fediwall/internal/models"
	"fediwall/internal/relay"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// StreamUpgrade gates the stream endpoint to websocket upgrade requests and
// parses the filter criteria before the HTTP context is gone. The parsed
// criteria travel to the upgraded handler via Locals.
func (s *Server) StreamUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals("criteria", criteriaFromQuery(c))
		return c.Next()
	}
}

// WebSocketStreamHandler handles the live push stream: one fanout session per
// downstream connection, attached to the pooled upstream connection for its
// logical stream key. Matching posts are pushed as bare JSON messages with no
// envelope and no acknowledgement; disconnect is signaled only by transport
// close.
func (s *Server) WebSocketStreamHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		criteria, ok := conn.Locals("criteria").(models.Criteria)
		if !ok {
			_ = conn.Close()
			return
		}

		session, err := s.pool.Attach(context.Background(), criteria, conn)
		if err != nil {
			if errors.Is(err, relay.ErrSessionLimit) {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session limit reached"))
			} else {
				// Upstream dial failures are transient; the client may simply
				// reconnect. Nothing upstream-related is surfaced downstream.
				log.Printf("stream attach failed: %v", err)
			}
			_ = conn.Close()
			return
		}

		go session.WritePump()
		// ReadPump blocks until the downstream transport closes or errors,
		// then detaches the session from its upstream connection.
		session.ReadPump()
	})
}
