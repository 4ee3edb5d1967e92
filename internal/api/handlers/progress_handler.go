package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/session"
	"github.com/lexchat/backend/pkg/logger"
)

const pingInterval = 10 * time.Second

type ProgressHandler struct {
	sessions *session.Store
}

func NewProgressHandler(sessions *session.Store) *ProgressHandler {
	return &ProgressHandler{sessions: sessions}
}

// HandleConnection relays a session's progress events over the websocket,
// finishing with the terminal event. Pings keep the connection alive through
// long quiet phases.
func (h *ProgressHandler) HandleConnection(c *websocket.Conn) {
	sessionID := c.Params("session_id")

	defer func() {
		c.Close()
		logger.Info("Progress connection closed", zap.String("session_id", sessionID))
	}()

	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		c.WriteJSON(map[string]string{"error": "Session not found"})
		return
	}

	logger.Info("Progress connection established", zap.String("session_id", sessionID))

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	events := sess.Events()
	for {
		select {
		case ev, open := <-events:
			if !open {
				if final := sess.Final(); final != nil {
					if err := c.WriteJSON(final); err != nil {
						logger.Warn("Failed to send terminal event", zap.Error(err))
					}
				}
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				logger.Warn("Failed to send progress event", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
