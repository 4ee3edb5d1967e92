package handlers

import (
	"context"
	"os"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/ingestion"
	"github.com/lexchat/backend/internal/session"
	"github.com/lexchat/backend/pkg/logger"
)

type IngestHandler struct {
	pipeline *ingestion.Pipeline
	sessions *session.Store
}

func NewIngestHandler(pipeline *ingestion.Pipeline, sessions *session.Store) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, sessions: sessions}
}

// HandleProcess starts an asynchronous folder-processing run and immediately
// returns the session id. Progress streams over the websocket endpoint.
func (h *IngestHandler) HandleProcess(c *fiber.Ctx) error {
	var req struct {
		FolderPaths    []string `json:"folder_paths"`
		Extensions     []string `json:"extensions"`
		ConversationID string   `json:"conversation_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.FolderPaths) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "folder_paths must be a non-empty list",
		})
	}
	if len(req.Extensions) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "extensions must be a non-empty list",
		})
	}

	for _, folder := range req.FolderPaths {
		info, err := os.Stat(folder)
		if err != nil || !info.IsDir() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "folder_paths contains a path that is not a readable directory",
			})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := h.sessions.Create(cancel)

	go h.pipeline.Run(ctx, sess, req.FolderPaths, req.Extensions, req.ConversationID)

	logger.Info("Processing run accepted",
		zap.String("session_id", sess.ID),
		zap.Strings("folders", req.FolderPaths),
	)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"session_id": sess.ID,
	})
}

// HandleCancel flags a run as cancelled. Idempotent: cancelling an already
// cancelled or finished session succeeds.
func (h *IngestHandler) HandleCancel(c *fiber.Ctx) error {
	sessionID := c.Params("session_id")

	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	sess.Cancel()

	logger.Info("Cancellation requested", zap.String("session_id", sessionID))

	return c.JSON(fiber.Map{"cancelled": true})
}
