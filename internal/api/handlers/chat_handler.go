package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/conversation"
	"github.com/lexchat/backend/internal/metrics"
	"github.com/lexchat/backend/pkg/logger"
)

type ChatHandler struct {
	manager *conversation.Manager
}

func NewChatHandler(manager *conversation.Manager) *ChatHandler {
	return &ChatHandler{manager: manager}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Message        string `json:"message"`
		ConversationID string `json:"conversation_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	start := time.Now()
	response, err := h.manager.Chat(c.Context(), req.ConversationID, req.Message)
	metrics.ChatDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ChatTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to process chat message", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}
	metrics.ChatTotal.WithLabelValues("ok").Inc()

	return c.JSON(response)
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	convs, err := h.manager.List()
	if err != nil {
		logger.Error("Failed to list conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list conversations",
		})
	}

	out := make([]fiber.Map, 0, len(convs))
	for _, conv := range convs {
		out = append(out, fiber.Map{
			"id":         conv.ID,
			"title":      conv.Title,
			"summary":    conv.Summary,
			"created_at": conv.CreatedAt,
			"updated_at": conv.UpdatedAt,
		})
	}

	return c.JSON(fiber.Map{"conversations": out})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	msgs, err := h.manager.Messages(conversationID)
	if err != nil {
		logger.Error("Failed to get messages",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	out := make([]fiber.Map, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, fiber.Map{
			"id":         msg.ID,
			"sender":     msg.Sender,
			"message":    msg.Text,
			"metadata":   msg.Metadata,
			"created_at": msg.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{"messages": out})
}

func (h *ChatHandler) RenameConversation(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title is required",
		})
	}

	if err := h.manager.Rename(conversationID, req.Title); err != nil {
		logger.Error("Failed to rename conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	if err := h.manager.Delete(conversationID); err != nil {
		logger.Error("Failed to delete conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete conversation",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}
