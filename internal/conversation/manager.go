package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/llm"
	"github.com/lexchat/backend/internal/search"
	"github.com/lexchat/backend/internal/storage/models"
	"github.com/lexchat/backend/pkg/logger"
)

// recentMessageWindow is how many trailing messages accompany the running
// summary in the answer prompt.
const recentMessageWindow = 6

// Store is the slice of the SQLite client the manager needs.
type Store interface {
	CreateConversation(conv *models.Conversation) error
	GetConversation(id string) (*models.Conversation, error)
	ListConversations() ([]models.Conversation, error)
	UpdateConversationTitle(id, title string) error
	DeleteConversation(id string) error
	InsertMessage(msg *models.Message) error
	InsertMessageWithSummary(msg *models.Message, summary string) error
	GetMessages(conversationID string) ([]models.Message, error)
}

// LLMService covers the model calls the manager makes.
type LLMService interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	GenerateTitle(ctx context.Context, userMessage string) (string, error)
	UpdateSummary(ctx context.Context, previousSummary, userMessage, aiMessage string) (string, error)
}

// Router routes a query to a search strategy.
type Router interface {
	Route(ctx context.Context, query string) (*search.RouteResult, error)
}

// Manager owns the chat flow: conversation lifecycle, message persistence,
// retrieval via the search router, and answer generation.
type Manager struct {
	store  Store
	llm    LLMService
	router Router
}

func NewManager(store Store, llmService LLMService, router Router) *Manager {
	return &Manager{store: store, llm: llmService, router: router}
}

// ChatResponse is the outcome of one chat turn. Topic is set only for
// keyword-intent turns.
type ChatResponse struct {
	ConversationID string          `json:"conversation_id"`
	Answer         string          `json:"answer"`
	Intent         string          `json:"intent"`
	Topic          string          `json:"topic,omitempty"`
	Sources        []search.Result `json:"sources"`
}

// Chat handles one user message. An empty conversationID starts a new
// conversation; the first exchange also generates its title.
func (m *Manager) Chat(ctx context.Context, conversationID, message string) (*ChatResponse, error) {
	conv, isNew, err := m.getOrCreate(conversationID)
	if err != nil {
		return nil, err
	}

	userMsg := &models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderUser,
		Text:           message,
		CreatedAt:      time.Now(),
	}
	if err := m.store.InsertMessage(userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	routed, err := m.router.Route(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to route query: %w", err)
	}

	answer, err := m.generateAnswer(ctx, conv, message, routed)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	if isNew {
		if title, err := m.llm.GenerateTitle(ctx, message); err != nil {
			logger.Warn("Failed to generate conversation title", zap.Error(err))
		} else if err := m.store.UpdateConversationTitle(conv.ID, title); err != nil {
			logger.Warn("Failed to store conversation title", zap.Error(err))
		}
	}

	aiMsg := &models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderAI,
		Text:           answer,
		Metadata:       messageMetadata(routed),
		CreatedAt:      time.Now(),
	}

	summary, err := m.llm.UpdateSummary(ctx, conv.Summary, message, answer)
	if err != nil {
		logger.Warn("Failed to update conversation summary", zap.Error(err))
		if err := m.store.InsertMessage(aiMsg); err != nil {
			return nil, fmt.Errorf("failed to store response: %w", err)
		}
	} else {
		if err := m.store.InsertMessageWithSummary(aiMsg, summary); err != nil {
			return nil, fmt.Errorf("failed to store response: %w", err)
		}
	}

	logger.Info("Chat turn completed",
		zap.String("conversation_id", conv.ID),
		zap.String("intent", routed.Intent),
		zap.Int("sources", len(routed.Results)),
	)

	return &ChatResponse{
		ConversationID: conv.ID,
		Answer:         answer,
		Intent:         routed.Intent,
		Topic:          routed.Topic,
		Sources:        routed.Results,
	}, nil
}

func (m *Manager) getOrCreate(conversationID string) (*models.Conversation, bool, error) {
	if conversationID != "" {
		conv, err := m.store.GetConversation(conversationID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load conversation: %w", err)
		}
		if conv == nil {
			return nil, false, fmt.Errorf("conversation %s not found", conversationID)
		}
		return conv, false, nil
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateConversation(conv); err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	logger.Info("Conversation created", zap.String("conversation_id", conv.ID))
	return conv, true, nil
}

func (m *Manager) generateAnswer(ctx context.Context, conv *models.Conversation, message string, routed *search.RouteResult) (string, error) {
	history, err := m.recentHistory(conv.ID)
	if err != nil {
		logger.Warn("Failed to load message history", zap.Error(err))
	}

	if routed.Intent == search.IntentConversational {
		return m.conversationalAnswer(ctx, conv.Summary, history, message)
	}
	return m.groundedAnswer(ctx, conv.Summary, history, message, routed.Results)
}

func (m *Manager) conversationalAnswer(ctx context.Context, summary, history, message string) (string, error) {
	systemPrompt := `You are a helpful assistant for a document question-answering service. The user's message is conversational; respond naturally using the conversation context. Do not invent document content.`

	userPrompt := fmt.Sprintf(`Conversation summary:
%s

Recent messages:
%s

User: %s`, orNone(summary), orNone(history), message)

	resp, err := m.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.5,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (m *Manager) groundedAnswer(ctx context.Context, summary, history, message string, results []search.Result) (string, error) {
	systemPrompt := `You answer questions using the provided document excerpts.
Rules:
- Base the answer ONLY on the excerpts and conversation context
- Cite excerpts as [1], [2] in the order given
- If the excerpts do not cover the question, say so plainly`

	var excerpts strings.Builder
	for i, r := range results {
		fmt.Fprintf(&excerpts, "[%d] (source: %s)\n%s\n\n", i+1, r.DocID, r.Text)
	}
	if excerpts.Len() == 0 {
		excerpts.WriteString("(no relevant excerpts found)")
	}

	userPrompt := fmt.Sprintf(`Conversation summary:
%s

Recent messages:
%s

Document excerpts:
%s

Question: %s`, orNone(summary), orNone(history), excerpts.String(), message)

	resp, err := m.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (m *Manager) recentHistory(conversationID string) (string, error) {
	msgs, err := m.store.GetMessages(conversationID)
	if err != nil {
		return "", err
	}

	if len(msgs) > recentMessageWindow {
		msgs = msgs[len(msgs)-recentMessageWindow:]
	}

	var sb strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Sender, msg.Text)
	}
	return sb.String(), nil
}

func messageMetadata(routed *search.RouteResult) map[string]interface{} {
	meta := map[string]interface{}{"intent": routed.Intent}
	if len(routed.Results) > 0 {
		ids := make([]string, len(routed.Results))
		for i, r := range routed.Results {
			ids[i] = r.ID
		}
		meta["sources"] = ids
	}
	return meta
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// List returns all conversations, most recently active first.
func (m *Manager) List() ([]models.Conversation, error) {
	return m.store.ListConversations()
}

// Messages returns the full message history of a conversation.
func (m *Manager) Messages(conversationID string) ([]models.Message, error) {
	conv, err := m.store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}
	return m.store.GetMessages(conversationID)
}

// Rename sets the conversation title.
func (m *Manager) Rename(conversationID, title string) error {
	conv, err := m.store.GetConversation(conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return m.store.UpdateConversationTitle(conversationID, title)
}

// Delete removes a conversation and its messages.
func (m *Manager) Delete(conversationID string) error {
	return m.store.DeleteConversation(conversationID)
}
