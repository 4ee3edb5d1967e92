package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexchat/backend/internal/llm"
	"github.com/lexchat/backend/internal/search"
	"github.com/lexchat/backend/internal/storage/models"
)

type fakeConvStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	withSummary   int
	plainInserts  int
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (s *fakeConvStore) CreateConversation(conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

func (s *fakeConvStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *conv
	return &cp, nil
}

func (s *fakeConvStore) ListConversations() ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	return out, nil
}

func (s *fakeConvStore) UpdateConversationTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		c.Title = title
	}
	return nil
}

func (s *fakeConvStore) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *fakeConvStore) InsertMessage(msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plainInserts++
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *fakeConvStore) InsertMessageWithSummary(msg *models.Message, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withSummary++
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	if c, ok := s.conversations[msg.ConversationID]; ok {
		c.Summary = summary
	}
	return nil
}

func (s *fakeConvStore) GetMessages(conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages[conversationID]...), nil
}

type fakeConvLLM struct {
	titleErr   error
	summaryErr error
}

func (f *fakeConvLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "the answer"}, nil
}

func (f *fakeConvLLM) GenerateTitle(ctx context.Context, userMessage string) (string, error) {
	if f.titleErr != nil {
		return "", f.titleErr
	}
	return "Generated Title", nil
}

func (f *fakeConvLLM) UpdateSummary(ctx context.Context, previousSummary, userMessage, aiMessage string) (string, error) {
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return "updated summary", nil
}

type fakeRouter struct {
	result *search.RouteResult
	err    error
}

func (f *fakeRouter) Route(ctx context.Context, query string) (*search.RouteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func semanticRoute() *search.RouteResult {
	score := 0.9
	return &search.RouteResult{
		Intent: search.IntentSemantic,
		Results: []search.Result{
			{ID: "d1_chunk_0", DocID: "d1", Score: &score, Text: "relevant excerpt"},
		},
	}
}

func TestChatNewConversation(t *testing.T) {
	store := newFakeConvStore()
	m := NewManager(store, &fakeConvLLM{}, &fakeRouter{result: semanticRoute()})

	resp, err := m.Chat(context.Background(), "", "what does the contract say?")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "the answer", resp.Answer)
	assert.Equal(t, search.IntentSemantic, resp.Intent)
	require.Len(t, resp.Sources, 1)

	conv, err := store.GetConversation(resp.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "Generated Title", conv.Title)
	assert.Equal(t, "updated summary", conv.Summary)

	msgs, _ := store.GetMessages(resp.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.Equal(t, models.SenderAI, msgs[1].Sender)
	assert.Equal(t, "semantic", msgs[1].Metadata["intent"])
}

func TestChatExistingConversationKeepsTitle(t *testing.T) {
	store := newFakeConvStore()
	m := NewManager(store, &fakeConvLLM{}, &fakeRouter{result: semanticRoute()})

	first, err := m.Chat(context.Background(), "", "first question")
	require.NoError(t, err)

	_, err = m.Chat(context.Background(), first.ConversationID, "follow-up question")
	require.NoError(t, err)

	conv, _ := store.GetConversation(first.ConversationID)
	assert.Equal(t, "Generated Title", conv.Title, "title is only generated once")

	msgs, _ := store.GetMessages(first.ConversationID)
	assert.Len(t, msgs, 4)
}

func TestChatUnknownConversation(t *testing.T) {
	m := NewManager(newFakeConvStore(), &fakeConvLLM{}, &fakeRouter{result: semanticRoute()})

	_, err := m.Chat(context.Background(), "nope", "hello")
	assert.Error(t, err)
}

func TestChatSummaryFailureStillStoresResponse(t *testing.T) {
	store := newFakeConvStore()
	m := NewManager(store, &fakeConvLLM{summaryErr: errors.New("api down")}, &fakeRouter{result: semanticRoute()})

	resp, err := m.Chat(context.Background(), "", "question")
	require.NoError(t, err)

	msgs, _ := store.GetMessages(resp.ConversationID)
	assert.Len(t, msgs, 2)
	assert.Equal(t, 0, store.withSummary)

	conv, _ := store.GetConversation(resp.ConversationID)
	assert.Empty(t, conv.Summary)
}

func TestChatSummaryStoredTransactionally(t *testing.T) {
	store := newFakeConvStore()
	m := NewManager(store, &fakeConvLLM{}, &fakeRouter{result: semanticRoute()})

	_, err := m.Chat(context.Background(), "", "question")
	require.NoError(t, err)

	assert.Equal(t, 1, store.withSummary, "AI message and summary land together")
}

func TestChatTitleFailureIsNonFatal(t *testing.T) {
	store := newFakeConvStore()
	m := NewManager(store, &fakeConvLLM{titleErr: errors.New("api down")}, &fakeRouter{result: semanticRoute()})

	resp, err := m.Chat(context.Background(), "", "question")
	require.NoError(t, err)

	conv, _ := store.GetConversation(resp.ConversationID)
	assert.Empty(t, conv.Title)
}

func TestChatKeywordIntentCarriesTopic(t *testing.T) {
	store := newFakeConvStore()
	route := &search.RouteResult{
		Intent: search.IntentKeyword,
		Topic:  "contract",
		Results: []search.Result{
			{ID: "d1", DocID: "d1", Keywords: []string{"contract"}},
		},
	}
	m := NewManager(store, &fakeConvLLM{}, &fakeRouter{result: route})

	resp, err := m.Chat(context.Background(), "", "contract")
	require.NoError(t, err)

	assert.Equal(t, search.IntentKeyword, resp.Intent)
	assert.Equal(t, "contract", resp.Topic)
	require.Len(t, resp.Sources, 1)
	assert.Nil(t, resp.Sources[0].Score)
}

func TestChatConversationalSkipsSources(t *testing.T) {
	store := newFakeConvStore()
	route := &search.RouteResult{Intent: search.IntentConversational}
	m := NewManager(store, &fakeConvLLM{}, &fakeRouter{result: route})

	resp, err := m.Chat(context.Background(), "", "thanks!")
	require.NoError(t, err)

	assert.Equal(t, search.IntentConversational, resp.Intent)
	assert.Empty(t, resp.Sources)
}

func TestChatRouterErrorIsFatal(t *testing.T) {
	m := NewManager(newFakeConvStore(), &fakeConvLLM{}, &fakeRouter{err: errors.New("search down")})

	_, err := m.Chat(context.Background(), "", "question")
	assert.Error(t, err)
}

func TestRenameAndDelete(t *testing.T) {
	store := newFakeConvStore()
	m := NewManager(store, &fakeConvLLM{}, &fakeRouter{result: semanticRoute()})

	resp, err := m.Chat(context.Background(), "", "question")
	require.NoError(t, err)

	require.NoError(t, m.Rename(resp.ConversationID, "My Case"))
	conv, _ := store.GetConversation(resp.ConversationID)
	assert.Equal(t, "My Case", conv.Title)

	assert.Error(t, m.Rename("missing", "x"))

	require.NoError(t, m.Delete(resp.ConversationID))
	_, err = m.Messages(resp.ConversationID)
	assert.Error(t, err)
}
