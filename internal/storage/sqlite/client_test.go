package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexchat/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func testDoc(id, path string) *models.Document {
	now := time.Now()
	return &models.Document{
		ID:            id,
		FilePath:      path,
		FileExtension: filepath.Ext(path),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestDocumentLifecycle(t *testing.T) {
	c := newTestClient(t)

	doc := testDoc("d1", "/data/a.txt")
	require.NoError(t, c.InsertDocument(doc))

	got, err := c.GetDocumentByPath("/data/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ID)
	assert.Nil(t, got.Metadata)
	assert.False(t, got.IsUploaded)

	missing, err := c.GetDocumentByPath("/data/nope.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// duplicate path violates the unique constraint
	assert.Error(t, c.InsertDocument(testDoc("d2", "/data/a.txt")))
}

func TestMetadataPhaseQueries(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.InsertDocument(testDoc("d1", "/data/a.txt")))
	require.NoError(t, c.InsertDocument(testDoc("d2", "/data/b.txt")))

	pending, err := c.ListDocumentsMissingKeywords()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	meta := &models.DocumentMetadata{Keywords: []string{"contract"}, Summary: "s"}
	require.NoError(t, c.UpdateDocumentMetadata("d1", meta))

	pending, err = c.ListDocumentsMissingKeywords()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "d2", pending[0].ID)

	// An empty keyword list still counts as extracted.
	require.NoError(t, c.UpdateDocumentMetadata("d2", &models.DocumentMetadata{Keywords: []string{}}))
	pending, err = c.ListDocumentsMissingKeywords()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpsertPhaseQueries(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.InsertDocument(testDoc("d1", "/data/a.txt")))
	require.NoError(t, c.InsertDocument(testDoc("d2", "/data/b.txt")))
	require.NoError(t, c.UpdateDocumentMetadata("d1", &models.DocumentMetadata{Keywords: []string{"x"}}))

	// Only documents with metadata and not yet uploaded qualify.
	uploads, err := c.ListDocumentsForUpsert()
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "d1", uploads[0].ID)
	require.NotNil(t, uploads[0].Metadata)
	assert.Equal(t, []string{"x"}, uploads[0].Metadata.Keywords)

	require.NoError(t, c.MarkUploaded("d1"))

	uploads, err = c.ListDocumentsForUpsert()
	require.NoError(t, err)
	assert.Empty(t, uploads)

	uploaded, err := c.ListUploadedDocuments()
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	assert.True(t, uploaded[0].IsUploaded)
}

func TestDeleteAndResolve(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.InsertDocument(testDoc("d1", "/data/a.txt")))
	require.NoError(t, c.InsertDocument(testDoc("d2", "/data/b.txt")))

	ids, err := c.ResolveIDsByPaths([]string{"/data/a.txt", "/data/missing.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)

	require.NoError(t, c.DeleteDocumentsByIDs([]string{"d1", "d2"}))

	all, err := c.ListDocuments()
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.NoError(t, c.DeleteDocumentsByIDs(nil))
}

func TestConversationLifecycle(t *testing.T) {
	c := newTestClient(t)

	now := time.Now()
	conv := &models.Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, c.CreateConversation(conv))

	got, err := c.GetConversation("c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Title)

	missing, err := c.GetConversation("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, c.UpdateConversationTitle("c1", "My Case"))
	got, _ = c.GetConversation("c1")
	assert.Equal(t, "My Case", got.Title)

	convs, err := c.ListConversations()
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	require.NoError(t, c.DeleteConversation("c1"))
	got, _ = c.GetConversation("c1")
	assert.Nil(t, got)
}

func TestMessagesWithSummaryTransaction(t *testing.T) {
	c := newTestClient(t)

	now := time.Now()
	require.NoError(t, c.CreateConversation(&models.Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now}))

	user := &models.Message{ConversationID: "c1", Sender: models.SenderUser, Text: "hello", CreatedAt: now}
	require.NoError(t, c.InsertMessage(user))

	ai := &models.Message{
		ConversationID: "c1",
		Sender:         models.SenderAI,
		Text:           "hi there",
		Metadata:       map[string]interface{}{"intent": "conversational"},
		CreatedAt:      now,
	}
	require.NoError(t, c.InsertMessageWithSummary(ai, "greeting exchange"))

	msgs, err := c.GetMessages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.Equal(t, "hi there", msgs[1].Text)
	assert.Equal(t, "conversational", msgs[1].Metadata["intent"])

	conv, _ := c.GetConversation("c1")
	assert.Equal(t, "greeting exchange", conv.Summary)

	count, err := c.CountMessages("c1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMessagesCascadeOnDelete(t *testing.T) {
	c := newTestClient(t)

	now := time.Now()
	require.NoError(t, c.CreateConversation(&models.Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, c.InsertMessage(&models.Message{ConversationID: "c1", Sender: models.SenderUser, Text: "x", CreatedAt: now}))

	require.NoError(t, c.DeleteConversation("c1"))

	msgs, err := c.GetMessages("c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMetadataRoundTripThroughStore(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.InsertDocument(testDoc("d1", "/data/a.txt")))

	meta := &models.DocumentMetadata{
		Keywords: []string{"contract", "lease"},
		Summary:  "a lease",
		Location: "Cluj",
	}
	require.NoError(t, c.UpdateDocumentMetadata("d1", meta))

	got, err := c.GetDocumentByPath("/data/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, meta.Keywords, got.Metadata.Keywords)
	assert.Equal(t, "Cluj", got.Metadata.Location)
}
