package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/storage/models"
	"github.com/lexchat/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		file_path TEXT UNIQUE NOT NULL,
		file_extension TEXT NOT NULL,
		conversation_id TEXT,
		meta_data TEXT,
		is_uploaded INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(file_path);
	CREATE INDEX IF NOT EXISTS idx_documents_uploaded ON documents(is_uploaded);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT,
		summary TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func encodeMetadata(m *models.DocumentMetadata) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw sql.NullString) *models.DocumentMetadata {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m models.DocumentMetadata
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		logger.Warn("Malformed document metadata", zap.Error(err))
		return nil
	}
	return &m
}

func (c *Client) InsertDocument(doc *models.Document) error {
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (id, file_path, file_extension, conversation_id, meta_data, is_uploaded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	uploaded := 0
	if doc.IsUploaded {
		uploaded = 1
	}

	var convID interface{}
	if doc.ConversationID != "" {
		convID = doc.ConversationID
	}

	_, err = c.db.Exec(
		query,
		doc.ID,
		doc.FilePath,
		doc.FileExtension,
		convID,
		meta,
		uploaded,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("path", doc.FilePath))
	return nil
}

func (c *Client) scanDocuments(rows *sql.Rows) ([]models.Document, error) {
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		var convID, meta sql.NullString
		var uploaded int
		var createdAt, updatedAt int64

		err := rows.Scan(&d.ID, &d.FilePath, &d.FileExtension, &convID, &meta, &uploaded, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		d.ConversationID = convID.String
		d.Metadata = decodeMetadata(meta)
		d.IsUploaded = uploaded == 1
		d.CreatedAt = time.Unix(createdAt, 0)
		d.UpdatedAt = time.Unix(updatedAt, 0)
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

const documentColumns = `id, file_path, file_extension, conversation_id, meta_data, is_uploaded, created_at, updated_at`

func (c *Client) GetDocumentByPath(path string) (*models.Document, error) {
	rows, err := c.db.Query(`SELECT `+documentColumns+` FROM documents WHERE file_path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query document by path: %w", err)
	}

	docs, err := c.scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func (c *Client) ListDocuments() ([]models.Document, error) {
	rows, err := c.db.Query(`SELECT ` + documentColumns + ` FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return c.scanDocuments(rows)
}

// ListDocumentsMissingKeywords returns documents that have never had keyword
// extraction run. Metadata is filtered in Go rather than with json_extract so
// malformed blobs behave like missing ones.
func (c *Client) ListDocumentsMissingKeywords() ([]models.Document, error) {
	docs, err := c.ListDocuments()
	if err != nil {
		return nil, err
	}

	var out []models.Document
	for _, d := range docs {
		if !d.Metadata.HasKeywords() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Client) ListDocumentsForUpsert() ([]models.Document, error) {
	rows, err := c.db.Query(`SELECT ` + documentColumns + ` FROM documents WHERE meta_data IS NOT NULL AND is_uploaded = 0 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for upsert: %w", err)
	}
	return c.scanDocuments(rows)
}

func (c *Client) ListUploadedDocuments() ([]models.Document, error) {
	rows, err := c.db.Query(`SELECT ` + documentColumns + ` FROM documents WHERE is_uploaded = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded documents: %w", err)
	}
	return c.scanDocuments(rows)
}

func (c *Client) UpdateDocumentMetadata(id string, meta *models.DocumentMetadata) error {
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(
		`UPDATE documents SET meta_data = ?, updated_at = ? WHERE id = ?`,
		encoded, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document metadata: %w", err)
	}
	return nil
}

func (c *Client) MarkUploaded(id string) error {
	_, err := c.db.Exec(
		`UPDATE documents SET is_uploaded = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document uploaded: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (c *Client) DeleteDocumentsByIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := c.db.Exec(`DELETE FROM documents WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	deleted, _ := res.RowsAffected()
	logger.Info("Documents deleted", zap.Int64("count", deleted))
	return nil
}

// ResolveIDsByPaths maps file paths to document ids, skipping paths with no
// row. Used by cancellation cleanup when only paths were recorded.
func (c *Client) ResolveIDsByPaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(paths))
	for i, p := range paths {
		args[i] = p
	}

	rows, err := c.db.Query(`SELECT id FROM documents WHERE file_path IN (`+placeholders(len(paths))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ids by paths: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (c *Client) CreateConversation(conv *models.Conversation) error {
	var title interface{}
	if conv.Title != "" {
		title = conv.Title
	}

	_, err := c.db.Exec(
		`INSERT INTO conversations (id, title, summary, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, title, conv.Summary, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	logger.Debug("Conversation created", zap.String("conversation_id", conv.ID))
	return nil
}

func (c *Client) GetConversation(id string) (*models.Conversation, error) {
	var conv models.Conversation
	var title sql.NullString
	var createdAt, updatedAt int64

	err := c.db.QueryRow(
		`SELECT id, title, summary, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &title, &conv.Summary, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conv.Title = title.String
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	return &conv, nil
}

func (c *Client) ListConversations() ([]models.Conversation, error) {
	rows, err := c.db.Query(`SELECT id, title, summary, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var title sql.NullString
		var createdAt, updatedAt int64

		if err := rows.Scan(&conv.ID, &title, &conv.Summary, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		conv.Title = title.String
		conv.CreatedAt = time.Unix(createdAt, 0)
		conv.UpdatedAt = time.Unix(updatedAt, 0)
		convs = append(convs, conv)
	}

	return convs, rows.Err()
}

func (c *Client) UpdateConversationTitle(id, title string) error {
	_, err := c.db.Exec(
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	return nil
}

func (c *Client) DeleteConversation(id string) error {
	_, err := c.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (c *Client) InsertMessage(msg *models.Message) error {
	meta, err := encodeMessageMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(
		`INSERT INTO messages (conversation_id, sender, message, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Sender, msg.Text, meta, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// InsertMessageWithSummary commits the message and the conversation's updated
// running summary in one transaction. A summary that drifts from the message
// history is a correctness bug, so the two writes never land separately.
func (c *Client) InsertMessageWithSummary(msg *models.Message, summary string) error {
	meta, err := encodeMessageMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO messages (conversation_id, sender, message, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Sender, msg.Text, meta, msg.CreatedAt.Unix(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE conversations SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now().Unix(), msg.ConversationID,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message and summary: %w", err)
	}
	return nil
}

func (c *Client) GetMessages(conversationID string) ([]models.Message, error) {
	rows, err := c.db.Query(
		`SELECT id, conversation_id, sender, message, metadata, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var meta sql.NullString
		var createdAt int64

		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if meta.Valid && meta.String != "" {
			json.Unmarshal([]byte(meta.String), &m.Metadata)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func (c *Client) CountMessages(conversationID string) (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func encodeMessageMetadata(m map[string]interface{}) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
	}
	return string(data), nil
}
