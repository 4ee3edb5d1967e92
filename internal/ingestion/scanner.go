package ingestion

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/storage/models"
	"github.com/lexchat/backend/pkg/logger"
)

// DocumentStore is the slice of the SQLite client the ingestion pipeline
// touches.
type DocumentStore interface {
	InsertDocument(doc *models.Document) error
	GetDocumentByPath(path string) (*models.Document, error)
	ListDocumentsMissingKeywords() ([]models.Document, error)
	ListDocumentsForUpsert() ([]models.Document, error)
	UpdateDocumentMetadata(id string, meta *models.DocumentMetadata) error
	MarkUploaded(id string) error
	DeleteDocumentsByIDs(ids []string) error
	ResolveIDsByPaths(paths []string) ([]string, error)
}

// Scanner registers the files of the requested folders as documents.
// Scanning is idempotent: a path already in the store is skipped, so
// re-running a folder never duplicates rows.
type Scanner struct {
	store DocumentStore
}

func NewScanner(store DocumentStore) *Scanner {
	return &Scanner{store: store}
}

type ScanOutcome struct {
	Added   []models.Document
	Skipped int
}

// Scan walks each folder recursively and inserts a document row for every new
// file whose extension is in the request's allow-list.
func (s *Scanner) Scan(roots []string, extensions []string, conversationID string) (*ScanOutcome, error) {
	allowed := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(e)] = true
	}

	outcome := &ScanOutcome{}

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(path))
			if !allowed[ext] {
				return nil
			}

			existing, err := s.store.GetDocumentByPath(path)
			if err != nil {
				return err
			}
			if existing != nil {
				outcome.Skipped++
				return nil
			}

			now := time.Now()
			doc := models.Document{
				ID:             uuid.NewString(),
				FilePath:       path,
				FileExtension:  ext,
				ConversationID: conversationID,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.store.InsertDocument(&doc); err != nil {
				return err
			}

			outcome.Added = append(outcome.Added, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder %s: %w", root, err)
		}
	}

	logger.Info("Folders scanned",
		zap.Strings("roots", roots),
		zap.Int("added", len(outcome.Added)),
		zap.Int("skipped", outcome.Skipped),
	)

	return outcome, nil
}
