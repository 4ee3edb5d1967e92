package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexchat/backend/internal/metrics"
	"github.com/lexchat/backend/internal/session"
	"github.com/lexchat/backend/internal/storage/models"
	"github.com/lexchat/backend/internal/vector/milvus"
	"github.com/lexchat/backend/pkg/logger"
)

const cancelledMessage = "Processing cancelled by user"

// VectorStore is the slice of the Milvus client the pipeline touches.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, records []milvus.ChunkRecord) error
	DeleteByDocIDs(ctx context.Context, namespace string, docIDs []string) error
}

// LLMService covers the model calls the pipeline makes.
type LLMService interface {
	GenerateKeywords(ctx context.Context, content string) (*models.DocumentMetadata, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline runs a folder through the three ingestion phases: scan, metadata
// extraction, and chunk-embed-upsert. File failures are isolated; one bad
// document never sinks the run. Progress moves through 0-50 during scan and
// metadata extraction and 50-100 during upload.
type Pipeline struct {
	scanner      *Scanner
	store        DocumentStore
	vector       VectorStore
	llm          LLMService
	cleaner      *Cleaner
	namespace    string
	chunkSize    int
	chunkOverlap int
	workers      int

	// OnComplete runs after a successful run, before the terminal event.
	// Wired to corpus rebuild and cache invalidation.
	OnComplete func()
}

func NewPipeline(scanner *Scanner, store DocumentStore, vector VectorStore, llm LLMService, cleaner *Cleaner, namespace string, chunkSize, chunkOverlap, workers int) *Pipeline {
	if workers <= 0 {
		workers = 10
	}
	return &Pipeline{
		scanner:      scanner,
		store:        store,
		vector:       vector,
		llm:          llm,
		cleaner:      cleaner,
		namespace:    namespace,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		workers:      workers,
	}
}

// Run executes the full pipeline for the requested folders. It owns the
// session's lifecycle: every exit path finishes the session with a terminal
// event.
func (p *Pipeline) Run(ctx context.Context, sess *session.ProcessingSession, folders, extensions []string, conversationID string) {
	logger.Info("Processing run started",
		zap.String("session_id", sess.ID),
		zap.Strings("folders", folders),
	)

	var failed []session.FileError
	var failedMu sync.Mutex

	recordFailure := func(path string, err error) {
		failedMu.Lock()
		failed = append(failed, session.FileError{
			FileName: filepath.Base(path),
			Error:    err.Error(),
		})
		failedMu.Unlock()

		ok := false
		sess.Emit(session.Event{File: filepath.Base(path), Success: &ok, Error: err.Error()})
	}

	// Phase 1: scan. Only scan-added documents are tracked for rollback:
	// documents from earlier runs or concurrent sessions are not this
	// session's to delete.
	outcome, err := p.scanner.Scan(folders, extensions, conversationID)
	if err != nil {
		sess.Finish(session.Event{Error: fmt.Sprintf("failed to scan folder: %v", err)})
		return
	}
	for _, d := range outcome.Added {
		sess.TrackDocument(d.ID)
		sess.TrackPath(d.FilePath)
	}

	scanned := len(outcome.Added) + outcome.Skipped
	sess.Emit(session.Event{UploadStarted: &scanned})
	sess.SetProgress(10)

	if p.finishIfCancelled(ctx, sess) {
		return
	}

	// Phase 2: metadata extraction for documents without keywords.
	pending, err := p.store.ListDocumentsMissingKeywords()
	if err != nil {
		sess.Finish(session.Event{Error: fmt.Sprintf("failed to list documents: %v", err)})
		return
	}

	var done int64
	var doneMu sync.Mutex
	advance := func(total, from, span int) {
		doneMu.Lock()
		done++
		pct := from + int(done)*span/total
		doneMu.Unlock()
		sess.SetProgress(pct)
	}

	if len(pending) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers)

		for _, doc := range pending {
			doc := doc
			g.Go(func() error {
				if sess.Cancelled() || gctx.Err() != nil {
					return context.Canceled
				}

				if err := p.extractMetadata(gctx, doc); err != nil {
					recordFailure(doc.FilePath, err)
				}

				advance(len(pending), 10, 40)
				return nil
			})
		}

		if err := g.Wait(); err != nil || sess.Cancelled() {
			p.finishCancelled(sess)
			return
		}
	}

	sess.SetProgress(50)

	if p.finishIfCancelled(ctx, sess) {
		return
	}

	// Phase 3: chunk, embed, upsert.
	uploads, err := p.store.ListDocumentsForUpsert()
	if err != nil {
		sess.Finish(session.Event{Error: fmt.Sprintf("failed to list documents: %v", err)})
		return
	}

	var uploaded int64
	var uploadedMu sync.Mutex

	done = 0
	if len(uploads) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers)

		for _, doc := range uploads {
			doc := doc
			g.Go(func() error {
				if sess.Cancelled() || gctx.Err() != nil {
					return context.Canceled
				}

				if err := p.uploadDocument(gctx, doc); err != nil {
					recordFailure(doc.FilePath, err)
				} else {
					uploadedMu.Lock()
					uploaded++
					uploadedMu.Unlock()

					ok := true
					sess.Emit(session.Event{File: filepath.Base(doc.FilePath), Success: &ok})
				}

				advance(len(uploads), 50, 50)
				return nil
			})
		}

		if err := g.Wait(); err != nil || sess.Cancelled() {
			p.finishCancelled(sess)
			return
		}
	}

	if p.finishIfCancelled(ctx, sess) {
		return
	}

	if p.OnComplete != nil {
		p.OnComplete()
	}

	sess.SetProgress(100)

	summary := session.Summary{
		TotalFiles:    len(uploads) + countMissing(failed, uploads),
		UploadedFiles: int(uploaded),
		FailedFiles:   failed,
	}
	if summary.FailedFiles == nil {
		summary.FailedFiles = []session.FileError{}
	}

	sess.Finish(session.Event{Complete: true, Summary: &summary})

	metrics.ProcessingRunsTotal.WithLabelValues("completed").Inc()
	metrics.DocumentsProcessed.Add(float64(uploaded))

	logger.Info("Processing run finished",
		zap.String("session_id", sess.ID),
		zap.Int("total", summary.TotalFiles),
		zap.Int("uploaded", summary.UploadedFiles),
		zap.Int("failed", len(summary.FailedFiles)),
	)
}

// countMissing counts failures for files that never reached the upload phase,
// so the terminal total covers every file the run attempted.
func countMissing(failed []session.FileError, uploads []models.Document) int {
	inUploads := make(map[string]bool, len(uploads))
	for _, d := range uploads {
		inUploads[filepath.Base(d.FilePath)] = true
	}

	n := 0
	for _, f := range failed {
		if !inUploads[f.FileName] {
			n++
		}
	}
	return n
}

func (p *Pipeline) extractMetadata(ctx context.Context, doc models.Document) error {
	text, err := ExtractText(doc.FilePath)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}

	meta, err := p.llm.GenerateKeywords(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to generate keywords: %w", err)
	}

	if err := p.store.UpdateDocumentMetadata(doc.ID, meta); err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}

	return nil
}

func (p *Pipeline) uploadDocument(ctx context.Context, doc models.Document) error {
	text, err := ExtractText(doc.FilePath)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}

	chunks, err := ChunkText(text, p.chunkSize, p.chunkOverlap)
	if err != nil {
		return fmt.Errorf("failed to chunk text: %w", err)
	}

	// A file with no extractable text still counts as processed; there is
	// just nothing to embed.
	if len(chunks) > 0 {
		embeddings, err := p.llm.GenerateBatchEmbeddings(ctx, chunks)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(embeddings) != len(chunks) {
			return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
		}

		keywords := doc.Metadata.FlattenKeywords()
		summary := ""
		if doc.Metadata != nil {
			summary = doc.Metadata.Summary
		}

		records := make([]milvus.ChunkRecord, len(chunks))
		for i, chunk := range chunks {
			records[i] = milvus.ChunkRecord{
				ID:         fmt.Sprintf("%s_chunk_%d", doc.ID, i),
				DocID:      doc.ID,
				ChunkIndex: i,
				SourceFile: doc.FilePath,
				Embedding:  embeddings[i],
				Text:       chunk,
				Summary:    summary,
				Keywords:   keywords,
				Timestamp:  time.Now(),
			}
		}

		if err := p.vector.Upsert(ctx, p.namespace, records); err != nil {
			return fmt.Errorf("failed to upsert chunks: %w", err)
		}
		metrics.ChunksUpserted.Add(float64(len(records)))
	}

	if err := p.store.MarkUploaded(doc.ID); err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}

	return nil
}

func (p *Pipeline) finishIfCancelled(ctx context.Context, sess *session.ProcessingSession) bool {
	if !sess.Cancelled() && ctx.Err() == nil {
		return false
	}
	p.finishCancelled(sess)
	return true
}

// finishCancelled rolls back the run's documents and emits the terminal
// cancellation event. Cleanup uses a fresh context: the run's own context is
// already dead.
func (p *Pipeline) finishCancelled(sess *session.ProcessingSession) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p.cleaner.Cleanup(cleanupCtx, sess)
	sess.Finish(session.Event{Error: cancelledMessage})
	metrics.ProcessingRunsTotal.WithLabelValues("cancelled").Inc()

	logger.Info("Processing run cancelled", zap.String("session_id", sess.ID))
}
