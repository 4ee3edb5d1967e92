package ingestion

import (
	"context"

	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/session"
	"github.com/lexchat/backend/pkg/logger"
)

// Cleaner rolls back the documents a cancelled run touched, from both the
// vector store and the document store.
type Cleaner struct {
	store     DocumentStore
	vector    VectorStore
	namespace string
}

func NewCleaner(store DocumentStore, vector VectorStore, namespace string) *Cleaner {
	return &Cleaner{store: store, vector: vector, namespace: namespace}
}

// Cleanup removes every document the session touched. When the run was
// cancelled before ids were assigned, the tracked paths are resolved to ids
// through the store. Best-effort: failures are logged, not returned, because
// cleanup runs on a path that already has a terminal error to report.
func (c *Cleaner) Cleanup(ctx context.Context, sess *session.ProcessingSession) {
	ids := sess.TouchedDocuments()
	if len(ids) == 0 {
		paths := sess.TouchedPaths()
		if len(paths) == 0 {
			return
		}
		resolved, err := c.store.ResolveIDsByPaths(paths)
		if err != nil {
			logger.Error("Failed to resolve documents for cleanup",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
			return
		}
		ids = resolved
	}

	if len(ids) == 0 {
		return
	}

	if err := c.vector.DeleteByDocIDs(ctx, c.namespace, ids); err != nil {
		logger.Error("Failed to delete vectors during cleanup",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}

	if err := c.store.DeleteDocumentsByIDs(ids); err != nil {
		logger.Error("Failed to delete documents during cleanup",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}

	logger.Info("Cancelled session cleaned up",
		zap.String("session_id", sess.ID),
		zap.Int("documents", len(ids)),
	)
}
