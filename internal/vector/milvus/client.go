package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/lexchat/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// ChunkRecord is one embedded chunk as stored in the collection. Keywords are
// carried as a JSON-encoded string column so a `like` expression can filter
// on them.
type ChunkRecord struct {
	ID         string
	DocID      string
	ChunkIndex int
	SourceFile string
	Embedding  []float32
	Text       string
	Summary    string
	Keywords   []string
	Timestamp  time.Time
}

type QueryMatch struct {
	ChunkID    string
	DocID      string
	SourceFile string
	Text       string
	Summary    string
	Keywords   []string
	Score      float64
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	cfg := client.Config{Address: endpoint}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}

	c, err := client.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "doc_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "source_file",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "summary",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "1024",
				},
			},
			{
				Name:     "keywords",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index config: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// ensurePartition creates the namespace partition if it does not exist yet.
// Milvus partitions give each corpus namespace an isolated slice of the
// collection.
func (m *Client) ensurePartition(ctx context.Context, namespace string) error {
	has, err := m.client.HasPartition(ctx, m.collectionName, namespace)
	if err != nil {
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if has {
		return nil
	}

	err = m.client.CreatePartition(ctx, m.collectionName, namespace)
	if err != nil {
		return fmt.Errorf("failed to create partition: %w", err)
	}

	logger.Info("Partition created", zap.String("namespace", namespace))
	return nil
}

func (m *Client) Upsert(ctx context.Context, namespace string, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	if err := m.ensurePartition(ctx, namespace); err != nil {
		return err
	}

	chunkIDs := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	docIDs := make([]string, len(records))
	chunkIndexes := make([]int64, len(records))
	sourceFiles := make([]string, len(records))
	texts := make([]string, len(records))
	summaries := make([]string, len(records))
	keywords := make([]string, len(records))
	timestamps := make([]int64, len(records))

	for i, rec := range records {
		chunkIDs[i] = rec.ID
		embeddings[i] = rec.Embedding
		docIDs[i] = rec.DocID
		chunkIndexes[i] = int64(rec.ChunkIndex)
		sourceFiles[i] = rec.SourceFile
		texts[i] = rec.Text
		summaries[i] = rec.Summary
		keywords[i] = encodeKeywords(rec.Keywords)
		timestamps[i] = rec.Timestamp.Unix()
	}

	_, err := m.client.Upsert(
		ctx,
		m.collectionName,
		namespace,
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("source_file", sourceFiles),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("summary", summaries),
		entity.NewColumnVarChar("keywords", keywords),
		entity.NewColumnInt64("timestamp", timestamps),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks upserted into vector store",
		zap.String("namespace", namespace),
		zap.Int("count", len(records)),
	)

	return nil
}

// Query runs a similarity search inside the namespace partition. A non-empty
// keywords list restricts matches to chunks whose keyword column contains any
// of the terms.
func (m *Client) Query(ctx context.Context, namespace string, vector []float32, topK int, keywords []string) ([]QueryMatch, error) {
	var clauses []string
	for _, kw := range keywords {
		term := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(kw)), `"`, "")
		if term == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf(`keywords like "%%%s%%"`, term))
	}
	expr := strings.Join(clauses, " or ")

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{namespace},
		expr,
		[]string{"chunk_id", "doc_id", "source_file", "text", "summary", "keywords"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]QueryMatch, 0)
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		docIDCol := sr.Fields.GetColumn("doc_id")
		sourceCol := sr.Fields.GetColumn("source_file")
		textCol := sr.Fields.GetColumn("text")
		summaryCol := sr.Fields.GetColumn("summary")
		keywordsCol := sr.Fields.GetColumn("keywords")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.Get(i)
			docID, _ := docIDCol.Get(i)
			source, _ := sourceCol.Get(i)
			text, _ := textCol.Get(i)
			summary, _ := summaryCol.Get(i)
			rawKeywords, _ := keywordsCol.Get(i)

			matches = append(matches, QueryMatch{
				ChunkID:    chunkID.(string),
				DocID:      docID.(string),
				SourceFile: source.(string),
				Text:       text.(string),
				Summary:    summary.(string),
				Keywords:   decodeKeywords(rawKeywords.(string)),
				Score:      float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector query completed",
		zap.String("namespace", namespace),
		zap.Int("topK", topK),
		zap.Int("matches", len(matches)),
		zap.String("filter", expr),
	)

	return matches, nil
}

// DeleteByDocIDs removes every chunk belonging to the given documents from
// the namespace.
func (m *Client) DeleteByDocIDs(ctx context.Context, namespace string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	quoted := make([]string, len(docIDs))
	for i, id := range docIDs {
		quoted[i] = fmt.Sprintf(`"%s"`, strings.ReplaceAll(id, `"`, ""))
	}
	expr := fmt.Sprintf("doc_id in [%s]", strings.Join(quoted, ", "))

	err := m.client.Delete(ctx, m.collectionName, namespace, expr)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	logger.Info("Chunks deleted from vector store",
		zap.String("namespace", namespace),
		zap.Int("doc_count", len(docIDs)),
	)

	return nil
}

func encodeKeywords(keywords []string) string {
	if keywords == nil {
		keywords = []string{}
	}
	data, err := json.Marshal(keywords)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeKeywords(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
