package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jdkato/prose/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/metrics"
	"github.com/lexchat/backend/internal/storage/models"
	"github.com/lexchat/backend/pkg/circuitbreaker"
	"github.com/lexchat/backend/pkg/logger"
	"github.com/lexchat/backend/pkg/retry"
)

// Documents shorter than this never go through keyword extraction; the model
// has nothing useful to say about a few sentences.
const minKeywordWords = 30

const maxKeywords = 8

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   2 * time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			metrics.LLMTokensUsed.WithLabelValues("prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues("completion").Add(float64(resp.Usage.CompletionTokens))

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// CompleteStream streams the completion, invoking onDelta for each content
// fragment as it arrives. Streaming requests are not retried: a failure
// mid-stream has already emitted partial output.
func (c *Client) CompleteStream(ctx context.Context, req CompletionRequest, onDelta func(delta string) error) error {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	return c.cb.Execute(ctx, func() error {
		stream, err := c.client.CreateChatCompletionStream(
			ctx,
			openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
				Stream:      true,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to create completion stream: %w", err)
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to receive stream chunk: %w", err)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if err := onDelta(delta); err != nil {
					return err
				}
			}
		}
	})
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.embeddingModel),
					},
				)

				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}

				for _, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings = append(embeddings, embedding)
				}

				return nil
			})
		})

		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// GenerateKeywords extracts document metadata for the keyword index. Documents
// under minKeywordWords words get an empty keyword list without calling the
// model at all.
func (c *Client) GenerateKeywords(ctx context.Context, content string) (*models.DocumentMetadata, error) {
	if countWords(content) < minKeywordWords {
		logger.Debug("Document too short for keyword extraction",
			zap.Int("min_words", minKeywordWords),
		)
		return &models.DocumentMetadata{Keywords: []string{}}, nil
	}

	systemPrompt := fmt.Sprintf(`You are a document indexing assistant. Extract metadata from the given document.

Return ONLY a JSON object of this shape:
{"keywords": ["keyword1", "keyword2"], "summary": "one sentence summary"}

Rules:
- At most %d keywords, lowercase, most salient first
- Keywords are short noun phrases, not sentences
- If the document names a location, date, legal domain or ruling, add them as
  "locatie", "data", "domeniu", "hotarare" string fields
- No prose outside the JSON object`, maxKeywords)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Extract metadata from this document:\n\n%s", truncate(content, 12000)),
		Temperature:  0.1,
		MaxTokens:    400,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate keywords: %w", err)
	}

	payload := extractJSONObject(resp.Content)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in keyword response")
	}

	var meta models.DocumentMetadata
	if err := json.Unmarshal([]byte(payload), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse keyword response: %w", err)
	}

	meta.Keywords = normalizeKeywords(meta.Keywords)

	logger.Debug("Keywords generated", zap.Int("count", len(meta.Keywords)))

	return &meta, nil
}

// GenerateTitle produces a short conversation title from the first exchange.
func (c *Client) GenerateTitle(ctx context.Context, userMessage string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: "Generate a short title (at most 6 words) for a conversation that starts with the given message. Return only the title, no quotes.",
		UserPrompt:   userMessage,
		Temperature:  0.3,
		MaxTokens:    30,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	return strings.Trim(strings.TrimSpace(resp.Content), `"`), nil
}

// UpdateSummary folds the latest exchange into the conversation's running
// summary.
func (c *Client) UpdateSummary(ctx context.Context, previousSummary, userMessage, aiMessage string) (string, error) {
	userPrompt := fmt.Sprintf(`Previous summary:
%s

New exchange:
User: %s
Assistant: %s

Return the updated summary.`, previousSummary, userMessage, aiMessage)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: "Maintain a running summary of a conversation. Merge the new exchange into the previous summary. Keep it under 150 words, keep concrete facts and open questions.",
		UserPrompt:   userPrompt,
		Temperature:  0.2,
		MaxTokens:    300,
	})
	if err != nil {
		return "", fmt.Errorf("failed to update summary: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func countWords(text string) int {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return len(strings.Fields(text))
	}

	count := 0
	for _, tok := range doc.Tokens() {
		if strings.ContainsAny(tok.Text, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789") {
			count++
		}
	}
	return count
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// extractJSONObject pulls the first balanced JSON object out of a model reply
// that may wrap it in markdown fences or prose.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
