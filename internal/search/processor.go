package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/llm"
	"github.com/lexchat/backend/pkg/logger"
)

// QueryProcessor classifies incoming queries so the router can pick a search
// strategy. Classification is best-effort: any model failure degrades to
// semantic search rather than surfacing an error to the caller.
type QueryProcessor struct {
	chat ChatService
}

func NewQueryProcessor(chat ChatService) *QueryProcessor {
	return &QueryProcessor{chat: chat}
}

// IdentifyIntent classifies the query. It returns IntentKeyword with the
// matched corpus topic, IntentSemantic, or IntentConversational. Two model
// calls at most: a topic pick checked against the corpus, then a
// semantic/conversational classification. A failed or unmatched topic pick is
// treated as no match and falls through to classification.
func (p *QueryProcessor) IdentifyIntent(ctx context.Context, query string, corpus *Corpus) (string, string) {
	topics := corpus.Topics()

	if len(topics) > 0 {
		topic, err := p.pickTopic(ctx, query, topics)
		if err != nil {
			logger.Warn("Topic identification failed, treating as no match", zap.Error(err))
		} else if topic != "" && corpus.HasTopic(topic) {
			logger.Debug("Query matched corpus topic", zap.String("topic", topic))
			return IntentKeyword, topic
		}
	}

	kind, err := p.classify(ctx, query)
	if err != nil {
		logger.Warn("Query classification failed, defaulting to semantic", zap.Error(err))
		return IntentSemantic, ""
	}
	return kind, ""
}

// ExtractKeywords runs one narrow extraction call per corpus topic and
// collects the terms the query actually mentions, deduplicated
// case-insensitively. It is a per-topic fan-out, so only callers that need
// multi-topic extraction (the hybrid pass) should pay for it. Per-topic
// failures are skipped; the list may be empty.
func (p *QueryProcessor) ExtractKeywords(ctx context.Context, query string, topics []string) []string {
	seen := make(map[string]bool, len(topics))
	var out []string

	for _, topic := range topics {
		term, err := p.extractTopicTerm(ctx, query, topic)
		if err != nil {
			logger.Warn("Keyword extraction failed for topic",
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}

	logger.Debug("Keywords extracted from query", zap.Strings("keywords", out))
	return out
}

func (p *QueryProcessor) pickTopic(ctx context.Context, query string, topics []string) (string, error) {
	systemPrompt := `You match user questions to known topics. Given a topic list and a question, reply with the single topic the question is about, exactly as written in the list. If none of the topics fit, reply with the word none. Reply with nothing else.`

	userPrompt := fmt.Sprintf("Topics: %s\n\nQuestion: %s", strings.Join(topics, ", "), query)

	resp, err := p.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    30,
	})
	if err != nil {
		return "", err
	}

	topic := strings.ToLower(strings.Trim(strings.TrimSpace(resp.Content), `"'.`))
	if topic == "none" {
		return "", nil
	}
	return topic, nil
}

func (p *QueryProcessor) extractTopicTerm(ctx context.Context, query, topic string) (string, error) {
	systemPrompt := fmt.Sprintf(`You extract search terms. If the user message mentions or relates to the topic %q, reply with the single most relevant term for that topic. If it does not, reply with the word none. Reply with nothing else.`, topic)

	resp, err := p.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   query,
		Temperature:  0.1,
		MaxTokens:    20,
	})
	if err != nil {
		return "", err
	}

	term := strings.Trim(strings.TrimSpace(resp.Content), `"'.`)
	if strings.EqualFold(term, "none") {
		return "", nil
	}
	return term, nil
}

func (p *QueryProcessor) classify(ctx context.Context, query string) (string, error) {
	systemPrompt := `Classify the user message. Reply with exactly one word:
- semantic: the message asks about document content, facts, or information
- conversational: the message is small talk, a greeting, or about the conversation itself`

	resp, err := p.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   query,
		Temperature:  0.1,
		MaxTokens:    10,
	})
	if err != nil {
		return "", err
	}

	// Anything other than the two exact labels defaults to semantic: a
	// retrieval that finds nothing is recoverable, a chat reply that should
	// have cited a document is not.
	switch strings.ToLower(strings.TrimSpace(resp.Content)) {
	case IntentConversational:
		return IntentConversational, nil
	case IntentSemantic:
		return IntentSemantic, nil
	default:
		return IntentSemantic, nil
	}
}
