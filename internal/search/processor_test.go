package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexchat/backend/internal/llm"
	"github.com/lexchat/backend/internal/storage/models"
)

// fakeChat replays scripted replies in order; a non-nil errs entry yields an
// error for that call.
type fakeChat struct {
	replies []string
	errs    []error
	calls   int
	prompts []llm.CompletionRequest
}

func (f *fakeChat) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.prompts = append(f.prompts, req)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return &llm.CompletionResponse{Content: reply}, nil
}

func corpusWithTopics(t *testing.T, topics ...string) *Corpus {
	t.Helper()
	c := NewCorpus()
	var docs []models.Document
	for i, topic := range topics {
		docs = append(docs, models.Document{
			ID:         string(rune('a' + i)),
			IsUploaded: true,
			Metadata:   &models.DocumentMetadata{Keywords: []string{topic}},
		})
	}
	require.NoError(t, c.Rebuild(listerOf(docs)))
	return c
}

type listerOf []models.Document

func (l listerOf) ListUploadedDocuments() ([]models.Document, error) {
	return l, nil
}

func TestIdentifyIntentTopicMatch(t *testing.T) {
	chat := &fakeChat{replies: []string{"Contract"}}
	p := NewQueryProcessor(chat)
	corpus := corpusWithTopics(t, "contract", "divorce")

	intent, topic := p.IdentifyIntent(context.Background(), "what does my contract say", corpus)

	assert.Equal(t, IntentKeyword, intent)
	assert.Equal(t, "contract", topic)
	assert.Equal(t, 1, chat.calls, "a topic match needs no second call")
}

func TestIdentifyIntentUnknownTopicFallsThrough(t *testing.T) {
	chat := &fakeChat{replies: []string{"weather", "semantic"}}
	p := NewQueryProcessor(chat)
	corpus := corpusWithTopics(t, "contract")

	intent, topic := p.IdentifyIntent(context.Background(), "what is in the files", corpus)

	assert.Equal(t, IntentSemantic, intent)
	assert.Empty(t, topic)
	assert.Equal(t, 2, chat.calls)
}

func TestIdentifyIntentConversational(t *testing.T) {
	chat := &fakeChat{replies: []string{"none", "conversational"}}
	p := NewQueryProcessor(chat)
	corpus := corpusWithTopics(t, "contract")

	intent, _ := p.IdentifyIntent(context.Background(), "thanks, that helps!", corpus)

	assert.Equal(t, IntentConversational, intent)
}

func TestIdentifyIntentEmptyCorpusSkipsTopicCall(t *testing.T) {
	chat := &fakeChat{replies: []string{"semantic"}}
	p := NewQueryProcessor(chat)

	intent, _ := p.IdentifyIntent(context.Background(), "what is in the files", NewCorpus())

	assert.Equal(t, IntentSemantic, intent)
	assert.Equal(t, 1, chat.calls)
}

func TestIdentifyIntentTopicFailureFallsThroughToClassifier(t *testing.T) {
	// A failed topic pick is a no-match, not a verdict: the classifier still
	// gets to call the query conversational.
	chat := &fakeChat{
		errs:    []error{errors.New("api down"), nil},
		replies: []string{"", "conversational"},
	}
	p := NewQueryProcessor(chat)
	corpus := corpusWithTopics(t, "contract")

	intent, _ := p.IdentifyIntent(context.Background(), "thanks!", corpus)

	assert.Equal(t, IntentConversational, intent)
	assert.Equal(t, 2, chat.calls)
}

func TestIdentifyIntentBothCallsFailDefaultToSemantic(t *testing.T) {
	chat := &fakeChat{errs: []error{errors.New("api down"), errors.New("api down")}}
	p := NewQueryProcessor(chat)
	corpus := corpusWithTopics(t, "contract")

	intent, topic := p.IdentifyIntent(context.Background(), "anything", corpus)

	assert.Equal(t, IntentSemantic, intent)
	assert.Empty(t, topic)
}

func TestIdentifyIntentClassifierErrorDefaultsToSemantic(t *testing.T) {
	chat := &fakeChat{replies: []string{"none"}, errs: []error{nil, errors.New("api down")}}
	p := NewQueryProcessor(chat)
	corpus := corpusWithTopics(t, "contract")

	intent, _ := p.IdentifyIntent(context.Background(), "anything", corpus)

	assert.Equal(t, IntentSemantic, intent)
}

func TestIdentifyIntentGarbageClassifierOutput(t *testing.T) {
	chat := &fakeChat{replies: []string{"none", "I think this might be about documents?"}}
	p := NewQueryProcessor(chat)
	corpus := corpusWithTopics(t, "contract")

	intent, _ := p.IdentifyIntent(context.Background(), "anything", corpus)

	assert.Equal(t, IntentSemantic, intent)
}

func TestIdentifyIntentClassifierLabelMustMatchExactly(t *testing.T) {
	// A reply that merely mentions the label is not the label.
	chat := &fakeChat{replies: []string{"none", "this is conversational I think"}}
	p := NewQueryProcessor(chat)
	corpus := corpusWithTopics(t, "contract")

	intent, _ := p.IdentifyIntent(context.Background(), "anything", corpus)

	assert.Equal(t, IntentSemantic, intent)
}

func TestExtractKeywordsOneCallPerTopic(t *testing.T) {
	chat := &fakeChat{replies: []string{"alpha", "none"}}
	p := NewQueryProcessor(chat)

	out := p.ExtractKeywords(context.Background(), "query", []string{"locations", "dates"})

	assert.Equal(t, []string{"alpha"}, out)
	assert.Equal(t, 2, chat.calls)
}

func TestExtractKeywordsDeduplicatesCaseInsensitively(t *testing.T) {
	chat := &fakeChat{replies: []string{"Lease", "lease"}}
	p := NewQueryProcessor(chat)

	out := p.ExtractKeywords(context.Background(), "query", []string{"contracts", "documents"})

	assert.Equal(t, []string{"lease"}, out)
}

func TestExtractKeywordsSkipsFailedTopics(t *testing.T) {
	chat := &fakeChat{
		errs:    []error{errors.New("api down"), nil},
		replies: []string{"", "beta"},
	}
	p := NewQueryProcessor(chat)

	out := p.ExtractKeywords(context.Background(), "query", []string{"a", "b"})

	assert.Equal(t, []string{"beta"}, out)
}

func TestExtractKeywordsEmptyTopics(t *testing.T) {
	chat := &fakeChat{}
	p := NewQueryProcessor(chat)

	out := p.ExtractKeywords(context.Background(), "query", nil)

	assert.Empty(t, out)
	assert.Equal(t, 0, chat.calls)
}
