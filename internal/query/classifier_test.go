package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/llm"
)

type fakeLLM struct {
	content string
	err     error
	last    *llm.ChatRequest
}

func (f *fakeLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.content, Provider: llm.ProviderAnthropic}, nil
}

func (f *fakeLLM) GetProvider() llm.Provider { return llm.ProviderAnthropic }
func (f *fakeLLM) Close() error              { return nil }

func TestLLMClassifier_Classify(t *testing.T) {
	client := &fakeLLM{content: `Here you go:
{"type": "schedule", "confidence": 0.92, "entities": {"project_id": "tower-b", "recipients": ["+4477"],
 "date_range": {"start": "2026-10-15T00:00:00Z", "end": "2026-10-16T00:00:00Z"}}}`}

	c, err := NewLLMClassifier(client)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }

	intent, err := c.Classify(context.Background(), "when is the crane inspection on tower-b?")
	require.NoError(t, err)

	assert.Equal(t, models.IntentSchedule, intent.Type)
	assert.Equal(t, 0.92, intent.Confidence)
	assert.Equal(t, SourceLLM, intent.Source)
	assert.Equal(t, "tower-b", intent.Entities.ProjectID)
	assert.Equal(t, []string{"+4477"}, intent.Entities.Recipients)
	require.NotNil(t, intent.Entities.DateRange)
	assert.Equal(t, 24*time.Hour, intent.Entities.DateRange.End.Sub(intent.Entities.DateRange.Start))

	require.NotNil(t, client.last)
	assert.True(t, client.last.JSONResponse)
	assert.Equal(t, llm.IntentClassifierSystemPrompt, client.last.SystemPrompt)
	require.Len(t, client.last.Messages, 1)
	assert.Contains(t, client.last.Messages[0].Content, "Today is 2026-10-15")
	assert.Contains(t, client.last.Messages[0].Content, "crane inspection")
}

func TestLLMClassifier_Failures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
	}{
		{name: "provider error", err: llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeRateLimit, "slow down", nil)},
		{name: "no json", content: "I think this is about scheduling"},
		{name: "broken json", content: `{"type": "schedule", "confidence": }`},
		{name: "unknown intent", content: `{"type": "weather", "confidence": 0.9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewLLMClassifier(&fakeLLM{content: tt.content, err: tt.err})
			require.NoError(t, err)

			_, err = c.Classify(context.Background(), "anything")
			assert.ErrorIs(t, err, ErrClassifierFailure)
			if tt.err != nil {
				assert.True(t, errors.Is(err, llm.ErrRateLimitExceeded))
			}
		})
	}
}

func TestParseIntent_ClampsConfidenceAndDropsBadDates(t *testing.T) {
	intent, err := parseIntent(`{"type": "SAFETY", "confidence": 1.7,
		"entities": {"date_range": {"start": "yesterday", "end": "today"}}}`)
	require.NoError(t, err)
	assert.Equal(t, models.IntentSafety, intent.Type)
	assert.Equal(t, 1.0, intent.Confidence)
	assert.Nil(t, intent.Entities.DateRange)
}

func TestKeywordClassifier(t *testing.T) {
	now := time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)
	k := NewKeywordClassifier()
	k.now = func() time.Time { return now }

	tests := []struct {
		text       string
		want       models.IntentType
		confidence float64
	}{
		{"Was there a safety incident on level 3?", models.IntentSafety, keywordConfidence},
		{"When is the next coordination meeting?", models.IntentSchedule, keywordConfidence},
		{"Where is the latest revision of the electrical drawing", models.IntentDocument, keywordConfidence},
		{"Tell the crew to stop pouring", models.IntentCommunication, keywordConfidence},
		{"How far behind is the framing", models.IntentProgress, keywordConfidence},
		{"Give me an overview of project tower-b", models.IntentProjectStatus, keywordConfidence},
		{"Good morning", models.IntentGeneral, generalConfidence},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			intent, err := k.Classify(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, intent.Type)
			assert.Equal(t, tt.confidence, intent.Confidence)
			assert.Equal(t, SourceKeyword, intent.Source)
		})
	}
}

func TestKeywordClassifier_ProjectID(t *testing.T) {
	k := NewKeywordClassifier()
	tests := []struct {
		text string
		want string
	}{
		{"What is the project status?", ""},
		{"Any project updates today?", ""},
		{"Show me the project overview", ""},
		{"Who is the project manager?", ""},
		{"status of project tower-b", "tower-b"},
		{"status of project 42", "42"},
		{"documents for project #riverside", "riverside"},
		{"project: harbour", "harbour"},
		{"project status for project A7", "A7"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			intent, err := k.Classify(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, intent.Entities.ProjectID)
		})
	}
}

func TestActivityFilter_GenericProjectQueryIsUnscoped(t *testing.T) {
	intent, err := NewKeywordClassifier().Classify(context.Background(), "What is the project status?")
	require.NoError(t, err)

	filter := activityFilter(intent, time.Now())
	assert.Empty(t, filter.ProjectID)
}

func TestKeywordClassifier_Entities(t *testing.T) {
	now := time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)
	k := NewKeywordClassifier()
	k.now = func() time.Time { return now }

	intent, err := k.Classify(context.Background(), "Urgent: send today's pour plan for project tower-b to +447700900123")
	require.NoError(t, err)

	assert.Equal(t, "tower-b", intent.Entities.ProjectID)
	assert.Equal(t, []string{"+447700900123"}, intent.Entities.Recipients)
	assert.Equal(t, "high", intent.Entities.Urgency)
	require.NotNil(t, intent.Entities.DateRange)
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), intent.Entities.DateRange.Start)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), intent.Entities.DateRange.End)
}
