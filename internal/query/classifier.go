package query

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/llm"
)

// Classifier sources reported in QueryIntent.Source and metrics
const (
	SourceLLM     = "llm"
	SourceKeyword = "keyword"
)

// IntentClassifier turns free text into a structured intent
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (*models.QueryIntent, error)
}

// LLMClassifier classifies queries with a chat model
type LLMClassifier struct {
	client    llm.Client
	templates *llm.TemplateManager
	now       func() time.Time
}

// NewLLMClassifier creates a classifier backed by client
func NewLLMClassifier(client llm.Client) (*LLMClassifier, error) {
	tm, err := llm.GetDefaultTemplates()
	if err != nil {
		return nil, err
	}
	return &LLMClassifier{client: client, templates: tm, now: time.Now}, nil
}

type llmIntent struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Entities   struct {
		ProjectID    string   `json:"project_id"`
		DocumentType string   `json:"document_type"`
		Urgency      string   `json:"urgency"`
		Recipients   []string `json:"recipients"`
		Action       string   `json:"action"`
		DateRange    *struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"date_range"`
	} `json:"entities"`
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (*models.QueryIntent, error) {
	prompt, err := c.templates.Execute("intent_classification", map[string]interface{}{
		"Intents": allIntents,
		"Today":   c.now().Format("2006-01-02"),
		"Query":   text,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierFailure, err)
	}

	req := llm.NewPromptBuilder().
		SetSystemPrompt(llm.IntentClassifierSystemPrompt).
		AddUserMessage(prompt).
		BuildWithOptions(llm.WithMaxTokens(300), llm.WithTemperature(0.1), llm.WithJSONResponse())

	resp, err := c.client.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassifierFailure, err)
	}
	return parseIntent(resp.Content)
}

// Summarize phrases activity lines as a short answer using the status_summary prompt
func (c *LLMClassifier) Summarize(ctx context.Context, text string, lines []string) (string, error) {
	prompt, err := c.templates.Execute("status_summary", map[string]interface{}{
		"MaxWords": 80,
		"Query":    text,
		"Lines":    lines,
	})
	if err != nil {
		return "", err
	}
	resp, err := c.client.Chat(ctx, llm.NewPromptBuilder().
		SetSystemPrompt(llm.SummarySystemPrompt).
		AddUserMessage(prompt).
		BuildWithOptions(llm.WithMaxTokens(400), llm.WithTemperature(0.2)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

func parseIntent(content string) (*models.QueryIntent, error) {
	raw := jsonObject.FindString(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no json object in response", ErrClassifierFailure)
	}

	var out llmIntent
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierFailure, err)
	}

	intentType := models.IntentType(strings.ToLower(strings.TrimSpace(out.Type)))
	if !intentType.Valid() {
		return nil, fmt.Errorf("%w: unknown intent %q", ErrClassifierFailure, out.Type)
	}

	intent := &models.QueryIntent{
		Type:       intentType,
		Confidence: clamp(out.Confidence),
		Source:     SourceLLM,
		Entities: models.IntentEntities{
			ProjectID:    out.Entities.ProjectID,
			DocumentType: out.Entities.DocumentType,
			Urgency:      out.Entities.Urgency,
			Recipients:   out.Entities.Recipients,
			Action:       out.Entities.Action,
		},
	}
	if dr := out.Entities.DateRange; dr != nil {
		start, errStart := time.Parse(time.RFC3339, dr.Start)
		end, errEnd := time.Parse(time.RFC3339, dr.End)
		if errStart == nil && errEnd == nil && !end.Before(start) {
			intent.Entities.DateRange = &models.DateRange{Start: start, End: end}
		}
	}
	return intent, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

var allIntents = []models.IntentType{
	models.IntentProjectStatus,
	models.IntentSchedule,
	models.IntentCommunication,
	models.IntentDocument,
	models.IntentSafety,
	models.IntentProgress,
	models.IntentGeneral,
}

// Keyword matcher confidences; always below what an LLM answer is trusted at
const (
	keywordConfidence = 0.5
	generalConfidence = 0.3
)

// keywordRules are checked in order; safety comes first so it wins ties
var keywordRules = []struct {
	intent  models.IntentType
	pattern *regexp.Regexp
}{
	{models.IntentSafety, wordPattern("safety", "incident", "injury", "injured", "hazard", "accident", "ppe", "near miss", "unsafe")},
	{models.IntentSchedule, wordPattern("schedule", "meeting", "calendar", "when", "tomorrow", "next week", "deadline", "inspection", "book")},
	{models.IntentDocument, wordPattern("document", "documents", "drawing", "drawings", "file", "pdf", "plan", "plans", "permit", "rfi", "submittal")},
	{models.IntentCommunication, wordPattern("message", "messages", "tell", "notify", "send", "whatsapp", "crew", "team")},
	{models.IntentProgress, wordPattern("progress", "complete", "completed", "done", "percent", "milestone", "behind")},
	{models.IntentProjectStatus, wordPattern("status", "project", "overview", "latest", "happening")},
}

var urgentPattern = wordPattern("urgent", "asap", "immediately", "emergency")

func wordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

var (
	projectPattern = regexp.MustCompile(`(?i)\bproject(?:\s*([#:])\s*|[\s-]+)([A-Za-z0-9][\w-]*)`)
	phonePattern   = regexp.MustCompile(`\+?\d{7,15}`)
)

// KeywordClassifier is the deterministic fallback. It never fails.
type KeywordClassifier struct {
	now func() time.Time
}

// NewKeywordClassifier creates the keyword matcher
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{now: time.Now}
}

func (k *KeywordClassifier) Classify(ctx context.Context, text string) (*models.QueryIntent, error) {
	intent := &models.QueryIntent{
		Type:       models.IntentGeneral,
		Confidence: generalConfidence,
		Source:     SourceKeyword,
	}
	for _, rule := range keywordRules {
		if rule.pattern.MatchString(text) {
			intent.Type = rule.intent
			intent.Confidence = keywordConfidence
			break
		}
	}

	intent.Entities.ProjectID = projectID(text)
	if phones := phonePattern.FindAllString(text, -1); len(phones) > 0 {
		intent.Entities.Recipients = phones
	}
	if urgentPattern.MatchString(text) || intent.Type == models.IntentSafety {
		intent.Entities.Urgency = "high"
	}
	intent.Entities.DateRange = k.dateRange(strings.ToLower(text))

	return intent, nil
}

// projectWords follow "project" in ordinary questions and are never identifiers
var projectWords = map[string]bool{
	"status": true, "update": true, "updates": true, "overview": true, "progress": true,
	"plan": true, "plans": true, "schedule": true, "manager": true, "team": true,
	"site": true, "documents": true, "files": true, "today": true, "this": true,
}

// projectID returns the first identifier written after "project". A candidate
// counts only when introduced by '#' or ':' or when it contains a digit or a hyphen.
func projectID(text string) string {
	for _, m := range projectPattern.FindAllStringSubmatch(text, -1) {
		explicit, id := m[1] != "", m[2]
		if projectWords[strings.ToLower(id)] {
			continue
		}
		if explicit || strings.ContainsAny(id, "0123456789-") {
			return id
		}
	}
	return ""
}

func (k *KeywordClassifier) dateRange(lower string) *models.DateRange {
	now := k.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case strings.Contains(lower, "today"):
		return &models.DateRange{Start: day, End: day.AddDate(0, 0, 1)}
	case strings.Contains(lower, "yesterday"):
		return &models.DateRange{Start: day.AddDate(0, 0, -1), End: day}
	case strings.Contains(lower, "tomorrow"):
		return &models.DateRange{Start: day.AddDate(0, 0, 1), End: day.AddDate(0, 0, 2)}
	case strings.Contains(lower, "this week"):
		return &models.DateRange{Start: day.AddDate(0, 0, -7), End: day.AddDate(0, 0, 1)}
	}
	return nil
}
