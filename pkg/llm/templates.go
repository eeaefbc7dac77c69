package llm

import (
	"bytes"
	"fmt"
	"text/template"
)

// TemplateManager holds named prompt templates
type TemplateManager struct {
	templates map[string]*template.Template
}

func NewTemplateManager() *TemplateManager {
	return &TemplateManager{
		templates: make(map[string]*template.Template),
	}
}

// Register parses content and stores it under name, replacing any previous template
func (tm *TemplateManager) Register(name, content string) error {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	tm.templates[name] = tmpl
	return nil
}

// Execute renders the named template with data
func (tm *TemplateManager) Execute(name string, data interface{}) (string, error) {
	tmpl, ok := tm.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}

// PromptBuilder assembles a ChatRequest
type PromptBuilder struct {
	systemPrompt string
	messages     []Message
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

func (pb *PromptBuilder) SetSystemPrompt(prompt string) *PromptBuilder {
	pb.systemPrompt = prompt
	return pb
}

func (pb *PromptBuilder) AddUserMessage(content string) *PromptBuilder {
	pb.messages = append(pb.messages, Message{
		Role:    RoleUser,
		Content: content,
	})
	return pb
}

// BuildWithOptions builds the request and applies opts in order
func (pb *PromptBuilder) BuildWithOptions(opts ...RequestOption) *ChatRequest {
	req := &ChatRequest{
		Messages:     pb.messages,
		SystemPrompt: pb.systemPrompt,
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// RequestOption is a function that modifies a ChatRequest
type RequestOption func(*ChatRequest)

func WithMaxTokens(maxTokens int) RequestOption {
	return func(req *ChatRequest) {
		req.MaxTokens = maxTokens
	}
}

func WithTemperature(temperature float64) RequestOption {
	return func(req *ChatRequest) {
		req.Temperature = temperature
	}
}

// WithJSONResponse asks for a bare JSON object answer
func WithJSONResponse() RequestOption {
	return func(req *ChatRequest) {
		req.JSONResponse = true
	}
}

// Prompts used by the query orchestrator

const (
	// IntentClassifierSystemPrompt frames every classification request
	IntentClassifierSystemPrompt = `You classify questions from a construction site team. Answer with a single JSON object and nothing else.`

	// IntentClassificationTemplate turns a site team question into a structured intent
	IntentClassificationTemplate = `Return:
{"type": "<intent>", "confidence": <0..1>, "entities": {"project_id": "", "document_type": "", "urgency": "", "recipients": [], "action": "", "date_range": {"start": "<RFC3339>", "end": "<RFC3339>"}}}

Allowed intents:
{{range .Intents}}- {{.}}
{{end}}
Omit entities you cannot find. Today is {{.Today}}.

Question: {{.Query}}`

	// SummarySystemPrompt frames activity summaries
	SummarySystemPrompt = `You brief a construction site manager. Be factual and short. Mention disagreements between sources instead of picking one.`

	// StatusSummaryTemplate condenses platform activity into a short answer
	StatusSummaryTemplate = `Summarize the following site activity in {{.MaxWords}} words or less.

Question: {{.Query}}

Activity:
{{range .Lines}}- {{.}}
{{end}}`
)

// GetDefaultTemplates returns a template manager with the built-in templates registered
func GetDefaultTemplates() (*TemplateManager, error) {
	tm := NewTemplateManager()

	templates := map[string]string{
		"intent_classification": IntentClassificationTemplate,
		"status_summary":        StatusSummaryTemplate,
	}

	for name, content := range templates {
		if err := tm.Register(name, content); err != nil {
			return nil, fmt.Errorf("failed to register default template %s: %w", name, err)
		}
	}

	return tm, nil
}
