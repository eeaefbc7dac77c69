// Package llm is the provider-neutral chat interface used for intent
// classification and status summaries.
package llm

import (
	"context"
	"time"
)

type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Client is implemented by each provider package
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	GetProvider() Provider
	Close() error
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one completion call. Zero values fall back to the
// provider defaults; Model falls back to Config.DefaultModel.
type ChatRequest struct {
	Messages      []Message         `json:"messages"`
	SystemPrompt  string            `json:"system_prompt,omitempty"`
	Model         string            `json:"model,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   float64           `json:"temperature,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	// JSONResponse asks for a single JSON object as the whole reply
	JSONResponse bool `json:"json_response,omitempty"`
}

type ChatResponse struct {
	ID           string     `json:"id"`
	Provider     Provider   `json:"provider"`
	Model        string     `json:"model"`
	Content      string     `json:"content"`
	FinishReason string     `json:"finish_reason"`
	Usage        TokenUsage `json:"usage"`
	CreatedAt    time.Time  `json:"created_at"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config selects and tunes a provider. BaseURL is only needed for proxies
// and compatible endpoints. MaxRetries counts attempts after the first.
type Config struct {
	Provider     Provider
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}
