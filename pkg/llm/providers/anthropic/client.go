package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/davidmoltin/site-integrations/pkg/llm"
)

const (
	defaultModel     = "claude-3-5-haiku-20241022"
	defaultMaxTokens = 1024
	maxTokensLimit   = 8192
)

// Client implements the LLM Client interface for Anthropic
type Client struct {
	client *anthropic.Client
	config *llm.Config
}

// NewClient creates a new Anthropic client
func NewClient(config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, llm.ErrInvalidAPIKey
	}

	opts := []anthropic.ClientOption{}
	if config.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, anthropic.WithHTTPClient(&http.Client{Timeout: config.Timeout}))
	}

	return &Client{
		client: anthropic.NewClient(config.APIKey, opts...),
		config: config,
	}, nil
}

// Chat sends a chat completion request
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	anthropicReq := c.buildRequest(req)
	resp, err := llm.WithRetries(ctx, c.config, func() (anthropic.MessagesResponse, error) {
		r, err := c.client.CreateMessages(ctx, anthropicReq)
		return r, mapError(err)
	})
	if err != nil {
		return nil, err
	}

	return mapResponse(&resp, req.JSONResponse), nil
}

// GetProvider returns the provider type
func (c *Client) GetProvider() llm.Provider {
	return llm.ProviderAnthropic
}

// Close is a no-op; the SDK holds no resources
func (c *Client) Close() error {
	return nil
}

func (c *Client) buildRequest(req *llm.ChatRequest) anthropic.MessagesRequest {
	model := req.Model
	if model == "" {
		model = c.config.DefaultModel
	}
	if model == "" {
		model = defaultModel
	}

	messages := make([]anthropic.Message, 0, len(req.Messages)+1)
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		messages = append(messages, anthropic.Message{
			Role:    anthropic.ChatRole(msg.Role),
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
		})
	}
	// Anthropic has no JSON mode; prefilling the opening brace keeps the answer a bare object
	if req.JSONResponse {
		messages = append(messages, anthropic.Message{
			Role:    anthropic.ChatRole(llm.RoleAssistant),
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent("{")},
		})
	}

	out := anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		Messages:  messages,
		System:    req.SystemPrompt,
		MaxTokens: defaultMaxTokens,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		out.Temperature = &temp
	}
	if len(req.StopSequences) > 0 {
		out.StopSequences = req.StopSequences
	}
	return out
}

func mapResponse(resp *anthropic.MessagesResponse, prefilled bool) *llm.ChatResponse {
	var sb strings.Builder
	if prefilled {
		sb.WriteString("{")
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.GetText())
		}
	}

	return &llm.ChatResponse{
		ID:       resp.ID,
		Content:  sb.String(),
		Model:    string(resp.Model),
		Provider: llm.ProviderAnthropic,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: string(resp.StopReason),
		CreatedAt:    time.Now(),
	}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsInvalidRequestErr():
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeInvalidRequest, apiErr.Message, err)
		case apiErr.IsAuthenticationErr():
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeAuthentication, apiErr.Message, err)
		case apiErr.IsRateLimitErr():
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeRateLimit, apiErr.Message, err)
		case apiErr.IsOverloadedErr():
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeServiceUnavailable, apiErr.Message, err)
		default:
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeUnknown, apiErr.Message, err)
		}
	}

	return llm.FromTransport(llm.ProviderAnthropic, err)
}

func validateRequest(req *llm.ChatRequest) error {
	if len(req.Messages) == 0 {
		return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeInvalidRequest, "messages cannot be empty", nil)
	}
	if req.MaxTokens > maxTokensLimit {
		return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeInvalidRequest, "max_tokens exceeds limit", nil)
	}
	return nil
}
