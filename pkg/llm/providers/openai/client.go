package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/davidmoltin/site-integrations/pkg/llm"
)

const maxTokensLimit = 16384

// Client implements the LLM Client interface for OpenAI
type Client struct {
	client *openai.Client
	config *llm.Config
}

// NewClient creates a new OpenAI client
func NewClient(config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, llm.ErrInvalidAPIKey
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Chat sends a chat completion request
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	openaiReq := c.buildRequest(req)
	resp, err := llm.WithRetries(ctx, c.config, func() (openai.ChatCompletionResponse, error) {
		r, err := c.client.CreateChatCompletion(ctx, openaiReq)
		return r, mapError(err)
	})
	if err != nil {
		return nil, err
	}

	return mapResponse(&resp), nil
}

// GetProvider returns the provider type
func (c *Client) GetProvider() llm.Provider {
	return llm.ProviderOpenAI
}

// Close is a no-op; the SDK holds no resources
func (c *Client) Close() error {
	return nil
}

func (c *Client) buildRequest(req *llm.ChatRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.config.DefaultModel
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stop:      req.StopSequences,
	}
	if req.Temperature > 0 {
		out.Temperature = float32(req.Temperature)
	}
	if req.JSONResponse {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if userID, ok := req.Metadata["user_id"]; ok {
		out.User = userID
	}
	return out
}

func mapResponse(resp *openai.ChatCompletionResponse) *llm.ChatResponse {
	var content, finishReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = string(resp.Choices[0].FinishReason)
	}

	return &llm.ChatResponse{
		ID:       resp.ID,
		Content:  content,
		Model:    resp.Model,
		Provider: llm.ProviderOpenAI,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: finishReason,
		CreatedAt:    time.Unix(int64(resp.Created), 0),
	}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusBadRequest && apiErr.Code == "context_length_exceeded" {
			e := llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeContextLengthExceeded, apiErr.Message, err)
			e.StatusCode = apiErr.HTTPStatusCode
			return e
		}
		return llm.NewStatusError(llm.ProviderOpenAI, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	return llm.FromTransport(llm.ProviderOpenAI, err)
}

func validateRequest(req *llm.ChatRequest) error {
	if len(req.Messages) == 0 {
		return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeInvalidRequest, "messages cannot be empty", nil)
	}
	if req.MaxTokens > maxTokensLimit {
		return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeInvalidRequest, "max_tokens exceeds limit", nil)
	}
	return nil
}
