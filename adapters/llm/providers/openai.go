// Package providers holds the concrete provider adapters behind the gateway.
// Each adapter receives parameter-cleaned requests and maps its SDK's errors
// onto the shared domain sentinels so the gateway can classify them uniformly.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"discernus/adapters/llm"
	"discernus/domain/core"
	"discernus/ports"
)

// OpenAIClient adapts the OpenAI chat completion API. It also serves any
// OpenAI-compatible endpoint (mistral, ollama) via a custom base URL.
type OpenAIClient struct {
	client *openai.Client
	tag    string
}

// NewOpenAI creates the adapter for api.openai.com
func NewOpenAI(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY", core.ErrMissingCredentials)
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), tag: "openai"}, nil
}

// NewOpenAICompatible creates an adapter for an OpenAI-compatible endpoint
// answering under a different provider tag.
func NewOpenAICompatible(tag, apiKey, baseURL string) (*OpenAIClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL for %s", core.ErrMissingCredentials, tag)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), tag: tag}, nil
}

func (c *OpenAIClient) Provider() string { return c.tag }

// Call executes one chat completion
func (c *OpenAIClient) Call(ctx context.Context, req ports.CallRequest, params map[string]interface{}) (*ports.CallResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    llm.BareModel(req.Model),
		Messages: messages,
	}
	if t, ok := floatParam(params, "temperature"); ok {
		chatReq.Temperature = float32(t)
	}
	if n, ok := intParam(params, "max_tokens"); ok {
		chatReq.MaxTokens = n
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classifyOpenAIError(c.tag, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices from %s", core.ErrEmptyResponse, c.tag)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, fmt.Errorf("%w: %s finish_reason=content_filter", core.ErrSafetyFilterBlocked, c.tag)
	}

	out := &ports.CallResponse{
		Content: choice.Message.Content,
		Usage: ports.UsageData{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Model:            req.Model,
			Provider:         c.tag,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}
	return out, nil
}

func convertOpenAITools(tools []ports.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func classifyOpenAIError(tag string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s: %v", core.ErrRateLimited, tag, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %s: %v", core.ErrProviderUnavailable, tag, err)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s: %v", core.ErrMissingCredentials, tag, err)
		}
		return fmt.Errorf("%s: %w", tag, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Connection resets and timeouts surface as plain transport errors.
	return fmt.Errorf("%w: %s: %v", core.ErrTransientNetwork, tag, err)
}
