package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"discernus/adapters/llm"
	"discernus/domain/core"
	"discernus/ports"
)

// AnthropicClient adapts the Anthropic Messages API
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropic creates the adapter
func NewAnthropic(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY", core.ErrMissingCredentials)
	}
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (c *AnthropicClient) Provider() string { return "anthropic" }

// Call executes one message creation
func (c *AnthropicClient) Call(ctx context.Context, req ports.CallRequest, params map[string]interface{}) (*ports.CallResponse, error) {
	maxTokens := int64(4096)
	if n, ok := intParam(params, "max_tokens"); ok {
		maxTokens = int64(n)
	}

	msgParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(llm.BareModel(req.Model)),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		msgParams.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}
	if t, ok := floatParam(params, "temperature"); ok {
		msgParams.Temperature = anthropic.Float(t)
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		msgParams.Tools = tools
	}

	msg, err := c.client.Messages.New(ctx, msgParams)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}
	if msg.StopReason == anthropic.StopReasonRefusal {
		return nil, fmt.Errorf("%w: anthropic stop_reason=refusal", core.ErrSafetyFilterBlocked)
	}

	out := &ports.CallResponse{
		Usage: ports.UsageData{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			Model:            req.Model,
			Provider:         "anthropic",
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
				Name:      variant.Name,
				Arguments: []byte(variant.JSON.Input.Raw()),
			})
		}
	}
	return out, nil
}

func convertAnthropicTools(tools []ports.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: anthropic: %v", core.ErrRateLimited, err)
		case apiErr.StatusCode == 529, apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: anthropic: %v", core.ErrProviderUnavailable, err)
		case apiErr.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: anthropic: %v", core.ErrMissingCredentials, err)
		}
		return fmt.Errorf("anthropic: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: anthropic: %v", core.ErrTransientNetwork, err)
}
