package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"discernus/adapters/llm"
	"discernus/domain/core"
	"discernus/ports"
)

// GeminiClient adapts the Google Gen AI SDK. The same adapter serves the
// Gemini API and Vertex AI; only the client backend differs.
type GeminiClient struct {
	client *genai.Client
	tag    string
}

// NewGemini creates the adapter against the Gemini API backend
func NewGemini(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY", core.ErrMissingCredentials)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &GeminiClient{client: client, tag: "gemini"}, nil
}

// NewVertexAI creates the adapter against the Vertex AI backend
func NewVertexAI(ctx context.Context, project, location string) (*GeminiClient, error) {
	if project == "" {
		return nil, fmt.Errorf("%w: VERTEX_PROJECT_ID", core.ErrMissingCredentials)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex_ai: %w", err)
	}
	return &GeminiClient{client: client, tag: "vertex_ai"}, nil
}

func (c *GeminiClient) Provider() string { return c.tag }

// Call executes one content generation
func (c *GeminiClient) Call(ctx context.Context, req ports.CallRequest, params map[string]interface{}) (*ports.CallResponse, error) {
	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if t, ok := floatParam(params, "temperature"); ok {
		temp := float32(t)
		config.Temperature = &temp
	}
	if n, ok := intParam(params, "max_tokens"); ok {
		config.MaxOutputTokens = int32(n)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req.Tools)
	}

	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Prompt}}},
	}

	resp, err := c.client.Models.GenerateContent(ctx, llm.BareModel(req.Model), contents, config)
	if err != nil {
		return nil, classifyGeminiError(c.tag, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates from %s", core.ErrEmptyResponse, c.tag)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: %s finish_reason=SAFETY", core.ErrSafetyFilterBlocked, c.tag)
	}

	out := &ports.CallResponse{
		Usage: ports.UsageData{Model: req.Model, Provider: c.tag},
	}
	if resp.UsageMetadata != nil {
		out.Usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.Usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.Usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FunctionCall != nil {
				args, jsonErr := json.Marshal(part.FunctionCall.Args)
				if jsonErr != nil {
					args = []byte("{}")
				}
				out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
			}
		}
	}
	return out, nil
}

func convertGeminiTools(tools []ports.ToolSchema) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to the SDK's typed schema. Only
// the subset the tool schemas use is mapped.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func classifyGeminiError(tag string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s: %v", core.ErrRateLimited, tag, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %s: %v", core.ErrProviderUnavailable, tag, err)
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %s: %v", core.ErrMissingCredentials, tag, err)
		}
		return fmt.Errorf("%s: %w", tag, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", core.ErrTransientNetwork, tag, err)
}
