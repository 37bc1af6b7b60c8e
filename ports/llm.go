package ports

import (
	"context"
	"encoding/json"
)

// UsageData represents raw usage data from LLM provider APIs
type UsageData struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
}

// ToolSchema declares one structured-output tool ahead of the call. Schema is
// a JSON Schema document the provider enforces and the gateway re-validates.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ToolCall is a structured response emitted through the provider's tool-call
// interface. Arguments conform to the declared schema.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallRequest is the gateway's unified call surface
type CallRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Tools        []ToolSchema
	ExtraParams  map[string]interface{}
}

// CallResponse is the unified result of one gateway call
type CallResponse struct {
	Content        string
	ToolCalls      []ToolCall
	Usage          UsageData
	CostUSD        float64
	Provider       string
	Model          string
	LatencyMS      int64
	FallbackUsed   string `json:"fallback_used,omitempty"`   // "primary->fallback" when routed
	FallbackReason string `json:"fallback_reason,omitempty"` // trigger signal name
}

// LLMGateway is the single call surface the agents use. Parameter cleaning,
// rate limiting, retries, fallback routing and cost accounting all live behind
// it; agents never talk to a provider directly.
type LLMGateway interface {
	Call(ctx context.Context, req CallRequest) (*CallResponse, error)
	// EstimateCost returns the projected cost in USD for calls totalling
	// promptTokens/completionTokens against model.
	EstimateCost(model string, promptTokens, completionTokens int) float64
	// SpentUSD reports the budget consumed so far in this process.
	SpentUSD() float64
}

// ProviderClient is one provider adapter behind the gateway. The request it
// receives has already been parameter-cleaned for its provider tag.
type ProviderClient interface {
	Provider() string
	Call(ctx context.Context, req CallRequest, params map[string]interface{}) (*CallResponse, error)
}
