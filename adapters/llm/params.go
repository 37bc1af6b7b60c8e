package llm

import (
	"sort"
	"strings"

	"discernus/internal"
)

// ParamPolicy is the static per-provider allow/deny list of call parameters.
// These lists encode empirical knowledge about which providers trip on which
// parameters; stripping happens silently at the wire in many SDK stacks, so
// every removal and override here is logged and inspectable.
type ParamPolicy struct {
	ForbiddenParams []string
	RequiredParams  map[string]interface{}
	DefaultParams   map[string]interface{}
	TimeoutSeconds  int
}

// policies maps provider tag to its parameter policy
var policies = map[string]ParamPolicy{
	"openai": {
		ForbiddenParams: []string{"top_k", "safety_settings"},
		DefaultParams:   map[string]interface{}{"temperature": 0.2},
		TimeoutSeconds:  120,
	},
	"anthropic": {
		ForbiddenParams: []string{"response_format", "presence_penalty", "frequency_penalty", "logit_bias"},
		RequiredParams:  map[string]interface{}{"max_tokens": 4096},
		DefaultParams:   map[string]interface{}{"temperature": 0.2},
		TimeoutSeconds:  120,
	},
	"vertex_ai": {
		ForbiddenParams: []string{"presence_penalty", "frequency_penalty", "logit_bias", "response_format"},
		DefaultParams:   map[string]interface{}{"temperature": 0.2},
		TimeoutSeconds:  180,
	},
	"gemini": {
		ForbiddenParams: []string{"presence_penalty", "frequency_penalty", "logit_bias"},
		DefaultParams:   map[string]interface{}{"temperature": 0.2},
		TimeoutSeconds:  180,
	},
	"mistral": {
		ForbiddenParams: []string{"logit_bias", "safety_settings", "top_k"},
		DefaultParams:   map[string]interface{}{"temperature": 0.2},
		TimeoutSeconds:  120,
	},
	"ollama": {
		ForbiddenParams: []string{"logit_bias", "safety_settings"},
		DefaultParams:   map[string]interface{}{"temperature": 0.2},
		TimeoutSeconds:  600,
	},
}

// ParamManager applies provider parameter policies
type ParamManager struct {
	logger *internal.Logger
}

// NewParamManager creates a parameter manager
func NewParamManager(logger *internal.Logger) *ParamManager {
	return &ParamManager{logger: logger.Component("ParamManager")}
}

// ResolveProvider extracts the provider tag from a model name prefix, e.g.
// "vertex_ai/gemini-2.0-flash" -> "vertex_ai". Unprefixed model names fall
// back to a best-effort family guess.
func ResolveProvider(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	case strings.HasPrefix(model, "mistral"), strings.HasPrefix(model, "mixtral"):
		return "mistral"
	default:
		return "openai"
	}
}

// BareModel strips the provider prefix from a model name
func BareModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[idx+1:]
	}
	return model
}

// Clean applies clean = merge(default, caller_without_forbidden, required).
// The operation is idempotent: cleaning cleaned parameters is a no-op.
func (m *ParamManager) Clean(model string, caller map[string]interface{}) map[string]interface{} {
	provider := ResolveProvider(model)
	policy, ok := policies[provider]
	if !ok {
		policy = policies["openai"]
	}

	clean := make(map[string]interface{}, len(policy.DefaultParams)+len(caller)+len(policy.RequiredParams))
	for k, v := range policy.DefaultParams {
		clean[k] = v
	}

	forbidden := make(map[string]bool, len(policy.ForbiddenParams))
	for _, k := range policy.ForbiddenParams {
		forbidden[k] = true
	}

	var stripped []string
	for k, v := range caller {
		if forbidden[k] {
			stripped = append(stripped, k)
			continue
		}
		clean[k] = v
	}
	if len(stripped) > 0 {
		sort.Strings(stripped)
		m.logger.Warn("stripped forbidden params for %s: %s", provider, strings.Join(stripped, ", "))
	}

	for k, v := range policy.RequiredParams {
		if prev, present := clean[k]; present && prev != v {
			m.logger.Warn("overriding param %s=%v with required %v for %s", k, prev, v, provider)
		}
		clean[k] = v
	}
	return clean
}

// Timeout returns the per-provider request timeout in seconds
func (m *ParamManager) Timeout(model string) int {
	policy, ok := policies[ResolveProvider(model)]
	if !ok {
		return 120
	}
	return policy.TimeoutSeconds
}
