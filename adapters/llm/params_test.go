package llm

import (
	"reflect"
	"testing"

	"discernus/internal"
)

// TestResolveProvider tests provider resolution from model names
func TestResolveProvider(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"vertex_ai/gemini-2.0-flash", "vertex_ai"},
		{"ollama/llama3", "ollama"},
		{"gpt-4o", "openai"},
		{"o3-mini", "openai"},
		{"claude-sonnet-4-20250514", "anthropic"},
		{"gemini-2.5-pro", "gemini"},
		{"mistral-large-latest", "mistral"},
		{"unknown-model", "openai"},
	}

	for _, test := range tests {
		if got := ResolveProvider(test.model); got != test.expected {
			t.Errorf("ResolveProvider(%q) = %q, want %q", test.model, got, test.expected)
		}
	}
}

// TestBareModel tests provider prefix stripping
func TestBareModel(t *testing.T) {
	if got := BareModel("vertex_ai/gemini-2.0-flash"); got != "gemini-2.0-flash" {
		t.Errorf("expected gemini-2.0-flash, got %q", got)
	}
	if got := BareModel("gpt-4o"); got != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %q", got)
	}
}

// TestCleanStripsForbiddenParams tests that forbidden parameters are removed
func TestCleanStripsForbiddenParams(t *testing.T) {
	m := NewParamManager(internal.DefaultLogger)

	clean := m.Clean("claude-sonnet-4-20250514", map[string]interface{}{
		"response_format": "json",
		"logit_bias":      map[string]int{"50256": -100},
		"top_p":           0.9,
	})

	if _, present := clean["response_format"]; present {
		t.Error("response_format should have been stripped for anthropic")
	}
	if _, present := clean["logit_bias"]; present {
		t.Error("logit_bias should have been stripped for anthropic")
	}
	if clean["top_p"] != 0.9 {
		t.Errorf("top_p should pass through, got %v", clean["top_p"])
	}
}

// TestCleanAppliesRequiredAndDefaults tests the merge ordering
func TestCleanAppliesRequiredAndDefaults(t *testing.T) {
	m := NewParamManager(internal.DefaultLogger)

	clean := m.Clean("claude-sonnet-4-20250514", map[string]interface{}{
		"max_tokens":  100, // conflicts with required 4096
		"temperature": 0.7, // overrides the 0.2 default
	})

	if clean["max_tokens"] != 4096 {
		t.Errorf("required max_tokens should win, got %v", clean["max_tokens"])
	}
	if clean["temperature"] != 0.7 {
		t.Errorf("caller temperature should override default, got %v", clean["temperature"])
	}
}

// TestCleanIsIdempotent tests that cleaning cleaned params is a no-op
func TestCleanIsIdempotent(t *testing.T) {
	m := NewParamManager(internal.DefaultLogger)

	models := []string{
		"gpt-4o",
		"claude-sonnet-4-20250514",
		"vertex_ai/gemini-2.0-flash",
		"mistral-large-latest",
		"ollama/llama3",
	}
	caller := map[string]interface{}{
		"temperature": 0.5,
		"top_k":       40,
		"logit_bias":  "x",
	}

	for _, model := range models {
		once := m.Clean(model, caller)
		twice := m.Clean(model, once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("Clean not idempotent for %s: %v != %v", model, once, twice)
		}
	}
}

// TestTimeoutPerProvider tests per-provider timeout lookup
func TestTimeoutPerProvider(t *testing.T) {
	m := NewParamManager(internal.DefaultLogger)

	if got := m.Timeout("ollama/llama3"); got != 600 {
		t.Errorf("ollama timeout = %d, want 600", got)
	}
	if got := m.Timeout("gpt-4o"); got != 120 {
		t.Errorf("openai timeout = %d, want 120", got)
	}
}
