package ai

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"discernus/domain/core"
)

// TestRenderBindsSlots tests plain slot substitution
func TestRenderBindsSlots(t *testing.T) {
	out, err := Render("score {{doc}} with {{model}}", map[string]string{
		"doc":   "d1",
		"model": "gpt-4o",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "score d1 with gpt-4o" {
		t.Errorf("unexpected render: %q", out)
	}
}

// TestRenderFailsOnUnboundSlot tests that missing bindings are an error
func TestRenderFailsOnUnboundSlot(t *testing.T) {
	_, err := Render("score {{doc}} with {{model}}", map[string]string{"doc": "d1"})
	if !errors.Is(err, core.ErrUnboundSlot) {
		t.Fatalf("expected ErrUnboundSlot, got %v", err)
	}
	if !strings.Contains(err.Error(), "model") {
		t.Errorf("error should name the unbound slot: %v", err)
	}
}

// TestRenderIgnoresExtraBindings tests that unused bindings are not an error
func TestRenderIgnoresExtraBindings(t *testing.T) {
	out, err := Render("just {{one}}", map[string]string{"one": "1", "two": "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "just 1" {
		t.Errorf("unexpected render: %q", out)
	}
}

// TestEncodeDocumentRoundTrips tests base64 document encoding
func TestEncodeDocumentRoundTrips(t *testing.T) {
	text := "a document with ```fences``` and \"nested quotes\""
	encoded := EncodeDocument(text)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("encoded document is not valid base64: %v", err)
	}
	if string(decoded) != text {
		t.Errorf("round trip mismatch: %q", decoded)
	}
}

// TestPromptTemplatesRenderCompletely tests every template's slot inventory
func TestPromptTemplatesRenderCompletely(t *testing.T) {
	full := map[string]string{
		"framework_name": "f", "framework_version": "1", "framework": "{}",
		"dimensions": "a, b", "document_id": "d1", "document_b64": "eA==",
		"scores": "{}", "derived_metrics": "{}", "code": "x=1", "claimed_output": "1",
		"max_queries": "5", "task": "t", "context": "c",
		"hypotheses": "h", "questions": "q", "evidence": "e",
		"anomalies": "a", "metric_summary": "m", "statistics": "s",
		"step_1": "1", "step_2": "2", "step_3": "3", "step_4": "4",
	}
	templates := map[string]string{
		"analysis":     analysisPromptTemplate,
		"verification": verificationPromptTemplate,
		"query_gen":    queryGenPromptTemplate,
		"hypothesis":   synthesisHypothesisTemplate,
		"anomaly":      synthesisAnomalyTemplate,
		"pattern":      synthesisPatternTemplate,
		"fit":          synthesisFitTemplate,
		"final":        synthesisFinalTemplate,
	}
	for name, template := range templates {
		if _, err := Render(template, full); err != nil {
			t.Errorf("template %s has a slot outside the shared inventory: %v", name, err)
		}
	}
}
