package ai

import (
	"encoding/json"
	"errors"
	"testing"

	"discernus/domain/core"
	"discernus/domain/framework"
	"discernus/ports"
)

func testFramework(t *testing.T) *framework.Framework {
	t.Helper()
	fw := &framework.Framework{
		Name:    "civic-discourse",
		Version: "1.0",
		Dimensions: []framework.Dimension{
			{Name: "dignity", Description: "dignity framing", Scale: "0-1"},
			{Name: "tribalism", Description: "tribal framing", Scale: "0-1"},
		},
	}
	if err := fw.Validate(); err != nil {
		t.Fatalf("test framework invalid: %v", err)
	}
	return fw
}

func validAnalysisArgs() json.RawMessage {
	return json.RawMessage(`{
		"dimension_scores": {
			"dignity":   {"raw_score": 0.8, "salience": 0.9, "confidence": 0.7},
			"tribalism": {"raw_score": 0.2, "salience": 0.4, "confidence": 0.8}
		},
		"derived_metrics": {"polarity": 0.6},
		"evidence": [{"dimension": "dignity", "quote": "every person deserves respect", "offset": 120}],
		"work": {"code": "polarity = dignity - tribalism * 3", "claimed_output": "0.6"}
	}`)
}

// TestAnalysisSchemaAcceptsValidPayload tests the happy path
func TestAnalysisSchemaAcceptsValidPayload(t *testing.T) {
	schema, err := AnalysisToolSchema(testFramework(t))
	if err != nil {
		t.Fatalf("schema build failed: %v", err)
	}

	var payload AnalysisToolPayload
	call := ports.ToolCall{Name: ToolRecordAnalysis, Arguments: validAnalysisArgs()}
	if err := ValidateToolCall(schema, call, &payload); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if payload.DimensionScores["dignity"].RawScore != 0.8 {
		t.Errorf("decoded payload wrong: %+v", payload.DimensionScores)
	}
	if payload.Work.Code == "" {
		t.Error("work code missing after decode")
	}
}

// TestAnalysisSchemaRejectsBadPayloads tests schema enforcement
func TestAnalysisSchemaRejectsBadPayloads(t *testing.T) {
	schema, err := AnalysisToolSchema(testFramework(t))
	if err != nil {
		t.Fatalf("schema build failed: %v", err)
	}

	tests := []struct {
		name string
		args string
	}{
		{"unknown dimension", `{"dimension_scores": {"bonus": {"raw_score": 0.5, "salience": 0.5, "confidence": 0.5}}, "evidence": [], "work": {"code": "x", "claimed_output": ""}}`},
		{"score out of range", `{"dimension_scores": {"dignity": {"raw_score": 1.5, "salience": 0.5, "confidence": 0.5}, "tribalism": {"raw_score": 0.5, "salience": 0.5, "confidence": 0.5}}, "evidence": [], "work": {"code": "x", "claimed_output": ""}}`},
		{"missing work", `{"dimension_scores": {"dignity": {"raw_score": 0.5, "salience": 0.5, "confidence": 0.5}, "tribalism": {"raw_score": 0.5, "salience": 0.5, "confidence": 0.5}}, "evidence": []}`},
		{"not json", `scores: fine`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var payload AnalysisToolPayload
			call := ports.ToolCall{Name: ToolRecordAnalysis, Arguments: json.RawMessage(test.args)}
			err := ValidateToolCall(schema, call, &payload)
			if !errors.Is(err, core.ErrSchemaValidation) {
				t.Errorf("expected ErrSchemaValidation, got %v", err)
			}
		})
	}
}

// TestValidateToolCallRejectsWrongTool tests tool-name mismatch
func TestValidateToolCallRejectsWrongTool(t *testing.T) {
	var payload QueriesToolPayload
	call := ports.ToolCall{Name: "something_else", Arguments: json.RawMessage(`{"queries": ["q"]}`)}
	err := ValidateToolCall(QueriesToolSchema(), call, &payload)
	if !errors.Is(err, core.ErrSchemaValidation) {
		t.Errorf("expected ErrSchemaValidation, got %v", err)
	}
}

// TestAttestationSchema tests the static attestation declaration
func TestAttestationSchema(t *testing.T) {
	schema := AttestationToolSchema()

	var payload AttestationToolPayload
	good := ports.ToolCall{Name: ToolRecordAttestation, Arguments: json.RawMessage(
		`{"success": true, "reasoning": "re-executed cleanly", "re_execution_output": {"polarity": 0.61}}`)}
	if err := ValidateToolCall(schema, good, &payload); err != nil {
		t.Fatalf("valid attestation rejected: %v", err)
	}
	if !payload.Success || payload.ReExecutionOutput["polarity"] != 0.61 {
		t.Errorf("decoded attestation wrong: %+v", payload)
	}

	bad := ports.ToolCall{Name: ToolRecordAttestation, Arguments: json.RawMessage(`{"success": true}`)}
	if err := ValidateToolCall(schema, bad, &payload); !errors.Is(err, core.ErrSchemaValidation) {
		t.Errorf("attestation without reasoning should fail, got %v", err)
	}
}

// TestQueriesSchemaBounds tests the query list limits
func TestQueriesSchemaBounds(t *testing.T) {
	schema := QueriesToolSchema()

	var payload QueriesToolPayload
	empty := ports.ToolCall{Name: ToolGenerateQueries, Arguments: json.RawMessage(`{"queries": []}`)}
	if err := ValidateToolCall(schema, empty, &payload); !errors.Is(err, core.ErrSchemaValidation) {
		t.Errorf("empty query list should fail, got %v", err)
	}

	good := ports.ToolCall{Name: ToolGenerateQueries, Arguments: json.RawMessage(`{"queries": ["dignity evidence", "outlier documents"]}`)}
	if err := ValidateToolCall(schema, good, &payload); err != nil {
		t.Fatalf("valid query list rejected: %v", err)
	}
	if len(payload.Queries) != 2 {
		t.Errorf("decoded %d queries, want 2", len(payload.Queries))
	}
}
