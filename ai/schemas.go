package ai

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"discernus/domain/core"
	"discernus/domain/framework"
	"discernus/ports"
)

// Tool names declared to the gateway
const (
	ToolRecordAnalysis    = "record_analysis_with_work"
	ToolRecordAttestation = "record_attestation"
	ToolGenerateQueries   = "generate_queries"
)

// AnalysisToolPayload is the argument shape of record_analysis_with_work
type AnalysisToolPayload struct {
	DimensionScores map[string]struct {
		RawScore   float64 `json:"raw_score"`
		Salience   float64 `json:"salience"`
		Confidence float64 `json:"confidence"`
	} `json:"dimension_scores"`
	DerivedMetrics map[string]float64 `json:"derived_metrics,omitempty"`
	Evidence       []struct {
		Dimension  string  `json:"dimension"`
		Quote      string  `json:"quote"`
		Offset     int     `json:"offset,omitempty"`
		Confidence float64 `json:"confidence,omitempty"`
	} `json:"evidence"`
	Work struct {
		Code          string `json:"code"`
		ClaimedOutput string `json:"claimed_output"`
	} `json:"work"`
}

// AttestationToolPayload is the argument shape of record_attestation
type AttestationToolPayload struct {
	Success           bool               `json:"success"`
	Reasoning         string             `json:"reasoning"`
	ReExecutionOutput map[string]float64 `json:"re_execution_output,omitempty"`
}

// QueriesToolPayload is the argument shape of generate_queries
type QueriesToolPayload struct {
	Queries []string `json:"queries"`
}

var scoreTripleSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"raw_score":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"salience":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
	"required":             []any{"raw_score", "salience", "confidence"},
	"additionalProperties": false,
}

// AnalysisToolSchema builds the record_analysis_with_work schema for one
// framework. Dimension properties are enumerated explicitly so the provider
// cannot score a dimension set other than the framework's.
func AnalysisToolSchema(fw *framework.Framework) (ports.ToolSchema, error) {
	dimProps := map[string]any{}
	var required []any
	for _, name := range fw.DimensionNames() {
		dimProps[name] = scoreTripleSchema
		required = append(required, name)
	}

	doc := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dimension_scores": map[string]any{
				"type":                 "object",
				"properties":           dimProps,
				"required":             required,
				"additionalProperties": false,
			},
			"derived_metrics": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "number"},
			},
			"evidence": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"dimension":  map[string]any{"type": "string"},
						"quote":      map[string]any{"type": "string", "minLength": 1},
						"offset":     map[string]any{"type": "integer", "minimum": 0},
						"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					},
					"required": []any{"dimension", "quote"},
				},
			},
			"work": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":           map[string]any{"type": "string", "minLength": 1},
					"claimed_output": map[string]any{"type": "string"},
				},
				"required": []any{"code", "claimed_output"},
			},
		},
		"required":             []any{"dimension_scores", "evidence", "work"},
		"additionalProperties": false,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return ports.ToolSchema{}, err
	}
	return ports.ToolSchema{
		Name:        ToolRecordAnalysis,
		Description: "Record the complete scoring of one document: dimension scores, derived metrics, verbatim evidence, and the executed computation.",
		Schema:      raw,
	}, nil
}

const attestationSchemaJSON = `{
  "type": "object",
  "properties": {
    "success": {"type": "boolean"},
    "reasoning": {"type": "string", "minLength": 1},
    "re_execution_output": {
      "type": "object",
      "additionalProperties": {"type": "number"}
    }
  },
  "required": ["success", "reasoning"],
  "additionalProperties": false
}`

const queriesSchemaJSON = `{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 1,
      "maxItems": 10
    }
  },
  "required": ["queries"],
  "additionalProperties": false
}`

// AttestationToolSchema is the static record_attestation declaration
func AttestationToolSchema() ports.ToolSchema {
	return ports.ToolSchema{
		Name:        ToolRecordAttestation,
		Description: "Record the verifier's pass/fail judgement on a claimed analysis, with re-executed derived metrics.",
		Schema:      json.RawMessage(attestationSchemaJSON),
	}
}

// QueriesToolSchema is the static generate_queries declaration
func QueriesToolSchema() ports.ToolSchema {
	return ports.ToolSchema{
		Name:        ToolGenerateQueries,
		Description: "Return focused retrieval queries for the knowledge index.",
		Schema:      json.RawMessage(queriesSchemaJSON),
	}
}

var schemaCache sync.Map

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateToolCall checks a tool call's arguments against the declared schema
// and decodes them into out. Structured outputs are never trusted as-is; the
// provider-enforced schema is re-validated locally.
func ValidateToolCall(schema ports.ToolSchema, call ports.ToolCall, out interface{}) error {
	if call.Name != schema.Name {
		return fmt.Errorf("%w: got tool %q, want %q", core.ErrSchemaValidation, call.Name, schema.Name)
	}
	compiled, err := compileSchema(schema.Name, schema.Schema)
	if err != nil {
		return fmt.Errorf("compile %s schema: %w", schema.Name, err)
	}
	var decoded any
	if err := json.Unmarshal(call.Arguments, &decoded); err != nil {
		return fmt.Errorf("%w: %s arguments are not JSON: %v", core.ErrSchemaValidation, call.Name, err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrSchemaValidation, call.Name, err)
	}
	if err := json.Unmarshal(call.Arguments, out); err != nil {
		return fmt.Errorf("decode %s arguments: %w", call.Name, err)
	}
	return nil
}

// FindToolCall returns the first tool call with the given name
func FindToolCall(resp *ports.CallResponse, name string) (ports.ToolCall, bool) {
	for _, call := range resp.ToolCalls {
		if call.Name == name {
			return call, true
		}
	}
	return ports.ToolCall{}, false
}
