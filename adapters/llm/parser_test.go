package llm

import (
	"errors"
	"math"
	"testing"

	"discernus/domain/core"
	"discernus/internal"
)

func newTestParser() *ResponseParser {
	return NewResponseParser(internal.DefaultLogger)
}

// TestParseDirectJSON tests the strict first strategy
func TestParseDirectJSON(t *testing.T) {
	scores, err := newTestParser().Parse(
		`{"dignity": 0.8, "tribalism": 0.3}`,
		[]string{"dignity", "tribalism"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores["dignity"] != 0.8 || scores["tribalism"] != 0.3 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

// TestParseFencedJSON tests markdown fence stripping
func TestParseFencedJSON(t *testing.T) {
	raw := "Here are the scores:\n```json\n{\"dignity\": 0.8, \"tribalism\": 0.3}\n```\nDone."
	scores, err := newTestParser().Parse(raw, []string{"dignity", "tribalism"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores["dignity"] != 0.8 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

// TestParseEmbeddedJSON tests brace-matched extraction from prose
func TestParseEmbeddedJSON(t *testing.T) {
	raw := `After careful analysis of the document, my assessment is {"scores": {"dignity": 0.75, "tribalism": 0.2}} which reflects the framing.`
	scores, err := newTestParser().Parse(raw, []string{"dignity", "tribalism"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores["dignity"] != 0.75 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

// TestParseKeyValueRenormalizes tests the /10 and /100 denominators plus the
// implied scale of bare out-of-range values.
func TestParseKeyValueRenormalizes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		dignity   float64
		tribalism float64
	}{
		{"explicit denominators", "dignity: 8/10\ntribalism: 25/100\n", 0.8, 0.25},
		{"bare ten scale", "dignity: 8\ntribalism: 3\n", 0.8, 0.3},
		{"bare hundred scale", "dignity: 85\ntribalism: 30\n", 0.85, 0.3},
		{"mixed scales", "dignity: 0.8\ntribalism: 3\n", 0.8, 0.3},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			scores, err := newTestParser().Parse(test.raw, []string{"dignity", "tribalism"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(scores["dignity"]-test.dignity) > 1e-9 {
				t.Errorf("dignity = %g, want %g", scores["dignity"], test.dignity)
			}
			if math.Abs(scores["tribalism"]-test.tribalism) > 1e-9 {
				t.Errorf("tribalism = %g, want %g", scores["tribalism"], test.tribalism)
			}
		})
	}
}

// TestParseNestedToolCallShape tests raw_score extraction from object leaves
func TestParseNestedToolCallShape(t *testing.T) {
	raw := `{"dimension_scores": {"dignity": {"raw_score": 0.6, "salience": 0.9}, "tribalism": {"raw_score": 0.1, "salience": 0.4}}}`
	scores, err := newTestParser().Parse(raw, []string{"dignity", "tribalism"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores["dignity"] != 0.6 || scores["tribalism"] != 0.1 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

// TestParseRejectsWrongDimensionSet tests exact-coverage enforcement
func TestParseRejectsWrongDimensionSet(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing dimension", `{"dignity": 0.8}`},
		{"extra dimension", `{"dignity": 0.8, "tribalism": 0.3, "bonus": 0.5}`},
		{"out of range", `{"dignity": 1.8, "tribalism": 0.3}`},
		{"no scores at all", "the model declined to answer"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := newTestParser().Parse(test.raw, []string{"dignity", "tribalism"})
			if !errors.Is(err, core.ErrParseFailure) {
				t.Errorf("expected ErrParseFailure, got %v", err)
			}
		})
	}
}
