package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"discernus/domain/core"
	"discernus/internal"
)

// ParsedScores is the normalized output of the response parser: dimension
// name to raw score in [0, 1].
type ParsedScores map[string]float64

// ResponseParser recovers dimension scores from free-form model output when
// the structured tool-call path did not produce them. Strategies run in order
// of decreasing strictness; the first that yields a valid score shape wins.
type ResponseParser struct {
	logger *internal.Logger
}

// NewResponseParser creates a parser
func NewResponseParser(logger *internal.Logger) *ResponseParser {
	return &ResponseParser{logger: logger.Component("Parser")}
}

var (
	fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	// key: 0.7 | "key": 7/10 | key = 85/100
	keyValueRe = regexp.MustCompile(`(?m)^\s*"?([A-Za-z][A-Za-z0-9_ -]*?)"?\s*[:=]\s*([0-9]*\.?[0-9]+)\s*(?:/\s*(10|100))?\s*$`)
)

// Parse runs the strategy cascade over raw model output. expected is the
// framework's dimension set; a candidate result must cover it exactly with
// every score in range before it is accepted.
func (p *ResponseParser) Parse(raw string, expected []string) (ParsedScores, error) {
	strategies := []struct {
		name string
		fn   func(string) (ParsedScores, bool)
	}{
		{"direct_json", p.tryDirectJSON},
		{"fenced_json", p.tryFencedJSON},
		{"embedded_json", p.tryEmbeddedJSON},
		{"key_value", p.tryKeyValue},
	}
	for _, s := range strategies {
		scores, ok := s.fn(raw)
		if !ok {
			continue
		}
		if err := validateShape(scores, expected); err != nil {
			p.logger.Debug("strategy %s yielded invalid shape: %v", s.name, err)
			continue
		}
		if s.name != "direct_json" {
			p.logger.Info("recovered scores via %s strategy", s.name)
		}
		return scores, nil
	}
	return nil, fmt.Errorf("%w: no strategy recovered a valid score set from %d bytes",
		core.ErrParseFailure, len(raw))
}

// tryDirectJSON parses the whole payload as a JSON object
func (p *ResponseParser) tryDirectJSON(raw string) (ParsedScores, bool) {
	return decodeScoreObject(strings.TrimSpace(raw))
}

// tryFencedJSON strips markdown code fences and parses the interior
func (p *ResponseParser) tryFencedJSON(raw string) (ParsedScores, bool) {
	for _, match := range fenceRe.FindAllStringSubmatch(raw, -1) {
		if scores, ok := decodeScoreObject(strings.TrimSpace(match[1])); ok {
			return scores, true
		}
	}
	return nil, false
}

// tryEmbeddedJSON scans for the first balanced {...} block and parses it.
// Models often wrap the object in prose; brace matching skips the prose.
func (p *ResponseParser) tryEmbeddedJSON(raw string) (ParsedScores, bool) {
	start := strings.IndexByte(raw, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(raw); i++ {
			c := raw[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					if scores, ok := decodeScoreObject(raw[start : i+1]); ok {
						return scores, true
					}
					i = len(raw)
				}
			}
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start = start + 1 + next
	}
	return nil, false
}

// tryKeyValue extracts "name: number" lines, renormalizing explicit /10 and
// /100 denominators to [0, 1]. A bare out-of-range value implies its scale:
// "dignity: 8" reads as 8/10, "dignity: 85" as 85/100.
func (p *ResponseParser) tryKeyValue(raw string) (ParsedScores, bool) {
	matches := keyValueRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, false
	}
	scores := ParsedScores{}
	for _, m := range matches {
		name := normalizeKey(m[1])
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch {
		case m[3] != "":
			denom, _ := strconv.ParseFloat(m[3], 64)
			value /= denom
		case value > 1 && value <= 10:
			value /= 10
		case value > 10 && value <= 100:
			value /= 100
		}
		scores[name] = value
	}
	if len(scores) == 0 {
		return nil, false
	}
	return scores, true
}

// decodeScoreObject parses text as a flat or nested score object. A nested
// object like {"scores": {...}} unwraps one level; numeric leaves become the
// score map.
func decodeScoreObject(text string) (ParsedScores, bool) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &outer); err != nil {
		return nil, false
	}
	for _, key := range []string{"scores", "dimension_scores", "dimensions"} {
		if inner, ok := outer[key]; ok {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(inner, &nested); err == nil {
				outer = nested
			}
			break
		}
	}
	scores := ParsedScores{}
	for key, value := range outer {
		var num float64
		if err := json.Unmarshal(value, &num); err == nil {
			scores[normalizeKey(key)] = num
			continue
		}
		// {"dim": {"raw_score": 0.7, ...}} shape from tool-call payloads
		var obj map[string]float64
		if err := json.Unmarshal(value, &obj); err == nil {
			if raw, ok := obj["raw_score"]; ok {
				scores[normalizeKey(key)] = raw
			}
		}
	}
	if len(scores) == 0 {
		return nil, false
	}
	return scores, true
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(strings.ToLower(key))
	return strings.ReplaceAll(key, " ", "_")
}

// validateShape checks the parsed scores cover the expected dimension set
// exactly, with every value in [0, 1].
func validateShape(scores ParsedScores, expected []string) error {
	if len(expected) > 0 {
		for _, name := range expected {
			if _, ok := scores[name]; !ok {
				return fmt.Errorf("missing dimension %q", name)
			}
		}
		if len(scores) != len(expected) {
			return fmt.Errorf("got %d dimensions, want %d", len(scores), len(expected))
		}
	}
	for name, value := range scores {
		if value < 0 || value > 1 {
			return fmt.Errorf("dimension %q score %g out of range", name, value)
		}
	}
	return nil
}
