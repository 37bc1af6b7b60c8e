// Package ai holds the LLM-facing agents: analysis scoring, adversarial
// verification and sequential synthesis, plus the prompt templates and
// tool-call schemas they share.
package ai

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"discernus/domain/core"
)

var slotRe = regexp.MustCompile(`\{\{([a-z][a-z0-9_]*)\}\}`)

// Render substitutes {{slot}} placeholders from bindings. Every slot in the
// template must be bound; a missing binding is an error, never a silent empty
// string.
func Render(template string, bindings map[string]string) (string, error) {
	var unbound []string
	result := slotRe.ReplaceAllStringFunc(template, func(match string) string {
		name := slotRe.FindStringSubmatch(match)[1]
		value, ok := bindings[name]
		if !ok {
			unbound = append(unbound, name)
			return match
		}
		return value
	})
	if len(unbound) > 0 {
		sort.Strings(unbound)
		return "", fmt.Errorf("%w: %s", core.ErrUnboundSlot, strings.Join(unbound, ", "))
	}
	return result, nil
}

// EncodeDocument base64-encodes a document body before prompt insertion so
// nested quotes and fences in the text cannot mangle the surrounding prompt.
func EncodeDocument(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}
