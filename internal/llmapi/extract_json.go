package llmapi

import (
	"fmt"
	"regexp"
	"strings"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls a JSON object out of raw LLM output, in the same
// escalating order the original service used: a bare parse first (the
// common case when the model behaves), then a fenced ```json``` code
// block, then the first balanced {...} span found anywhere in the text.
func ExtractJSON(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if looksLikeObject(trimmed) {
		return []byte(trimmed), nil
	}

	if m := fencedJSONBlock.FindStringSubmatch(raw); m != nil {
		return []byte(strings.TrimSpace(m[1])), nil
	}

	if span, ok := balancedBraceSpan(raw); ok {
		return []byte(span), nil
	}

	return nil, fmt.Errorf("llmapi: no JSON object found in response")
}

func looksLikeObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// balancedBraceSpan returns the text between the first "{" and its
// matching closing "}", tracking nesting depth and skipping braces that
// appear inside string literals.
func balancedBraceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't affect depth
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
