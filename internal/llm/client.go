// Package llm wraps the external text-generation service behind a
// uniform capability interface. The rest of the system depends only on
// Client; the Moonshot implementation and its retry policy live here.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"educube/internal/persona"
	"educube/internal/types"
)

// Options tunes one generation call beyond the persona's defaults.
type Options struct {
	// Temperature overrides the profile temperature when non-nil. The
	// router passes an explicit zero for deterministic classification.
	Temperature *float64
	// MaxTokens overrides the profile budget when positive.
	MaxTokens int
	// Schema, when set, requests constrained JSON output conforming to
	// this JSON-schema fragment. SchemaName labels it for the API.
	Schema     map[string]interface{}
	SchemaName string
}

// Client is the only network-facing contract the core depends on.
// Implementations must enforce a per-call timeout and return
// *GenerationError for every failure.
type Client interface {
	Generate(ctx context.Context, profile persona.Profile, transcript []types.Message, opts Options) (*types.Reply, error)
}

// Temp returns a pointer to t, for Options.Temperature literals.
func Temp(t float64) *float64 { return &t }

// DecodeStructured extracts and validates a JSON object from model
// output against the requested schema's required keys. Models
// occasionally wrap JSON in prose or code fences, so the first
// balanced object in the text is taken.
func DecodeStructured(text string, schema map[string]interface{}) (map[string]interface{}, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("malformed JSON in response: %w", err)
	}

	for _, key := range requiredKeys(schema) {
		if _, ok := payload[key]; !ok {
			return nil, fmt.Errorf("response missing required field %q", key)
		}
	}
	return payload, nil
}

func requiredKeys(schema map[string]interface{}) []string {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	var keys []string
	switch v := raw.(type) {
	case []string:
		keys = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				keys = append(keys, s)
			}
		}
	}
	return keys
}

// extractJSONObject returns the first balanced {...} region of text.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
