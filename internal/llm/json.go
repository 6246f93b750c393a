package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// schemaHint renders a schema map as compact JSON for embedding in a prompt
// that asks a provider without native structured output for a JSON object.
func schemaHint(schema map[string]any) string {
	b, err := json.Marshal(schema)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// extractJSONObject trims any prose a provider wraps around the JSON object
// it was asked for, keeping only the outermost {...} span.
func extractJSONObject(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return content
	}
	return content[start : end+1]
}

// unmarshalStrict rejects unknown fields so a provider's structured-output
// drift surfaces as an error instead of silently dropping data the graph
// extraction and RAPTOR summarization callers asked for.
func unmarshalStrict(content string, out any) error {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode structured completion: %w", err)
	}
	return nil
}
