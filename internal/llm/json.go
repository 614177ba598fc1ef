package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forecast-agent/backend/internal/domain"
)

// DecodeJSON unmarshals a model response into out, tolerating markdown code
// fences and prose around the JSON object.
func DecodeJSON(content string, out any) error {
	payload := extractJSON(content)
	if payload == "" {
		return fmt.Errorf("%w: no JSON object in response", domain.ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedOutput, err)
	}
	return nil
}

func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}
