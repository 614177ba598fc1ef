package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/domain"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"plain", `{"quarter":"Q1 FY2025"}`},
		{"fenced", "```json\n{\"quarter\":\"Q1 FY2025\"}\n```"},
		{"bare fence", "```\n{\"quarter\":\"Q1 FY2025\"}\n```"},
		{"surrounding prose", "Here is the data:\n{\"quarter\":\"Q1 FY2025\"}\nThanks."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Quarter string `json:"quarter"`
			}
			require.NoError(t, DecodeJSON(tt.content, &out))
			assert.Equal(t, "Q1 FY2025", out.Quarter)
		})
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var out map[string]any
	assert.ErrorIs(t, DecodeJSON("no json here", &out), domain.ErrMalformedOutput)
	assert.ErrorIs(t, DecodeJSON(`{"quarter": }`, &out), domain.ErrMalformedOutput)
}
