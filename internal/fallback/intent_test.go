package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beastmode/internal/ir"
)

func TestParseCompletion(t *testing.T) {
	tests := []struct {
		name    string
		content string
		text    string
		intent  *Intent
	}{
		{
			name:    "plain text",
			content: "  Try asking for a health check.  ",
			text:    "Try asking for a health check.",
		},
		{
			name:    "structured",
			content: `{"reply": "I can create tenants.", "intent": {"workflow": "create-tenants", "slots": [{"name": "count", "value": "4"}]}}`,
			text:    "I can create tenants.",
			intent: &Intent{
				Workflow: "create-tenants",
				Slots:    []ir.Slot{{Name: "count", Value: "4"}},
			},
		},
		{
			name:    "fenced",
			content: "```json\n{\"reply\": \"ok\", \"intent\": {\"workflow\": \"health-check\", \"topic\": \"ops\"}}\n```",
			text:    "ok",
			intent:  &Intent{Workflow: "health-check", Topic: "ops"},
		},
		{
			name:    "reply only",
			content: `{"reply": "nothing to do"}`,
			text:    "nothing to do",
		},
		{
			name:    "schema violation is plain text",
			content: `{"reply": "x", "intent": {"workflow": "Not A Valid Id"}}`,
			text:    `{"reply": "x", "intent": {"workflow": "Not A Valid Id"}}`,
		},
		{
			name:    "missing reply is plain text",
			content: `{"intent": {"workflow": "health-check"}}`,
			text:    `{"intent": {"workflow": "health-check"}}`,
		},
		{
			name:    "broken json is plain text",
			content: `{"reply": `,
			text:    `{"reply":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCompletion(tt.content)
			require.NotNil(t, got)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.intent, got.Intent)
		})
	}
}
