package fallback

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/roach88/beastmode/internal/ir"
)

// Intent is the structured part of a model answer.
type Intent struct {
	Workflow string    `json:"workflow"`
	Topic    string    `json:"topic,omitempty"`
	Pattern  string    `json:"pattern,omitempty"`
	Slots    []ir.Slot `json:"slots,omitempty"`
}

type answer struct {
	Reply  string  `json:"reply"`
	Intent *Intent `json:"intent"`
}

const answerSchema = `{
  "type": "object",
  "properties": {
    "reply": {"type": "string"},
    "intent": {
      "type": "object",
      "properties": {
        "workflow": {"type": "string", "pattern": "^[a-z0-9][a-z0-9._-]*$"},
        "topic": {"type": "string"},
        "pattern": {"type": "string"},
        "slots": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "value": {"type": "string", "minLength": 1}
            },
            "required": ["name", "value"]
          }
        }
      },
      "required": ["workflow"]
    }
  },
  "required": ["reply"]
}`

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(answerSchema))
})

// ParseCompletion interprets model output. A JSON object (optionally inside
// a code fence) that satisfies the answer schema yields a reply and intent;
// anything else is taken as plain reply text.
func ParseCompletion(content string) *Completion {
	text := strings.TrimSpace(content)
	body := stripFence(text)
	if !strings.HasPrefix(body, "{") {
		return &Completion{Text: text}
	}

	schema, err := loadSchema()
	if err != nil {
		return &Completion{Text: text}
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil || !result.Valid() {
		return &Completion{Text: text}
	}

	var a answer
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return &Completion{Text: text}
	}
	return &Completion{Text: strings.TrimSpace(a.Reply), Intent: a.Intent}
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
