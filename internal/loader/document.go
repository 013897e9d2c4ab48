package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/beastmode/internal/catalog"
)

// Document is the schema of one definition source. Every section is
// optional; a source may hold only rules, only flows, and so on.
type Document struct {
	// Topic is the default topic for rules that do not name one.
	Topic string `yaml:"topic,omitempty" json:"topic,omitempty"`

	Rules     []RuleDef          `yaml:"rules,omitempty" json:"rules,omitempty"`
	Flows     []FlowDef          `yaml:"flows,omitempty" json:"flows,omitempty"`
	Workflows []catalog.Workflow `yaml:"workflows,omitempty" json:"workflows,omitempty"`
}

// RuleDef is the source form of a rule.
//
//	- pattern: "DEPLOY <N> TENANTS WITH <N> ORGS AND <N> USERS"
//	  reply: "That is {$1 * $2 * $3} users."
//	  confirm: "Provision {$1 * $2 * $3} users across {$1} tenants?"
//	  action:
//	    workflow: mass-provision
//	    inputs: {tenants: $1, orgs: $2, users: $3}
//
// Template parts run in a fixed order: reply, random, redirect, set_topic,
// confirm or action, flow.
type RuleDef struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Topic   string `yaml:"topic,omitempty" json:"topic,omitempty"`
	Reply   string `yaml:"reply,omitempty" json:"reply,omitempty"`

	// Random replies with one of its entries, picked per match.
	Random []string `yaml:"random,omitempty" json:"random,omitempty"`

	// Redirect is input text to match again in place of the user's.
	Redirect string `yaml:"redirect,omitempty" json:"redirect,omitempty"`

	// SetTopic changes the session topic; an explicit empty string clears it.
	SetTopic *string `yaml:"set_topic,omitempty" json:"set_topic,omitempty"`

	// Flow starts a guided flow by id.
	Flow string `yaml:"flow,omitempty" json:"flow,omitempty"`

	// Confirm gates Action behind this prompt.
	Confirm string `yaml:"confirm,omitempty" json:"confirm,omitempty"`

	Action *ActionDef `yaml:"action,omitempty" json:"action,omitempty"`

	// Line is the source line of the definition (YAML sources only).
	Line int `yaml:"-" json:"-"`
}

// ActionDef is the source form of an action. A bare string is shorthand
// for a workflow id with no inputs.
type ActionDef struct {
	Workflow string              `yaml:"workflow" json:"workflow"`
	Inputs   map[string]InputDef `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Confirm  bool                `yaml:"confirm,omitempty" json:"confirm,omitempty"`
}

func (a *ActionDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*a = ActionDef{Workflow: node.Value}
		return nil
	}
	if err := knownKeys(node, "workflow", "inputs", "confirm"); err != nil {
		return err
	}
	type plain ActionDef
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = ActionDef(p)
	return nil
}

func (a *ActionDef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*a = ActionDef{Workflow: id}
		return nil
	}
	type plain ActionDef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = ActionDef(p)
	return nil
}

// InputDef is the source form of one action input. A scalar is the value
// text; a mapping may also declare the type.
type InputDef struct {
	Value string `yaml:"value" json:"value"`
	Type  string `yaml:"type,omitempty" json:"type,omitempty"`
}

func (in *InputDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*in = InputDef{Value: node.Value}
		return nil
	}
	if err := knownKeys(node, "value", "type"); err != nil {
		return err
	}
	type plain InputDef
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*in = InputDef(p)
	return nil
}

func (in *InputDef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var scalar any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&scalar); err != nil {
			return err
		}
		*in = InputDef{Value: fmt.Sprint(scalar)}
		return nil
	}
	type plain InputDef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*in = InputDef(p)
	return nil
}

// MarshalJSON writes the shorthand form when no type is declared, so
// persisted learned rules read like hand-written ones.
func (in InputDef) MarshalJSON() ([]byte, error) {
	if in.Type == "" {
		return json.Marshal(in.Value)
	}
	type plain InputDef
	return json.Marshal(plain(in))
}

// FlowDef is the source form of a guided flow.
type FlowDef struct {
	ID          string             `yaml:"id" json:"id"`
	Name        string             `yaml:"name,omitempty" json:"name,omitempty"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Triggers    []string           `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Start       string             `yaml:"start" json:"start"`
	Nodes       map[string]NodeDef `yaml:"nodes" json:"nodes"`

	// Line is the source line of the definition (YAML sources only).
	Line int `yaml:"-" json:"-"`
}

// NodeDef is the source form of a flow node.
type NodeDef struct {
	Prompt  string      `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Choices []ChoiceDef `yaml:"choices,omitempty" json:"choices,omitempty"`
	Action  *ActionDef  `yaml:"action,omitempty" json:"action,omitempty"`
	Next    string      `yaml:"next,omitempty" json:"next,omitempty"`

	// End marks a terminal node explicitly.
	End bool `yaml:"end,omitempty" json:"end,omitempty"`
}

// ChoiceDef is the source form of a flow choice.
type ChoiceDef struct {
	Label  string            `yaml:"label" json:"label"`
	Next   string            `yaml:"next,omitempty" json:"next,omitempty"`
	Action *ActionDef        `yaml:"action,omitempty" json:"action,omitempty"`
	Inputs map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// When offers the choice only while every named flow variable holds
	// the given value.
	When map[string]string `yaml:"when,omitempty" json:"when,omitempty"`
}

// knownKeys rejects mapping keys outside allowed. Node.Decode does not
// inherit the decoder's KnownFields setting, so custom unmarshalers check
// their own keys.
func knownKeys(node *yaml.Node, allowed ...string) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if !slices.Contains(allowed, key.Value) {
			return fmt.Errorf("line %d: field %s not allowed here", key.Line, key.Value)
		}
	}
	return nil
}
