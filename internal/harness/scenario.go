package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conversation scenario.
// Scenarios replay a scripted conversation against the loaded definitions
// and assert on the replies, the dispatches that reached the backend and
// the audit log.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions lists definition files or directories to load.
	// Relative paths are resolved against the base path given to
	// LoadScenarioWithBasePath.
	Definitions []string `yaml:"definitions"`

	// Actor is the user the turns are attributed to. Defaults to "tester".
	Actor string `yaml:"actor,omitempty"`

	// Failures scripts the trigger backend: each entry is consumed by one
	// trigger call. Valid entries are "ok", "not_delivered", "ambiguous"
	// and "rejected". Once exhausted every call succeeds.
	Failures []string `yaml:"failures,omitempty"`

	// Turns is the conversation, in order.
	Turns []Turn `yaml:"turns"`

	// Assertions validate the dispatches and final session state.
	Assertions []Assertion `yaml:"assertions"`
}

// Turn is one user message and what the reply must look like.
type Turn struct {
	// Say is the user input. It may be empty to test re-prompting.
	Say string `yaml:"say"`

	// Session overrides the session id for this turn. Defaults to "s1".
	Session string `yaml:"session,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks a single reply. Unset fields are not checked.
type Expect struct {
	// Lines is the exact list of reply lines.
	Lines []string `yaml:"lines,omitempty"`

	// Contains lists substrings that must appear in the rendered reply.
	Contains []string `yaml:"contains,omitempty"`

	// Choices is the exact list of numbered options.
	Choices []string `yaml:"choices,omitempty"`

	// Confirm is the pending yes/no question.
	Confirm string `yaml:"confirm,omitempty"`

	// State is "idle", "in_flow" or "confirming".
	State string `yaml:"state,omitempty"`

	// Dispatches is the number of acknowledged dispatches in this turn.
	Dispatches *int `yaml:"dispatches,omitempty"`
}

// Assertion validates the whole run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "dispatched": a dispatch of Workflow with Inputs (subset match)
	// - "dispatch_order": workflows were dispatched in this order
	// - "dispatch_count": Workflow (or any, if empty) dispatched Count times
	// - "audit_count": the audit log holds Count records
	// - "final_state": the session ends in State with Topic
	Type string `yaml:"type"`

	Workflow string         `yaml:"workflow,omitempty"`
	Inputs   map[string]any `yaml:"inputs,omitempty"`

	Workflows []string `yaml:"workflows,omitempty"`

	Count int `yaml:"count,omitempty"`

	Session string  `yaml:"session,omitempty"`
	State   string  `yaml:"state,omitempty"`
	Topic   *string `yaml:"topic,omitempty"`
}

// Assertion type constants.
const (
	AssertDispatched    = "dispatched"
	AssertDispatchOrder = "dispatch_order"
	AssertDispatchCount = "dispatch_count"
	AssertAuditCount    = "audit_count"
	AssertFinalState    = "final_state"
)

// Failure script entries.
const (
	FailureNone         = "ok"
	FailureNotDelivered = "not_delivered"
	FailureAmbiguous    = "ambiguous"
	FailureRejected     = "rejected"
)

const defaultSession = "s1"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving definition paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve paths before validation so existence checks see real files.
	for i, p := range scenario.Definitions {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Definitions[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Definitions) == 0 {
		return fmt.Errorf("definitions list is required and must be non-empty")
	}
	if len(s.Turns) == 0 {
		return fmt.Errorf("turns list is required and must be non-empty")
	}

	for _, p := range s.Definitions {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("definitions not found: %s", p)
		}
	}

	for i, f := range s.Failures {
		switch f {
		case FailureNone, FailureNotDelivered, FailureAmbiguous, FailureRejected:
		default:
			return fmt.Errorf("failures[%d]: unknown failure %q", i, f)
		}
	}

	for i, turn := range s.Turns {
		if turn.Expect != nil && turn.Expect.State != "" && !validState(turn.Expect.State) {
			return fmt.Errorf("turns[%d].expect: unknown state %q", i, turn.Expect.State)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validState(s string) bool {
	return s == "idle" || s == "in_flow" || s == "confirming"
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDispatched:
		if a.Workflow == "" {
			return fmt.Errorf("assertions[%d]: workflow is required for dispatched", index)
		}
	case AssertDispatchOrder:
		if len(a.Workflows) == 0 {
			return fmt.Errorf("assertions[%d]: workflows list is required for dispatch_order", index)
		}
	case AssertDispatchCount, AssertAuditCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFinalState:
		if a.State == "" && a.Topic == nil {
			return fmt.Errorf("assertions[%d]: state or topic is required for final_state", index)
		}
		if a.State != "" && !validState(a.State) {
			return fmt.Errorf("assertions[%d]: unknown state %q", index, a.State)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
