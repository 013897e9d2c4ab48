package catalog

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// defaultRunner is used when a workflow does not name one.
const defaultRunner = "ubuntu-latest"

type ghWorkflow struct {
	Name string           `yaml:"name"`
	On   ghTriggers       `yaml:"on"`
	Jobs map[string]ghJob `yaml:"jobs"`
}

type ghTriggers struct {
	WorkflowDispatch ghDispatch `yaml:"workflow_dispatch"`
}

type ghDispatch struct {
	Inputs map[string]ghInput `yaml:"inputs,omitempty"`
}

type ghInput struct {
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Type        string `yaml:"type"`
	Default     string `yaml:"default,omitempty"`
}

type ghJob struct {
	RunsOn string `yaml:"runs-on"`
	Steps  []Step `yaml:"steps"`
}

// GenerateWorkflowYAML renders w as a GitHub Actions workflow that accepts
// workflow_dispatch with w's inputs. The file name GitHub expects is
// FileName(w.ID).
func GenerateWorkflowYAML(w *Workflow) ([]byte, error) {
	runsOn := w.RunsOn
	if runsOn == "" {
		runsOn = defaultRunner
	}
	steps := w.Steps
	if len(steps) == 0 {
		steps = []Step{{Name: "Checkout", Uses: "actions/checkout@v4"}}
	}
	gh := ghWorkflow{
		Name: w.DisplayName(),
		Jobs: map[string]ghJob{"run": {RunsOn: runsOn, Steps: steps}},
	}

	if len(w.Inputs) > 0 {
		gh.On.WorkflowDispatch.Inputs = make(map[string]ghInput, len(w.Inputs))
		for name, in := range w.Inputs {
			typ := string(in.Type)
			if typ == "" {
				typ = "string"
			}
			def, _ := in.DefaultString()
			gh.On.WorkflowDispatch.Inputs[name] = ghInput{
				Description: in.Description,
				Required:    in.Required,
				Type:        typ,
				Default:     def,
			}
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", w.DisplayName())
	if w.Description != "" {
		fmt.Fprintf(&buf, "# %s\n", w.Description)
	}
	buf.WriteString("# Generated by beastmode\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(gh); err != nil {
		return nil, fmt.Errorf("encode workflow %s: %w", w.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode workflow %s: %w", w.ID, err)
	}
	return buf.Bytes(), nil
}

// FileName is the workflow file name the dispatch API addresses.
func FileName(id string) string {
	return id + ".yml"
}
