package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Flow is a named, flat list of steps.
type Flow struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// UnmarshalYAML decodes a step, defaulting Enabled to true when omitted.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type rawStep Step
	raw := rawStep{Enabled: true}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = Step(raw)
	if s.Params == nil {
		s.Params = map[string]interface{}{}
	}
	return nil
}

// Parse parses YAML flow data.
func Parse(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse flow: %w", err)
	}
	for i, step := range f.Steps {
		if step.ActionID == "" {
			return nil, fmt.Errorf("step %d has no action", i)
		}
	}
	return &f, nil
}

// Load reads and parses a YAML flow file.
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return Parse(data)
}
