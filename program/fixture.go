package program

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes one end-to-end integration fixture: a named program
// (registered in Go, since label functions are Go closures and cannot
// themselves live in a YAML file) plus the outbound message shapes the
// test expects to see, in order.
//
// Grounded on a YAML-fixture test-suite loader: declarative expectations
// paired with code that can't itself be expressed in YAML — here, a
// label-function graph.
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Program     string   `yaml:"program"` // names the Go-defined program the scenario runs
	Expect      []string `yaml:"expect"`  // ordered list of expected message kinds, e.g. "status:running"
}

// ScenarioFile is the top-level shape of a fixture YAML document.
type ScenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadScenarios reads and parses a scenario fixture file.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("program: reading scenario file %s: %w", path, err)
	}

	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("program: parsing scenario file %s: %w", path, err)
	}
	return file.Scenarios, nil
}

// BreakpointPreset is an on-disk debugger configuration the dev harness
// can apply before a run, sparing the operator a hand-typed config
// message per session.
type BreakpointPreset struct {
	Breakpoints []int `yaml:"breakpoints"`
}

// LoadBreakpointPreset reads the breakpoint ids from a preset file.
func LoadBreakpointPreset(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("program: reading breakpoint preset %s: %w", path, err)
	}

	var preset BreakpointPreset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("program: parsing breakpoint preset %s: %w", path, err)
	}
	return preset.Breakpoints, nil
}
