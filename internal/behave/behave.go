// Package behave runs behaviour scenarios against student code. A
// scenario file is TOML with [[scenarios]] entries, each holding the code
// to start and [[scenarios.steps]] to query or call afterwards.
package behave

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/pkg/session"
)

const DefaultFileName = "student.lua"

// SpecStep is a single query or call in the behaviour file
type SpecStep struct {
	Query     string         `toml:"query"`
	Call      string         `toml:"call"`
	Args      []any          `toml:"args"`
	Kwargs    map[string]any `toml:"kwargs"`
	TimeoutMs int            `toml:"timeout_ms"`
	Points    float64        `toml:"points"`
	Expect    SpecStepExpect `toml:"expect"`
}

// SpecStepExpect is what a step should observe. Empty fields are not checked.
type SpecStepExpect struct {
	Status    string  `toml:"status"`
	Value     any     `toml:"value"`
	Exception string  `toml:"exception"`
	Stdout    *string `toml:"stdout"`
}

// SpecExpect describes the expected start outcome
type SpecExpect struct {
	Status string  `toml:"status"`
	Stdout *string `toml:"stdout"`
	Error  string  `toml:"error"`
}

type specScenario struct {
	Description   string     `toml:"description"`
	Module        string     `toml:"module"`
	FileName      string     `toml:"file_name"`
	Code          string     `toml:"code"`
	Leading       string     `toml:"leading"`
	Trailing      string     `toml:"trailing"`
	InitTimeoutMs int        `toml:"init_timeout_ms"`
	Expect        SpecExpect `toml:"expect"`
	Steps         []SpecStep `toml:"steps"`
}

type specRoot struct {
	Scenarios []specScenario `toml:"scenarios"`
}

type StepKind string

const (
	QueryStep StepKind = "query"
	CallStep  StepKind = "call"
)

type Step struct {
	Kind    StepKind
	Name    string
	Args    []any
	Kwargs  map[string]any
	Timeout time.Duration
	Points  float64
	Expect  SpecStepExpect
}

func (s Step) String() string {
	if s.Kind == CallStep {
		return fmt.Sprintf("call %s", s.Name)
	}
	return fmt.Sprintf("query %s", s.Name)
}

// Case is a runnable scenario converted from TOML
type Case struct {
	ID          string
	Name        string
	Module      string
	Submission  session.Submission
	InitTimeout time.Duration
	Expect      SpecExpect
	Steps       []Step
}

// MaxPoints is the sum of the points of all steps.
func (c Case) MaxPoints() float64 {
	var sum float64
	for _, s := range c.Steps {
		sum += s.Points
	}
	return sum
}

// Parse reads a behaviour TOML file and converts it to runnable cases
func Parse(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read behaviour file: %w", err)
	}
	return ParseBytes(data)
}

func ParseBytes(data []byte) ([]Case, error) {
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cases := make([]Case, 0, len(root.Scenarios))
	for i, sc := range root.Scenarios {
		name := sc.Description
		if name == "" {
			name = fmt.Sprintf("scenario %d", i+1)
		}
		if sc.Code == "" {
			return nil, fmt.Errorf("%s: code is empty", name)
		}
		if sc.Expect.Status == "" {
			sc.Expect.Status = string(api.StartSuccess)
		}
		if !validStart(sc.Expect.Status) {
			return nil, fmt.Errorf("%s: unknown start status %q", name, sc.Expect.Status)
		}
		fileName := sc.FileName
		if fileName == "" {
			fileName = DefaultFileName
		}

		steps := make([]Step, 0, len(sc.Steps))
		for j, st := range sc.Steps {
			step, err := convertStep(st)
			if err != nil {
				return nil, fmt.Errorf("%s: step %d: %w", name, j+1, err)
			}
			steps = append(steps, step)
		}

		cases = append(cases, Case{
			ID:     uuid.NewString(),
			Name:   name,
			Module: sc.Module,
			Submission: session.Submission{
				FileName: fileName,
				Leading:  sc.Leading,
				Student:  sc.Code,
				Trailing: sc.Trailing,
			},
			InitTimeout: time.Duration(sc.InitTimeoutMs) * time.Millisecond,
			Expect:      sc.Expect,
			Steps:       steps,
		})
	}
	return cases, nil
}

func convertStep(st SpecStep) (Step, error) {
	step := Step{
		Args:    st.Args,
		Kwargs:  st.Kwargs,
		Timeout: time.Duration(st.TimeoutMs) * time.Millisecond,
		Points:  st.Points,
		Expect:  st.Expect,
	}
	switch {
	case st.Query != "" && st.Call != "":
		return Step{}, fmt.Errorf("both query and call set")
	case st.Query != "":
		step.Kind, step.Name = QueryStep, st.Query
		if len(st.Args) > 0 || len(st.Kwargs) > 0 {
			return Step{}, fmt.Errorf("query %s takes no arguments", st.Query)
		}
	case st.Call != "":
		step.Kind, step.Name = CallStep, st.Call
	default:
		return Step{}, fmt.Errorf("neither query nor call set")
	}

	if step.Expect.Status == "" {
		step.Expect.Status = "success"
	}
	valid := false
	switch step.Kind {
	case QueryStep:
		valid = step.Expect.Status == string(api.QuerySuccess) || step.Expect.Status == string(api.QueryNotFound)
	case CallStep:
		switch api.FunctionStatus(step.Expect.Status) {
		case api.FunctionSuccess, api.FunctionException, api.FunctionTimeout, api.FunctionNotFound:
			valid = true
		}
	}
	if !valid {
		return Step{}, fmt.Errorf("unknown %s status %q", step.Kind, step.Expect.Status)
	}
	return step, nil
}

func validStart(s string) bool {
	switch api.StartStatus(s) {
	case api.StartSuccess, api.StartException, api.StartTimeout, api.StartNoResponse:
		return true
	}
	return false
}
