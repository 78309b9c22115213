package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Step outcomes a StepFunc may return instead of failing
var (
	// ErrSkipped marks a step that had nothing to do
	ErrSkipped = errors.New("step skipped")
	// ErrHalt stops the saga without failing it; remaining steps do not run
	ErrHalt = errors.New("saga halted")
)

// Status represents the current status of a saga
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusHalted    Status = "halted"
	StatusFailed    Status = "failed"
)

// StepStatus represents the status of a saga step
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusHalted    StepStatus = "halted"
	StepStatusFailed    StepStatus = "failed"
)

// StepFunc performs one step. It must be safe to run again after a crash.
type StepFunc func(ctx context.Context) error

// Step represents a single step in a saga
type Step struct {
	Name    string        `json:"name"`
	Run     StepFunc      `json:"-"`
	Timeout time.Duration `json:"timeout"`
	Retries int           `json:"retries"`
}

// StepResult represents the result of executing a step
type StepResult struct {
	StepName   string        `json:"step_name"`
	Status     StepStatus    `json:"status"`
	Attempts   int           `json:"attempts"`
	Detail     string        `json:"detail,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Definition is an ordered list of steps
type Definition struct {
	Name  string  `json:"name"`
	Steps []*Step `json:"steps"`
}

// NewDefinition creates a new saga definition
func NewDefinition(name string) *Definition {
	return &Definition{Name: name}
}

// AddStep appends a step, defaulting its timeout to 10s
func (d *Definition) AddStep(name string, run StepFunc) *Definition {
	return d.AddStepWith(&Step{Name: name, Run: run})
}

// AddStepWith appends a fully configured step
func (d *Definition) AddStepWith(step *Step) *Definition {
	if step.Timeout == 0 {
		step.Timeout = 10 * time.Second
	}
	d.Steps = append(d.Steps, step)
	return d
}

// Instance is one execution of a definition
type Instance struct {
	ID           string        `json:"id"`
	DefinitionID string        `json:"definition_id"`
	Status       Status        `json:"status"`
	StepResults  []*StepResult `json:"step_results"`
	Error        string        `json:"error,omitempty"`
	Runs         int           `json:"runs"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Done reports whether the instance reached a terminal, non-failed state
func (i *Instance) Done() bool {
	return i.Status == StatusCompleted || i.Status == StatusHalted
}

// FailedStep returns the name of the failed step, or "" if none failed
func (i *Instance) FailedStep() string {
	for _, r := range i.StepResults {
		if r.Status == StepStatusFailed {
			return r.StepName
		}
	}
	return ""
}

func (i *Instance) finish(status Status, err error) {
	now := time.Now()
	i.Status = status
	i.UpdatedAt = now
	if err != nil {
		i.Error = err.Error()
	} else {
		i.Error = ""
	}
	if status != StatusFailed {
		i.CompletedAt = &now
	}
}

// ToJSON serializes the saga instance to JSON
func (i *Instance) ToJSON() ([]byte, error) {
	return json.Marshal(i)
}

// FromJSON deserializes the saga instance from JSON
func FromJSON(data []byte) (*Instance, error) {
	var instance Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga instance: %w", err)
	}
	return &instance, nil
}
