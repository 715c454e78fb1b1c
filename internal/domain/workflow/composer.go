package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecutionStatus is the outcome of a composed workflow run.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// StepFunc is the body of a single composed workflow step.
type StepFunc func(ctx context.Context) error

// Step is one named unit of work inside a composed workflow.
type Step struct {
	Name string
	Run  StepFunc
}

// Checkpoint marks a named position between steps. Checkpoints are not
// durable by themselves; persisting which checkpoint was last passed is the
// caller's responsibility.
type Checkpoint struct {
	Name      string
	StepIndex int
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Name      string        `json:"name"`
	Succeeded bool          `json:"succeeded"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// ExecutionResult aggregates a composed workflow run.
type ExecutionResult struct {
	WorkflowID string          `json:"workflowId"`
	Name       string          `json:"name"`
	Status     ExecutionStatus `json:"status"`
	Steps      []StepResult    `json:"steps"`
	Duration   time.Duration   `json:"duration"`
	Err        error           `json:"-"`
}

// Composer builds multi-step workflows with named checkpoints.
type Composer struct {
	name        string
	steps       []Step
	checkpoints []Checkpoint
	logger      *zap.Logger
}

// NewComposer creates a builder for a named workflow.
func NewComposer(name string, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{name: name, logger: logger}
}

// Step appends a named step.
func (c *Composer) Step(name string, fn StepFunc) *Composer {
	c.steps = append(c.steps, Step{Name: name, Run: fn})
	return c
}

// Checkpoint marks the position before the next appended step.
func (c *Composer) Checkpoint(name string) *Composer {
	c.checkpoints = append(c.checkpoints, Checkpoint{Name: name, StepIndex: len(c.steps)})
	return c
}

// Build finalizes the workflow definition.
func (c *Composer) Build() *ComposedWorkflow {
	steps := make([]Step, len(c.steps))
	copy(steps, c.steps)
	checkpoints := make([]Checkpoint, len(c.checkpoints))
	copy(checkpoints, c.checkpoints)
	return &ComposedWorkflow{
		ID:          uuid.New().String(),
		Name:        c.name,
		Steps:       steps,
		Checkpoints: checkpoints,
		logger:      c.logger,
	}
}

// ComposedWorkflow is an executable multi-step workflow definition.
type ComposedWorkflow struct {
	ID          string
	Name        string
	Steps       []Step
	Checkpoints []Checkpoint

	logger *zap.Logger
}

// Execute runs all steps in order from the beginning.
func (w *ComposedWorkflow) Execute(ctx context.Context) *ExecutionResult {
	return w.run(ctx, 0)
}

// ResumeFrom restarts execution at the named checkpoint. An unknown
// checkpoint name yields a failed result without running any step.
func (w *ComposedWorkflow) ResumeFrom(ctx context.Context, checkpointName string) *ExecutionResult {
	for _, cp := range w.Checkpoints {
		if cp.Name == checkpointName {
			w.logger.Info("resuming workflow from checkpoint",
				zap.String("workflow_id", w.ID),
				zap.String("checkpoint", checkpointName),
				zap.Int("step_index", cp.StepIndex))
			return w.run(ctx, cp.StepIndex)
		}
	}
	err := fmt.Errorf("checkpoint %q not found in workflow %q", checkpointName, w.Name)
	return &ExecutionResult{
		WorkflowID: w.ID,
		Name:       w.Name,
		Status:     ExecutionFailed,
		Err:        err,
	}
}

func (w *ComposedWorkflow) run(ctx context.Context, fromIndex int) *ExecutionResult {
	result := &ExecutionResult{
		WorkflowID: w.ID,
		Name:       w.Name,
		Status:     ExecutionSucceeded,
	}
	started := time.Now()
	defer func() { result.Duration = time.Since(started) }()

	for i := fromIndex; i < len(w.Steps); i++ {
		step := w.Steps[i]
		stepStart := time.Now()
		err := step.Run(ctx)
		stepResult := StepResult{
			Name:      step.Name,
			Succeeded: err == nil,
			Duration:  time.Since(stepStart),
		}
		if err != nil {
			stepResult.Error = err.Error()
			result.Steps = append(result.Steps, stepResult)
			result.Status = ExecutionFailed
			result.Err = err
			w.logger.Warn("workflow step failed",
				zap.String("workflow_id", w.ID),
				zap.String("step", step.Name),
				zap.Error(err))
			return result
		}
		result.Steps = append(result.Steps, stepResult)
	}
	return result
}
