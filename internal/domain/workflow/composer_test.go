package workflow_test

import (
	"context"
	"errors"
	"testing"

	"katalyst/internal/domain/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestComposedWorkflow_ExecuteRunsStepsInOrder(t *testing.T) {
	var order []string
	wf := workflow.NewComposer("provision", zap.NewNop()).
		Step("reserve", func(ctx context.Context) error {
			order = append(order, "reserve")
			return nil
		}).
		Step("allocate", func(ctx context.Context) error {
			order = append(order, "allocate")
			return nil
		}).
		Step("notify", func(ctx context.Context) error {
			order = append(order, "notify")
			return nil
		}).
		Build()

	result := wf.Execute(context.Background())

	require.Equal(t, workflow.ExecutionSucceeded, result.Status)
	assert.Equal(t, []string{"reserve", "allocate", "notify"}, order)
	require.Len(t, result.Steps, 3)
	for _, step := range result.Steps {
		assert.True(t, step.Succeeded)
	}
	assert.NotEmpty(t, result.WorkflowID)
}

func TestComposedWorkflow_StopsOnFirstFailure(t *testing.T) {
	thirdRan := false
	wf := workflow.NewComposer("provision", zap.NewNop()).
		Step("ok", func(ctx context.Context) error { return nil }).
		Step("fails", func(ctx context.Context) error { return errors.New("allocation refused") }).
		Step("never", func(ctx context.Context) error {
			thirdRan = true
			return nil
		}).
		Build()

	result := wf.Execute(context.Background())

	require.Equal(t, workflow.ExecutionFailed, result.Status)
	assert.False(t, thirdRan)
	require.Len(t, result.Steps, 2)
	assert.True(t, result.Steps[0].Succeeded)
	assert.False(t, result.Steps[1].Succeeded)
	assert.Equal(t, "allocation refused", result.Steps[1].Error)
	require.Error(t, result.Err)
}

func TestComposedWorkflow_ResumeFromCheckpoint(t *testing.T) {
	var order []string
	wf := workflow.NewComposer("migration", zap.NewNop()).
		Step("export", func(ctx context.Context) error {
			order = append(order, "export")
			return nil
		}).
		Checkpoint("exported").
		Step("transform", func(ctx context.Context) error {
			order = append(order, "transform")
			return nil
		}).
		Step("load", func(ctx context.Context) error {
			order = append(order, "load")
			return nil
		}).
		Build()

	result := wf.ResumeFrom(context.Background(), "exported")

	require.Equal(t, workflow.ExecutionSucceeded, result.Status)
	assert.Equal(t, []string{"transform", "load"}, order, "steps before the checkpoint must be skipped")
}

func TestComposedWorkflow_ResumeFromUnknownCheckpoint(t *testing.T) {
	ran := false
	wf := workflow.NewComposer("migration", zap.NewNop()).
		Step("only", func(ctx context.Context) error {
			ran = true
			return nil
		}).
		Build()

	result := wf.ResumeFrom(context.Background(), "missing")

	require.Equal(t, workflow.ExecutionFailed, result.Status)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "missing")
	assert.False(t, ran)
	assert.Empty(t, result.Steps)
}

func TestComposer_CheckpointIndexes(t *testing.T) {
	wf := workflow.NewComposer("multi", zap.NewNop()).
		Checkpoint("start").
		Step("a", func(ctx context.Context) error { return nil }).
		Step("b", func(ctx context.Context) error { return nil }).
		Checkpoint("before-c").
		Step("c", func(ctx context.Context) error { return nil }).
		Build()

	require.Len(t, wf.Checkpoints, 2)
	assert.Equal(t, 0, wf.Checkpoints[0].StepIndex)
	assert.Equal(t, 2, wf.Checkpoints[1].StepIndex)
}
