package workflow_test

import (
	"testing"

	"katalyst/internal/domain/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_HappyPath(t *testing.T) {
	m := workflow.NewMachine("wf-1")
	assert.Equal(t, workflow.MachineCreated, m.State())
	assert.True(t, m.IsActive())

	require.True(t, m.Apply(workflow.TransitionBeginExecution, "start"))
	assert.Equal(t, workflow.MachineRunning, m.State())

	require.True(t, m.Apply(workflow.TransitionCommit, "done"))
	assert.Equal(t, workflow.MachineCommitted, m.State())
	assert.True(t, m.IsTerminal())
	assert.False(t, m.IsActive())
}

func TestMachine_PauseResume(t *testing.T) {
	m := workflow.NewMachine("wf-2")
	require.True(t, m.Apply(workflow.TransitionBeginExecution, ""))
	require.True(t, m.Apply(workflow.TransitionPause, "operator hold"))
	assert.Equal(t, workflow.MachinePaused, m.State())
	require.True(t, m.Apply(workflow.TransitionResume, ""))
	assert.Equal(t, workflow.MachineRunning, m.State())
}

func TestMachine_FailureAndUndo(t *testing.T) {
	m := workflow.NewMachine("wf-3")
	require.True(t, m.Apply(workflow.TransitionBeginExecution, ""))
	require.True(t, m.Apply(workflow.TransitionFail, "db error"))
	assert.True(t, m.CanUndo())

	require.True(t, m.Apply(workflow.TransitionBeginUndo, ""))
	assert.False(t, m.CanUndo())
	require.True(t, m.Apply(workflow.TransitionUndoComplete, ""))
	assert.Equal(t, workflow.MachineUndone, m.State())
	assert.True(t, m.IsTerminal())
}

func TestMachine_FailedRetryReturnsToRunning(t *testing.T) {
	m := workflow.NewMachine("wf-4")
	require.True(t, m.Apply(workflow.TransitionBeginExecution, ""))
	require.True(t, m.Apply(workflow.TransitionFail, "timeout"))
	require.True(t, m.Apply(workflow.TransitionRetry, "transient"))
	assert.Equal(t, workflow.MachineRunning, m.State())
}

func TestMachine_IllegalTransitionsDoNotMutate(t *testing.T) {
	m := workflow.NewMachine("wf-5")

	// Exhaustively reject everything illegal from CREATED.
	illegal := []workflow.Transition{
		workflow.TransitionPause,
		workflow.TransitionResume,
		workflow.TransitionCommit,
		workflow.TransitionFail,
		workflow.TransitionRetry,
		workflow.TransitionBeginUndo,
		workflow.TransitionUndoComplete,
		workflow.TransitionUndoFail,
	}
	historyLen := len(m.History())
	for _, tr := range illegal {
		assert.False(t, m.Apply(tr, ""), "transition %s should be rejected from CREATED", tr)
		assert.Equal(t, workflow.MachineCreated, m.State())
		assert.Len(t, m.History(), historyLen, "history must not grow on rejected transition")
	}

	// Terminal states reject everything.
	require.True(t, m.Apply(workflow.TransitionBeginExecution, ""))
	require.True(t, m.Apply(workflow.TransitionCommit, ""))
	for _, tr := range illegal {
		assert.False(t, m.Apply(tr, ""))
	}
	assert.False(t, m.Apply(workflow.TransitionBeginExecution, ""))
}

func TestMachine_HistoryRetainedInOrder(t *testing.T) {
	m := workflow.NewMachine("wf-6")
	require.True(t, m.Apply(workflow.TransitionBeginExecution, "start"))
	require.True(t, m.Apply(workflow.TransitionFail, "boom"))
	require.True(t, m.Apply(workflow.TransitionBeginUndo, "recovering"))

	history := m.History()
	require.Len(t, history, 4)
	assert.Equal(t, workflow.MachineCreated, history[0].State)
	assert.Equal(t, workflow.MachineRunning, history[1].State)
	assert.Equal(t, workflow.TransitionBeginExecution, history[1].Transition)
	assert.Equal(t, workflow.MachineFailed, history[2].State)
	assert.Equal(t, "boom", history[2].Reason)
	assert.Equal(t, workflow.MachineUndoing, history[3].State)
	assert.False(t, history[0].At.After(history[3].At))
}

func TestMachine_Describe(t *testing.T) {
	m := workflow.NewMachine("wf-7")
	require.True(t, m.Apply(workflow.TransitionBeginExecution, ""))
	assert.Equal(t, "wf-7: RUNNING (2 transitions)", m.Describe())
}
