package workflow

import (
	"fmt"
	"time"
)

// MachineState is the in-memory execution state of a workflow. It is a
// superset of the persisted Status: PAUSED and UNDOING exist only in memory
// and have no storage row.
type MachineState string

const (
	MachineCreated    MachineState = "CREATED"
	MachineRunning    MachineState = "RUNNING"
	MachinePaused     MachineState = "PAUSED"
	MachineCommitted  MachineState = "COMMITTED"
	MachineFailed     MachineState = "FAILED"
	MachineUndoing    MachineState = "UNDOING"
	MachineUndone     MachineState = "UNDONE"
	MachineFailedUndo MachineState = "FAILED_UNDO"
)

// Transition is a requested state change on the machine.
type Transition string

const (
	TransitionBeginExecution Transition = "BEGIN_EXECUTION"
	TransitionPause          Transition = "PAUSE"
	TransitionResume         Transition = "RESUME"
	TransitionCommit         Transition = "COMMIT"
	TransitionFail           Transition = "FAIL"
	TransitionRetry          Transition = "RETRY"
	TransitionBeginUndo      Transition = "BEGIN_UNDO"
	TransitionUndoComplete   Transition = "UNDO_COMPLETE"
	TransitionUndoFail       Transition = "UNDO_FAIL"
)

// legalTransitions is the complete transition table. Any request not in
// this table is rejected without mutating state or history.
var legalTransitions = map[MachineState]map[Transition]MachineState{
	MachineCreated: {
		TransitionBeginExecution: MachineRunning,
	},
	MachineRunning: {
		TransitionPause:  MachinePaused,
		TransitionCommit: MachineCommitted,
		TransitionFail:   MachineFailed,
	},
	MachinePaused: {
		TransitionResume: MachineRunning,
	},
	MachineFailed: {
		TransitionRetry:     MachineRunning,
		TransitionBeginUndo: MachineUndoing,
	},
	MachineUndoing: {
		TransitionUndoComplete: MachineUndone,
		TransitionUndoFail:     MachineFailedUndo,
	},
}

// HistoryEntry records one state the machine passed through.
type HistoryEntry struct {
	State      MachineState
	Transition Transition
	Reason     string
	At         time.Time
}

// Machine enforces legal workflow transitions and retains history.
// A workflow is owned by a single coordinator at a time, so the machine
// performs no internal locking; thread safety is the caller's concern.
type Machine struct {
	workflowID string
	state      MachineState
	history    []HistoryEntry
}

// NewMachine creates a machine in CREATED, recording the creation in history.
func NewMachine(workflowID string) *Machine {
	return &Machine{
		workflowID: workflowID,
		state:      MachineCreated,
		history: []HistoryEntry{{
			State:  MachineCreated,
			Reason: "workflow created",
			At:     time.Now(),
		}},
	}
}

// Apply requests a transition. It returns true and appends to history when
// the transition is legal from the current state, false otherwise.
func (m *Machine) Apply(transition Transition, reason string) bool {
	next, ok := legalTransitions[m.state][transition]
	if !ok {
		return false
	}
	m.state = next
	m.history = append(m.history, HistoryEntry{
		State:      next,
		Transition: transition,
		Reason:     reason,
		At:         time.Now(),
	})
	return true
}

// WorkflowID returns the id of the workflow this machine tracks.
func (m *Machine) WorkflowID() string {
	return m.workflowID
}

// State returns the current machine state.
func (m *Machine) State() MachineState {
	return m.state
}

// CanUndo reports whether the workflow is eligible for undo.
func (m *Machine) CanUndo() bool {
	return m.state == MachineFailed
}

// IsTerminal reports whether the machine reached a terminal state.
func (m *Machine) IsTerminal() bool {
	switch m.state {
	case MachineCommitted, MachineUndone, MachineFailedUndo:
		return true
	}
	return false
}

// IsActive reports whether the workflow can still make progress.
func (m *Machine) IsActive() bool {
	return !m.IsTerminal()
}

// History returns a snapshot of the transition history in order of occurrence.
func (m *Machine) History() []HistoryEntry {
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Describe renders a one-line diagnostic summary.
func (m *Machine) Describe() string {
	return fmt.Sprintf("%s: %s (%d transitions)", m.workflowID, m.state, len(m.history))
}
