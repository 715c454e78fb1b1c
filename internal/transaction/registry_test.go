package transaction_test

import (
	"context"
	"errors"
	"testing"

	apperrors "katalyst/internal/errors"
	"katalyst/internal/transaction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingAdapter records the phases it sees and fails on demand.
type recordingAdapter struct {
	name     string
	priority int
	critical bool
	failOn   map[transaction.Phase]error
	seen     *[]string
}

func (a *recordingAdapter) Name() string     { return a.name }
func (a *recordingAdapter) Priority() int    { return a.priority }
func (a *recordingAdapter) IsCritical() bool { return a.critical }

func (a *recordingAdapter) OnPhase(ctx context.Context, phase transaction.Phase, events *transaction.EventContext) error {
	if a.seen != nil {
		*a.seen = append(*a.seen, a.name+":"+string(phase))
	}
	if a.failOn != nil {
		return a.failOn[phase]
	}
	return nil
}

func TestRegistry_OrdersByPriorityThenRegistration(t *testing.T) {
	var seen []string
	registry := transaction.NewRegistry(zap.NewNop())
	registry.Register(&recordingAdapter{name: "low", priority: 1, seen: &seen})
	registry.Register(&recordingAdapter{name: "high", priority: 10, seen: &seen})
	registry.Register(&recordingAdapter{name: "mid-a", priority: 5, seen: &seen})
	registry.Register(&recordingAdapter{name: "mid-b", priority: 5, seen: &seen})

	events := transaction.NewEventContext("wf")
	_, err := registry.ExecutePhaseFailFast(context.Background(), transaction.PhaseBeforeBegin, events)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"high:BEFORE_BEGIN",
		"mid-a:BEFORE_BEGIN",
		"mid-b:BEFORE_BEGIN",
		"low:BEFORE_BEGIN",
	}, seen, "descending priority, ties in registration order")
}

func TestRegistry_FailFastStopsOnCriticalFailure(t *testing.T) {
	var seen []string
	boom := errors.New("boom")
	registry := transaction.NewRegistry(zap.NewNop())
	registry.Register(&recordingAdapter{name: "first", priority: 3, seen: &seen})
	registry.Register(&recordingAdapter{
		name: "critical", priority: 2, critical: true, seen: &seen,
		failOn: map[transaction.Phase]error{transaction.PhaseBeforeCommit: boom},
	})
	registry.Register(&recordingAdapter{name: "never", priority: 1, seen: &seen})

	results, err := registry.ExecutePhaseFailFast(context.Background(), transaction.PhaseBeforeCommit, transaction.NewEventContext("wf"))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindCriticalAdapter))
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"first:BEFORE_COMMIT", "critical:BEFORE_COMMIT"}, seen,
		"adapters after the critical failure are not visited")
	assert.True(t, results.HasCriticalFailures())
	require.Len(t, results.CriticalFailures(), 1)
	assert.Equal(t, "critical", results.CriticalFailures()[0].Adapter)
}

func TestRegistry_FailFastContinuesPastNonCriticalFailure(t *testing.T) {
	var seen []string
	registry := transaction.NewRegistry(zap.NewNop())
	registry.Register(&recordingAdapter{
		name: "flaky", priority: 2, seen: &seen,
		failOn: map[transaction.Phase]error{transaction.PhaseBeforeBegin: errors.New("shrug")},
	})
	registry.Register(&recordingAdapter{name: "next", priority: 1, seen: &seen})

	results, err := registry.ExecutePhaseFailFast(context.Background(), transaction.PhaseBeforeBegin, transaction.NewEventContext("wf"))
	require.NoError(t, err)

	assert.Equal(t, []string{"flaky:BEFORE_BEGIN", "next:BEFORE_BEGIN"}, seen)
	assert.False(t, results.HasCriticalFailures())
	require.Len(t, results.NonCriticalFailures(), 1)
	require.Len(t, results.Successes(), 1)
}

func TestRegistry_BestEffortVisitsEveryAdapter(t *testing.T) {
	var seen []string
	registry := transaction.NewRegistry(zap.NewNop())
	registry.Register(&recordingAdapter{
		name: "critical", priority: 2, critical: true, seen: &seen,
		failOn: map[transaction.Phase]error{transaction.PhaseOnRollback: errors.New("boom")},
	})
	registry.Register(&recordingAdapter{name: "tail", priority: 1, seen: &seen})

	results := registry.ExecutePhaseBestEffort(context.Background(), transaction.PhaseOnRollback, transaction.NewEventContext("wf"))
	assert.Equal(t, []string{"critical:ON_ROLLBACK", "tail:ON_ROLLBACK"}, seen,
		"best-effort never stops, even for critical adapters")
	assert.True(t, results.HasCriticalFailures(), "failures are still recorded")
	assert.GreaterOrEqual(t, results.TotalDuration().Nanoseconds(), int64(0))
}

func TestEventContext_QueueSnapshotAndClear(t *testing.T) {
	ec := transaction.NewEventContext("wf-9")
	assert.Equal(t, "wf-9", ec.WorkflowID())
	assert.Equal(t, 0, ec.PendingEventCount())

	e1 := newTestEvent("e1", "OrderPlaced")
	e2 := newTestEvent("e2", "OrderShipped")
	ec.QueueEvent(e1)
	ec.QueueEvent(e2)

	snapshot := ec.PendingEvents()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "e1", snapshot[0].EventID(), "queue order preserved")

	ec.ClearPendingEvents()
	assert.Equal(t, 0, ec.PendingEventCount())
	assert.Len(t, snapshot, 2, "snapshots are unaffected by clearing")

	ec.SetMetadata("source", "checkout")
	v, ok := ec.Metadata("source")
	require.True(t, ok)
	assert.Equal(t, "checkout", v)
}
