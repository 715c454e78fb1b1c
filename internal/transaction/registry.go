package transaction

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "katalyst/internal/errors"

	"go.uber.org/zap"
)

// Adapter hooks into transaction phases. Adapters with higher priority run
// first within a phase; ties keep registration order.
type Adapter interface {
	// Name identifies the adapter in logs and results.
	Name() string

	// Priority orders adapters within a phase, higher first.
	Priority() int

	// IsCritical marks the adapter's failures as rollback-worthy during
	// fail-fast phases.
	IsCritical() bool

	// OnPhase handles one transaction phase. Phases the adapter does not
	// care about should return nil.
	OnPhase(ctx context.Context, phase Phase, events *EventContext) error
}

// AdapterResult records one adapter invocation within a phase.
type AdapterResult struct {
	Adapter  string
	Phase    Phase
	Critical bool
	Success  bool
	Err      error
	Duration time.Duration
}

// PhaseExecutionResults aggregates all adapter invocations of one phase.
type PhaseExecutionResults struct {
	Phase   Phase
	Results []AdapterResult
}

// HasCriticalFailures reports whether any critical adapter failed.
func (r *PhaseExecutionResults) HasCriticalFailures() bool {
	for _, res := range r.Results {
		if !res.Success && res.Critical {
			return true
		}
	}
	return false
}

// CriticalFailures returns the failed critical invocations.
func (r *PhaseExecutionResults) CriticalFailures() []AdapterResult {
	var out []AdapterResult
	for _, res := range r.Results {
		if !res.Success && res.Critical {
			out = append(out, res)
		}
	}
	return out
}

// NonCriticalFailures returns the failed non-critical invocations.
func (r *PhaseExecutionResults) NonCriticalFailures() []AdapterResult {
	var out []AdapterResult
	for _, res := range r.Results {
		if !res.Success && !res.Critical {
			out = append(out, res)
		}
	}
	return out
}

// Successes returns the successful invocations.
func (r *PhaseExecutionResults) Successes() []AdapterResult {
	var out []AdapterResult
	for _, res := range r.Results {
		if res.Success {
			out = append(out, res)
		}
	}
	return out
}

// TotalDuration sums the duration of every invocation in the phase.
func (r *PhaseExecutionResults) TotalDuration() time.Duration {
	var total time.Duration
	for _, res := range r.Results {
		total += res.Duration
	}
	return total
}

// Registry holds the registered adapters in dispatch order. Registration
// happens at startup; dispatch at transaction time takes the read lock.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	logger   *zap.Logger
}

// NewRegistry creates an empty adapter registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register adds an adapter, keeping the set sorted by descending priority
// with ties in registration order.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, adapter)
	sort.SliceStable(r.adapters, func(i, j int) bool {
		return r.adapters[i].Priority() > r.adapters[j].Priority()
	})
	r.logger.Info("transaction adapter registered",
		zap.String("adapter", adapter.Name()),
		zap.Int("priority", adapter.Priority()),
		zap.Bool("critical", adapter.IsCritical()))
}

// Adapters returns the current dispatch order.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// ExecutePhaseFailFast dispatches the phase to every adapter in order and
// stops at the first critical failure, returning it wrapped. Non-critical
// failures are logged and aggregated but do not stop the phase.
func (r *Registry) ExecutePhaseFailFast(ctx context.Context, phase Phase, events *EventContext) (*PhaseExecutionResults, error) {
	results := &PhaseExecutionResults{Phase: phase}
	for _, adapter := range r.Adapters() {
		res := r.dispatch(ctx, adapter, phase, events)
		results.Results = append(results.Results, res)
		if res.Success {
			continue
		}
		if res.Critical {
			return results, apperrors.Wrap(apperrors.KindCriticalAdapter,
				"critical adapter failed", res.Err).
				WithDetail("adapter", adapter.Name()).
				WithDetail("phase", string(phase))
		}
		r.logger.Warn("non-critical adapter failed",
			zap.String("adapter", adapter.Name()),
			zap.String("phase", string(phase)),
			zap.Error(res.Err))
	}
	return results, nil
}

// ExecutePhaseBestEffort dispatches the phase to every adapter in order,
// never raising. Failures are logged and aggregated.
func (r *Registry) ExecutePhaseBestEffort(ctx context.Context, phase Phase, events *EventContext) *PhaseExecutionResults {
	results := &PhaseExecutionResults{Phase: phase}
	for _, adapter := range r.Adapters() {
		res := r.dispatch(ctx, adapter, phase, events)
		results.Results = append(results.Results, res)
		if !res.Success {
			r.logger.Warn("adapter failed in best-effort phase",
				zap.String("adapter", adapter.Name()),
				zap.String("phase", string(phase)),
				zap.Error(res.Err))
		}
	}
	return results
}

func (r *Registry) dispatch(ctx context.Context, adapter Adapter, phase Phase, events *EventContext) AdapterResult {
	start := time.Now()
	err := adapter.OnPhase(ctx, phase, events)
	return AdapterResult{
		Adapter:  adapter.Name(),
		Phase:    phase,
		Critical: adapter.IsCritical(),
		Success:  err == nil,
		Err:      err,
		Duration: time.Since(start),
	}
}
