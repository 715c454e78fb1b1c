package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is the overall verdict of a health check.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "HEALTHY"
	StatusDegraded  HealthStatus = "DEGRADED"
	StatusUnhealthy HealthStatus = "UNHEALTHY"
)

// Severity ranks a health issue.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Issue is one problem found by a health check.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// HealthCheckResult is the outcome of one health check.
type HealthCheckResult struct {
	Status    HealthStatus `json:"status"`
	Issues    []Issue      `json:"issues,omitempty"`
	Metrics   Snapshot     `json:"metrics"`
	CheckedAt time.Time    `json:"checkedAt"`
}

// HealthThresholds tune when recovery health degrades.
type HealthThresholds struct {
	MinSuccessRatePercent        float64
	MaxWorkflowsInRetry          int
	MaxFailedRecoveriesThreshold int64
}

// DefaultHealthThresholds returns the stock thresholds.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MinSuccessRatePercent:        70,
		MaxWorkflowsInRetry:          50,
		MaxFailedRecoveriesThreshold: 100,
	}
}

// AlertFunc receives each issue found by a check.
type AlertFunc func(Issue)

// HealthMonitor inspects the scheduler and cumulative metrics. It runs on
// demand via PerformHealthCheck and optionally on its own interval.
type HealthMonitor struct {
	scheduler  *Scheduler
	metrics    *Metrics
	thresholds HealthThresholds
	alert      AlertFunc
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor wires a monitor. alert may be nil.
func NewHealthMonitor(scheduler *Scheduler, metrics *Metrics, thresholds HealthThresholds, alert AlertFunc, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		scheduler:  scheduler,
		metrics:    metrics,
		thresholds: thresholds,
		alert:      alert,
		logger:     logger,
	}
}

// PerformHealthCheck evaluates the recovery subsystem right now.
func (m *HealthMonitor) PerformHealthCheck() HealthCheckResult {
	snapshot := m.metrics.Snapshot()
	result := HealthCheckResult{
		Status:    StatusHealthy,
		Metrics:   snapshot,
		CheckedAt: time.Now(),
	}

	if !m.scheduler.IsRunning() {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityCritical,
			Message:  "recovery scheduler is not running",
		})
	}

	streak := m.scheduler.ConsecutiveErrors()
	if streak >= m.scheduler.MaxConsecutiveErrors() {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("consecutive scan errors at limit (%d)", streak),
		})
	} else if streak > 0 {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%d consecutive scan error(s)", streak),
		})
	}

	if snapshot.SuccessRate < m.thresholds.MinSuccessRatePercent {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityWarning,
			Message: fmt.Sprintf("recovery success rate %.1f%% below threshold %.1f%%",
				snapshot.SuccessRate, m.thresholds.MinSuccessRatePercent),
		})
	}

	if snapshot.WorkflowsInRetry > m.thresholds.MaxWorkflowsInRetry {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityWarning,
			Message: fmt.Sprintf("%d workflows in retry exceeds threshold %d",
				snapshot.WorkflowsInRetry, m.thresholds.MaxWorkflowsInRetry),
		})
	}

	if snapshot.TotalFailedRecoveries > m.thresholds.MaxFailedRecoveriesThreshold {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityWarning,
			Message: fmt.Sprintf("%d total failed recoveries exceeds threshold %d",
				snapshot.TotalFailedRecoveries, m.thresholds.MaxFailedRecoveriesThreshold),
		})
	}

	for _, issue := range result.Issues {
		switch issue.Severity {
		case SeverityCritical:
			result.Status = StatusUnhealthy
		case SeverityWarning:
			if result.Status == StatusHealthy {
				result.Status = StatusDegraded
			}
		}
		if m.alert != nil {
			m.alert(issue)
		}
	}

	if result.Status != StatusHealthy {
		m.logger.Warn("recovery health degraded",
			zap.String("status", string(result.Status)),
			zap.Int("issues", len(result.Issues)))
	}
	return result
}

// Start runs health checks on the given interval until Stop is called.
func (m *HealthMonitor) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PerformHealthCheck()
			}
		}
	}()
}

// Stop ends the interval loop.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
