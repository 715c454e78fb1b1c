// Package recovery scans for failed workflows and tries to bring them back
// to a terminal state: undoing their logged operations, retrying transient
// failures, and flagging the rest for manual intervention.
package recovery

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks cumulative recovery activity. The prometheus collectors
// live in a private registry so the worker's ops server can expose them
// without colliding with other instances in tests. The atomics mirror the
// counters because the health monitor needs to read them back.
type Metrics struct {
	registry *prometheus.Registry

	scans                prometheus.Counter
	failedFound          prometheus.Counter
	successfulRecoveries prometheus.Counter
	failedRecoveries     prometheus.Counter
	workflowsInRetry     prometheus.Gauge
	schedulerRunning     prometheus.Gauge

	totalScans                atomic.Int64
	totalFailedWorkflowsFound atomic.Int64
	totalSuccessful           atomic.Int64
	totalFailed               atomic.Int64
	retrying                  atomic.Int64
}

// Snapshot is a point-in-time view of the cumulative metrics.
type Snapshot struct {
	TotalScans                int64   `json:"totalScans"`
	TotalFailedWorkflowsFound int64   `json:"totalFailedWorkflowsFound"`
	TotalSuccessfulRecoveries int64   `json:"totalSuccessfulRecoveries"`
	TotalFailedRecoveries     int64   `json:"totalFailedRecoveries"`
	SuccessRate               float64 `json:"successRate"`
	WorkflowsInRetry          int     `json:"workflowsInRetry"`
}

// NewMetrics creates the recovery metrics set with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.scans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "katalyst", Subsystem: "recovery",
		Name: "scans_total", Help: "Number of recovery scans performed.",
	})
	m.failedFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "katalyst", Subsystem: "recovery",
		Name: "failed_workflows_found_total", Help: "Failed workflows seen by scans.",
	})
	m.successfulRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "katalyst", Subsystem: "recovery",
		Name: "recoveries_success_total", Help: "Workflows successfully recovered.",
	})
	m.failedRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "katalyst", Subsystem: "recovery",
		Name: "recoveries_failed_total", Help: "Recovery attempts that failed.",
	})
	m.workflowsInRetry = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "katalyst", Subsystem: "recovery",
		Name: "workflows_in_retry", Help: "Workflows currently in the retry map.",
	})
	m.schedulerRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "katalyst", Subsystem: "recovery",
		Name: "scheduler_running", Help: "1 when the recovery scheduler loop is running.",
	})

	m.registry.MustRegister(m.scans, m.failedFound, m.successfulRecoveries,
		m.failedRecoveries, m.workflowsInRetry, m.schedulerRunning)
	return m
}

// Registry returns the private prometheus registry for the ops server.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordScan counts one recovery scan.
func (m *Metrics) RecordScan() {
	m.totalScans.Add(1)
	m.scans.Inc()
}

// RecordFailedFound counts failed workflows seen by a scan.
func (m *Metrics) RecordFailedFound(n int) {
	m.totalFailedWorkflowsFound.Add(int64(n))
	m.failedFound.Add(float64(n))
}

// RecordRecoverySuccess counts one recovered workflow.
func (m *Metrics) RecordRecoverySuccess() {
	m.totalSuccessful.Add(1)
	m.successfulRecoveries.Inc()
}

// RecordRecoveryFailure counts one failed recovery attempt.
func (m *Metrics) RecordRecoveryFailure() {
	m.totalFailed.Add(1)
	m.failedRecoveries.Inc()
}

// SetWorkflowsInRetry updates the size of the retry map.
func (m *Metrics) SetWorkflowsInRetry(n int) {
	m.retrying.Store(int64(n))
	m.workflowsInRetry.Set(float64(n))
}

// SetSchedulerRunning flags scheduler liveness.
func (m *Metrics) SetSchedulerRunning(running bool) {
	if running {
		m.schedulerRunning.Set(1)
	} else {
		m.schedulerRunning.Set(0)
	}
}

// Snapshot reads back the cumulative values. Success rate is 100 before any
// recovery was attempted.
func (m *Metrics) Snapshot() Snapshot {
	successes := m.totalSuccessful.Load()
	failures := m.totalFailed.Load()
	rate := 100.0
	if successes+failures > 0 {
		rate = float64(successes) / float64(successes+failures) * 100
	}
	return Snapshot{
		TotalScans:                m.totalScans.Load(),
		TotalFailedWorkflowsFound: m.totalFailedWorkflowsFound.Load(),
		TotalSuccessfulRecoveries: successes,
		TotalFailedRecoveries:     failures,
		SuccessRate:               rate,
		WorkflowsInRetry:          int(m.retrying.Load()),
	}
}
