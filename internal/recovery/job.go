package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"katalyst/internal/domain/workflow"
	apperrors "katalyst/internal/errors"
	"katalyst/internal/repository"
	"katalyst/internal/undo"

	"go.uber.org/zap"
)

// Strategy classifies how a failed workflow should be recovered.
type Strategy string

const (
	// StrategyResumeFromCheckpoint applies when the workflow made progress
	// before failing; the handler resumes past the completed prefix.
	StrategyResumeFromCheckpoint Strategy = "RESUME_FROM_CHECKPOINT"

	// StrategyRetry applies when the recorded error looks transient.
	StrategyRetry Strategy = "RETRY"

	// StrategyManualIntervention applies when nothing automatic is safe.
	StrategyManualIntervention Strategy = "MANUAL_INTERVENTION"
)

// Handler executes a chosen recovery strategy for one workflow. The job
// only classifies; what a strategy means is the handler's call. An
// application that can replay its workflow bodies supplies a handler that
// resumes RESUME_FROM_CHECKPOINT workflows past the completed prefix;
// UndoHandler is the stock alternative that unwinds instead.
type Handler interface {
	Recover(ctx context.Context, state workflow.State, strategy Strategy) error
}

// WorkflowRecoveryResult records the outcome for one scanned workflow.
type WorkflowRecoveryResult struct {
	WorkflowID string   `json:"workflowId"`
	Strategy   Strategy `json:"strategy"`
	Recovered  bool     `json:"recovered"`
	Reason     string   `json:"reason,omitempty"`
}

// ScanResult aggregates one scanAndRecover pass.
type ScanResult struct {
	ScanNumber  int64                    `json:"scanNumber"`
	FailedFound int                      `json:"failedFound"`
	Recovered   int                      `json:"recovered"`
	Failed      int                      `json:"failed"`
	Duration    time.Duration            `json:"duration"`
	Errors      []string                 `json:"errors,omitempty"`
	Details     []WorkflowRecoveryResult `json:"details,omitempty"`
}

// JobConfig tunes the scan loop.
type JobConfig struct {
	// BatchSize bounds how many workflows are processed per batch.
	BatchSize int

	// InterStepDelay is the pause between workflows, protecting downstream
	// systems from recovery bursts.
	InterStepDelay time.Duration

	// MaxRetriesPerWorkflow caps automatic attempts before a workflow is
	// handed to a human.
	MaxRetriesPerWorkflow int
}

// DefaultJobConfig returns the stock tuning.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		BatchSize:             10,
		InterStepDelay:        100 * time.Millisecond,
		MaxRetriesPerWorkflow: 3,
	}
}

// Job scans workflow state for failures and drives their recovery. The
// retry-count map is in-memory only: a worker restart resets attempts,
// which at worst re-tries a workflow a human already saw.
type Job struct {
	workflowState repository.WorkflowStateRepository
	handler       Handler
	metrics       *Metrics
	cfg           JobConfig
	logger        *zap.Logger

	mu          sync.Mutex
	retryCounts map[string]int
	scanNumber  int64
}

// NewJob wires a recovery job.
func NewJob(workflowState repository.WorkflowStateRepository, handler Handler, metrics *Metrics, cfg JobConfig, logger *zap.Logger) *Job {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultJobConfig().BatchSize
	}
	if cfg.MaxRetriesPerWorkflow <= 0 {
		cfg.MaxRetriesPerWorkflow = DefaultJobConfig().MaxRetriesPerWorkflow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		workflowState: workflowState,
		handler:       handler,
		metrics:       metrics,
		cfg:           cfg,
		logger:        logger,
		retryCounts:   make(map[string]int),
	}
}

// Classify picks the recovery strategy for a failed workflow.
func Classify(state workflow.State) Strategy {
	if state.FailedAtOperation != nil && *state.FailedAtOperation > 0 {
		return StrategyResumeFromCheckpoint
	}
	if apperrors.IsTransientMessage(state.ErrorMessage) {
		return StrategyRetry
	}
	return StrategyManualIntervention
}

// WorkflowsInRetry returns the size of the retry-count map.
func (j *Job) WorkflowsInRetry() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.retryCounts)
}

// ScanAndRecover performs one scan over all failed workflows. The returned
// error is scan-level only; per-workflow failures land in the result.
func (j *Job) ScanAndRecover(ctx context.Context) (*ScanResult, error) {
	start := time.Now()

	j.mu.Lock()
	j.scanNumber++
	scanNumber := j.scanNumber
	j.mu.Unlock()
	j.metrics.RecordScan()

	failed, err := j.workflowState.GetFailedWorkflows(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindRecovery, "failed workflow scan", err)
	}
	j.metrics.RecordFailedFound(len(failed))

	result := &ScanResult{ScanNumber: scanNumber, FailedFound: len(failed)}
	for batchStart := 0; batchStart < len(failed); batchStart += j.cfg.BatchSize {
		batchEnd := batchStart + j.cfg.BatchSize
		if batchEnd > len(failed) {
			batchEnd = len(failed)
		}
		for i, state := range failed[batchStart:batchEnd] {
			if batchStart+i > 0 && j.cfg.InterStepDelay > 0 {
				select {
				case <-ctx.Done():
					result.Errors = append(result.Errors, ctx.Err().Error())
					result.Duration = time.Since(start)
					return result, nil
				case <-time.After(j.cfg.InterStepDelay):
				}
			}
			j.recoverOne(ctx, state, result)
		}
	}

	j.metrics.SetWorkflowsInRetry(j.WorkflowsInRetry())
	result.Duration = time.Since(start)
	j.logger.Info("recovery scan finished",
		zap.Int64("scan_number", result.ScanNumber),
		zap.Int("failed_found", result.FailedFound),
		zap.Int("recovered", result.Recovered),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (j *Job) recoverOne(ctx context.Context, state workflow.State, result *ScanResult) {
	detail := WorkflowRecoveryResult{WorkflowID: state.WorkflowID}

	j.mu.Lock()
	attempts := j.retryCounts[state.WorkflowID]
	j.mu.Unlock()

	if attempts >= j.cfg.MaxRetriesPerWorkflow {
		detail.Strategy = StrategyManualIntervention
		detail.Reason = fmt.Sprintf("retry budget exhausted after %d attempts", attempts)
		result.Details = append(result.Details, detail)
		j.logger.Warn("workflow needs manual intervention",
			zap.String("workflow_id", state.WorkflowID),
			zap.Int("attempts", attempts))
		return
	}

	detail.Strategy = Classify(state)
	if detail.Strategy == StrategyManualIntervention {
		detail.Reason = "error not classified as recoverable"
		result.Details = append(result.Details, detail)
		return
	}

	if err := j.handler.Recover(ctx, state, detail.Strategy); err != nil {
		detail.Reason = err.Error()
		result.Details = append(result.Details, detail)
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", state.WorkflowID, err))
		j.metrics.RecordRecoveryFailure()

		j.mu.Lock()
		j.retryCounts[state.WorkflowID] = attempts + 1
		j.mu.Unlock()

		j.logger.Warn("workflow recovery failed",
			zap.String("workflow_id", state.WorkflowID),
			zap.String("strategy", string(detail.Strategy)),
			zap.Error(err))
		return
	}

	detail.Recovered = true
	result.Details = append(result.Details, detail)
	result.Recovered++
	j.metrics.RecordRecoverySuccess()

	j.mu.Lock()
	delete(j.retryCounts, state.WorkflowID)
	j.mu.Unlock()

	j.logger.Info("workflow recovered",
		zap.String("workflow_id", state.WorkflowID),
		zap.String("strategy", string(detail.Strategy)))
}

// UndoHandler is the default recovery handler: it replays the undo engine
// over the workflow's logged operations and settles the workflow state.
// It unwinds for every strategy, RESUME_FROM_CHECKPOINT included, because
// re-running a workflow body is application knowledge the framework does
// not have; applications that can resume supply their own Handler.
type UndoHandler struct {
	engine        *undo.Engine
	operationLog  repository.OperationLogRepository
	workflowState repository.WorkflowStateRepository
	logger        *zap.Logger
}

// NewUndoHandler wires the default handler.
func NewUndoHandler(engine *undo.Engine, operationLog repository.OperationLogRepository, workflowState repository.WorkflowStateRepository, logger *zap.Logger) *UndoHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UndoHandler{
		engine:        engine,
		operationLog:  operationLog,
		workflowState: workflowState,
		logger:        logger,
	}
}

// Recover undoes every reversible operation of the workflow. A fully
// reversed workflow goes to UNDONE; anything less goes to FAILED_UNDO and
// reports failure to the job.
func (h *UndoHandler) Recover(ctx context.Context, state workflow.State, strategy Strategy) error {
	ops, err := h.operationLog.GetAllOperations(ctx, state.WorkflowID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRecovery, "load operations", err)
	}

	var reversible []workflow.Operation
	for _, op := range ops {
		if op.Status == workflow.OperationCommitted || op.Status == workflow.OperationPending {
			reversible = append(reversible, op)
		}
	}

	undoResult := h.engine.UndoWorkflow(ctx, state.WorkflowID, reversible)
	if undoResult.FullySucceeded() {
		if markErr := h.workflowState.MarkAsUndone(ctx, state.WorkflowID); markErr != nil {
			h.logger.Warn("failed to mark workflow undone",
				zap.String("workflow_id", state.WorkflowID),
				zap.Error(markErr))
		}
		return nil
	}

	message := fmt.Sprintf("undo incomplete: %d of %d operations failed", undoResult.Failed, undoResult.Total)
	if state.Status == workflow.StatusFailed {
		if markErr := h.workflowState.MarkAsUndoFailed(ctx, state.WorkflowID, message); markErr != nil {
			h.logger.Warn("failed to mark workflow undo-failed",
				zap.String("workflow_id", state.WorkflowID),
				zap.Error(markErr))
		}
	}
	return apperrors.New(apperrors.KindRecovery, message)
}
