// Command recovery-worker hosts the framework's background machinery: the
// recovery scheduler, the health monitor, the retention sweep, and an ops
// HTTP server exposing health and metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"katalyst/internal/config"
	"katalyst/internal/domain/shared"
	"katalyst/internal/domain/workflow"
	infraevents "katalyst/internal/infrastructure/events"
	"katalyst/internal/infrastructure/messaging/eventbridge"
	"katalyst/internal/infrastructure/persistence/sqlite"
	"katalyst/internal/recovery"
	"katalyst/internal/undo"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal("worker exited with error", zap.Error(err))
	}
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// Recovery wants raw stores: a failing scan must surface so the
	// scheduler's consecutive-error ceiling can trip. The swallow-and-log
	// decorators belong to coordinator wiring, not here.
	operationLog := sqlite.NewOperationLog(store)
	workflowState := sqlite.NewWorkflowStateStore(store)
	publishedEvents := sqlite.NewPublishedEventStore(store)

	bus, err := buildEventBus(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build event bus: %w", err)
	}

	registry := undo.NewDefaultRegistry(
		sqlite.NewResourceWriter(store),
		undo.NewHTTPReverser(nil, logger),
		logger)
	engine := undo.NewEngine(registry, undo.RetryTransient(), operationLog, logger)

	metrics := recovery.NewMetrics()
	handler := &notifyingHandler{
		inner:  recovery.NewUndoHandler(engine, operationLog, workflowState, logger),
		bus:    bus,
		logger: logger,
	}
	job := recovery.NewJob(workflowState, handler, metrics, recovery.JobConfig{
		BatchSize:             cfg.Recovery.BatchSize,
		InterStepDelay:        cfg.Recovery.InterStepDelay,
		MaxRetriesPerWorkflow: cfg.Recovery.MaxRetriesPerWorkflow,
	}, logger)
	scheduler := recovery.NewScheduler(job, recovery.SchedulerConfig{
		ScanInterval:         cfg.Recovery.ScanInterval,
		MaxConsecutiveErrors: cfg.Recovery.MaxConsecutiveErrors,
	}, metrics, logger)
	monitor := recovery.NewHealthMonitor(scheduler, metrics, recovery.DefaultHealthThresholds(),
		func(issue recovery.Issue) {
			logger.Warn("recovery health alert",
				zap.String("severity", string(issue.Severity)),
				zap.String("message", issue.Message))
		}, logger)

	scheduler.Start()
	defer scheduler.Stop()
	monitor.Start(cfg.Recovery.HealthCheckInterval)
	defer monitor.Stop()

	go runRetentionSweep(ctx, cfg.Retention, operationLog, workflowState, publishedEvents, logger)

	if cfg.IsDevelopment() && configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg, logger)
		if err != nil {
			logger.Warn("config hot reload unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
			watcher.OnReload(func(config.Config) {
				logger.Info("configuration changed; restart to apply worker settings")
			})
		}
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: opsRouter(scheduler, monitor, metrics),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}
	return nil
}

// workflowRecoveredEvent announces a successful recovery on the bus so
// downstream systems can reconcile.
type workflowRecoveredEvent struct {
	shared.BaseEvent
	workflowID string
	strategy   recovery.Strategy
}

func newWorkflowRecoveredEvent(workflowID string, strategy recovery.Strategy) workflowRecoveredEvent {
	return workflowRecoveredEvent{
		BaseEvent:  shared.NewBaseEvent("WorkflowRecovered", workflowID),
		workflowID: workflowID,
		strategy:   strategy,
	}
}

func (e workflowRecoveredEvent) EventData() map[string]interface{} {
	return map[string]interface{}{
		"workflowId": e.workflowID,
		"strategy":   string(e.strategy),
	}
}

// notifyingHandler publishes a WorkflowRecovered event after each
// successful recovery. Publish failures are logged, never fatal: the
// recovery itself already settled.
type notifyingHandler struct {
	inner  recovery.Handler
	bus    shared.EventBus
	logger *zap.Logger
}

func (h *notifyingHandler) Recover(ctx context.Context, state workflow.State, strategy recovery.Strategy) error {
	if err := h.inner.Recover(ctx, state, strategy); err != nil {
		return err
	}
	event := newWorkflowRecoveredEvent(state.WorkflowID, strategy)
	if err := h.bus.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish recovery notification",
			zap.String("workflow_id", state.WorkflowID),
			zap.Error(err))
	}
	return nil
}

func buildEventBus(ctx context.Context, cfg config.Config, logger *zap.Logger) (*infraevents.BreakerBus, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.EventBus.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.EventBus.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	publisher := eventbridge.NewPublisher(
		awseventbridge.NewFromConfig(awsCfg),
		cfg.EventBus.BusName,
		cfg.EventBus.Source,
		cfg.EventBus.HandledTypes,
		logger)
	return infraevents.NewBreakerBus(publisher, logger), nil
}

func runRetentionSweep(ctx context.Context, cfg config.RetentionConfig, operationLog *sqlite.OperationLog, workflowState *sqlite.WorkflowStateStore, publishedEvents *sqlite.PublishedEventStore, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-cfg.MaxAge)
			ops, err := operationLog.DeleteOldOperations(ctx, cutoff)
			if err != nil {
				logger.Warn("operation log retention sweep failed", zap.Error(err))
			}
			workflows, err := workflowState.DeleteOldWorkflows(ctx, cutoff)
			if err != nil {
				logger.Warn("workflow state retention sweep failed", zap.Error(err))
			}
			events, err := publishedEvents.DeletePublishedBefore(ctx, cutoff)
			if err != nil {
				logger.Warn("published event retention sweep failed", zap.Error(err))
			}
			logger.Info("retention sweep finished",
				zap.Int("operations_deleted", ops),
				zap.Int("workflows_deleted", workflows),
				zap.Int("event_markers_deleted", events))
		}
	}
}

func opsRouter(scheduler *recovery.Scheduler, monitor *recovery.HealthMonitor, metrics *recovery.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		result := monitor.PerformHealthCheck()
		w.Header().Set("Content-Type", "application/json")
		if result.Status == recovery.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(result)
	})

	r.Post("/recovery/scan", func(w http.ResponseWriter, req *http.Request) {
		result, err := scheduler.ManualScan(req.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(result)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	return r
}
