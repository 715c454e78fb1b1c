package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig tunes the recovery loop.
type SchedulerConfig struct {
	// ScanInterval is the pause between automatic scans.
	ScanInterval time.Duration

	// MaxConsecutiveErrors stops the loop when hit; the scheduler must be
	// restarted explicitly after the underlying problem is fixed.
	MaxConsecutiveErrors int
}

// DefaultSchedulerConfig returns the stock tuning.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ScanInterval:         30 * time.Second,
		MaxConsecutiveErrors: 5,
	}
}

// Scheduler drives the recovery job on an interval.
type Scheduler struct {
	job     *Job
	cfg     SchedulerConfig
	metrics *Metrics
	logger  *zap.Logger

	mu                sync.Mutex
	running           bool
	cancel            context.CancelFunc
	done              chan struct{}
	consecutiveErrors int
}

// NewScheduler wires a scheduler over the job.
func NewScheduler(job *Job, cfg SchedulerConfig, metrics *Metrics, logger *zap.Logger) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultSchedulerConfig().ScanInterval
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultSchedulerConfig().MaxConsecutiveErrors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{job: job, cfg: cfg, metrics: metrics, logger: logger}
}

// Start launches the scan loop with a cleared consecutive-error counter.
// Calling Start while running is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	// A fresh run gets a fresh error budget. Without this, a scheduler
	// restarted after a self-stop would die on its first scan error.
	s.consecutiveErrors = 0
	s.metrics.SetSchedulerRunning(true)
	s.logger.Info("recovery scheduler started",
		zap.Duration("scan_interval", s.cfg.ScanInterval))

	go s.loop(ctx)
}

// Stop cancels the loop, waits for it to exit and resets the
// consecutive-error counter.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.consecutiveErrors = 0
	s.mu.Unlock()
	s.logger.Info("recovery scheduler stopped")
}

// IsRunning reports whether the loop is alive.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ConsecutiveErrors returns the current failure streak.
func (s *Scheduler) ConsecutiveErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveErrors
}

// MaxConsecutiveErrors returns the configured self-stop ceiling.
func (s *Scheduler) MaxConsecutiveErrors() int {
	return s.cfg.MaxConsecutiveErrors
}

// ManualScan runs one scan synchronously without disturbing the loop.
func (s *Scheduler) ManualScan(ctx context.Context) (*ScanResult, error) {
	return s.job.ScanAndRecover(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.done)
		s.mu.Unlock()
		s.metrics.SetSchedulerRunning(false)
	}()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.job.ScanAndRecover(ctx); err != nil {
				s.mu.Lock()
				s.consecutiveErrors++
				streak := s.consecutiveErrors
				s.mu.Unlock()

				s.logger.Error("recovery scan failed",
					zap.Int("consecutive_errors", streak),
					zap.Error(err))
				if streak >= s.cfg.MaxConsecutiveErrors {
					s.logger.Error("recovery scheduler stopping itself",
						zap.Int("max_consecutive_errors", s.cfg.MaxConsecutiveErrors))
					return
				}
				continue
			}

			s.mu.Lock()
			s.consecutiveErrors = 0
			s.mu.Unlock()
		}
	}
}
