package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adityaankur/graphmail/internal/metrics"
	"github.com/adityaankur/graphmail/internal/repository"
)

// startupDelay gives the HTTP server and database pool time to settle
// before the first scheduled run
const startupDelay = 15 * time.Second

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	// Interval between scheduled sync runs
	Interval time.Duration
	// FetchHours is the lookback window passed to each run
	FetchHours int
}

// Scheduler triggers the sync pipeline on a fixed interval. A tick that
// fires while a run is still in progress is skipped, never queued, and
// a failed cycle never stops future cycles.
type Scheduler struct {
	pipeline *Pipeline
	cfg      SchedulerConfig
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a Scheduler
func NewScheduler(pipeline *Pipeline, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.FetchHours == 0 {
		cfg.FetchHours = 24
	}
	return &Scheduler{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background scheduling loop
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("scheduler is already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("starting email sync scheduler",
		"interval", s.cfg.Interval, "fetch_hours", s.cfg.FetchHours)

	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	s.logger.Info("email sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	// Initial run shortly after startup
	select {
	case <-time.After(startupDelay):
		s.runCycle(ctx)
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped: context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one scheduled sync cycle
func (s *Scheduler) runCycle(ctx context.Context) {
	result, err := s.pipeline.TryRun(ctx, s.cfg.FetchHours, repository.RunTriggerScheduled)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("skipping scheduled cycle, previous run still in progress")
			metrics.SchedulerCyclesSkipped.Inc()
			return
		}
		s.logger.Error("scheduled sync run failed", "error", err)
		return
	}

	s.logger.Info("scheduled sync cycle completed",
		"status", result.Status,
		"new", result.MessagesNew,
		"updated", result.MessagesUpdated,
		"errors", len(result.Errors))
}
