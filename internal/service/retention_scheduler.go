package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vantage-crm/vantage-api/internal/models"
)

type sweepRunner interface {
	RunSweep(ctx context.Context) *models.SweepResult
	RunTable(ctx context.Context, table string) (*models.SweepResult, error)
}

type orphanSweeper interface {
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// SchedulerConfig carries cron expressions and the artifact TTL for the
// weekly filesystem pass.
type SchedulerConfig struct {
	DailySchedule  string
	WeeklySchedule string
	ArtifactTTL    time.Duration
}

// RetentionScheduler installs the recurring retention jobs on a cron runner.
// Jobs are tracked by name so reinstalling a schedule replaces the previous
// entry instead of stacking a duplicate.
type RetentionScheduler struct {
	cleanup sweepRunner
	storage orphanSweeper
	logger  *zap.Logger
	cfg     SchedulerConfig

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

// NewRetentionScheduler constructs the scheduler.
func NewRetentionScheduler(cleanup sweepRunner, storage orphanSweeper, cfg SchedulerConfig, logger *zap.Logger) *RetentionScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DailySchedule == "" {
		cfg.DailySchedule = "0 2 * * *"
	}
	if cfg.WeeklySchedule == "" {
		cfg.WeeklySchedule = "0 3 * * 0"
	}
	if cfg.ArtifactTTL <= 0 {
		cfg.ArtifactTTL = 7 * 24 * time.Hour
	}
	return &RetentionScheduler{
		cleanup: cleanup,
		storage: storage,
		logger:  logger,
		cfg:     cfg,
		cron:    cron.New(),
		entries: map[string]cron.EntryID{},
	}
}

// Start installs the jobs and begins the cron loop. Safe to call once.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.install("daily-cleanup", s.cfg.DailySchedule, func() { s.runDaily(ctx) }); err != nil {
		return err
	}
	if err := s.install("weekly-audit-cleanup", s.cfg.WeeklySchedule, func() { s.runWeekly(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	s.logger.Sugar().Infow("retention scheduler started",
		"daily", s.cfg.DailySchedule,
		"weekly", s.cfg.WeeklySchedule,
	)
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Sugar().Infow("retention scheduler stopped")
}

// Reschedule replaces one named job's schedule at runtime.
func (s *RetentionScheduler) Reschedule(name, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("unknown scheduled job %q", name)
	}
	job := s.cron.Entry(entry).Job
	s.cron.Remove(entry)
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// install registers a job under a stable name, replacing any previous entry.
func (s *RetentionScheduler) install(name, spec string, fn func()) error {
	if entry, ok := s.entries[name]; ok {
		s.cron.Remove(entry)
	}
	id, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Sugar().Errorw("scheduled job panicked", "job", name, "panic", r)
			}
		}()
		fn()
	})
	if err != nil {
		return fmt.Errorf("install %s (%q): %w", name, spec, err)
	}
	s.entries[name] = id
	return nil
}

func (s *RetentionScheduler) runDaily(ctx context.Context) {
	s.logger.Sugar().Infow("daily retention sweep starting")
	result := s.cleanup.RunSweep(ctx)
	if result.Failures > 0 {
		s.logger.Sugar().Warnw("daily retention sweep had failures", "failures", result.Failures)
	}
}

// runWeekly cleans audit logs under that table's own policy and then removes
// orphaned export artifacts past their validity window.
func (s *RetentionScheduler) runWeekly(ctx context.Context) {
	if _, err := s.cleanup.RunTable(ctx, "audit_logs"); err != nil {
		s.logger.Sugar().Warnw("weekly audit cleanup failed", "error", err)
	}

	if s.storage == nil {
		return
	}
	removed, err := s.storage.CleanupOlderThan(s.cfg.ArtifactTTL)
	if err != nil {
		s.logger.Sugar().Warnw("weekly artifact cleanup failed", "error", err)
		return
	}
	if len(removed) > 0 {
		s.logger.Sugar().Infow("weekly artifact cleanup removed orphans", "count", len(removed))
	}
}
