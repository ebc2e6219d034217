package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/config"
	"github.com/gbpufscar/revfirst-social-sub001/internal/editorial"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
)

// Scheduler drives the daily pipeline sequence for every active workspace
// on a fixed cadence. Ticks are idempotent: the tick key derived from the
// tick instant feeds the ledger, so overlapping instances do no repeated
// work.
type Scheduler struct {
	config *config.SchedulerConfig
	logger *zap.Logger
	admin  store.Admin
	router *Router
	locks  *WorkspaceLockManager
	ticker *time.Ticker
	stopCh chan struct{}
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, admin store.Admin, router *Router, locks *WorkspaceLockManager) *Scheduler {
	return &Scheduler{
		config: cfg,
		logger: logger,
		admin:  admin,
		router: router,
		locks:  locks,
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.Disabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.TickInterval)
	if err != nil {
		s.logger.Error("Invalid tick interval", zap.String("interval", s.config.TickInterval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("tick_interval", s.config.TickInterval))

	s.ticker = time.NewTicker(interval)

	// Run first pass immediately
	go func() {
		s.runTick(ctx)
	}()

	// Start periodic passes
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runTick(ctx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	now := start.UTC()
	tickKey := editorial.WindowKey(now)

	workspaceIDs, err := s.admin.ListActiveWorkspaceIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list workspaces", zap.Error(err))
		return
	}

	processed := 0
	for _, workspaceID := range workspaceIDs {
		if s.runWorkspace(ctx, workspaceID, now, tickKey) {
			processed++
		}
	}

	s.logger.Info("Scheduler tick completed",
		zap.String("tick_key", tickKey),
		zap.Int("workspaces", len(workspaceIDs)),
		zap.Int("processed", processed),
		zap.Duration("duration", time.Since(start)))
}

func (s *Scheduler) runWorkspace(ctx context.Context, workspaceID string, now time.Time, tickKey string) bool {
	handle, err := s.locks.Acquire(ctx, workspaceID)
	if err != nil {
		s.logger.Error("Failed to acquire workspace lock",
			zap.String("workspace_id", workspaceID), zap.Error(err))
		return false
	}
	if handle == nil {
		s.logger.Debug("Workspace locked by another instance",
			zap.String("workspace_id", workspaceID))
		return false
	}
	defer func() {
		if _, err := handle.Release(ctx); err != nil {
			s.logger.Warn("Failed to release workspace lock",
				zap.String("workspace_id", workspaceID), zap.Error(err))
		}
	}()

	scope, err := store.NewScope(workspaceID)
	if err != nil {
		s.logger.Error("Invalid workspace id", zap.String("workspace_id", workspaceID), zap.Error(err))
		return false
	}

	s.router.RunDailySequence(ctx, scope, now, tickKey)
	return true
}
