package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
)

// Scheduler is the in-process trigger: it fires the dispatcher tick, the
// processing-poller pass and the token-refresher cadence when the deployment
// has no external cron caller. The HTTP trigger endpoints stay available on
// top of it; the guarded claim makes overlapping invocations safe.
type Scheduler struct {
	dispatcherCfg *config.DispatcherConfig
	refresherCfg  *config.RefresherConfig
	dispatcher    *Dispatcher
	poller        *Poller
	refresher     *TokenRefresher
	logger        *zap.Logger
	cron          *cron.Cron
}

func NewScheduler(dispatcherCfg *config.DispatcherConfig, refresherCfg *config.RefresherConfig,
	dispatcher *Dispatcher, poller *Poller, refresher *TokenRefresher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		dispatcherCfg: dispatcherCfg,
		refresherCfg:  refresherCfg,
		dispatcher:    dispatcher,
		poller:        poller,
		refresher:     refresher,
		logger:        logger,
		cron:          cron.New(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.dispatcherCfg.Enabled {
		tick, err := time.ParseDuration(s.dispatcherCfg.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick interval %q: %w", s.dispatcherCfg.TickInterval, err)
		}
		poll, err := time.ParseDuration(s.dispatcherCfg.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll interval %q: %w", s.dispatcherCfg.PollInterval, err)
		}

		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", tick), func() { s.runDispatch(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule dispatcher: %w", err)
		}
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", poll), func() { s.runPoll(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule poller: %w", err)
		}

		s.logger.Info("Dispatch cadence scheduled",
			zap.Duration("tick_interval", tick),
			zap.Duration("poll_interval", poll))
	} else {
		s.logger.Info("In-process dispatch disabled, relying on external trigger")
	}

	if s.refresherCfg.Enabled {
		if _, err := s.cron.AddFunc(s.refresherCfg.Schedule, func() { s.runRefresh(ctx) }); err != nil {
			return fmt.Errorf("invalid refresher schedule %q: %w", s.refresherCfg.Schedule, err)
		}
		s.logger.Info("Token refresher scheduled", zap.String("schedule", s.refresherCfg.Schedule))
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) runDispatch(ctx context.Context) {
	start := time.Now()
	report, err := s.dispatcher.RunCycle(ctx, start, s.dispatcherCfg.MaxJobsPerCycle)
	if err != nil {
		s.logger.Error("Dispatch cycle failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}

	if report.ProcessedCount+report.StillProcessingCount+report.FailedCount > 0 {
		s.logger.Info("Dispatch cycle completed",
			zap.Int("processed", report.ProcessedCount),
			zap.Int("still_processing", report.StillProcessingCount),
			zap.Int("failed", report.FailedCount),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Scheduler) runPoll(ctx context.Context) {
	start := time.Now()
	report, err := s.poller.RunPass(ctx, start, s.dispatcherCfg.MaxJobsPerCycle)
	if err != nil {
		s.logger.Error("Poller pass failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}

	if report.FinalizedCount+report.FailedCount > 0 {
		s.logger.Info("Poller pass completed",
			zap.Int("finalized", report.FinalizedCount),
			zap.Int("failed", report.FailedCount),
			zap.Int("still_processing", report.StillProcessingCount),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	start := time.Now()
	report, err := s.refresher.RunPass(ctx)
	if err != nil {
		s.logger.Error("Refresher pass failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}

	s.logger.Info("Refresher pass completed",
		zap.Int("refreshed", report.RefreshedCount),
		zap.Int("deactivated", report.DeactivatedCount),
		zap.Int("skipped", report.SkippedCount),
		zap.Duration("duration", time.Since(start)))
}
