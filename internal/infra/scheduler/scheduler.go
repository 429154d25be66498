package scheduler

import (
	"context"
	"fmt"
	"time"

	"sweep_notifier/internal/app"
	"sweep_notifier/internal/domain/alert"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const defaultPassTimeout = 10 * time.Minute

// SweepScheduler triggers a notification pass on a cron spec. Passes never
// overlap inside one process.
type SweepScheduler struct {
	cronEngine     *cron.Cron
	sweeper        app.Sweeper
	alerter        alert.Notifier // optional
	logger         *logrus.Entry
	cronSpec       string
	cadenceMinutes int
	dryRun         bool
	passTimeout    time.Duration
	now            func() time.Time
}

func NewSweepScheduler(
	sweeper app.Sweeper,
	alerter alert.Notifier,
	logger *logrus.Entry,
	loc *time.Location,
	cronSpec string, // e.g., "0 * * * *" (top of every hour)
	cadenceMinutes int,
	dryRun bool,
) *SweepScheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &SweepScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		sweeper:        sweeper,
		alerter:        alerter,
		logger:         logger,
		cronSpec:       cronSpec,
		cadenceMinutes: cadenceMinutes,
		dryRun:         dryRun,
		passTimeout:    defaultPassTimeout,
		now:            time.Now,
	}
}

// Start registers the sweep job and starts the cron engine.
func (s *SweepScheduler) Start() error {
	s.logger.WithField("cron_spec", s.cronSpec).Info("Starting sweep scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Debug("Cron job triggered for notification sweep.")
		ctx, cancel := context.WithTimeout(context.Background(), s.passTimeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("could not add sweep cron job %q: %w", s.cronSpec, err)
	}

	s.cronEngine.Start()
	s.logger.Info("Sweep scheduler started.")
	return nil
}

// RunOnce executes a single pass now and alerts operators when it fails.
func (s *SweepScheduler) RunOnce(ctx context.Context) (app.SweepResult, error) {
	res, err := s.sweeper.Run(ctx, s.now(), s.cadenceMinutes, s.dryRun)
	if err != nil {
		s.logger.WithError(err).WithField("run_id", res.RunID).Error("Notification sweep failed")
		s.notify(ctx, fmt.Sprintf("Sweep notifier: pass %s failed: %v", res.RunID, err))
		return res, err
	}
	return res, nil
}

func (s *SweepScheduler) notify(ctx context.Context, text string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, text); err != nil {
		s.logger.WithError(err).Warn("Failed to deliver operator alert")
	}
}

func (s *SweepScheduler) Stop() {
	s.logger.Info("Stopping sweep scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Sweep scheduler gracefully stopped.")
}
