package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"sweep_notifier/internal/domain/push"
	"sweep_notifier/internal/domain/schedule"
	"sweep_notifier/internal/domain/subscription"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Pass-fatal errors. A pass that returns one of these sent nothing.
var (
	ErrInvalidCadence  = errors.New("cadence minutes must be positive")
	ErrPushUnavailable = errors.New("push sender is not configured and dry run is off")
)

const defaultWorkers = 8

// Sweeper runs one notification pass.
type Sweeper interface {
	Run(ctx context.Context, now time.Time, cadenceMinutes int, dryRun bool) (SweepResult, error)
}

// SweepResult aggregates one pass.
type SweepResult struct {
	RunID   string
	Sent    int
	Skipped int
	DryRun  bool
}

// SweepOptions tunes a SweepService.
type SweepOptions struct {
	Workers int
	// SendRate caps push sends per second across the pass. Zero disables.
	SendRate float64
	// ClaimBeforeSend makes every send conditional on an atomic claim in the
	// store, for deployments where passes may overlap.
	ClaimBeforeSend bool
}

// SweepService decides, per subscription, whether this pass owns the single
// notification for the upcoming occurrence, and delivers it.
// It keeps no state between passes.
type SweepService struct {
	subs      subscription.Repository
	schedules schedule.Repository
	sender    push.Sender // nil is allowed when every pass is a dry run
	loc       *time.Location
	logger    *logrus.Entry
	workers   int
	limiter   *rate.Limiter
	claim     bool
}

func NewSweepService(
	subs subscription.Repository,
	schedules schedule.Repository,
	sender push.Sender,
	loc *time.Location,
	logger *logrus.Entry,
	opts SweepOptions,
) *SweepService {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	var limiter *rate.Limiter
	if opts.SendRate > 0 {
		burst := int(opts.SendRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}
	return &SweepService{
		subs:      subs,
		schedules: schedules,
		sender:    sender,
		loc:       loc,
		logger:    logger,
		workers:   workers,
		limiter:   limiter,
		claim:     opts.ClaimBeforeSend,
	}
}

// job is one subscription paired with its referenced record.
type job struct {
	record     *subscription.Record
	schedule   *schedule.SweepingSchedule
	regulation *schedule.ParkingRegulation
}

// Run executes one pass at now. Errors returned are pass-fatal; per
// subscription failures are logged and counted as skipped.
func (s *SweepService) Run(ctx context.Context, now time.Time, cadenceMinutes int, dryRun bool) (SweepResult, error) {
	result := SweepResult{RunID: uuid.NewString(), DryRun: dryRun}
	log := s.logger.WithFields(logrus.Fields{"run_id": result.RunID, "dry_run": dryRun})

	if cadenceMinutes <= 0 {
		return result, fmt.Errorf("%w: %d", ErrInvalidCadence, cadenceMinutes)
	}
	if !dryRun && s.sender == nil {
		return result, ErrPushUnavailable
	}
	cadence := time.Duration(cadenceMinutes) * time.Minute
	log.WithFields(logrus.Fields{
		"now":     now.In(s.loc).Format(time.RFC3339),
		"cadence": cadence.String(),
	}).Info("Starting notification sweep")

	records, err := s.subs.List(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	log.WithField("subscriptions", len(records)).Info("Fetched subscriptions")

	jobs, skipped, err := s.resolveTargets(ctx, log, records)
	if err != nil {
		return result, err
	}

	var sent, failed atomic.Int64
	failed.Add(int64(skipped))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			if s.process(ctx, log, j, now, cadence, dryRun) {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Sent = int(sent.Load())
	result.Skipped = int(failed.Load())
	log.WithFields(logrus.Fields{"sent": result.Sent, "skipped": result.Skipped}).Info("Notification sweep done")
	return result, nil
}

// resolveTargets batch-fetches every referenced schedule and regulation and
// drops subscriptions whose target no longer exists.
func (s *SweepService) resolveTargets(ctx context.Context, log *logrus.Entry, records []*subscription.Record) ([]job, int, error) {
	var scheduleIDs, regulationIDs []int64
	seenSchedules := make(map[int64]struct{})
	seenRegulations := make(map[int64]struct{})
	skipped := 0

	for _, r := range records {
		switch r.Type {
		case subscription.TypeSweeping:
			if _, ok := seenSchedules[r.TargetID]; !ok {
				seenSchedules[r.TargetID] = struct{}{}
				scheduleIDs = append(scheduleIDs, r.TargetID)
			}
		case subscription.TypeTiming:
			if _, ok := seenRegulations[r.TargetID]; !ok {
				seenRegulations[r.TargetID] = struct{}{}
				regulationIDs = append(regulationIDs, r.TargetID)
			}
		}
	}

	schedules := make(map[int64]*schedule.SweepingSchedule, len(scheduleIDs))
	if len(scheduleIDs) > 0 {
		rows, err := s.schedules.GetSchedulesByIDs(ctx, scheduleIDs)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch schedules: %w", err)
		}
		for _, row := range rows {
			schedules[row.BlockSweepID] = row
		}
	}

	regulations := make(map[int64]*schedule.ParkingRegulation, len(regulationIDs))
	if len(regulationIDs) > 0 {
		rows, err := s.schedules.GetRegulationsByIDs(ctx, regulationIDs)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch parking regulations: %w", err)
		}
		for _, row := range rows {
			regulations[row.ID] = row
		}
	}

	jobs := make([]job, 0, len(records))
	for _, r := range records {
		entry := recordLogger(log, r)
		switch r.Type {
		case subscription.TypeSweeping:
			sched, ok := schedules[r.TargetID]
			if !ok {
				entry.Info("Referenced schedule no longer exists, skipping")
				skipped++
				continue
			}
			jobs = append(jobs, job{record: r, schedule: sched})
		case subscription.TypeTiming:
			reg, ok := regulations[r.TargetID]
			if !ok {
				entry.Info("Referenced parking regulation no longer exists, skipping")
				skipped++
				continue
			}
			jobs = append(jobs, job{record: r, regulation: reg})
		default:
			entry.Warn("Unknown subscription type, skipping")
			skipped++
		}
	}
	return jobs, skipped, nil
}

// process handles one subscription and reports whether a notification was
// sent (or would have been, in dry run).
func (s *SweepService) process(ctx context.Context, log *logrus.Entry, j job, now time.Time, cadence time.Duration, dryRun bool) (sent bool) {
	entry := recordLogger(log, j.record)
	defer func() {
		if p := recover(); p != nil {
			entry.WithField("panic", p).Error("Recovered while processing subscription")
			sent = false
		}
	}()

	if j.schedule != nil {
		return s.processSweeping(ctx, entry, j.record, j.schedule, now, cadence, dryRun)
	}
	return s.processTiming(ctx, entry, j.record, j.regulation, now, cadence, dryRun)
}

func (s *SweepService) processSweeping(ctx context.Context, log *logrus.Entry, r *subscription.Record, sched *schedule.SweepingSchedule, now time.Time, cadence time.Duration, dryRun bool) bool {
	window, err := sched.NextWindow(now, s.loc)
	if err != nil {
		log.WithError(err).Warn("Could not resolve next sweep window")
		return false
	}
	if !window.Start.After(now) {
		log.Debug("Sweep already started")
		return false
	}

	idealNotifyAt := window.Start.Add(-r.Lead())
	log = log.WithField("ideal_notify_at", idealNotifyAt.Format(time.RFC3339))
	if alreadyNotified(r, idealNotifyAt) {
		log.Debug("Already notified for this sweep")
		return false
	}
	if !dueThisPass(idealNotifyAt, now, cadence) {
		log.Debug("Notification not due this pass")
		return false
	}

	msg := sweepingMessage(r, sched, window, s.loc)
	return s.deliver(ctx, log, r, msg, idealNotifyAt, dryRun, func(ctx context.Context) error {
		if s.claim {
			return nil // the claim already stored idealNotifyAt
		}
		return ignoreGone(s.subs.MarkNotified(ctx, r.DeviceToken, r.TargetID, idealNotifyAt))
	})
}

func (s *SweepService) processTiming(ctx context.Context, log *logrus.Entry, r *subscription.Record, reg *schedule.ParkingRegulation, now time.Time, cadence time.Duration, dryRun bool) bool {
	if !reg.TimingEligible() {
		log.Debug("Regulation is not time limited")
		return false
	}
	deadline, err := reg.MoveDeadline(r.CreatedAt, s.loc)
	if err != nil {
		log.WithError(err).Warn("Could not compute move deadline")
		return false
	}
	if !deadline.After(now) {
		log.Debug("Move deadline already passed")
		return false
	}

	idealNotifyAt := deadline.Add(-r.Lead())
	log = log.WithField("ideal_notify_at", idealNotifyAt.Format(time.RFC3339))
	// Timing subscriptions fire once; a stored timestamp means the record
	// is only waiting to be deleted.
	if r.LastNotifiedAt.Valid {
		log.Debug("Timing reminder already sent, pending cleanup")
		return false
	}
	if !dueThisPass(idealNotifyAt, now, cadence) {
		log.Debug("Notification not due this pass")
		return false
	}

	msg := timingMessage(reg, deadline, s.loc)
	return s.deliver(ctx, log, r, msg, idealNotifyAt, dryRun, func(ctx context.Context) error {
		return ignoreGone(s.subs.Delete(ctx, r.DeviceToken, r.TargetID))
	})
}

// deliver claims (when enabled), sends, and persists. persist runs only
// after a successful real send.
func (s *SweepService) deliver(ctx context.Context, log *logrus.Entry, r *subscription.Record, msg push.Message, idealNotifyAt time.Time, dryRun bool, persist func(context.Context) error) bool {
	claimed := false
	if s.claim && !dryRun {
		ok, err := s.subs.Claim(ctx, r.DeviceToken, r.TargetID, idealNotifyAt)
		if err != nil {
			log.WithError(err).Error("Failed to claim subscription")
			return false
		}
		if !ok {
			log.Info("Subscription claimed by another pass, skipping")
			return false
		}
		claimed = true
	}

	if err := s.send(ctx, log, r, msg, dryRun); err != nil {
		log.WithError(err).Error("Failed to send push notification")
		if claimed {
			if errRelease := s.subs.ReleaseClaim(ctx, r.DeviceToken, r.TargetID, idealNotifyAt, r.LastNotifiedAt); errRelease != nil {
				log.WithError(errRelease).Error("Failed to release claim after send failure")
			}
		}
		return false
	}

	if dryRun {
		return true
	}
	if err := persist(ctx); err != nil {
		log.WithError(err).Error("Push sent but failed to persist notification state")
		return false
	}
	log.Info("Push notification sent")
	return true
}

func (s *SweepService) send(ctx context.Context, log *logrus.Entry, r *subscription.Record, msg push.Message, dryRun bool) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send rate limiter: %w", err)
		}
	}
	if s.sender == nil {
		log.WithFields(logrus.Fields{"title": msg.Title, "data": msg.Data}).Info("DRY RUN: would send push notification")
		return nil
	}
	return s.sender.SendPush(ctx, r.DeviceToken, msg, dryRun)
}

// alreadyNotified reports whether the stored timestamp already covers the
// occurrence whose ideal notification instant is idealNotifyAt.
func alreadyNotified(r *subscription.Record, idealNotifyAt time.Time) bool {
	return r.LastNotifiedAt.Valid && !r.LastNotifiedAt.Time.Before(idealNotifyAt)
}

// dueThisPass reports whether idealNotifyAt lies in (now-cadence, now].
func dueThisPass(idealNotifyAt, now time.Time, cadence time.Duration) bool {
	return idealNotifyAt.After(now.Add(-cadence)) && !idealNotifyAt.After(now)
}

// ignoreGone treats a subscription removed mid-pass as persisted.
func ignoreGone(err error) error {
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil
	}
	return err
}

func recordLogger(log *logrus.Entry, r *subscription.Record) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"device_token":      shortToken(r.DeviceToken),
		"target_id":         r.TargetID,
		"subscription_type": string(r.Type),
	})
}

func shortToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
