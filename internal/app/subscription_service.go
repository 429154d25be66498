package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sweep_notifier/internal/domain/calendar"
	"sweep_notifier/internal/domain/schedule"
	"sweep_notifier/internal/domain/subscription"
)

var (
	ErrInvalidSubscription = errors.New("invalid subscription request")
	ErrTargetNotFound      = errors.New("subscription target does not exist")
)

// SubscribeRequest is what a client submits to start (or replace) a subscription.
type SubscribeRequest struct {
	DeviceToken string
	Platform    string
	Type        subscription.Type
	TargetID    int64
	LeadMinutes int
}

// Status is a stored subscription plus the next event it will fire for.
type Status struct {
	Record *subscription.Record
	// NextEvent is the next sweep start or move deadline. Zero when it
	// could not be computed; NextEventErr says why.
	NextEvent     time.Time
	NextEventErr  error
	Description   string
	IdealNotifyAt time.Time
}

type SubscriptionService struct {
	subs      subscription.Repository
	schedules schedule.Repository
	loc       *time.Location
	now       func() time.Time
}

func NewSubscriptionService(subs subscription.Repository, schedules schedule.Repository, loc *time.Location) *SubscriptionService {
	return &SubscriptionService{
		subs:      subs,
		schedules: schedules,
		loc:       loc,
		now:       time.Now,
	}
}

// Subscribe validates the request and upserts the record, which clears any
// previous notification state for the same device and target.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (*subscription.Record, error) {
	req.DeviceToken = strings.TrimSpace(req.DeviceToken)
	if req.DeviceToken == "" {
		return nil, fmt.Errorf("%w: device token is required", ErrInvalidSubscription)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSubscription, req.Type)
	}
	if req.LeadMinutes < 0 {
		return nil, fmt.Errorf("%w: lead minutes must not be negative", ErrInvalidSubscription)
	}

	switch req.Type {
	case subscription.TypeSweeping:
		if _, err := s.schedules.GetScheduleByID(ctx, req.TargetID); err != nil {
			return nil, s.targetErr(err, "schedule", req.TargetID)
		}
	case subscription.TypeTiming:
		reg, err := s.schedules.GetRegulationByID(ctx, req.TargetID)
		if err != nil {
			return nil, s.targetErr(err, "regulation", req.TargetID)
		}
		if !reg.TimingEligible() {
			return nil, fmt.Errorf("%w: regulation %d: %v", ErrInvalidSubscription, req.TargetID, schedule.ErrNotTimeLimited)
		}
	}

	now := s.now()
	record := &subscription.Record{
		DeviceToken: req.DeviceToken,
		Platform:    req.Platform,
		Type:        req.Type,
		TargetID:    req.TargetID,
		LeadMinutes: req.LeadMinutes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.subs.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	return record, nil
}

// Status lists a device's subscriptions with their next event.
func (s *SubscriptionService) Status(ctx context.Context, deviceToken string) ([]Status, error) {
	records, err := s.subs.ListByDeviceToken(ctx, deviceToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for device: %w", err)
	}
	now := s.now()
	out := make([]Status, 0, len(records))
	for _, r := range records {
		st := Status{Record: r}
		switch r.Type {
		case subscription.TypeSweeping:
			st.NextEvent, st.Description, st.NextEventErr = s.nextSweep(ctx, r.TargetID, now)
		case subscription.TypeTiming:
			st.NextEvent, st.Description, st.NextEventErr = s.nextDeadline(ctx, r)
		default:
			st.NextEventErr = fmt.Errorf("unknown subscription type %q", r.Type)
		}
		if st.NextEventErr == nil {
			st.IdealNotifyAt = st.NextEvent.Add(-r.Lead())
		}
		out = append(out, st)
	}
	return out, nil
}

// Unsubscribe removes the subscription for deviceToken and targetID.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, deviceToken string, targetID int64) error {
	if err := s.subs.Delete(ctx, deviceToken, targetID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionService) nextSweep(ctx context.Context, id int64, now time.Time) (time.Time, string, error) {
	sched, err := s.schedules.GetScheduleByID(ctx, id)
	if err != nil {
		return time.Time{}, "", err
	}
	window, err := sched.NextWindow(now, s.loc)
	if err != nil {
		return time.Time{}, sched.FullName, err
	}
	desc := sched.FullName
	if rule, errRule := sched.LegacySchedule.Rule(); errRule == nil {
		desc = calendar.Describe(rule)
	}
	return window.Start, desc, nil
}

func (s *SubscriptionService) nextDeadline(ctx context.Context, r *subscription.Record) (time.Time, string, error) {
	reg, err := s.schedules.GetRegulationByID(ctx, r.TargetID)
	if err != nil {
		return time.Time{}, "", err
	}
	deadline, err := reg.MoveDeadline(r.CreatedAt, s.loc)
	if err != nil {
		return time.Time{}, reg.Regulation, err
	}
	return deadline, fmt.Sprintf("%s, %d-hour limit %s", reg.Regulation, reg.HourLimit.Int64, reg.Days.String), nil
}

func (s *SubscriptionService) targetErr(err error, kind string, id int64) error {
	if errors.Is(err, schedule.ErrScheduleNotFound) || errors.Is(err, schedule.ErrRegulationNotFound) {
		return fmt.Errorf("%w: %s %d", ErrTargetNotFound, kind, id)
	}
	return fmt.Errorf("failed to look up %s %d: %w", kind, id, err)
}
