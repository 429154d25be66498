package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sweep_notifier/internal/domain/calendar"
	"sweep_notifier/internal/domain/schedule"
	"sweep_notifier/internal/domain/subscription"
)

const (
	sweepID      = 101
	regulationID = 7
)

func fixtures() *scheduleStub {
	return &scheduleStub{
		schedules: map[int64]*schedule.SweepingSchedule{
			sweepID: {
				BlockSweepID: sweepID,
				Corridor:     "Mission St",
				Limits:       "16th St - 17th St",
				BlockSide:    sql.NullString{String: "West", Valid: true},
				FullName:     "Mon 1st",
				// Jan 6 2025 is the first Monday of the month.
				LegacySchedule: calendar.LegacySchedule{WeekDay: "Mon", FromHour: 8, ToHour: 10, Week1: true},
			},
		},
		regulations: map[int64]*schedule.ParkingRegulation{
			regulationID: {
				ID:           regulationID,
				Regulation:   "Time limited",
				Days:         sql.NullString{String: "M-F", Valid: true},
				HoursBegin:   sql.NullInt64{Int64: 900, Valid: true},
				HoursEnd:     sql.NullInt64{Int64: 1800, Valid: true},
				HourLimit:    sql.NullInt64{Int64: 2, Valid: true},
				Neighborhood: sql.NullString{String: "Mission", Valid: true},
			},
			8: {ID: 8, Regulation: "No overnight parking"},
		},
	}
}

func sweepingRecord() subscription.Record {
	return subscription.Record{DeviceToken: "tok-a", Platform: "ios", Type: subscription.TypeSweeping, TargetID: sweepID, LeadMinutes: 60}
}

func timingRecord(loc *time.Location) subscription.Record {
	return subscription.Record{
		DeviceToken: "tok-b",
		Platform:    "android",
		Type:        subscription.TypeTiming,
		TargetID:    regulationID,
		LeadMinutes: 15,
		// Thursday Jan 2 2025 16:00, deadline 18:00.
		CreatedAt: time.Date(2025, time.January, 2, 16, 0, 0, 0, loc),
	}
}

func newService(subs subscription.Repository, sender *senderStub, loc *time.Location, opts SweepOptions) *SweepService {
	if sender == nil {
		return NewSweepService(subs, fixtures(), nil, loc, quietLogger(), opts)
	}
	return NewSweepService(subs, fixtures(), sender, loc, quietLogger(), opts)
}

func TestSweepServiceSendsSweepingOncePerOccurrence(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	subs := newMemSubs(sweepingRecord())
	sender := &senderStub{}
	svc := newService(subs, sender, loc, SweepOptions{Workers: 2})
	now := time.Date(2025, time.January, 6, 7, 30, 0, 0, loc)

	res, err := svc.Run(context.Background(), now, 60, false)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 1 || res.Skipped != 0 {
		t.Fatalf("first pass = %+v, want 1 sent", res)
	}
	if res.RunID == "" {
		t.Fatal("RunID is empty")
	}

	got := sender.sent[0]
	if got.token != "tok-a" || got.dryRun {
		t.Fatalf("unexpected send: %+v", got)
	}
	if got.msg.Title != "Street sweeping on Mission St in 60 minutes!" {
		t.Fatalf("Title = %q", got.msg.Title)
	}
	if got.msg.Body != "Mission St (16th St - 17th St) - West side: 8:00 AM - 10:00 AM" {
		t.Fatalf("Body = %q", got.msg.Body)
	}
	if got.msg.Data["schedule_block_sweep_id"] != "101" || got.msg.Data["next_sweep_start"] != "2025-01-06T08:00:00-08:00" {
		t.Fatalf("Data = %v", got.msg.Data)
	}

	stored, _ := subs.get("tok-a", sweepID)
	ideal := time.Date(2025, time.January, 6, 7, 0, 0, 0, loc)
	if !stored.LastNotifiedAt.Valid || !stored.LastNotifiedAt.Time.Equal(ideal) {
		t.Fatalf("LastNotifiedAt = %v, want %v", stored.LastNotifiedAt, ideal)
	}

	// Same pass window again: already covered.
	res, err = svc.Run(context.Background(), now.Add(10*time.Minute), 60, false)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 0 || res.Skipped != 1 || sender.count() != 1 {
		t.Fatalf("second pass = %+v, sends %d; want deduplicated", res, sender.count())
	}
}

func TestSweepServiceCadenceWindow(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	ideal := time.Date(2025, time.January, 6, 7, 0, 0, 0, loc)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{name: "ideal equals now", now: ideal, want: 1},
		{name: "inside window", now: ideal.Add(59 * time.Minute), want: 1},
		{name: "ideal at lower bound is excluded", now: ideal.Add(60 * time.Minute), want: 0},
		{name: "before ideal", now: ideal.Add(-time.Minute), want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sender := &senderStub{}
			svc := newService(newMemSubs(sweepingRecord()), sender, loc, SweepOptions{})
			res, err := svc.Run(context.Background(), tt.now, 60, false)
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if res.Sent != tt.want || sender.count() != tt.want {
				t.Fatalf("Sent = %d (sender %d), want %d", res.Sent, sender.count(), tt.want)
			}
		})
	}
}

func TestSweepServiceNewOccurrenceAfterOldNotification(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	r := sweepingRecord()
	// Notified for December's sweep.
	r.LastNotifiedAt = sql.NullTime{Time: time.Date(2024, time.December, 2, 7, 0, 0, 0, loc), Valid: true}
	sender := &senderStub{}
	svc := newService(newMemSubs(r), sender, loc, SweepOptions{})

	res, err := svc.Run(context.Background(), time.Date(2025, time.January, 6, 7, 5, 0, 0, loc), 60, false)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("Sent = %d, want 1", res.Sent)
	}
}

func TestSweepServiceTimingIsOneShot(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	subs := newMemSubs(timingRecord(loc))
	sender := &senderStub{}
	svc := newService(subs, sender, loc, SweepOptions{})
	now := time.Date(2025, time.January, 2, 17, 50, 0, 0, loc)

	res, err := svc.Run(context.Background(), now, 60, false)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("Sent = %d, want 1", res.Sent)
	}
	msg := sender.sent[0].msg
	if msg.Title != "Move your car by 6:00 PM" || msg.Body != "Mission: 2-hour limit" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Data["regulation_id"] != "7" || msg.Data["move_deadline"] != "2025-01-02T18:00:00-08:00" {
		t.Fatalf("Data = %v", msg.Data)
	}

	if _, ok := subs.get("tok-b", regulationID); ok {
		t.Fatal("timing subscription should be deleted after sending")
	}
	remaining, _ := subs.List(context.Background())
	if len(remaining) != 0 {
		t.Fatalf("List returned %d records, want 0", len(remaining))
	}
}

func TestSweepServiceTimingPendingCleanup(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	r := timingRecord(loc)
	r.LastNotifiedAt = sql.NullTime{Time: time.Date(2025, time.January, 2, 17, 45, 0, 0, loc), Valid: true}
	sender := &senderStub{}
	svc := newService(newMemSubs(r), sender, loc, SweepOptions{})

	res, err := svc.Run(context.Background(), time.Date(2025, time.January, 2, 17, 50, 0, 0, loc), 60, false)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 0 || res.Skipped != 1 || sender.count() != 0 {
		t.Fatalf("result = %+v, want skipped", res)
	}
}

func TestSweepServiceDryRunPersistsNothing(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	now := time.Date(2025, time.January, 6, 7, 30, 0, 0, loc)
	timing := timingRecord(loc)
	// Monday Jan 6 10:00, deadline 12:00, ideal 11:45.
	timing.CreatedAt = time.Date(2025, time.January, 6, 10, 0, 0, 0, loc)
	timing.LeadMinutes = 300

	subs := newMemSubs(sweepingRecord(), timing)
	sender := &senderStub{}
	svc := newService(subs, sender, loc, SweepOptions{})

	res, err := svc.Run(context.Background(), now, 60, true)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 2 || !res.DryRun {
		t.Fatalf("result = %+v, want 2 would-be sends", res)
	}
	for _, s := range sender.sent {
		if !s.dryRun {
			t.Fatalf("send to %s was not a dry run", s.token)
		}
	}
	if subs.marked != 0 || subs.deleted != 0 {
		t.Fatalf("dry run persisted: marked=%d deleted=%d", subs.marked, subs.deleted)
	}

	// Dry runs are repeatable.
	res, err = svc.Run(context.Background(), now, 60, true)
	if err != nil || res.Sent != 2 {
		t.Fatalf("second dry run = %+v, %v", res, err)
	}
}

func TestSweepServiceDryRunWithoutSender(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	svc := newService(newMemSubs(sweepingRecord()), nil, loc, SweepOptions{})
	now := time.Date(2025, time.January, 6, 7, 30, 0, 0, loc)

	res, err := svc.Run(context.Background(), now, 60, true)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("Sent = %d, want 1", res.Sent)
	}

	if _, err := svc.Run(context.Background(), now, 60, false); !errors.Is(err, ErrPushUnavailable) {
		t.Fatalf("error = %v, want %v", err, ErrPushUnavailable)
	}
}

func TestSweepServiceFatalErrors(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	now := time.Date(2025, time.January, 6, 7, 30, 0, 0, loc)
	ctx := context.Background()

	svc := newService(newMemSubs(), &senderStub{}, loc, SweepOptions{})
	for _, cadence := range []int{0, -5} {
		if _, err := svc.Run(ctx, now, cadence, false); !errors.Is(err, ErrInvalidCadence) {
			t.Fatalf("cadence %d: error = %v, want %v", cadence, err, ErrInvalidCadence)
		}
	}

	storeDown := errors.New("connection refused")
	subs := newMemSubs()
	subs.listErr = storeDown
	svc = newService(subs, &senderStub{}, loc, SweepOptions{})
	if _, err := svc.Run(ctx, now, 60, false); !errors.Is(err, storeDown) {
		t.Fatalf("error = %v, want %v", err, storeDown)
	}

	stub := fixtures()
	stub.err = storeDown
	svc = NewSweepService(newMemSubs(sweepingRecord()), stub, &senderStub{}, loc, quietLogger(), SweepOptions{})
	if _, err := svc.Run(ctx, now, 60, false); !errors.Is(err, storeDown) {
		t.Fatalf("error = %v, want %v", err, storeDown)
	}
}

func TestSweepServiceSkipsPerItemFailures(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	now := time.Date(2025, time.January, 6, 7, 30, 0, 0, loc)

	failing := sweepingRecord()
	failing.DeviceToken = "tok-fail"
	missing := sweepingRecord()
	missing.DeviceToken = "tok-missing"
	missing.TargetID = 999
	unknown := sweepingRecord()
	unknown.DeviceToken = "tok-unknown"
	unknown.Type = "carpool"
	notLimited := timingRecord(loc)
	notLimited.TargetID = 8

	subs := newMemSubs(sweepingRecord(), failing, missing, unknown, notLimited)
	sender := &senderStub{failOn: map[string]bool{"tok-fail": true}}
	svc := newService(subs, sender, loc, SweepOptions{Workers: 3})

	res, err := svc.Run(context.Background(), now, 60, false)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 1 || res.Skipped != 4 {
		t.Fatalf("result = %+v, want 1 sent 4 skipped", res)
	}
	stored, _ := subs.get("tok-fail", sweepID)
	if stored.LastNotifiedAt.Valid {
		t.Fatal("failed send must not be marked notified")
	}
}

func TestSweepServiceClaimReleasedOnFailure(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	subs := newMemSubs(sweepingRecord())
	sender := &senderStub{failOn: map[string]bool{"tok-a": true}}
	svc := newService(subs, sender, loc, SweepOptions{ClaimBeforeSend: true})
	now := time.Date(2025, time.January, 6, 7, 30, 0, 0, loc)

	res, err := svc.Run(context.Background(), now, 60, false)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Sent != 0 || res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
	stored, _ := subs.get("tok-a", sweepID)
	if stored.LastNotifiedAt.Valid {
		t.Fatalf("claim not released: %v", stored.LastNotifiedAt)
	}

	// A later pass inside the same window retries.
	sender.failOn = nil
	res, err = svc.Run(context.Background(), now.Add(5*time.Minute), 60, false)
	if err != nil || res.Sent != 1 {
		t.Fatalf("retry = %+v, %v", res, err)
	}
}

func TestSweepServiceOverlappingPassesWithClaim(t *testing.T) {
	t.Parallel()
	loc := pacific(t)
	now := time.Date(2025, time.January, 6, 7, 30, 0, 0, loc)

	var records []subscription.Record
	for i := 0; i < 20; i++ {
		r := sweepingRecord()
		r.DeviceToken = fmt.Sprintf("tok-%02d", i)
		records = append(records, r)
	}
	subs := newMemSubs(records...)
	sender := &senderStub{}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc := newService(subs, sender, loc, SweepOptions{Workers: 4, ClaimBeforeSend: true})
			if _, err := svc.Run(context.Background(), now, 60, false); err != nil {
				t.Errorf("Run error: %v", err)
			}
		}()
	}
	wg.Wait()

	if sender.count() != len(records) {
		t.Fatalf("sends = %d, want exactly %d", sender.count(), len(records))
	}
}

func TestDueThisPass(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.January, 6, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ideal time.Time
		want  bool
	}{
		{ideal: now, want: true},
		{ideal: now.Add(-time.Second), want: true},
		{ideal: now.Add(-30 * time.Minute), want: false},
		{ideal: now.Add(time.Second), want: false},
	}
	for _, tt := range tests {
		if got := dueThisPass(tt.ideal, now, 30*time.Minute); got != tt.want {
			t.Fatalf("dueThisPass(%v) = %v, want %v", tt.ideal, got, tt.want)
		}
	}
}

func TestShortToken(t *testing.T) {
	t.Parallel()
	if got := shortToken("abc"); got != "abc" {
		t.Fatalf("shortToken = %q", got)
	}
	if got := shortToken("fcm-token-0123456789"); got != "fcm-token-01..." {
		t.Fatalf("shortToken = %q", got)
	}
}
