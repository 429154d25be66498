package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"sweep_notifier/internal/domain/push"
	"sweep_notifier/internal/domain/schedule"
	"sweep_notifier/internal/domain/subscription"

	"github.com/sirupsen/logrus"
)

func pacific(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type subKey struct {
	token  string
	target int64
}

// memSubs is an in-memory subscription.Repository. It hands out copies so
// callers observe the same isolation a database gives them.
type memSubs struct {
	mu      sync.Mutex
	records map[subKey]subscription.Record
	listErr error
	marked  int
	deleted int
}

func newMemSubs(records ...subscription.Record) *memSubs {
	m := &memSubs{records: make(map[subKey]subscription.Record)}
	for _, r := range records {
		m.records[subKey{r.DeviceToken, r.TargetID}] = r
	}
	return m
}

func (m *memSubs) get(token string, target int64) (subscription.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[subKey{token, target}]
	return r, ok
}

func (m *memSubs) List(ctx context.Context) ([]*subscription.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*subscription.Record, 0, len(m.records))
	for _, r := range m.records {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceToken != out[j].DeviceToken {
			return out[i].DeviceToken < out[j].DeviceToken
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}

func (m *memSubs) ListByDeviceToken(ctx context.Context, deviceToken string) ([]*subscription.Record, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*subscription.Record
	for _, r := range all {
		if r.DeviceToken == deviceToken {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSubs) Upsert(ctx context.Context, r *subscription.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *r
	stored.LastNotifiedAt = sql.NullTime{}
	m.records[subKey{r.DeviceToken, r.TargetID}] = stored
	return nil
}

func (m *memSubs) MarkNotified(ctx context.Context, deviceToken string, targetID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{deviceToken, targetID}
	r, ok := m.records[k]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	r.LastNotifiedAt = sql.NullTime{Time: at, Valid: true}
	m.records[k] = r
	m.marked++
	return nil
}

func (m *memSubs) Delete(ctx context.Context, deviceToken string, targetID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{deviceToken, targetID}
	if _, ok := m.records[k]; !ok {
		return subscription.ErrSubscriptionNotFound
	}
	delete(m.records, k)
	m.deleted++
	return nil
}

func (m *memSubs) Claim(ctx context.Context, deviceToken string, targetID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{deviceToken, targetID}
	r, ok := m.records[k]
	if !ok {
		return false, nil
	}
	if r.LastNotifiedAt.Valid && !r.LastNotifiedAt.Time.Before(at) {
		return false, nil
	}
	r.LastNotifiedAt = sql.NullTime{Time: at, Valid: true}
	m.records[k] = r
	return true, nil
}

func (m *memSubs) ReleaseClaim(ctx context.Context, deviceToken string, targetID int64, claimed time.Time, previous sql.NullTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{deviceToken, targetID}
	r, ok := m.records[k]
	if !ok || !r.LastNotifiedAt.Valid || !r.LastNotifiedAt.Time.Equal(claimed) {
		return nil
	}
	r.LastNotifiedAt = previous
	m.records[k] = r
	return nil
}

type scheduleStub struct {
	schedules   map[int64]*schedule.SweepingSchedule
	regulations map[int64]*schedule.ParkingRegulation
	err         error
}

func (s *scheduleStub) GetSchedulesByIDs(ctx context.Context, ids []int64) ([]*schedule.SweepingSchedule, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*schedule.SweepingSchedule
	for _, id := range ids {
		if v, ok := s.schedules[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *scheduleStub) GetRegulationsByIDs(ctx context.Context, ids []int64) ([]*schedule.ParkingRegulation, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*schedule.ParkingRegulation
	for _, id := range ids {
		if v, ok := s.regulations[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *scheduleStub) GetScheduleByID(ctx context.Context, id int64) (*schedule.SweepingSchedule, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.schedules[id]
	if !ok {
		return nil, schedule.ErrScheduleNotFound
	}
	return v, nil
}

func (s *scheduleStub) GetRegulationByID(ctx context.Context, id int64) (*schedule.ParkingRegulation, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.regulations[id]
	if !ok {
		return nil, schedule.ErrRegulationNotFound
	}
	return v, nil
}

type sentPush struct {
	token  string
	msg    push.Message
	dryRun bool
}

type senderStub struct {
	mu     sync.Mutex
	sent   []sentPush
	failOn map[string]bool
}

var errDeliveryFailed = errors.New("delivery failed")

func (s *senderStub) SendPush(ctx context.Context, deviceToken string, msg push.Message, dryRun bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[deviceToken] {
		return errDeliveryFailed
	}
	s.sent = append(s.sent, sentPush{token: deviceToken, msg: msg, dryRun: dryRun})
	return nil
}

func (s *senderStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
