package schedule

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"sweep_notifier/internal/domain/calendar"
)

var (
	ErrScheduleNotFound   = errors.New("sweeping schedule not found")
	ErrRegulationNotFound = errors.New("parking regulation not found")
	// ErrNotTimeLimited is returned for a regulation that lacks any of the
	// fields needed to compute a move deadline.
	ErrNotTimeLimited = errors.New("regulation is not time limited")
)

// SweepingSchedule is one row of the street sweeping dataset: the flat
// recurrence record plus where on the street it applies.
// Corresponds to the 'schedules' table.
type SweepingSchedule struct {
	BlockSweepID int64
	CNN          int64
	Corridor     string
	Limits       string
	CNNRightLeft string         // "L" or "R" side of the centerline
	BlockSide    sql.NullString // e.g. "North", "SouthEast"
	FullName     string         // plaintext schedule, e.g. "Tue 1st, 3rd, 5th"
	calendar.LegacySchedule
}

// Location renders the street placement, e.g. "Mission St (16th St - 17th St) - West side".
func (s *SweepingSchedule) Location() string {
	parts := []string{s.Corridor}
	if s.Limits != "" {
		parts = append(parts, "("+s.Limits+")")
	}
	if s.BlockSide.Valid && s.BlockSide.String != "" {
		parts = append(parts, "- "+s.BlockSide.String+" side")
	}
	return strings.Join(parts, " ")
}

// NextWindow resolves the next sweeping window after now.
func (s *SweepingSchedule) NextWindow(now time.Time, loc *time.Location) (calendar.Occurrence, error) {
	return calendar.NextSweepWindow(s.LegacySchedule, now, loc)
}

// ParkingRegulation is a curb regulation row. Only time-limited regulations
// carry all of Days, HoursBegin, HoursEnd and HourLimit.
// Corresponds to the 'parking_regulations' table.
type ParkingRegulation struct {
	ID           int64
	Regulation   string         // 'Time limited', 'No parking any time', ...
	Days         sql.NullString // 'M-F', 'M-Sa', 'M-Su'
	HoursBegin   sql.NullInt64  // military, 900 = 9:00 AM
	HoursEnd     sql.NullInt64  // military, 1800 = 6:00 PM
	HourLimit    sql.NullInt64
	Neighborhood sql.NullString
}

// TimingEligible reports whether a move deadline can be computed.
func (r *ParkingRegulation) TimingEligible() bool {
	return r.Days.Valid && r.HoursBegin.Valid && r.HoursEnd.Valid && r.HourLimit.Valid
}

// MoveDeadline computes the move-by instant for a vehicle parked at parkedAt.
func (r *ParkingRegulation) MoveDeadline(parkedAt time.Time, loc *time.Location) (time.Time, error) {
	if !r.TimingEligible() {
		return time.Time{}, ErrNotTimeLimited
	}
	return calendar.NextMoveDeadline(
		r.Days.String,
		int(r.HoursBegin.Int64),
		int(r.HoursEnd.Int64),
		int(r.HourLimit.Int64),
		parkedAt,
		loc,
	)
}
