package calendar

import (
	"time"
)

// NextMoveDeadline returns the instant by which a vehicle parked at parkedAt
// must move under a time-limited regulation active on the days token between
// hoursBegin and hoursEnd (military notation) for hourLimit hours.
//
// When parkedAt falls inside today's window and the limit expires no later
// than the window end, the deadline is parkedAt plus the limit. Otherwise the
// clock starts at the window opening of the next regulated date.
func NextMoveDeadline(days string, hoursBegin, hoursEnd, hourLimit int, parkedAt time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		return time.Time{}, ErrMissingLocation
	}
	regulated, err := ParseDayRange(days)
	if err != nil {
		return time.Time{}, err
	}
	begin, err := ClockFromMilitary(hoursBegin)
	if err != nil {
		return time.Time{}, err
	}
	end, err := ClockFromMilitary(hoursEnd)
	if err != nil {
		return time.Time{}, err
	}
	if hourLimit <= 0 {
		return time.Time{}, ErrInvalidHourLimit
	}

	limit := time.Duration(hourLimit) * time.Hour
	civil := parkedAt.In(loc)
	candidate := parkedAt.Add(limit)

	if regulated.Contains(WeekdayOf(civil)) {
		windowStart := begin.On(civil, loc)
		windowEnd := end.On(civil, loc)
		inWindow := !civil.Before(windowStart) && !civil.After(windowEnd)
		if inWindow && !candidate.After(windowEnd) {
			return candidate, nil
		}
	}

	// Noon keeps the date arithmetic clear of DST transitions.
	y, m, d := civil.Date()
	for i := 1; i <= 7; i++ {
		day := time.Date(y, m, d+i, 12, 0, 0, 0, loc)
		if regulated.Contains(WeekdayOf(day)) {
			return begin.On(day, loc).Add(limit), nil
		}
	}
	return time.Time{}, ErrNoOccurrenceFound
}
