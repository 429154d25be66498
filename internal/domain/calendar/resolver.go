package calendar

import (
	"time"
)

// ScanMonths bounds how many calendar months the resolver inspects,
// starting with the month containing "now".
const ScanMonths = 13

// Occurrence is a resolved [Start, End) window.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// NextOccurrence returns the earliest occurrence of rule whose start is
// strictly after now, computed in civil time for loc.
func NextOccurrence(rule Rule, now time.Time, loc *time.Location) (Occurrence, error) {
	if loc == nil {
		return Occurrence{}, ErrMissingLocation
	}
	if err := rule.Validate(); err != nil {
		return Occurrence{}, err
	}

	civilNow := now.In(loc)
	weeks := rule.activeWeeks()
	days := rule.Weekdays.Sorted()

	for offset := 0; offset < ScanMonths; offset++ {
		monthStart := time.Date(civilNow.Year(), civilNow.Month()+time.Month(offset), 1, 0, 0, 0, 0, loc)
		year, month := monthStart.Year(), monthStart.Month()

		var best Occurrence
		found := false
		for _, day := range days {
			for _, week := range weeks {
				dom, ok := nthWeekday(year, month, day, week, loc)
				if !ok {
					continue
				}
				occ := windowOn(year, month, dom, rule.Window, loc)
				if !occ.Start.After(now) {
					continue
				}
				if !found || occ.Start.Before(best.Start) {
					best = occ
					found = true
				}
			}
		}
		// Every candidate in a later month starts after every candidate in
		// this one, so the first month with a match holds the answer.
		if found {
			return best, nil
		}
	}
	return Occurrence{}, ErrNoOccurrenceFound
}

// NextSweepWindow resolves a flat schedule record.
func NextSweepWindow(schedule LegacySchedule, now time.Time, loc *time.Location) (Occurrence, error) {
	rule, err := schedule.Rule()
	if err != nil {
		return Occurrence{}, err
	}
	return NextOccurrence(rule, now, loc)
}

// EarliestOccurrence resolves every rule and returns the earliest start.
// Rules that fail to resolve are ignored; the first error is returned only
// when none resolve.
func EarliestOccurrence(rules []Rule, now time.Time, loc *time.Location) (Occurrence, error) {
	var (
		best     Occurrence
		found    bool
		firstErr error
	)
	for _, rule := range rules {
		occ, err := NextOccurrence(rule, now, loc)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !found || occ.Start.Before(best.Start) {
			best = occ
			found = true
		}
	}
	if !found {
		if firstErr == nil {
			firstErr = ErrEmptyWeekdaySet
		}
		return Occurrence{}, firstErr
	}
	return best, nil
}

// nthWeekday returns the day of month of the n-th (1-based) occurrence of
// day in the given month, or false when the month has fewer occurrences.
func nthWeekday(year int, month time.Month, day Weekday, n int, loc *time.Location) (int, bool) {
	first := WeekdayOf(time.Date(year, month, 1, 12, 0, 0, 0, loc))
	dom := 1 + (int(day)-int(first)+7)%7 + 7*(n-1)
	daysInMonth := time.Date(year, month+1, 0, 12, 0, 0, 0, loc).Day()
	if dom > daysInMonth {
		return 0, false
	}
	return dom, true
}

func windowOn(year int, month time.Month, dom int, w TimeWindow, loc *time.Location) Occurrence {
	start := time.Date(year, month, dom, w.Start.Hour, w.Start.Minute, 0, 0, loc)
	endDay := dom
	if w.CrossesMidnight() {
		endDay++
	}
	end := time.Date(year, month, endDay, w.End.Hour, w.End.Minute, 0, 0, loc)
	return Occurrence{Start: start, End: end}
}
