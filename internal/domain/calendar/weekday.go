// Package calendar holds the recurrence and parking-deadline arithmetic.
// Every function takes the civil *time.Location explicitly.
package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekday is a canonical day of the week, Monday=0 through Sunday=6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// Valid reports whether d is one of the seven canonical values.
func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

// WeekdayOf returns the canonical weekday of t as read in t's own location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// WeekdaySet is an unordered set of weekdays.
type WeekdaySet map[Weekday]struct{}

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...Weekday) WeekdaySet {
	s := make(WeekdaySet, len(days))
	for _, d := range days {
		s[d] = struct{}{}
	}
	return s
}

func (s WeekdaySet) Contains(d Weekday) bool {
	_, ok := s[d]
	return ok
}

// Sorted returns the members Monday first.
func (s WeekdaySet) Sorted() []Weekday {
	out := make([]Weekday, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var dayRanges = map[string][]Weekday{
	"m-f":  {Monday, Tuesday, Wednesday, Thursday, Friday},
	"m-sa": {Monday, Tuesday, Wednesday, Thursday, Friday, Saturday},
	"m-su": {Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday},
}

// ParseDayRange maps a regulation day-range token ("M-F", "M-Sa", "M-Su",
// case-insensitive) to its weekday set.
func ParseDayRange(token string) (WeekdaySet, error) {
	days, ok := dayRanges[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedPattern, token)
	}
	return NewWeekdaySet(days...), nil
}

// Labels observed in the street sweeping dataset.
var weekdayLabels = map[string]Weekday{
	"mon":       Monday,
	"monday":    Monday,
	"tue":       Tuesday,
	"tues":      Tuesday,
	"tuesday":   Tuesday,
	"wed":       Wednesday,
	"weds":      Wednesday,
	"wednesday": Wednesday,
	"thu":       Thursday,
	"thur":      Thursday,
	"thurs":     Thursday,
	"thursday":  Thursday,
	"fri":       Friday,
	"friday":    Friday,
	"sat":       Saturday,
	"saturday":  Saturday,
	"sun":       Sunday,
	"sunday":    Sunday,
}

// holidayLabel marks a schedule row that only applies on public holidays.
const holidayLabel = "holiday"

// ParseWeekdayLabel resolves a dataset weekday label such as "Tues".
func ParseWeekdayLabel(label string) (Weekday, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == holidayLabel {
		return 0, ErrHolidayOnlySchedule
	}
	d, ok := weekdayLabels[normalized]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, label)
	}
	return d, nil
}
