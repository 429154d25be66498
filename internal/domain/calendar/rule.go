package calendar

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a civil wall-clock reading with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (24-hour).
func ParseClockTime(raw string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClockTime, raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClockTime, raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClockTime, raw)
	}
	c := ClockTime{Hour: h, Minute: m}
	if !c.Valid() {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClockTime, raw)
	}
	return c, nil
}

// ClockFromMilitary converts military notation (900, 1830) to a ClockTime.
func ClockFromMilitary(military int) (ClockTime, error) {
	c := ClockTime{Hour: military / 100, Minute: military % 100}
	if military < 0 || !c.Valid() {
		return ClockTime{}, fmt.Errorf("%w: military time %d", ErrInvalidClockTime, military)
	}
	return c, nil
}

func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

// Before reports whether c is strictly earlier in the day than o.
func (c ClockTime) Before(o ClockTime) bool {
	return c.minutes() < o.minutes()
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant at clock time c on the civil date of day in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// TimeWindow is a clock-time range. An End at or before Start means the
// window ends on the following civil date.
type TimeWindow struct {
	Start ClockTime
	End   ClockTime
}

// CrossesMidnight reports whether the window ends on the next civil date.
func (w TimeWindow) CrossesMidnight() bool {
	return !w.Start.Before(w.End)
}

// allWeeks is what a rule without an explicit week set resolves against.
var allWeeks = []int{1, 2, 3, 4, 5}

// Rule is the canonical recurrence: which weekday occurrences in a month,
// within a clock-time window.
type Rule struct {
	Weekdays WeekdaySet
	// WeeksOfMonth holds ordinals 1-5. Empty means every week.
	WeeksOfMonth []int
	Window       TimeWindow
	// SkipHolidays is carried for callers; resolution ignores it.
	SkipHolidays bool
}

// Validate checks the rule invariants.
func (r Rule) Validate() error {
	if len(r.Weekdays) == 0 {
		return ErrEmptyWeekdaySet
	}
	for d := range r.Weekdays {
		if !d.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownWeekday, int(d))
		}
	}
	for _, w := range r.WeeksOfMonth {
		if w < 1 || w > 5 {
			return fmt.Errorf("%w: %d", ErrInvalidWeekOfMonth, w)
		}
	}
	if !r.Window.Start.Valid() || !r.Window.End.Valid() {
		return fmt.Errorf("%w: window %s-%s", ErrInvalidClockTime, r.Window.Start, r.Window.End)
	}
	return nil
}

// activeWeeks returns the sorted, de-duplicated week ordinals.
func (r Rule) activeWeeks() []int {
	if len(r.WeeksOfMonth) == 0 {
		return allWeeks
	}
	seen := make(map[int]struct{}, len(r.WeeksOfMonth))
	out := make([]int, 0, len(r.WeeksOfMonth))
	for _, w := range r.WeeksOfMonth {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}

// LegacySchedule is the flat street-sweeping record: one weekday label, an
// hour range and five independent week flags.
type LegacySchedule struct {
	WeekDay  string
	FromHour int
	ToHour   int
	Week1    bool
	Week2    bool
	Week3    bool
	Week4    bool
	Week5    bool
	Holidays bool
}

// Rule converts the flat record to the canonical representation.
func (s LegacySchedule) Rule() (Rule, error) {
	day, err := ParseWeekdayLabel(s.WeekDay)
	if err != nil {
		return Rule{}, err
	}

	var weeks []int
	for i, active := range []bool{s.Week1, s.Week2, s.Week3, s.Week4, s.Week5} {
		if active {
			weeks = append(weeks, i+1)
		}
	}
	if len(weeks) == 0 {
		if s.Holidays {
			return Rule{}, ErrHolidayOnlySchedule
		}
		return Rule{}, ErrNoActiveWeeks
	}

	window := TimeWindow{
		Start: ClockTime{Hour: s.FromHour},
		End:   ClockTime{Hour: s.ToHour},
	}
	if !window.Start.Valid() || !window.End.Valid() {
		return Rule{}, fmt.Errorf("%w: hours %d-%d", ErrInvalidClockTime, s.FromHour, s.ToHour)
	}

	return Rule{
		Weekdays:     NewWeekdaySet(day),
		WeeksOfMonth: weeks,
		Window:       window,
		SkipHolidays: s.Holidays,
	}, nil
}

var ordinals = map[int]string{1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 5: "5th"}

// Describe renders a rule for people, e.g. "Every 1st and 3rd Monday at 8am-10am".
func Describe(r Rule) string {
	var b strings.Builder
	b.WriteString("Every ")

	weeks := r.activeWeeks()
	if len(weeks) < len(allWeeks) {
		names := make([]string, len(weeks))
		for i, w := range weeks {
			names[i] = ordinals[w]
		}
		switch len(names) {
		case 1:
			b.WriteString(names[0])
		case 2:
			b.WriteString(names[0] + " and " + names[1])
		default:
			b.WriteString(strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1])
		}
		b.WriteString(" ")
	}

	days := r.Weekdays.Sorted()
	dayNames := make([]string, len(days))
	for i, d := range days {
		dayNames[i] = d.String()
	}
	b.WriteString(strings.Join(dayNames, ", "))
	b.WriteString(" at ")
	b.WriteString(formatClock(r.Window.Start))
	b.WriteString("-")
	b.WriteString(formatClock(r.Window.End))
	return b.String()
}

func formatClock(c ClockTime) string {
	suffix := "am"
	h := c.Hour
	if h >= 12 {
		suffix = "pm"
	}
	switch {
	case h == 0:
		h = 12
	case h > 12:
		h -= 12
	}
	if c.Minute == 0 {
		return fmt.Sprintf("%d%s", h, suffix)
	}
	return fmt.Sprintf("%d:%02d%s", h, c.Minute, suffix)
}
