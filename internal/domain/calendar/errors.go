package calendar

import "errors"

// Input-shape errors. None of them are transient: the caller must fix or
// discard the record rather than retry.
var (
	ErrUnrecognizedPattern = errors.New("calendar: unrecognized day range pattern")
	ErrUnknownWeekday      = errors.New("calendar: unknown weekday label")
	ErrHolidayOnlySchedule = errors.New("calendar: schedule applies only on holidays")
	ErrNoActiveWeeks       = errors.New("calendar: schedule has no active weeks")
	ErrEmptyWeekdaySet     = errors.New("calendar: rule has no weekdays")
	ErrInvalidWeekOfMonth  = errors.New("calendar: week of month must be between 1 and 5")
	ErrInvalidClockTime    = errors.New("calendar: invalid clock time")
	ErrInvalidHourLimit    = errors.New("calendar: hour limit must be positive")
	ErrNoOccurrenceFound   = errors.New("calendar: no occurrence within scan horizon")
	ErrMissingLocation     = errors.New("calendar: civil time location is required")
)
