package core

import (
	"fmt"
	"time"
)

// DayLayout is the calendar date format accepted on the command line.
const DayLayout = "2006-01-02"

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextDay returns midnight of the following calendar day. Adding 24h is
// wrong across DST transitions, so the date is rebuilt instead.
func NextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// DayBounds returns the half-open millisecond range [start, end) covering t's day.
func DayBounds(t time.Time) (int64, int64) {
	return StartOfDay(t).UnixMilli(), NextDay(t).UnixMilli()
}

// StartOfDayMillis normalizes epoch millis to the start of that day in loc.
func StartOfDayMillis(ms int64, loc *time.Location) int64 {
	return StartOfDay(FromMillis(ms, loc)).UnixMilli()
}

// FromMillis converts epoch millis to a time in loc.
func FromMillis(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc)
}

// ParseDay parses a YYYY-MM-DD date in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return t, nil
}

// LoadLocation resolves a timezone name; "" and "Local" mean the process zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
