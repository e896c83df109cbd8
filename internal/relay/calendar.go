package relay

import (
	"fmt"
	"time"
)

// DefaultTimeZone is the civil calendar weekday checks use.
const DefaultTimeZone = "America/Los_Angeles"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Calendar answers civil-date questions in a fixed zone.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the named IANA zone. The empty name selects DefaultTimeZone.
func NewCalendar(zone string) (*Calendar, error) {
	if zone == "" {
		zone = DefaultTimeZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return calendarIn(loc), nil
}

func calendarIn(loc *time.Location) *Calendar {
	return &Calendar{loc: loc}
}

// IsWeekday reports whether t falls on Monday through Friday in the calendar's zone.
func (c *Calendar) IsWeekday(t time.Time) bool {
	switch t.In(c.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// Location returns the calendar's zone.
func (c *Calendar) Location() *time.Location { return c.loc }
