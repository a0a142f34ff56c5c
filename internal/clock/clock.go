// Package clock implements the Clock & Calendar component (B): a
// named-zone wall clock plus a holiday set and trading-day predicate.
package clock

import (
	"fmt"
	"time"
)

// Clock exposes the current wall time in a configured zone and a
// trading-day predicate against a caller-supplied holiday set.
type Clock struct {
	loc      *time.Location
	holidays map[string]string // "2006-01-02" -> holiday title
	now      func() time.Time
}

// New builds a Clock for the named IANA zone (e.g. "America/New_York").
func New(zoneName string) (*Clock, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("clock: loading zone %q: %w", zoneName, err)
	}
	return &Clock{
		loc:      loc,
		holidays: make(map[string]string),
		now:      time.Now,
	}, nil
}

// WithNowFunc overrides the time source, for deterministic tests.
func (c *Clock) WithNowFunc(f func() time.Time) *Clock {
	c.now = f
	return c
}

// Now returns the current instant in the configured zone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Location returns the configured IANA zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// SetHolidays replaces the holiday set. Keys are "YYYY-MM-DD" dates in the
// configured zone; values are display titles.
func (c *Clock) SetHolidays(holidays map[string]string) {
	c.holidays = holidays
}

// AddHoliday marks a single date (in the configured zone) as a holiday.
func (c *Clock) AddHoliday(date time.Time, title string) {
	c.holidays[date.In(c.loc).Format("2006-01-02")] = title
}

// TradingDay reports whether `now` falls on a trading day: not a weekend
// and not a configured holiday.
func (c *Clock) TradingDay(now time.Time) (ok bool, reason string, holidays []string) {
	local := now.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, "weekend", nil
	}
	if title, isHoliday := c.holidays[local.Format("2006-01-02")]; isHoliday {
		return false, "holiday: " + title, []string{title}
	}
	return true, "", nil
}

// ParseClockTag resolves a "HH:MM" or 12-hour clock tag ("1am", "5am",
// "9am", "1pm", ...) to an hour/minute pair in 24-hour form.
func ParseClockTag(tag string) (hour, minute int, err error) {
	if t, err2 := time.Parse("15:04", tag); err2 == nil {
		return t.Hour(), t.Minute(), nil
	}
	if t, err2 := time.Parse("3pm", tag); err2 == nil {
		return t.Hour(), 0, nil
	}
	if t, err2 := time.Parse("3:04pm", tag); err2 == nil {
		return t.Hour(), t.Minute(), nil
	}
	return 0, 0, fmt.Errorf("clock: unrecognized clock tag %q", tag)
}

// AtClockTag returns the instant on the same calendar day as `ref` (in the
// clock's zone) that corresponds to the given clock tag.
func (c *Clock) AtClockTag(ref time.Time, tag string) (time.Time, error) {
	hour, minute, err := ParseClockTag(tag)
	if err != nil {
		return time.Time{}, err
	}
	local := ref.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, c.loc), nil
}
