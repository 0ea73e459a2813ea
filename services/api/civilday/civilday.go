// Package civilday computes the operational calendar day in one fixed
// reference timezone, so every device agrees on where "today" starts.
package civilday

import (
	"fmt"
	"time"

	// Embedded zone database: results must not depend on the host's tzdata.
	_ "time/tzdata"
)

// DefaultTimezone is the reference zone used when none is configured.
const DefaultTimezone = "America/Mexico_City"

// Layout is the civil date format used across the service.
const Layout = "2006-01-02"

// Calendar converts instants to civil dates in its reference zone.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// Option customizes a Calendar.
type Option func(*Calendar)

// WithClock replaces the wall clock used by Today and IsToday.
func WithClock(now func() time.Time) Option {
	return func(c *Calendar) {
		c.now = now
	}
}

// New loads the named zone and returns a Calendar bound to it.
func New(timezone string, opts ...Option) (*Calendar, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return NewWithLocation(loc, opts...), nil
}

// NewWithLocation binds a Calendar to an already loaded location.
func NewWithLocation(loc *time.Location, opts ...Option) *Calendar {
	c := &Calendar{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the reference zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the calendar clock's current instant.
func (c *Calendar) Now() time.Time {
	return c.now()
}

// Today returns the current civil date as YYYY-MM-DD.
func (c *Calendar) Today() string {
	return c.DateString(c.now())
}

// DateString converts an instant to its civil date in the reference zone.
func (c *Calendar) DateString(t time.Time) string {
	return t.In(c.loc).Format(Layout)
}

// IsToday reports whether t falls on the current civil date.
func (c *Calendar) IsToday(t time.Time) bool {
	return c.DateString(t) == c.Today()
}

// IsTodayDate reports whether a YYYY-MM-DD string is the current civil date.
func (c *Calendar) IsTodayDate(date string) bool {
	return date == c.Today()
}

// StartOfDay returns midnight of the given civil date in the reference zone.
func (c *Calendar) StartOfDay(date string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, date, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid civil date %q: %w", date, err)
	}
	return t, nil
}
