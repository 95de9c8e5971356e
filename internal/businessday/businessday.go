// Package businessday counts elapsed working days between timestamps.
package businessday

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar knows which days are working days in one timezone
type Calendar struct {
	loc      *time.Location
	holidays map[string]bool
}

// New creates a calendar. holidays are YYYY-MM-DD dates in loc; a nil loc
// means UTC.
func New(loc *time.Location, holidays []string) (*Calendar, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{loc: loc, holidays: make(map[string]bool, len(holidays))}
	for _, h := range holidays {
		d, err := time.ParseInLocation(dateLayout, h, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[d.Format(dateLayout)] = true
	}
	return c, nil
}

// Load creates a calendar from an IANA timezone name
func Load(timezone string, holidays []string) (*Calendar, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}
	return New(loc, holidays)
}

// Location returns the calendar's timezone
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsBusinessDay reports whether t falls on a weekday that is not a holiday
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	t = t.In(c.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[t.Format(dateLayout)]
}

// Between returns the whole business days elapsed from start to end: the
// whole calendar days elapsed in the calendar's timezone, minus each weekend
// day or holiday reached along the way. It never goes below zero.
func (c *Calendar) Between(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	start = start.In(c.loc)

	// Wall-clock days differ from 24 hours across DST changes
	total := int(end.Sub(start) / (24 * time.Hour))
	for !start.AddDate(0, 0, total+1).After(end) {
		total++
	}
	for total > 0 && start.AddDate(0, 0, total).After(end) {
		total--
	}

	days := total
	for i := 1; i <= total; i++ {
		if !c.IsBusinessDay(start.AddDate(0, 0, i)) {
			days--
		}
	}
	if days < 0 {
		return 0
	}
	return days
}
