// Package calendar implements legal-day (business-calendar) arithmetic for
// deadline computation. A legal day is any weekday that is not listed in the
// holiday calendar.
package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Calendar answers legal-day questions. Immutable after construction; safe
// for concurrent use.
type Calendar struct {
	holidays map[string]struct{} // keyed YYYY-MM-DD
}

type calendarFile struct {
	Holidays []string `yaml:"holidays"`
}

// New returns a weekends-only calendar.
func New() *Calendar {
	return &Calendar{holidays: map[string]struct{}{}}
}

// Load reads a YAML holiday file. An empty path yields a weekends-only
// calendar.
func Load(path string) (*Calendar, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file: %w", err)
	}
	var cf calendarFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse calendar file: %w", err)
	}
	cal := New()
	for _, h := range cf.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", h, err)
		}
		cal.holidays[h] = struct{}{}
	}
	return cal, nil
}

// IsLegalDay reports whether d counts toward legal deadlines.
func (c *Calendar) IsLegalDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[d.Format("2006-01-02")]
	return !holiday
}

// DaysBetween counts legal days strictly after `from` up to and including
// `to`. Returns 0 when to <= from.
func (c *Calendar) DaysBetween(from, to time.Time) int {
	from = truncate(from)
	to = truncate(to)
	if !to.After(from) {
		return 0
	}
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsLegalDay(d) {
			n++
		}
	}
	return n
}

// AddDays returns the date n legal days after `from`.
func (c *Calendar) AddDays(from time.Time, n int) time.Time {
	d := truncate(from)
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if c.IsLegalDay(d) {
			n--
		}
	}
	return d
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
