// Package timezone pins every calendar computation to the school's business
// timezone.
//
// Dates such as "2025-03-14" carry no zone of their own; they are always read
// in the configured location (Europe/Nicosia by default), never in the host's
// local zone.
package timezone

import (
	"fmt"
	"strings"
	"time"

	// Bundled zone database so containers without /usr/share/zoneinfo still resolve Europe/Nicosia.
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"musicschool/internal/models"
)

// Clock returns the current time in the business location.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New loads the named IANA location. An empty name falls back to the
// default business timezone; an unknown one falls back to UTC with a warning.
func New(name string, logger *zerolog.Logger) *Clock {
	if name == "" {
		name = models.BusinessTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if logger != nil {
			logger.Error().Err(err).Str("timezone", name).Msg("Failed to load timezone, falling back to UTC")
		}
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

// Fixed returns a clock frozen at t. Intended for tests and replays.
func Fixed(loc *time.Location, t time.Time) *Clock {
	return &Clock{loc: loc, now: func() time.Time { return t }}
}

func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) Now() time.Time { return c.now().In(c.loc) }

// Today returns the current business date as YYYY-MM-DD.
func (c *Clock) Today() string { return c.Now().Format(models.DateLayout) }

// ParseDate validates a YYYY-MM-DD string and returns midnight of that day in
// the business location.
func (c *Clock) ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	d, err := time.ParseInLocation(models.DateLayout, s, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// SlotStart returns the instant a slot on the given date starts.
func (c *Clock) SlotStart(date string, hour int) (time.Time, error) {
	d, err := c.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, c.loc), nil
}
