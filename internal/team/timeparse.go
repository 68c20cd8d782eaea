package team

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the day format used by schedules and reports.
const DateLayout = "2006-01-02"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	DateLayout,
}

// ParseTime accepts RFC 3339 or an ISO date/datetime without zone, which is
// interpreted in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// parseClock combines a day with "HH:MM" or a full timestamp.
func parseClock(day time.Time, s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if c, err := time.Parse("15:04", s); err == nil {
		return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, loc), nil
	}
	return ParseTime(s, loc)
}
