package util

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidDate = errors.New("invalid date format (use YYYY-MM-DD or RFC3339)")

// parseDate accepts RFC3339 or YYYY-MM-DD. dateOnly reports the latter.
func parseDate(s string) (t time.Time, ok bool, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, false, nil
	}
	if tt, e := time.Parse(time.RFC3339, s); e == nil {
		return tt, true, false, nil
	}
	if tt, e := time.Parse("2006-01-02", s); e == nil {
		return tt, true, true, nil
	}
	return time.Time{}, false, false, ErrInvalidDate
}

// ParseDateRange parses optional filter bounds. A date-only end includes the
// whole day, so the returned end is exclusive. Reversed bounds are swapped.
func ParseDateRange(startStr, endStr *string) (start time.Time, hasStart bool, endExclusive time.Time, hasEnd bool, err error) {
	var (
		rawStart, rawEnd time.Time
		endDateOnly      bool
	)

	if startStr != nil {
		t, ok, _, e := parseDate(*startStr)
		if e != nil {
			return time.Time{}, false, time.Time{}, false, e
		}
		if ok {
			rawStart, hasStart = t, true
		}
	}
	if endStr != nil {
		t, ok, dateOnly, e := parseDate(*endStr)
		if e != nil {
			return time.Time{}, false, time.Time{}, false, e
		}
		if ok {
			rawEnd, hasEnd, endDateOnly = t, true, dateOnly
		}
	}

	if hasStart && hasEnd && rawEnd.Before(rawStart) {
		rawStart, rawEnd = rawEnd, rawStart
	}

	if hasStart {
		start = rawStart
	}
	if hasEnd {
		endExclusive = rawEnd
		if endDateOnly {
			endExclusive = rawEnd.AddDate(0, 0, 1)
		}
	}
	return start, hasStart, endExclusive, hasEnd, nil
}

// ParseRunDate returns the UTC calendar day of raw, or of now when raw is
// empty.
func ParseRunDate(raw string, now time.Time) (time.Time, error) {
	t, ok, _, err := parseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		t = now
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
