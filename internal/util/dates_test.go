package util

import (
	"errors"
	"testing"
	"time"
)

func sptr(s string) *string { return &s }

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	if tt, err := time.Parse(time.RFC3339, s); err == nil {
		return tt
	}
	tt, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tt
}

func TestParseDateRange(t *testing.T) {
	cases := []struct {
		name       string
		start, end *string
		wantStart  string
		wantEnd    string
	}{
		{name: "none"},
		{name: "blank strings are missing", start: sptr("  "), end: sptr("")},
		{name: "timestamp start, date end adds a day", start: sptr("2026-02-03T10:00:00Z"), end: sptr("2026-02-05"), wantStart: "2026-02-03T10:00:00Z", wantEnd: "2026-02-06"},
		{name: "timestamp end is exclusive", start: sptr("2026-02-03T10:00:00Z"), end: sptr("2026-02-03T12:00:00Z"), wantStart: "2026-02-03T10:00:00Z", wantEnd: "2026-02-03T12:00:00Z"},
		{name: "reversed dates are swapped", start: sptr("2026-02-10"), end: sptr("2026-02-01"), wantStart: "2026-02-01", wantEnd: "2026-02-11"},
		{name: "reversed with timestamp end adds no day", start: sptr("2026-02-10"), end: sptr("2026-02-01T12:00:00Z"), wantStart: "2026-02-01T12:00:00Z", wantEnd: "2026-02-10"},
		{name: "spaces trimmed", start: sptr(" 2026-02-03 "), end: sptr(" 2026-02-05T10:00:00Z "), wantStart: "2026-02-03", wantEnd: "2026-02-05T10:00:00Z"},
		{name: "only end", end: sptr("2026-02-03"), wantEnd: "2026-02-04"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, hasStart, endExcl, hasEnd, err := ParseDateRange(tc.start, tc.end)
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if hasStart != (tc.wantStart != "") || hasEnd != (tc.wantEnd != "") {
				t.Fatalf("hasStart=%v hasEnd=%v", hasStart, hasEnd)
			}
			if tc.wantStart != "" && !start.Equal(mustTime(t, tc.wantStart)) {
				t.Fatalf("start=%v want %s", start, tc.wantStart)
			}
			if tc.wantEnd != "" && !endExcl.Equal(mustTime(t, tc.wantEnd)) {
				t.Fatalf("endExclusive=%v want %s", endExcl, tc.wantEnd)
			}
		})
	}
}

func TestParseDateRange_InvalidFormats(t *testing.T) {
	for _, bad := range [][2]*string{{sptr("02/03/2026"), nil}, {nil, sptr("Feb 3, 2026")}} {
		start, hasStart, endExcl, hasEnd, err := ParseDateRange(bad[0], bad[1])
		if !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("expected ErrInvalidDate, got %v", err)
		}
		if hasStart || hasEnd || !start.IsZero() || !endExcl.IsZero() {
			t.Fatalf("expected zero values on error")
		}
	}
}

func TestParseRunDate(t *testing.T) {
	now := time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -3*3600))

	got, err := ParseRunDate("", now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}

	got, err = ParseRunDate("2026-01-31", now)
	if err != nil || !got.Equal(time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("got %v (%v)", got, err)
	}

	if _, err := ParseRunDate("yesterday", now); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClampLimitOffset(t *testing.T) {
	cases := []struct{ limit, offset, wantLimit, wantOffset int }{
		{0, 0, DefaultPageLimit, 0},
		{10, 20, 10, 20},
		{500, -1, MaxPageLimit, 0},
	}
	for _, tc := range cases {
		l, o := ClampLimitOffset(tc.limit, tc.offset)
		if l != tc.wantLimit || o != tc.wantOffset {
			t.Fatalf("ClampLimitOffset(%d,%d)=(%d,%d)", tc.limit, tc.offset, l, o)
		}
	}
}
