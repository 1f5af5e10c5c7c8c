// Package calendar produces canonical YYYY-MM-DD date strings and date ranges.
package calendar

import (
	"fmt"
	"time"
)

// Layout is the canonical date format used at every storage boundary.
const Layout = "2006-01-02"

// layouts accepted by ParseAny, most specific first.
var layouts = []string{
	Layout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// Today returns the calendar date of now as a canonical string.
func Today(now time.Time) string {
	return Format(now)
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Parse parses a canonical YYYY-MM-DD string.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// ParseAny accepts canonical dates plus the timestamp shapes SQLite drivers and
// spreadsheet exports tend to produce.
func ParseAny(s string) (time.Time, error) {
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Canonical re-serializes any accepted date representation as YYYY-MM-DD.
func Canonical(s string) (string, error) {
	t, err := ParseAny(s)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}

// AddDays shifts a canonical date string by n days.
func AddDays(s string, n int) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, n)), nil
}

// Range returns n contiguous dates starting at start (inclusive), ascending.
func Range(start string, n int) ([]string, error) {
	t, err := Parse(start)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, max(n, 0))
	for i := 0; i < n; i++ {
		dates = append(dates, Format(t.AddDate(0, 0, i)))
	}
	return dates, nil
}

// Weekday returns the day of week with Monday = 0 and Sunday = 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
