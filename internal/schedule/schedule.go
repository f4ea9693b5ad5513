// Package schedule derives the three maintenance due-dates from a vehicle
// purchase date.
//
// All functions are pure: no I/O, no clock reads (callers pass "now"), no logging.
//
// Month arithmetic clamps: when the purchase day does not exist in the target
// month (e.g. the 31st landing in April), the last day of that month is used.
// Each milestone is computed from the purchase date directly, never from the
// previous milestone, so a clamp in one offset never leaks into another.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDate is returned for input that is not a real calendar date.
var ErrInvalidDate = errors.New("invalid date input")

// DateLayout is the wire/storage layout for calendar dates.
const DateLayout = "2006-01-02"

// DisplayLayout renders dates as "31 August 2024".
const DisplayLayout = "02 January 2006"

// Milestone identifies one of the three scheduled services.
type Milestone int

const (
	First Milestone = iota
	Second
	Third
)

// Milestones lists every milestone in due order.
var Milestones = []Milestone{First, Second, Third}

// Months is the offset from the purchase date.
func (m Milestone) Months() int {
	switch m {
	case First:
		return 7
	case Second:
		return 15
	case Third:
		return 23
	default:
		return 0
	}
}

func (m Milestone) String() string {
	switch m {
	case First:
		return "first"
	case Second:
		return "second"
	case Third:
		return "third"
	default:
		return fmt.Sprintf("milestone(%d)", int(m))
	}
}

func (m Milestone) Label() string {
	switch m {
	case First:
		return "1st Service"
	case Second:
		return "2nd Service"
	case Third:
		return "3rd Service"
	default:
		return m.String()
	}
}

// Period describes the offset for humans, e.g. "7 months after purchase".
func (m Milestone) Period() string {
	return fmt.Sprintf("%d months after purchase", m.Months())
}

// ParseMilestone accepts "first"/"second"/"third", "1"/"2"/"3" and "1st"/"2nd"/"3rd".
func ParseMilestone(s string) (Milestone, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "1", "1st":
		return First, nil
	case "second", "2", "2nd":
		return Second, nil
	case "third", "3", "3rd":
		return Third, nil
	default:
		return 0, fmt.Errorf("unknown milestone %q (want first, second or third)", s)
	}
}

// Dates is the derived service schedule. It is never persisted.
type Dates struct {
	First  time.Time
	Second time.Time
	Third  time.Time
}

// At returns the due date of m.
func (d Dates) At(m Milestone) time.Time {
	switch m {
	case Second:
		return d.Second
	case Third:
		return d.Third
	default:
		return d.First
	}
}

// Calculate derives the three due-dates from the purchase date.
func Calculate(purchase time.Time) Dates {
	return Dates{
		First:  AddMonths(purchase, First.Months()),
		Second: AddMonths(purchase, Second.Months()),
		Third:  AddMonths(purchase, Third.Months()),
	}
}

// AddMonths advances t by n calendar months, carrying into the year and
// clamping the day to the end of the target month. The result is a UTC date.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	// Normalize year/month first with day 1 so time.Date cannot overflow the month.
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseDate accepts "YYYY-MM-DD" or an RFC 3339 timestamp (only the date part
// is kept). Out-of-range values like 2024-02-30 are rejected, never rolled over.
func ParseDate(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return DateOf(t), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// DateOf drops the clock part of t, keeping its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t for display, e.g. "05 March 2025".
func FormatDate(t time.Time) string {
	return t.Format(DisplayLayout)
}
