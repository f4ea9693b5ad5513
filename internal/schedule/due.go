package schedule

import (
	"math"
	"time"
)

// DefaultDueSoonWindow marks a milestone as due soon when it is this close.
const DefaultDueSoonWindow = 30 * 24 * time.Hour

// DueState classifies a due-date relative to "now".
type DueState int

const (
	Scheduled DueState = iota
	DueSoon
	Overdue
)

func (s DueState) String() string {
	switch s {
	case DueSoon:
		return "upcoming"
	case Overdue:
		return "overdue"
	default:
		return "scheduled"
	}
}

func (s DueState) Label() string {
	switch s {
	case DueSoon:
		return "Due Soon"
	case Overdue:
		return "Overdue"
	default:
		return "Scheduled"
	}
}

// Due reports whether due is overdue, due within window, or further out.
// A non-positive window falls back to DefaultDueSoonWindow.
func Due(due, now time.Time, window time.Duration) DueState {
	if window <= 0 {
		window = DefaultDueSoonWindow
	}
	if due.Before(now) {
		return Overdue
	}
	if due.Sub(now) < window {
		return DueSoon
	}
	return Scheduled
}

// Progress returns the rounded completion percentage for done of three milestones.
func Progress(done int) int {
	if done <= 0 {
		return 0
	}
	n := len(Milestones)
	if done >= n {
		return 100
	}
	return int(math.Round(float64(done) / float64(n) * 100))
}
