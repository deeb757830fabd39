package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATES - Calendar days for execution and accounting dates
// =============================================================================

const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func Today() time.Time { return Day(time.Now()) }

// ParseDay parses "2006-01-02".
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, s)
	}
	return t, nil
}

// DateRange is an inclusive day range; nil bounds are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t's day lies within the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	if r.From != nil && d.Before(Day(*r.From)) {
		return false
	}
	if r.To != nil && d.After(Day(*r.To)) {
		return false
	}
	return true
}

// Validate rejects ranges ending before they start.
func (r DateRange) Validate() error {
	if r.From != nil && r.To != nil && Day(*r.To).Before(Day(*r.From)) {
		return fmt.Errorf("%w: range ends before it starts", ErrInvalidInput)
	}
	return nil
}
