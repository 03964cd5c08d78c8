package billingcycle

import (
	"errors"
	"time"
)

var ErrMissingAnchor = errors.New("missing_billing_anchor")

// Period is a half-open billing window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Window returns the monthly anniversary period of anchor that contains now.
// Boundaries keep the anchor's time of day; an anchor day missing from the
// target month is clamped to that month's last day. Each boundary is derived
// from the anchor itself, so a Jan 31 anchor yields Feb 28/29 and then Mar 31.
// A now before the anchor yields the first period.
func Window(anchor, now time.Time) (Period, error) {
	if anchor.IsZero() {
		return Period{}, ErrMissingAnchor
	}
	anchor = anchor.UTC()
	now = now.UTC()

	if now.Before(anchor) {
		return Period{Start: anchor, End: AddMonths(anchor, 1)}, nil
	}

	months := (now.Year()-anchor.Year())*12 + int(now.Month()-anchor.Month())
	start := AddMonths(anchor, months)
	for start.After(now) {
		months--
		start = AddMonths(anchor, months)
	}
	end := AddMonths(anchor, months+1)
	for !now.Before(end) {
		months++
		start = end
		end = AddMonths(anchor, months+1)
	}

	return Period{Start: start, End: end}, nil
}

// AddMonths moves t by n calendar months, clamping the day to the end of the
// target month instead of overflowing into the next one.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	total := int(month) - 1 + n
	year += floorDiv(total, 12)
	month = time.Month(floorMod(total, 12) + 1)

	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
