package generic

import "time"

// =============================================================================
// PERIOD - Day-granular date window
// =============================================================================

// Period is a window of whole days. Start is midnight of the first day and
// End is midnight of the last day; the last day is included in full.
//
// Examples:
//   - Q1 2024: Jan 1 - Mar 31
//   - Q4 2023: Oct 1 - Dec 31
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t falls on any day in [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.Limit())
}

// Limit is the first instant after the period (midnight after End).
func (p Period) Limit() time.Time {
	return p.End.AddDate(0, 0, 1)
}

// Days returns the number of calendar days covered.
func (p Period) Days() int {
	days := 0
	for d := p.Start; !d.After(p.End); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}
