/*
Package bonus computes quarterly part-entry bonuses and reconciles part status.

PURPOSE:
  Turns a flat list of part entry events into per-user, per-quarter,
  per-payment-status buckets, flags quarters that gained new unpaid
  entries after being paid, and keeps the denormalized part status
  column in step with the entry log.

LAYERS:
  quarter.go:   Timestamp -> (quarter, year) classification and windows
  aggregate.go: Grouping, payment marking (pure, in-memory)
  totals.go:    New-unpaid detection and report totals
  reconcile.go: Part status sync and verification (pure)
  service.go:   Store reads, pure computation, write-back

The pure layers take no locks and perform no I/O. Service is the only
type that talks to collaborators.

SEE ALSO:
  - generic/types.go: Event, part and user records
  - generic/store.go: Collaborator interfaces
*/
package bonus

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/bonus-engine/generic"
)

// =============================================================================
// QUARTER
// =============================================================================

// Quarter identifies a calendar quarter. Number is 1..4.
type Quarter struct {
	Number int `json:"quarter"`
	Year   int `json:"year"`
}

// QuarterOf returns the 1-based quarter of t's month in t's own location.
func QuarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// QuarterFor returns the quarter containing t in t's own location.
func QuarterFor(t time.Time) Quarter {
	return Quarter{Number: QuarterOf(t), Year: t.Year()}
}

// QuarterLabel formats t's quarter as "Q<n> <year>".
func QuarterLabel(t time.Time) string {
	return QuarterFor(t).Label()
}

func (q Quarter) Label() string {
	return fmt.Sprintf("Q%d %d", q.Number, q.Year)
}

func (q Quarter) String() string { return q.Label() }

func (q Quarter) Validate() error {
	if q.Number < 1 || q.Number > 4 {
		return fmt.Errorf("%w: Q%d", generic.ErrInvalidQuarter, q.Number)
	}
	return nil
}

// Before orders quarters chronologically.
func (q Quarter) Before(other Quarter) bool {
	if q.Year != other.Year {
		return q.Year < other.Year
	}
	return q.Number < other.Number
}

// Window returns the days of the quarter in loc: the first day of the
// quarter's first month through the last day of its third month.
func (q Quarter) Window(loc *time.Location) generic.Period {
	if loc == nil {
		loc = time.Local
	}
	firstMonth := time.Month((q.Number-1)*3 + 1)
	start := time.Date(q.Year, firstMonth, 1, 0, 0, 0, 0, loc)
	// Day 0 of the following month normalizes to the last day of the quarter
	end := time.Date(q.Year, firstMonth+3, 0, 0, 0, 0, 0, loc)
	return generic.Period{Start: start, End: end}
}

// ParseQuarterLabel parses "Q<n> <year>".
func ParseQuarterLabel(label string) (Quarter, error) {
	fields := strings.Fields(label)
	if len(fields) != 2 || len(fields[0]) != 2 || (fields[0][0] != 'Q' && fields[0][0] != 'q') {
		return Quarter{}, fmt.Errorf("%w: %q", generic.ErrInvalidQuarter, label)
	}
	n, err := strconv.Atoi(fields[0][1:])
	if err != nil {
		return Quarter{}, fmt.Errorf("%w: %q", generic.ErrInvalidQuarter, label)
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil {
		return Quarter{}, fmt.Errorf("%w: %q", generic.ErrInvalidQuarter, label)
	}
	q := Quarter{Number: n, Year: year}
	if err := q.Validate(); err != nil {
		return Quarter{}, err
	}
	return q, nil
}

// =============================================================================
// CLASSIFIER - Location-aware quarter assignment
// =============================================================================

// Classifier assigns timestamps to quarters in a fixed location, so an
// entry made late on Mar 31 local time stays in Q1 regardless of how the
// store encoded it.
type Classifier struct {
	loc *time.Location
}

// NewClassifier returns a classifier for loc; nil means the process local zone.
func NewClassifier(loc *time.Location) Classifier {
	if loc == nil {
		loc = time.Local
	}
	return Classifier{loc: loc}
}

func (c Classifier) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

// Classify returns the quarter containing t. A zero t is malformed.
func (c Classifier) Classify(t time.Time) (Quarter, error) {
	if t.IsZero() {
		return Quarter{}, generic.ErrMalformedTimestamp
	}
	return QuarterFor(t.In(c.Location())), nil
}

// Label returns "Q<n> <year>" for t in the classifier's location.
func (c Classifier) Label(t time.Time) (string, error) {
	q, err := c.Classify(t)
	if err != nil {
		return "", err
	}
	return q.Label(), nil
}

// Window returns q's day window in the classifier's location.
func (c Classifier) Window(q Quarter) generic.Period {
	return q.Window(c.Location())
}

// InQuarter reports whether t falls within q.
func (c Classifier) InQuarter(t time.Time, q Quarter) bool {
	if t.IsZero() {
		return false
	}
	return c.Window(q).Contains(t.In(c.Location()))
}
