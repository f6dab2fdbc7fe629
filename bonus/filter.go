package bonus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warp/bonus-engine/generic"
)

// StatusFilter selects report rows by payment state.
type StatusFilter string

const (
	FilterAll       StatusFilter = "all"
	FilterPaid      StatusFilter = "paid"
	FilterPending   StatusFilter = "pending"
	FilterNewUnpaid StatusFilter = "new-unpaid"
)

// ParseStatusFilter accepts the API spellings plus the dashboard labels
// ("All", "Paid", "Pending", "New Unpaid Parts").
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "paid":
		return FilterPaid, nil
	case "pending":
		return FilterPending, nil
	case "new-unpaid", "new_unpaid", "new unpaid parts":
		return FilterNewUnpaid, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

// Filter narrows a report. An empty Quarter means every quarter.
type Filter struct {
	Quarter *Quarter
	Status  StatusFilter
}

// ApplyFilter returns the buckets matching f, preserving order. The
// new-unpaid status is evaluated against the full bucket set, so a
// quarter filter never hides the paid sibling that makes a row "new".
func ApplyFilter(buckets []QuarterBucket, f Filter) []QuarterBucket {
	var flagged map[BucketKey]bool
	if f.Status == FilterNewUnpaid {
		flagged = NewUnpaidKeys(buckets)
	}

	result := make([]QuarterBucket, 0, len(buckets))
	for _, b := range buckets {
		if f.Quarter != nil && b.Quarter != *f.Quarter {
			continue
		}
		switch f.Status {
		case FilterPaid:
			if b.Status != StatusPaid {
				continue
			}
		case FilterPending:
			if b.Status != StatusPending {
				continue
			}
		case FilterNewUnpaid:
			if !flagged[b.Key()] {
				continue
			}
		}
		result = append(result, b)
	}
	return result
}

// AvailableQuarters lists the distinct quarters present, most recent first.
func AvailableQuarters(buckets []QuarterBucket) []Quarter {
	seen := make(map[Quarter]bool)
	var quarters []Quarter
	for _, b := range buckets {
		if !seen[b.Quarter] {
			seen[b.Quarter] = true
			quarters = append(quarters, b.Quarter)
		}
	}
	sort.Slice(quarters, func(i, j int) bool { return quarters[j].Before(quarters[i]) })
	return quarters
}

// BucketsForUser returns the user's buckets in presentation order.
func BucketsForUser(buckets []QuarterBucket, userID generic.UserID) []QuarterBucket {
	result := make([]QuarterBucket, 0)
	for _, b := range buckets {
		if b.UserID == userID {
			result = append(result, b)
		}
	}
	return result
}
