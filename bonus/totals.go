package bonus

import "github.com/warp/bonus-engine/generic"

// =============================================================================
// NEW UNPAID DETECTION
// =============================================================================

type userQuarter struct {
	UserID  generic.UserID
	Quarter Quarter
}

// DetectNewUnpaidParts returns the pending buckets whose user already has a
// paid bucket for the same quarter: entries made after that quarter was paid.
func DetectNewUnpaidParts(buckets []QuarterBucket) []QuarterBucket {
	paid := paidQuarters(buckets)
	flagged := make([]QuarterBucket, 0)
	for _, b := range buckets {
		if b.Status == StatusPending && paid[userQuarter{b.UserID, b.Quarter}] {
			flagged = append(flagged, b)
		}
	}
	return flagged
}

// NewUnpaidKeys returns the keys of DetectNewUnpaidParts for fast lookup.
func NewUnpaidKeys(buckets []QuarterBucket) map[BucketKey]bool {
	keys := make(map[BucketKey]bool)
	for _, b := range DetectNewUnpaidParts(buckets) {
		keys[b.Key()] = true
	}
	return keys
}

func paidQuarters(buckets []QuarterBucket) map[userQuarter]bool {
	paid := make(map[userQuarter]bool)
	for _, b := range buckets {
		if b.Status == StatusPaid {
			paid[userQuarter{b.UserID, b.Quarter}] = true
		}
	}
	return paid
}

// =============================================================================
// TOTALS
// =============================================================================

// Totals summarizes a set of buckets. Currency fields are "$X.XX" strings.
type Totals struct {
	Users    int    `json:"users"`
	Parts    int    `json:"parts"`
	Bonus    string `json:"bonus"`
	NewParts int    `json:"newParts"`
	NewBonus string `json:"newBonus"`
}

// ComputeTotals sums the given buckets. New-unpaid figures are derived from
// the same buckets.
func ComputeTotals(buckets []QuarterBucket) Totals {
	return TotalsWithFlags(buckets, NewUnpaidKeys(buckets))
}

// TotalsWithFlags sums buckets, counting as new-unpaid the ones whose key is
// in flagged. Use it when buckets is a filtered view of a larger report.
func TotalsWithFlags(buckets []QuarterBucket, flagged map[BucketKey]bool) Totals {
	users := make(map[generic.UserID]bool)
	parts, newParts := 0, 0
	bonus := generic.ZeroAmount(generic.UnitDollars)
	newBonus := generic.ZeroAmount(generic.UnitDollars)
	for _, b := range buckets {
		users[b.UserID] = true
		parts += b.PartCount
		bonus = bonus.Add(b.BonusAmount)
		if flagged[b.Key()] {
			newParts += b.PartCount
			newBonus = newBonus.Add(b.BonusAmount)
		}
	}

	return Totals{
		Users:    len(users),
		Parts:    parts,
		Bonus:    bonus.Currency(),
		NewParts: newParts,
		NewBonus: newBonus.Currency(),
	}
}
