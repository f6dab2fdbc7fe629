package bonus

import (
	"sort"

	"github.com/warp/bonus-engine/generic"
)

// Trend is one quarter's totals across all users.
type Trend struct {
	Quarter Quarter
	Label   string
	Parts   int
	Bonus   generic.Amount
	Paid    generic.Amount
	Pending generic.Amount
	Users   int
}

// QuarterlyTrends rolls buckets up per quarter, oldest quarter first.
func QuarterlyTrends(buckets []QuarterBucket) []Trend {
	index := make(map[Quarter]int)
	users := make(map[Quarter]map[generic.UserID]bool)
	trends := make([]Trend, 0)

	for _, b := range buckets {
		i, ok := index[b.Quarter]
		if !ok {
			trends = append(trends, Trend{
				Quarter: b.Quarter,
				Label:   b.Quarter.Label(),
				Bonus:   generic.ZeroAmount(generic.UnitDollars),
				Paid:    generic.ZeroAmount(generic.UnitDollars),
				Pending: generic.ZeroAmount(generic.UnitDollars),
			})
			i = len(trends) - 1
			index[b.Quarter] = i
			users[b.Quarter] = make(map[generic.UserID]bool)
		}

		t := &trends[i]
		t.Parts += b.PartCount
		t.Bonus = t.Bonus.Add(b.BonusAmount)
		if b.Status == StatusPaid {
			t.Paid = t.Paid.Add(b.BonusAmount)
		} else {
			t.Pending = t.Pending.Add(b.BonusAmount)
		}
		users[b.Quarter][b.UserID] = true
	}

	for i := range trends {
		trends[i].Users = len(users[trends[i].Quarter])
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Quarter.Before(trends[j].Quarter) })
	return trends
}
