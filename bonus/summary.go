package bonus

import "github.com/warp/bonus-engine/generic"

// UserSummary is a single user's lifetime bonus position.
type UserSummary struct {
	UserID  generic.UserID
	Entries int
	Total   generic.Amount
	Paid    generic.Amount
	Pending generic.Amount
}

// Summarize totals one user's events. Paid is authoritative, as in grouping.
func (a *Aggregator) Summarize(events []generic.PartEntryEvent, userID generic.UserID) UserSummary {
	s := UserSummary{
		UserID:  userID,
		Total:   generic.ZeroAmount(generic.UnitDollars),
		Paid:    generic.ZeroAmount(generic.UnitDollars),
		Pending: generic.ZeroAmount(generic.UnitDollars),
	}
	for _, e := range events {
		if e.UserID != userID {
			continue
		}
		s.Entries++
		s.Total = s.Total.Add(a.rate)
		if e.Paid {
			s.Paid = s.Paid.Add(a.rate)
		} else {
			s.Pending = s.Pending.Add(a.rate)
		}
	}
	return s
}
