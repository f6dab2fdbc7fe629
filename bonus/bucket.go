package bonus

import (
	"time"

	"github.com/warp/bonus-engine/generic"
)

// PaymentStatus is the bucket-level payment state.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPending PaymentStatus = "pending"
)

func statusOf(paid bool) PaymentStatus {
	if paid {
		return StatusPaid
	}
	return StatusPending
}

// BucketKey identifies one report row.
type BucketKey struct {
	UserID  generic.UserID
	Quarter Quarter
	Status  PaymentStatus
}

// QuarterBucket aggregates a user's entries for one quarter and payment status.
type QuarterBucket struct {
	UserID      generic.UserID
	UserName    string
	Email       string
	Quarter     Quarter
	Label       string
	Status      PaymentStatus
	PartCount   int
	BonusAmount generic.Amount
	// PaymentDate is the latest payment date among the bucket's events.
	// Always nil for pending buckets.
	PaymentDate *time.Time
	EventIDs    []generic.EventID
}

func (b QuarterBucket) Key() BucketKey {
	return BucketKey{UserID: b.UserID, Quarter: b.Quarter, Status: b.Status}
}

func (b QuarterBucket) IsPaid() bool { return b.Status == StatusPaid }
