package bonus

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/bonus-engine/generic"
	"go.uber.org/zap"
)

// RatePerPart is the bonus paid for every entered part.
var RatePerPart = generic.NewAmountFromInt(1, generic.UnitDollars)

// Placeholder labels for events whose user is missing from the directory.
const (
	UnknownUserName = "Unknown User"
	UnknownEmail    = "N/A"
)

// =============================================================================
// AGGREGATOR - Pure grouping and payment marking
// =============================================================================

// Aggregator groups entry events into quarterly buckets. It holds no state
// beyond its configuration and is safe for concurrent use.
type Aggregator struct {
	classifier Classifier
	rate       generic.Amount
	logger     *zap.Logger
}

func NewAggregator(classifier Classifier, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		classifier: classifier,
		rate:       RatePerPart,
		logger:     logger.With(zap.String("component", "aggregator")),
	}
}

func (a *Aggregator) Classifier() Classifier { return a.classifier }

// Report is the full aggregation output for one snapshot of events.
type Report struct {
	Buckets   []QuarterBucket
	NewUnpaid []QuarterBucket
	Totals    Totals
	// Anomalies holds InconsistentStateError and MissingReferenceError values
	// found while grouping. They never prevent the report from being built.
	Anomalies []error
}

// Aggregate groups events, flags new unpaid buckets and computes totals.
func (a *Aggregator) Aggregate(events []generic.PartEntryEvent, directory map[generic.UserID]generic.UserProfile) (Report, error) {
	buckets, anomalies, err := a.group(events, directory)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Buckets:   buckets,
		NewUnpaid: DetectNewUnpaidParts(buckets),
		Totals:    ComputeTotals(buckets),
		Anomalies: anomalies,
	}, nil
}

// Group partitions events by (user, quarter, year, payment status) and
// returns the buckets in presentation order.
func (a *Aggregator) Group(events []generic.PartEntryEvent, directory map[generic.UserID]generic.UserProfile) ([]QuarterBucket, error) {
	buckets, _, err := a.group(events, directory)
	return buckets, err
}

func (a *Aggregator) group(events []generic.PartEntryEvent, directory map[generic.UserID]generic.UserProfile) ([]QuarterBucket, []error, error) {
	index := make(map[BucketKey]int)
	buckets := make([]QuarterBucket, 0)
	var anomalies []error
	missingUsers := make(map[generic.UserID]bool)

	for _, e := range events {
		q, err := a.classifier.Classify(e.EnteredAt)
		if err != nil {
			return nil, nil, &generic.InvalidEventError{EventID: e.ID, Err: err}
		}

		// Paid is authoritative when the payment fields disagree
		if !e.PaymentConsistent() {
			anomaly := &generic.InconsistentStateError{EventID: e.ID, Paid: e.Paid, PaymentDate: e.PaymentDate}
			anomalies = append(anomalies, anomaly)
			a.logger.Warn("inconsistent payment state", zap.String("event_id", string(e.ID)), zap.Error(anomaly))
		}

		key := BucketKey{UserID: e.UserID, Quarter: q, Status: statusOf(e.Paid)}
		i, ok := index[key]
		if !ok {
			name, email, found := lookupUser(directory, e.UserID)
			if !found && !missingUsers[e.UserID] {
				missingUsers[e.UserID] = true
				anomaly := &generic.MissingReferenceError{Kind: "user", ID: string(e.UserID)}
				anomalies = append(anomalies, anomaly)
				a.logger.Warn("event references unknown user", zap.String("user_id", string(e.UserID)))
			}
			buckets = append(buckets, QuarterBucket{
				UserID:   e.UserID,
				UserName: name,
				Email:    email,
				Quarter:  q,
				Label:    q.Label(),
				Status:   key.Status,
			})
			i = len(buckets) - 1
			index[key] = i
		}

		b := &buckets[i]
		b.PartCount++
		b.EventIDs = append(b.EventIDs, e.ID)
		if e.Paid && e.PaymentDate != nil && (b.PaymentDate == nil || e.PaymentDate.After(*b.PaymentDate)) {
			b.PaymentDate = generic.TimePtr(*e.PaymentDate)
		}
	}

	for i := range buckets {
		buckets[i].BonusAmount = a.rate.Times(buckets[i].PartCount)
	}
	SortBuckets(buckets)
	return buckets, anomalies, nil
}

func lookupUser(directory map[generic.UserID]generic.UserProfile, id generic.UserID) (name, email string, found bool) {
	u, found := directory[id]
	name, email = u.Name, u.Email
	if name == "" {
		name = UnknownUserName
	}
	if email == "" {
		email = UnknownEmail
	}
	return name, email, found
}

// SortBuckets orders buckets by user name (user id breaks ties), then most
// recent quarter first, then paid before pending.
func SortBuckets(buckets []QuarterBucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		return bucketLess(buckets[i], buckets[j])
	})
}

func bucketLess(x, y QuarterBucket) bool {
	if xn, yn := strings.ToLower(x.UserName), strings.ToLower(y.UserName); xn != yn {
		return xn < yn
	}
	if x.UserName != y.UserName {
		return x.UserName < y.UserName
	}
	if x.UserID != y.UserID {
		return x.UserID < y.UserID
	}
	if x.Quarter != y.Quarter {
		return y.Quarter.Before(x.Quarter)
	}
	return x.Status == StatusPaid && y.Status != StatusPaid
}

// =============================================================================
// PAYMENT MARKING
// =============================================================================

// PaymentResult describes the events a payment update selected.
type PaymentResult struct {
	UserID      generic.UserID
	Quarter     Quarter
	Status      PaymentStatus
	EventIDs    []generic.EventID
	PaymentDate *time.Time
}

// MarkPaid sets Paid and PaymentDate on every event the user entered in q.
// Events already paid are overwritten with the new date. events is
// modified in place.
func (a *Aggregator) MarkPaid(events []generic.PartEntryEvent, userID generic.UserID, q Quarter, paymentDate time.Time) (PaymentResult, error) {
	if paymentDate.IsZero() {
		return PaymentResult{}, generic.ErrMissingPaymentDate
	}
	selected, err := a.selectQuarter(events, userID, q)
	if err != nil {
		return PaymentResult{}, err
	}

	result := PaymentResult{UserID: userID, Quarter: q, Status: StatusPaid, PaymentDate: generic.TimePtr(paymentDate)}
	for _, i := range selected {
		events[i].Paid = true
		events[i].PaymentDate = generic.TimePtr(paymentDate)
		result.EventIDs = append(result.EventIDs, events[i].ID)
	}
	return result, nil
}

// MarkPending clears Paid and PaymentDate on every event the user entered in q.
func (a *Aggregator) MarkPending(events []generic.PartEntryEvent, userID generic.UserID, q Quarter) (PaymentResult, error) {
	selected, err := a.selectQuarter(events, userID, q)
	if err != nil {
		return PaymentResult{}, err
	}

	result := PaymentResult{UserID: userID, Quarter: q, Status: StatusPending}
	for _, i := range selected {
		events[i].Paid = false
		events[i].PaymentDate = nil
		result.EventIDs = append(result.EventIDs, events[i].ID)
	}
	return result, nil
}

// selectQuarter returns the positions of the user's events inside q's window.
func (a *Aggregator) selectQuarter(events []generic.PartEntryEvent, userID generic.UserID, q Quarter) ([]int, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var selected []int
	for i, e := range events {
		if e.UserID != userID {
			continue
		}
		if e.EnteredAt.IsZero() {
			a.logger.Warn("skipping event without entry time", zap.String("event_id", string(e.ID)))
			continue
		}
		if a.classifier.InQuarter(e.EnteredAt, q) {
			selected = append(selected, i)
		}
	}
	if len(selected) == 0 {
		return nil, &generic.NotFoundError{
			Resource: "part entries",
			Key:      fmt.Sprintf("user %s in %s", userID, q.Label()),
		}
	}
	return selected, nil
}
