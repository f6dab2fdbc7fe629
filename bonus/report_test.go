package bonus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/bonus"
	"github.com/warp/bonus-engine/generic"
)

// reportBuckets builds a small multi-user, multi-quarter report:
//
//	A: Q1 2024 paid x3, Q1 2024 pending x2 (new unpaid), Q2 2024 pending x1
//	B: Q2 2024 paid x1
func reportBuckets(t *testing.T) []bonus.QuarterBucket {
	t.Helper()
	paidOn := day(2024, time.April, 3)
	events := []generic.PartEntryEvent{
		paidEvent("a1", "A", "p1", day(2024, time.January, 2), paidOn),
		paidEvent("a2", "A", "p2", day(2024, time.January, 3), paidOn),
		paidEvent("a3", "A", "p3", day(2024, time.January, 4), paidOn),
		pendingEvent("a4", "A", "p4", day(2024, time.March, 20)),
		pendingEvent("a5", "A", "p5", day(2024, time.March, 21)),
		pendingEvent("a6", "A", "p6", day(2024, time.May, 1)),
		paidEvent("b1", "B", "p7", day(2024, time.June, 1), day(2024, time.July, 2)),
	}
	buckets, err := newAggregator().Group(events, directory(user("A", "Alice"), user("B", "Bob")))
	require.NoError(t, err)
	return buckets
}

// =============================================================================
// NEW UNPAID DETECTION & TOTALS
// =============================================================================

func TestDetectNewUnpaidParts_LateEntriesAfterPayout(t *testing.T) {
	// GIVEN: 3 paid and 2 pending entries for A in Q1 2024
	// WHEN: Detecting new unpaid parts
	// THEN: Only A's pending Q1 bucket is flagged, worth 2 parts

	buckets := reportBuckets(t)

	flagged := bonus.DetectNewUnpaidParts(buckets)
	require.Len(t, flagged, 1)
	assert.Equal(t, bonus.BucketKey{UserID: "A", Quarter: q1of2024, Status: bonus.StatusPending}, flagged[0].Key())

	totals := bonus.ComputeTotals(buckets)
	assert.Equal(t, 2, totals.NewParts)
	assert.Equal(t, "$2.00", totals.NewBonus)
	assert.Equal(t, 7, totals.Parts)
	assert.Equal(t, "$7.00", totals.Bonus)
	assert.Equal(t, 2, totals.Users)
}

func TestDetectNewUnpaidParts_PendingWithoutPaidSibling(t *testing.T) {
	// GIVEN: A's Q2 pending bucket with no paid Q2 bucket
	// THEN: It is not flagged
	keys := bonus.NewUnpaidKeys(reportBuckets(t))
	assert.False(t, keys[bonus.BucketKey{UserID: "A", Quarter: q2of2024, Status: bonus.StatusPending}])
	assert.Len(t, keys, 1)
}

func TestTotalsWithFlags_UsesOuterFlags(t *testing.T) {
	// GIVEN: Only the new-unpaid rows, filtered out of the full report
	// WHEN: Totaling with flags computed on the full report
	// THEN: The new-unpaid figures survive the filter

	buckets := reportBuckets(t)
	flagged := bonus.NewUnpaidKeys(buckets)
	filtered := bonus.ApplyFilter(buckets, bonus.Filter{Status: bonus.FilterNewUnpaid})

	assert.Equal(t, 0, bonus.ComputeTotals(filtered).NewParts, "no paid sibling left in the filtered set")

	totals := bonus.TotalsWithFlags(filtered, flagged)
	assert.Equal(t, bonus.Totals{Users: 1, Parts: 2, Bonus: "$2.00", NewParts: 2, NewBonus: "$2.00"}, totals)
}

// =============================================================================
// FILTERS
// =============================================================================

func TestParseStatusFilter(t *testing.T) {
	cases := map[string]bonus.StatusFilter{
		"":                 bonus.FilterAll,
		"All":              bonus.FilterAll,
		"paid":             bonus.FilterPaid,
		"Pending":          bonus.FilterPending,
		"new-unpaid":       bonus.FilterNewUnpaid,
		"New Unpaid Parts": bonus.FilterNewUnpaid,
	}
	for in, want := range cases {
		got, err := bonus.ParseStatusFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := bonus.ParseStatusFilter("overdue")
	assert.Error(t, err)
}

func TestApplyFilter(t *testing.T) {
	buckets := reportBuckets(t)

	assert.Len(t, bonus.ApplyFilter(buckets, bonus.Filter{Status: bonus.FilterAll}), 4)
	assert.Len(t, bonus.ApplyFilter(buckets, bonus.Filter{Status: bonus.FilterPaid}), 2)
	assert.Len(t, bonus.ApplyFilter(buckets, bonus.Filter{Status: bonus.FilterPending}), 2)

	q2 := q2of2024
	byQuarter := bonus.ApplyFilter(buckets, bonus.Filter{Quarter: &q2, Status: bonus.FilterAll})
	require.Len(t, byQuarter, 2)
	for _, b := range byQuarter {
		assert.Equal(t, q2of2024, b.Quarter)
	}

	q1 := q1of2024
	newInQ1 := bonus.ApplyFilter(buckets, bonus.Filter{Quarter: &q1, Status: bonus.FilterNewUnpaid})
	require.Len(t, newInQ1, 1)
	assert.Equal(t, 2, newInQ1[0].PartCount)
}

func TestAvailableQuarters_MostRecentFirst(t *testing.T) {
	assert.Equal(t, []bonus.Quarter{q2of2024, q1of2024}, bonus.AvailableQuarters(reportBuckets(t)))
	assert.Empty(t, bonus.AvailableQuarters(nil))
}

func TestBucketsForUser(t *testing.T) {
	got := bonus.BucketsForUser(reportBuckets(t), "B")
	require.Len(t, got, 1)
	assert.Equal(t, "Bob", got[0].UserName)
}

// =============================================================================
// TRENDS
// =============================================================================

func TestQuarterlyTrends_OldestFirst(t *testing.T) {
	trends := bonus.QuarterlyTrends(reportBuckets(t))
	require.Len(t, trends, 2)

	assert.Equal(t, "Q1 2024", trends[0].Label)
	assert.Equal(t, 5, trends[0].Parts)
	assert.Equal(t, "$3.00", trends[0].Paid.Currency())
	assert.Equal(t, "$2.00", trends[0].Pending.Currency())
	assert.Equal(t, 1, trends[0].Users)

	assert.Equal(t, "Q2 2024", trends[1].Label)
	assert.Equal(t, 2, trends[1].Parts)
	assert.Equal(t, "$2.00", trends[1].Bonus.Currency())
	assert.Equal(t, 2, trends[1].Users)
}

// =============================================================================
// LOCALES
// =============================================================================

func TestFormatPaymentDate_Locales(t *testing.T) {
	paid := time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "Apr 5, 2024", bonus.FormatPaymentDate(&paid, "en"))
	assert.Equal(t, "Apr 5, 2024", bonus.FormatPaymentDate(&paid, "fr"), "unknown locales fall back to en")
	assert.Equal(t, "05/04/2024", bonus.FormatPaymentDate(&paid, "es-MX"))
	assert.Equal(t, "05.04.2024", bonus.FormatPaymentDate(&paid, "de"))
	assert.Equal(t, "05.04.2024", bonus.FormatPaymentDate(&paid, "RU"))
	assert.Equal(t, "05.04.2024", bonus.FormatPaymentDate(&paid, "uz_UZ"))
	assert.Equal(t, "", bonus.FormatPaymentDate(nil, "en"))
}

func TestFormatPaymentDateIn_ConvertsLocation(t *testing.T) {
	// GIVEN: Midnight Apr 5 in Berlin, stored as Apr 4 22:00 UTC
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	stored := time.Date(2024, time.April, 5, 0, 0, 0, 0, berlin).UTC()

	// THEN: Rendering in Berlin shows the intended calendar day
	assert.Equal(t, "Apr 4, 2024", bonus.FormatPaymentDate(&stored, "en"))
	assert.Equal(t, "Apr 5, 2024", bonus.FormatPaymentDateIn(&stored, "en", berlin))
}

func TestNormalizeLocale(t *testing.T) {
	assert.Equal(t, "en", bonus.NormalizeLocale(""))
	assert.Equal(t, "de", bonus.NormalizeLocale(" de-AT "))
	assert.Equal(t, "en", bonus.NormalizeLocale("pt-BR"))
}
