/*
service.go - Orchestration of reads, pure computation and write-back

PURPOSE:
  Service is the only bonus type that talks to the outside world. Every
  operation follows the same shape:

    1. Fetch a snapshot from the store (events, parts, directory)
    2. Compute with the pure Aggregator / reconciler functions
    3. Write the result back in one batch
    4. Invalidate cached dashboards and record metrics

CONCURRENCY:
  Payment updates hold a lease on (user, year, quarter) for their whole
  fetch-compute-write cycle, so two admins marking the same quarter never
  interleave. Status syncs are serialized within the process; because a
  sync writes absolute values, an overlapping run elsewhere converges.

ERRORS:
  Store failures are wrapped in generic.OperationError naming the step
  that failed. Domain errors (not found, invalid quarter) pass through.

SEE ALSO:
  - aggregate.go, reconcile.go: Pure computation
  - lock/lock.go: Payment leases
  - cache/memo.go: Per-session dashboard memo
*/
package bonus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/bonus-engine/cache"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/lock"
	"github.com/warp/bonus-engine/metrics"
	"go.uber.org/zap"
)

// Store is the collaborator surface the service needs.
type Store interface {
	generic.EventSource
	generic.UserDirectory
	generic.WriteBack
	generic.SyncRunRecorder
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Classifier Classifier
	Locker     lock.Locker
	LockTTL    time.Duration
	CacheTTL   time.Duration
	Metrics    *metrics.Collectors
	Clock      generic.Clock
	Logger     *zap.Logger
}

const defaultLockTTL = 30 * time.Second

type Service struct {
	store      Store
	agg        *Aggregator
	locker     lock.Locker
	lockTTL    time.Duration
	dashboards *cache.Memo[Dashboard]
	metrics    *metrics.Collectors
	clock      generic.Clock
	logger     *zap.Logger

	syncMu sync.Mutex
}

func NewService(store Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = generic.SystemClock{}
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewMemory(opts.Clock)
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Classifier.loc == nil {
		opts.Classifier = NewClassifier(nil)
	}
	return &Service{
		store:      store,
		agg:        NewAggregator(opts.Classifier, opts.Logger),
		locker:     opts.Locker,
		lockTTL:    opts.LockTTL,
		dashboards: cache.New[Dashboard](opts.CacheTTL, opts.Clock),
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		logger:     opts.Logger.With(zap.String("component", "bonus")),
	}
}

func (s *Service) Aggregator() *Aggregator { return s.agg }

// =============================================================================
// REPORTS
// =============================================================================

// ReportView is a filtered bonus report plus the context a reviewer needs.
type ReportView struct {
	Buckets []QuarterBucket
	// NewUnpaid marks rows from Buckets that are new since their quarter was
	// paid. Computed over the unfiltered report.
	NewUnpaid map[BucketKey]bool
	Totals    Totals
	Quarters  []Quarter
	Trends    []Trend
	Anomalies []error
}

// Report aggregates every event and applies f.
func (s *Service) Report(ctx context.Context, f Filter) (ReportView, error) {
	events, directory, err := s.snapshot(ctx)
	if err != nil {
		return ReportView{}, err
	}

	started := time.Now()
	report, err := s.agg.Aggregate(events, directory)
	s.metrics.ObserveAggregation(time.Since(started))
	if err != nil {
		return ReportView{}, err
	}
	s.recordAnomalies(report.Anomalies)

	filtered := ApplyFilter(report.Buckets, f)
	flagged := NewUnpaidKeys(report.Buckets)
	return ReportView{
		Buckets:   filtered,
		NewUnpaid: flagged,
		Totals:    TotalsWithFlags(filtered, flagged),
		Quarters:  AvailableQuarters(report.Buckets),
		Trends:    QuarterlyTrends(report.Buckets),
		Anomalies: report.Anomalies,
	}, nil
}

func (s *Service) snapshot(ctx context.Context) ([]generic.PartEntryEvent, map[generic.UserID]generic.UserProfile, error) {
	events, err := s.store.FetchAllPartEntryEvents(ctx)
	if err != nil {
		return nil, nil, &generic.OperationError{Op: "fetch part entry events", Err: err}
	}
	directory, err := s.store.FetchUserDirectory(ctx)
	if err != nil {
		return nil, nil, &generic.OperationError{Op: "fetch user directory", Err: err}
	}
	return events, directory, nil
}

func (s *Service) recordAnomalies(anomalies []error) {
	for _, a := range anomalies {
		switch {
		case errors.Is(a, generic.ErrInconsistentState):
			s.metrics.Anomaly("inconsistent_state")
		case errors.Is(a, generic.ErrMissingReference):
			s.metrics.Anomaly("missing_reference")
		}
	}
}

// =============================================================================
// USER DASHBOARD - Memoized per (user, locale)
// =============================================================================

type DashboardQuarter struct {
	Quarter     Quarter
	Label       string
	Status      PaymentStatus
	Parts       int
	Bonus       string
	PaymentDate string
	NewUnpaid   bool
}

type Dashboard struct {
	UserID      generic.UserID
	UserName    string
	Email       string
	Locale      string
	Summary     UserSummary
	Quarters    []DashboardQuarter
	GeneratedAt time.Time
}

// Dashboard returns the user's bonus overview. Repeated calls within a
// session are served from the memo until the user's data changes.
func (s *Service) Dashboard(ctx context.Context, userID generic.UserID, locale string) (Dashboard, error) {
	locale = NormalizeLocale(locale)
	key := cache.Key{UserID: string(userID), Locale: locale}
	return s.dashboards.Get(ctx, key, func(ctx context.Context) (Dashboard, error) {
		return s.buildDashboard(ctx, userID, locale)
	})
}

func (s *Service) buildDashboard(ctx context.Context, userID generic.UserID, locale string) (Dashboard, error) {
	events, directory, err := s.snapshot(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	own := make([]generic.PartEntryEvent, 0)
	for _, e := range events {
		if e.UserID == userID {
			own = append(own, e)
		}
	}
	buckets, err := s.agg.Group(own, directory)
	if err != nil {
		return Dashboard{}, err
	}
	flagged := NewUnpaidKeys(buckets)

	name, email, _ := lookupUser(directory, userID)
	d := Dashboard{
		UserID:      userID,
		UserName:    name,
		Email:       email,
		Locale:      locale,
		Summary:     s.agg.Summarize(own, userID),
		Quarters:    make([]DashboardQuarter, 0, len(buckets)),
		GeneratedAt: s.clock.Now(),
	}
	for _, b := range buckets {
		d.Quarters = append(d.Quarters, DashboardQuarter{
			Quarter:     b.Quarter,
			Label:       b.Label,
			Status:      b.Status,
			Parts:       b.PartCount,
			Bonus:       b.BonusAmount.Currency(),
			PaymentDate: FormatPaymentDateIn(b.PaymentDate, locale, s.agg.classifier.Location()),
			NewUnpaid:   flagged[b.Key()],
		})
	}
	return d, nil
}

// InvalidateUser drops the user's memoized dashboards.
func (s *Service) InvalidateUser(userID generic.UserID) {
	s.dashboards.Invalidate(string(userID))
}

// InvalidateAll drops every memoized dashboard.
func (s *Service) InvalidateAll() {
	s.dashboards.InvalidateAll()
}

// =============================================================================
// PAYMENT UPDATES
// =============================================================================

// MarkPaid records payment of every part the user entered in q.
func (s *Service) MarkPaid(ctx context.Context, userID generic.UserID, q Quarter, paymentDate time.Time) (PaymentResult, error) {
	if paymentDate.IsZero() {
		return PaymentResult{}, generic.ErrMissingPaymentDate
	}
	return s.updatePayment(ctx, userID, q, StatusPaid, paymentDate)
}

// MarkPending reverts every part the user entered in q to unpaid.
func (s *Service) MarkPending(ctx context.Context, userID generic.UserID, q Quarter) (PaymentResult, error) {
	return s.updatePayment(ctx, userID, q, StatusPending, time.Time{})
}

func (s *Service) updatePayment(ctx context.Context, userID generic.UserID, q Quarter, status PaymentStatus, paymentDate time.Time) (result PaymentResult, err error) {
	defer func() {
		s.metrics.PaymentUpdate(string(status), err, len(result.EventIDs))
	}()

	if err := q.Validate(); err != nil {
		return PaymentResult{}, err
	}

	key := lock.PaymentKey(userID, q.Year, q.Number)
	token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		return PaymentResult{}, &generic.OperationError{Op: "acquire payment lock", Err: err}
	}
	if !ok {
		return PaymentResult{}, fmt.Errorf("%w: %s %s", generic.ErrPaymentInProgress, userID, q.Label())
	}
	defer func() {
		if relErr := s.locker.Release(context.WithoutCancel(ctx), key, token); relErr != nil {
			s.logger.Warn("failed to release payment lock", zap.String("key", key), zap.Error(relErr))
		}
	}()

	events, err := s.store.FetchAllPartEntryEvents(ctx)
	if err != nil {
		return PaymentResult{}, &generic.OperationError{Op: "fetch part entry events", Err: err}
	}

	op := "mark pending"
	if status == StatusPaid {
		op = "mark paid"
		result, err = s.agg.MarkPaid(events, userID, q, paymentDate)
	} else {
		result, err = s.agg.MarkPending(events, userID, q)
	}
	if err != nil {
		return PaymentResult{}, err
	}

	if err := s.store.ApplyPaymentUpdate(ctx, result.EventIDs, status == StatusPaid, result.PaymentDate); err != nil {
		return PaymentResult{}, &generic.OperationError{Op: op, Err: err}
	}
	s.InvalidateUser(userID)

	s.logger.Info("payment status updated",
		zap.String("user_id", string(userID)),
		zap.String("quarter", q.Label()),
		zap.String("status", string(status)),
		zap.Int("events", len(result.EventIDs)),
	)
	return result, nil
}

// =============================================================================
// PART STATUS RECONCILIATION
// =============================================================================

// SyncPartStatus recomputes every part's status from the entry log, writes
// the changes and records the run.
func (s *Service) SyncPartStatus(ctx context.Context, trigger generic.SyncTrigger) (generic.SyncRun, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	run := generic.SyncRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    generic.SyncRunning,
		StartedAt: s.clock.Now(),
	}

	result, err := s.syncPartStatus(ctx)
	run.UpdatedToTrue = len(result.UpdatedToTrue)
	run.ResetToFalse = len(result.ResetToFalse)
	completed := s.clock.Now()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = generic.SyncFailed
		run.Error = err.Error()
	} else {
		run.Status = generic.SyncCompleted
	}
	s.metrics.SyncRun(string(trigger), err, run.UpdatedToTrue, run.ResetToFalse)

	if saveErr := s.store.SaveSyncRun(context.WithoutCancel(ctx), run); saveErr != nil {
		s.logger.Warn("failed to record sync run", zap.String("run_id", run.ID), zap.Error(saveErr))
	}
	if err != nil {
		s.logger.Error("part status sync failed", zap.String("trigger", string(trigger)), zap.Error(err))
		return run, err
	}

	s.logger.Info("part status synced",
		zap.String("trigger", string(trigger)),
		zap.Int("updated_to_true", run.UpdatedToTrue),
		zap.Int("reset_to_false", run.ResetToFalse),
	)
	return run, nil
}

func (s *Service) syncPartStatus(ctx context.Context) (SyncResult, error) {
	events, err := s.store.FetchAllPartEntryEvents(ctx)
	if err != nil {
		return SyncResult{}, &generic.OperationError{Op: "fetch part entry events", Err: err}
	}
	parts, err := s.store.FetchAllParts(ctx)
	if err != nil {
		return SyncResult{}, &generic.OperationError{Op: "fetch parts", Err: err}
	}

	result := SyncPartStatus(events, parts)
	if len(result.UpdatedToTrue) > 0 {
		if err := s.store.ApplyStatusUpdate(ctx, result.UpdatedToTrue, true); err != nil {
			return SyncResult{}, &generic.OperationError{Op: "sync part status", Err: err}
		}
	}
	if len(result.ResetToFalse) > 0 {
		if err := s.store.ApplyStatusUpdate(ctx, result.ResetToFalse, false); err != nil {
			// The true batch is already written; a rerun converges
			return SyncResult{UpdatedToTrue: result.UpdatedToTrue}, &generic.OperationError{Op: "sync part status", Err: err}
		}
	}
	return result, nil
}

// VerifyPartStatus audits part status without writing.
func (s *Service) VerifyPartStatus(ctx context.Context) (Verification, error) {
	events, err := s.store.FetchAllPartEntryEvents(ctx)
	if err != nil {
		return Verification{}, &generic.OperationError{Op: "fetch part entry events", Err: err}
	}
	parts, err := s.store.FetchAllParts(ctx)
	if err != nil {
		return Verification{}, &generic.OperationError{Op: "fetch parts", Err: err}
	}

	v := VerifyPartStatusSync(events, parts)
	if len(v.Dangling) > 0 {
		s.logger.Warn("events reference parts missing from the catalog", zap.Int("count", len(v.Dangling)))
	}
	return v, nil
}

// SyncRuns lists recent reconciliation runs, newest first.
func (s *Service) SyncRuns(ctx context.Context, limit int) ([]generic.SyncRun, error) {
	runs, err := s.store.ListSyncRuns(ctx, limit)
	if err != nil {
		return nil, &generic.OperationError{Op: "list sync runs", Err: err}
	}
	return runs, nil
}
