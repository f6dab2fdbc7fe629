/*
scheduler.go - Automated part status reconciliation

PURPOSE:
  Periodically recomputes every part's status from the entry log and
  audits the result, so drift introduced outside the API (manual SQL,
  restored backups) is corrected without an admin noticing it first.

DESIGN:
  - Runs on a cron schedule with a seconds field (default every 15 minutes)
  - A tick that is still running causes the next one to be skipped
  - Every run is recorded as a SyncRun by the bonus service
  - After syncing, a read-only verification is logged

CONFIGURATION:
  - Spec:    Cron expression with seconds (sync.cron)
  - Enabled: Whether scheduler is active (sync.enabled)

USAGE:
  scheduler := NewStatusSyncScheduler(service, spec, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SyncPartStatus endpoint (manual reconciliation)
  - bonus/reconcile.go: SyncPartStatus, VerifyPartStatusSync
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/bonus-engine/bonus"
	"github.com/warp/bonus-engine/generic"
	"go.uber.org/zap"
)

// DefaultSyncSpec runs a sync every 15 minutes.
const DefaultSyncSpec = "0 */15 * * * *"

// StatusReconciler is the part of the bonus service the scheduler drives.
type StatusReconciler interface {
	SyncPartStatus(ctx context.Context, trigger generic.SyncTrigger) (generic.SyncRun, error)
	VerifyPartStatus(ctx context.Context) (bonus.Verification, error)
}

// StatusSyncScheduler runs part status reconciliation on a cron schedule.
type StatusSyncScheduler struct {
	Reconciler StatusReconciler
	Spec       string
	Enabled    bool
	Timeout    time.Duration

	cron    *cron.Cron
	entry   cron.EntryID
	logger  *zap.Logger
	mu      sync.Mutex
	running bool
}

// NewStatusSyncScheduler creates a new scheduler. An empty spec uses
// DefaultSyncSpec.
func NewStatusSyncScheduler(reconciler StatusReconciler, spec string, logger *zap.Logger) *StatusSyncScheduler {
	if spec == "" {
		spec = DefaultSyncSpec
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusSyncScheduler{
		Reconciler: reconciler,
		Spec:       spec,
		Enabled:    true,
		Timeout:    2 * time.Minute,
		logger:     logger.With(zap.String("component", "scheduler")),
	}
}

// Start begins the scheduler.
func (s *StatusSyncScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("status sync scheduler disabled, not starting")
		return nil
	}
	if s.running {
		return nil
	}

	c := cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{s.logger.Sugar()}))
	id, err := c.AddJob(s.Spec, s.job())
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.Spec, err)
	}
	c.Start()

	s.cron = c
	s.entry = id
	s.running = true
	s.logger.Info("status sync scheduler started", zap.String("spec", s.Spec))
	return nil
}

// Stop stops the scheduler and waits for a running sync to finish.
func (s *StatusSyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("status sync scheduler stopped")
}

// job wraps tick so a panic is logged instead of killing the process and
// an overrunning sync skips the next tick.
func (s *StatusSyncScheduler) job() cron.Job {
	cronLog := cronLogger{s.logger.Sugar()}
	return cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)).Then(cron.FuncJob(s.tick))
}

func (s *StatusSyncScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	s.RunNow(ctx, generic.TriggerScheduled)
}

// RunNow syncs and verifies immediately (for testing/admin).
func (s *StatusSyncScheduler) RunNow(ctx context.Context, trigger generic.SyncTrigger) (generic.SyncRun, bonus.Verification, error) {
	run, err := s.Reconciler.SyncPartStatus(ctx, trigger)
	if err != nil {
		return run, bonus.Verification{}, err
	}

	v, err := s.Reconciler.VerifyPartStatus(ctx)
	if err != nil {
		s.logger.Warn("post-sync verification failed", zap.Error(err))
		return run, bonus.Verification{}, err
	}
	if !v.Consistent {
		s.logger.Warn("part status still inconsistent after sync",
			zap.Int("missing_true", len(v.MissingTrue)),
			zap.Int("extra_true", len(v.ExtraTrue)),
		)
	}
	return run, v, nil
}

// NextRunTime returns when the next scheduled sync will occur, or the zero
// time if the scheduler is not running.
func (s *StatusSyncScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// cronLogger routes cron's own logging through zap. Its info chatter
// (schedule, wake, run) goes to debug.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
