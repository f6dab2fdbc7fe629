package api

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/bonus"
	"github.com/warp/bonus-engine/generic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubReconciler struct {
	panicMsg string
	syncErr  error
	verify   bonus.Verification
	triggers []generic.SyncTrigger
}

func (s *stubReconciler) SyncPartStatus(_ context.Context, trigger generic.SyncTrigger) (generic.SyncRun, error) {
	s.triggers = append(s.triggers, trigger)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.syncErr != nil {
		return generic.SyncRun{Trigger: trigger, Status: generic.SyncFailed}, s.syncErr
	}
	return generic.SyncRun{Trigger: trigger, Status: generic.SyncCompleted, UpdatedToTrue: 1}, nil
}

func (s *stubReconciler) VerifyPartStatus(context.Context) (bonus.Verification, error) {
	return s.verify, nil
}

func TestScheduler_RunNow(t *testing.T) {
	r := &stubReconciler{verify: bonus.Verification{Consistent: true}}
	s := NewStatusSyncScheduler(r, "", nil)
	assert.Equal(t, DefaultSyncSpec, s.Spec)

	run, v, err := s.RunNow(context.Background(), generic.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, 1, run.UpdatedToTrue)
	assert.True(t, v.Consistent)
	assert.Equal(t, []generic.SyncTrigger{generic.TriggerScheduled}, r.triggers)
}

func TestScheduler_RunNowSyncFailure(t *testing.T) {
	r := &stubReconciler{syncErr: errors.New("database is locked")}
	s := NewStatusSyncScheduler(r, "", nil)

	run, _, err := s.RunNow(context.Background(), generic.TriggerManual)
	assert.EqualError(t, err, "database is locked")
	assert.Equal(t, generic.SyncFailed, run.Status)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewStatusSyncScheduler(&stubReconciler{}, "@every 1h", nil)

	require.NoError(t, s.Start())
	assert.False(t, s.NextRunTime().IsZero())

	s.Stop()
	assert.True(t, s.NextRunTime().IsZero())
}

func TestScheduler_Disabled(t *testing.T) {
	s := NewStatusSyncScheduler(&stubReconciler{}, "", nil)
	s.Enabled = false

	require.NoError(t, s.Start())
	assert.True(t, s.NextRunTime().IsZero())
	s.Stop()
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewStatusSyncScheduler(&stubReconciler{}, "every so often", nil)
	assert.Error(t, s.Start())
}

func TestScheduler_PanicIsLogged(t *testing.T) {
	// GIVEN: A reconciler that panics mid-sync
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewStatusSyncScheduler(&stubReconciler{panicMsg: "nil map write"}, "", zap.New(core))

	// WHEN: A scheduled tick runs
	assert.NotPanics(t, func() { s.job().Run() })

	// THEN: The panic is reported as an error log
	panics := logs.FilterMessage("panic").FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, panics, 1)
	assert.Contains(t, panics[0].ContextMap()["error"], "nil map write")
	assert.Equal(t, "scheduler", panics[0].ContextMap()["component"])
}
