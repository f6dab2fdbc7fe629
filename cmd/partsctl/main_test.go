package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/store/sqlite"
)

// driftedDB creates a database with one entered part whose status flag
// was never set.
func driftedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bonus.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.InsertParts(ctx, []generic.Part{{ID: "p1", Name: "Filter", SerialNumber: "FLT-001"}}))
	require.NoError(t, store.AppendEvent(ctx, generic.PartEntryEvent{
		ID: "e1", UserID: "u1", PartID: "p1", EnteredAt: time.Date(2025, time.April, 2, 10, 0, 0, 0, time.UTC),
	}))
	return path
}

func TestRun_VerifySyncVerify(t *testing.T) {
	// GIVEN: A database with status drift
	db := driftedDB(t)

	// WHEN/THEN: verify fails, sync repairs, verify passes
	assert.Equal(t, exitInconsistent, run([]string{"-db", db, "verify"}))
	assert.Equal(t, exitOK, run([]string{"-db", db, "sync"}))
	assert.Equal(t, exitOK, run([]string{"-db", db, "verify"}))
}

func TestRun_Usage(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bonus.db")

	assert.Equal(t, exitUsage, run(nil))
	assert.Equal(t, exitUsage, run([]string{"-db", db, "rebuild"}))
	assert.Equal(t, exitUsage, run([]string{"-nope"}))
}
