package services

import (
	"encoding/json"
	"testing"
	"time"

	"vigil/internal/models"
	"vigil/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLifecycle(t *testing.T) (*Lifecycle, *SlotRegistry, store.Store) {
	t.Helper()
	db := setupTestDB(t)
	registry := seededRegistry(t, db)
	clk := testClock()
	tracker := NewPauseTracker(db, clk)
	memStore := store.NewMemoryStore()
	t.Cleanup(func() { memStore.Close() })

	lifecycle := NewLifecycle(db, memStore, tracker, clk, func() int { return 3 })
	return lifecycle, registry, memStore
}

func TestApplyMissedIncrementsCounter(t *testing.T) {
	lifecycle, registry, _ := newTestLifecycle(t)

	_, err := registry.Claim("alice", 10)
	require.NoError(t, err)

	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-15", 10))

	assignment, err := registry.GetOpenAssignment("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, assignment.MissedCount)
}

func TestApplyMissedDuplicateDateIsNoOp(t *testing.T) {
	lifecycle, registry, _ := newTestLifecycle(t)

	_, err := registry.Claim("alice", 10)
	require.NoError(t, err)

	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-15", 10))
	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-15", 10))

	assignment, err := registry.GetOpenAssignment("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, assignment.MissedCount)
}

func TestThresholdReleasesAssignmentAndFreesSlot(t *testing.T) {
	lifecycle, registry, memStore := newTestLifecycle(t)

	sub, err := memStore.Subscribe(ChannelLifecycleEvents)
	require.NoError(t, err)
	defer sub.Close()

	_, err = registry.Claim("alice", 10)
	require.NoError(t, err)

	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-13", 10))
	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-14", 10))
	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-15", 10))

	// Assignment is gone and the slot claimable in the same step
	_, err = registry.GetOpenAssignment("alice")
	require.Error(t, err)

	_, err = registry.Claim("bob", 10)
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var event ReleaseEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Equal(t, "released", event.Type)
		assert.Equal(t, "alice", event.HolderID)
		assert.Equal(t, 10, event.WindowIndex)
		assert.Equal(t, 3, event.MissedCount)
	case <-time.After(time.Second):
		t.Fatal("expected a release event")
	}
}

func TestApplyAttendedResetsCounter(t *testing.T) {
	lifecycle, registry, _ := newTestLifecycle(t)

	_, err := registry.Claim("alice", 10)
	require.NoError(t, err)

	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-13", 10))
	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-14", 10))

	joined := time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC)
	require.NoError(t, lifecycle.ApplyAttended("alice", "2025-06-15", 10, joined, joined.Add(25*time.Minute), "mtg-1"))

	assignment, err := registry.GetOpenAssignment("alice")
	require.NoError(t, err)
	assert.Zero(t, assignment.MissedCount)
}

func TestApplyAttendedCorrectsEarlierMiss(t *testing.T) {
	lifecycle, registry, _ := newTestLifecycle(t)

	_, err := registry.Claim("alice", 10)
	require.NoError(t, err)

	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-15", 10))

	joined := time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC)
	require.NoError(t, lifecycle.ApplyAttended("alice", "2025-06-15", 10, joined, joined.Add(25*time.Minute), ""))

	var record models.AttendanceRecord
	require.NoError(t, lifecycle.db.Where("holder_id = ? AND date = ?", "alice", "2025-06-15").First(&record).Error)
	assert.Equal(t, models.AttendanceOutcomeAttended, record.Outcome)

	// An attended row is never downgraded back to missed
	require.NoError(t, lifecycle.ApplyMissed("alice", "2025-06-15", 10))
	require.NoError(t, lifecycle.db.Where("holder_id = ? AND date = ?", "alice", "2025-06-15").First(&record).Error)
	assert.Equal(t, models.AttendanceOutcomeAttended, record.Outcome)
}

func TestSyncPauseStates(t *testing.T) {
	db := setupTestDB(t)
	registry := seededRegistry(t, db)
	clk := testClock()
	tracker := NewPauseTracker(db, clk)
	memStore := store.NewMemoryStore()
	t.Cleanup(func() { memStore.Close() })
	lifecycle := NewLifecycle(db, memStore, tracker, clk, func() int { return 3 })

	_, err := registry.Claim("alice", 10)
	require.NoError(t, err)

	start := clk.Now().Add(-time.Hour)
	_, err = tracker.RequestPause("alice", start, clk.Now().Add(time.Hour), "")
	require.NoError(t, err)

	require.NoError(t, lifecycle.SyncPauseStates())
	assignment, err := registry.GetOpenAssignment("alice")
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusPaused, assignment.Status)

	// Pause expires, the sweep reactivates
	clk.Advance(2 * time.Hour)
	require.NoError(t, lifecycle.SyncPauseStates())
	assignment, err = registry.GetOpenAssignment("alice")
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusActive, assignment.Status)
}
