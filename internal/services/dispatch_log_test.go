package services

import (
	"errors"
	"testing"
	"time"

	"vigil/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDispatchLog(t *testing.T) (*DispatchLog, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewDispatchLog(db, testClock(), func() int { return 3 }), db
}

func TestClaimFirstInsertWins(t *testing.T) {
	log, _ := newTestDispatchLog(t)

	record, owned, err := log.Claim("+15550001", models.CategorySlotReminder, "reminder:2025-06-15:10", "text", "", nil)
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, models.DispatchStatusPending, record.Status)

	// Same logical key again: the row exists and is freshly pending
	_, owned, err = log.Claim("+15550001", models.CategorySlotReminder, "reminder:2025-06-15:10", "text", "", nil)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestClaimDistinctKeysIndependent(t *testing.T) {
	log, _ := newTestDispatchLog(t)

	_, owned, err := log.Claim("+15550001", models.CategorySlotReminder, "reminder:2025-06-15:10", "text", "", nil)
	require.NoError(t, err)
	assert.True(t, owned)

	// Different recipient, different day, different category all claim fresh
	_, owned, err = log.Claim("+15550002", models.CategorySlotReminder, "reminder:2025-06-15:10", "text", "", nil)
	require.NoError(t, err)
	assert.True(t, owned)

	_, owned, err = log.Claim("+15550001", models.CategorySlotReminder, "reminder:2025-06-16:10", "text", "", nil)
	require.NoError(t, err)
	assert.True(t, owned)

	_, owned, err = log.Claim("+15550001", models.CategoryBroadcast, "reminder:2025-06-15:10", "text", "", nil)
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestClaimTerminalStateNotRetried(t *testing.T) {
	log, _ := newTestDispatchLog(t)

	record, owned, err := log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	require.True(t, owned)
	require.NoError(t, log.MarkSent(record))

	_, owned, err = log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	assert.False(t, owned)

	sent, err := log.HasDispatched("+15550001", models.CategorySlotReminder, "k1")
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestClaimTakesOverStalePending(t *testing.T) {
	log, db := newTestDispatchLog(t)

	record, owned, err := log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	require.True(t, owned)

	// A claim against a fresh pending row backs off
	_, owned, err = log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	assert.False(t, owned)

	// Age the row past the backoff and the claim takes it over
	stale := testClock().Now().Add(-5 * time.Minute)
	require.NoError(t, db.Model(&models.DispatchRecord{}).
		Where("id = ?", record.ID).Update("updated_at", stale).Error)

	taken, owned, err := log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, record.ID, taken.ID)
}

func TestClaimStalePendingAtRetryCapNotTakenOver(t *testing.T) {
	log, db := newTestDispatchLog(t)

	record, owned, err := log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	require.True(t, owned)

	stale := testClock().Now().Add(-5 * time.Minute)
	require.NoError(t, db.Model(&models.DispatchRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{"retry_count": 3, "updated_at": stale}).Error)

	_, owned, err = log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestMarkFailedFlipsToFailedAtCap(t *testing.T) {
	log, _ := newTestDispatchLog(t)

	record, owned, err := log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	require.True(t, owned)

	sendErr := errors.New("messenger unreachable")
	require.NoError(t, log.MarkFailed(record, sendErr))
	assert.Equal(t, 1, record.RetryCount)

	var stored models.DispatchRecord
	require.NoError(t, log.db.First(&stored, "id = ?", record.ID).Error)
	assert.Equal(t, models.DispatchStatusPending, stored.Status)
	assert.Equal(t, "messenger unreachable", stored.LastError)

	require.NoError(t, log.MarkFailed(record, sendErr))
	require.NoError(t, log.MarkFailed(record, sendErr))

	require.NoError(t, log.db.First(&stored, "id = ?", record.ID).Error)
	assert.Equal(t, models.DispatchStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)

	done, err := log.HasDispatched("+15550001", models.CategorySlotReminder, "k1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMarkSkippedOccupiesDedupeSlot(t *testing.T) {
	log, _ := newTestDispatchLog(t)

	record, owned, err := log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	require.True(t, owned)
	require.NoError(t, log.MarkSkipped(record, "quiet hours"))

	done, err := log.HasDispatched("+15550001", models.CategorySlotReminder, "k1")
	require.NoError(t, err)
	assert.True(t, done)

	_, owned, err = log.Claim("+15550001", models.CategorySlotReminder, "k1", "text", "", nil)
	require.NoError(t, err)
	assert.False(t, owned)
}
