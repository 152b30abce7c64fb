package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"vigil/internal/models"

	"github.com/gin-gonic/gin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Equal(t, "healthy", gjson.Get(body, "status").String())

	// No scan loop is running in the handler tests
	assert.Equal(t, "idle", gjson.Get(body, "scheduler").String())
}

func TestHealthReportsSchedulerHeartbeat(t *testing.T) {
	ts := setupTestServer(t)

	require.NoError(t, ts.server.Scheduler.Tick(context.Background()))

	recorder := ts.doJSON(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "running", gjson.Get(recorder.Body.String(), "scheduler").String())
}

func TestHealthReportsDatabaseDown(t *testing.T) {
	ts := setupTestServer(t)

	sqlDB, err := ts.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	recorder := ts.doJSON(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "unhealthy", gjson.Get(recorder.Body.String(), "status").String())
}

func TestDomainErrorsLocalized(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 10,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	payload, err := json.Marshal(gin.H{"holder_id": "bob", "window_index": 10})
	require.NoError(t, err)
	recorder = ts.doRaw(t, http.MethodPost, "/api/slots/claim", payload, map[string]string{
		"Content-Type":    "application/json",
		"Accept-Language": "es-ES",
	})
	require.Equal(t, http.StatusConflict, recorder.Code)
	body := recorder.Body.String()
	assert.Equal(t, "SLOT_ALREADY_HELD", gjson.Get(body, "code").String())
	assert.Equal(t, "Ese turno ya está ocupado por otro miembro", gjson.Get(body, "message").String())
}

func TestClaimReleaseTransferFlow(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 10,
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Equal(t, int64(0), gjson.Get(body, "code").Int())
	assert.Equal(t, int64(10), gjson.Get(body, "data.window_index").Int())
	assert.Equal(t, "active", gjson.Get(body, "data.status").String())

	recorder = ts.doJSON(t, http.MethodGet, "/api/holders/alice/assignment", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(10), gjson.Get(recorder.Body.String(), "data.window_index").Int())

	// Second claim by the same holder is rejected
	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 11,
	})
	require.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, "HOLDER_ALREADY_ASSIGNED", gjson.Get(recorder.Body.String(), "code").String())

	// Another holder cannot take an occupied window
	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "bob", "window_index": 10,
	})
	require.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, "SLOT_ALREADY_HELD", gjson.Get(recorder.Body.String(), "code").String())

	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/transfer", gin.H{
		"holder_id": "alice", "window_index": 11,
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(11), gjson.Get(recorder.Body.String(), "data.window_index").Int())

	// The transfer freed window 10
	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "bob", "window_index": 10,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/release", gin.H{"holder_id": "alice"})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "released", gjson.Get(recorder.Body.String(), "data.status").String())

	recorder = ts.doJSON(t, http.MethodGet, "/api/holders/alice/assignment", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "NO_ACTIVE_ASSIGNMENT", gjson.Get(recorder.Body.String(), "code").String())
}

func TestClaimValidation(t *testing.T) {
	ts := setupTestServer(t)

	// window_index is a required pointer so 0 stays claimable
	recorder := ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{"holder_id": "alice"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "INVALID_JSON", gjson.Get(recorder.Body.String(), "code").String())

	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 99,
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "VALIDATION_FAILED", gjson.Get(recorder.Body.String(), "code").String())

	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 0,
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(0), gjson.Get(recorder.Body.String(), "data.window_index").Int())
}

func TestListSlots(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodGet, "/api/slots", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	slots := gjson.Get(recorder.Body.String(), "data").Array()
	require.Len(t, slots, models.SlotsPerDay)
	assert.True(t, slots[10].Get("available").Bool())

	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 10,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.doJSON(t, http.MethodGet, "/api/slots", nil)
	slots = gjson.Get(recorder.Body.String(), "data").Array()
	assert.False(t, slots[10].Get("available").Bool())
}

func TestPauseLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 5,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	start := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	recorder = ts.doJSON(t, http.MethodPost, "/api/holders/alice/pauses", gin.H{
		"start_at": start, "end_at": end, "reason": "vacation",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	pauseID := gjson.Get(recorder.Body.String(), "data.id").Int()
	require.NotZero(t, pauseID)

	recorder = ts.doJSON(t, http.MethodGet, "/api/holders/alice/pauses", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Len(t, gjson.Get(recorder.Body.String(), "data").Array(), 1)

	recorder = ts.doJSON(t, http.MethodDelete,
		"/api/holders/alice/pauses/"+strconv.FormatInt(pauseID, 10), nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.doJSON(t, http.MethodDelete,
		"/api/holders/alice/pauses/"+strconv.FormatInt(pauseID, 10), nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestPauseValidation(t *testing.T) {
	ts := setupTestServer(t)

	// No open assignment yet
	start := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(2 * time.Hour).Format(time.RFC3339)
	recorder := ts.doJSON(t, http.MethodPost, "/api/holders/alice/pauses", gin.H{
		"start_at": start, "end_at": end,
	})
	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "NO_ACTIVE_ASSIGNMENT", gjson.Get(recorder.Body.String(), "code").String())

	recorder = ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 5,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	// End before start
	recorder = ts.doJSON(t, http.MethodPost, "/api/holders/alice/pauses", gin.H{
		"start_at": end, "end_at": start,
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = ts.doJSON(t, http.MethodDelete, "/api/holders/alice/pauses/not-a-number", nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPreferencesRoundTrip(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodGet, "/api/holders/alice/preferences", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Equal(t, int64(30), gjson.Get(body, "data.lead_minutes").Int())
	assert.Equal(t, "UTC", gjson.Get(body, "data.timezone").String())

	payload := gin.H{
		"enabled":            true,
		"lead_minutes":       45,
		"timezone":           "America/New_York",
		"quiet_start_minute": 1320,
		"quiet_end_minute":   420,
		"slot_reminders":     true,
		"daily_content":      false,
		"broadcast_updates":  true,
	}
	recorder = ts.doJSON(t, http.MethodPut, "/api/holders/alice/preferences", payload)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.doJSON(t, http.MethodGet, "/api/holders/alice/preferences", nil)
	body = recorder.Body.String()
	assert.Equal(t, int64(45), gjson.Get(body, "data.lead_minutes").Int())
	assert.Equal(t, "America/New_York", gjson.Get(body, "data.timezone").String())
	assert.False(t, gjson.Get(body, "data.daily_content").Bool())
}

func TestPreferencesValidation(t *testing.T) {
	ts := setupTestServer(t)

	payload := gin.H{
		"enabled":           true,
		"lead_minutes":      45,
		"timezone":          "Mars/Olympus",
		"slot_reminders":    true,
		"daily_content":     true,
		"broadcast_updates": true,
	}
	recorder := ts.doJSON(t, http.MethodPut, "/api/holders/alice/preferences", payload)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "VALIDATION_FAILED", gjson.Get(recorder.Body.String(), "code").String())

	// Missing required pointer-bool fields
	recorder = ts.doJSON(t, http.MethodPut, "/api/holders/alice/preferences", gin.H{
		"lead_minutes": 45, "timezone": "UTC",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "INVALID_JSON", gjson.Get(recorder.Body.String(), "code").String())
}

func TestContactOptInCompliance(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodPut, "/api/holders/alice/contact", gin.H{
		"email": "Alice@Example.com", "recipient": "+15550001", "display_name": "Alice",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "alice@example.com", gjson.Get(recorder.Body.String(), "data.email").String())

	recorder = ts.doJSON(t, http.MethodGet, "/api/holders/alice/contact", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "+15550001", gjson.Get(recorder.Body.String(), "data.recipient").String())

	recorder = ts.doJSON(t, http.MethodPost, "/api/holders/alice/opt-in", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.doJSON(t, http.MethodGet, "/api/holders/alice/compliance", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.True(t, gjson.Get(body, "data.opted_in").Bool())
	assert.Equal(t, "api", gjson.Get(body, "data.opt_in_method").String())
}

func TestOptInWithoutContact(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodPost, "/api/holders/ghost/opt-in", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(3), gjson.Get(recorder.Body.String(), "data.miss_threshold").Int())

	recorder = ts.doJSON(t, http.MethodPut, "/api/settings", gin.H{"miss_threshold": 5})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(5), gjson.Get(recorder.Body.String(), "data.miss_threshold").Int())

	recorder = ts.doJSON(t, http.MethodPut, "/api/settings", gin.H{"bogus_key": 1})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "VALIDATION_FAILED", gjson.Get(recorder.Body.String(), "code").String())

	// Out-of-range values are rejected before anything is persisted
	recorder = ts.doJSON(t, http.MethodPut, "/api/settings", gin.H{"reconcile_interval_minutes": 0})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, gjson.Get(recorder.Body.String(), "message").String(), "below minimum value")

	recorder = ts.doJSON(t, http.MethodPut, "/api/settings", gin.H{"miss_threshold": "many"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, gjson.Get(recorder.Body.String(), "message").String(), "expected a number")

	recorder = ts.doJSON(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(2), gjson.Get(recorder.Body.String(), "data.reconcile_interval_minutes").Int())
	assert.Equal(t, int64(5), gjson.Get(recorder.Body.String(), "data.miss_threshold").Int())
}

func TestAdminAttendanceListing(t *testing.T) {
	ts := setupTestServer(t)

	records := []models.AttendanceRecord{
		{HolderID: "alice", Date: "2025-06-13", WindowIndex: 10, Outcome: models.AttendanceOutcomeAttended},
		{HolderID: "alice", Date: "2025-06-14", WindowIndex: 10, Outcome: models.AttendanceOutcomeMissed},
		{HolderID: "bob", Date: "2025-06-14", WindowIndex: 11, Outcome: models.AttendanceOutcomeAttended},
	}
	require.NoError(t, ts.db.Create(&records).Error)

	recorder := ts.doJSON(t, http.MethodGet, "/api/admin/attendance?holder_id=alice", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Equal(t, int64(2), gjson.Get(body, "data.pagination.total_items").Int())
	items := gjson.Get(body, "data.items").Array()
	require.Len(t, items, 2)
	assert.Equal(t, "2025-06-14", items[0].Get("date").String())

	recorder = ts.doJSON(t, http.MethodGet, "/api/admin/attendance?outcome=missed", nil)
	assert.Equal(t, int64(1), gjson.Get(recorder.Body.String(), "data.pagination.total_items").Int())

	recorder = ts.doJSON(t, http.MethodGet, "/api/holders/alice/attendance?page_size=1", nil)
	body = recorder.Body.String()
	assert.Equal(t, int64(2), gjson.Get(body, "data.pagination.total_items").Int())
	assert.Equal(t, int64(2), gjson.Get(body, "data.pagination.total_pages").Int())
	assert.Len(t, gjson.Get(body, "data.items").Array(), 1)
}

func TestAdminAssignmentsAndForceRelease(t *testing.T) {
	ts := setupTestServer(t)

	for _, claim := range []gin.H{
		{"holder_id": "alice", "window_index": 10},
		{"holder_id": "bob", "window_index": 11},
	} {
		recorder := ts.doJSON(t, http.MethodPost, "/api/slots/claim", claim)
		require.Equal(t, http.StatusOK, recorder.Code)
	}

	recorder := ts.doJSON(t, http.MethodGet, "/api/admin/assignments?status=active", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(2), gjson.Get(recorder.Body.String(), "data.pagination.total_items").Int())

	recorder = ts.doJSON(t, http.MethodPost, "/api/admin/assignments/alice/force-release", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "released", gjson.Get(recorder.Body.String(), "data.status").String())

	recorder = ts.doJSON(t, http.MethodGet, "/api/admin/assignments?status=active", nil)
	assert.Equal(t, int64(1), gjson.Get(recorder.Body.String(), "data.pagination.total_items").Int())
}

func TestResetMissed(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodPost, "/api/slots/claim", gin.H{
		"holder_id": "alice", "window_index": 10,
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, ts.db.Model(&models.Assignment{}).
		Where("holder_id = ?", "alice").
		Update("missed_count", 2).Error)

	recorder = ts.doJSON(t, http.MethodPost, "/api/admin/assignments/alice/reset-missed", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var assignment models.Assignment
	require.NoError(t, ts.db.Where("holder_id = ?", "alice").First(&assignment).Error)
	assert.Zero(t, assignment.MissedCount)
}

func TestTriggerReconcileValidation(t *testing.T) {
	ts := setupTestServer(t)

	recorder := ts.doJSON(t, http.MethodPost, "/api/admin/reconcile", gin.H{
		"holder_id": "alice", "date": "June 15",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "VALIDATION_FAILED", gjson.Get(recorder.Body.String(), "code").String())

	// Holder without an assignment
	recorder = ts.doJSON(t, http.MethodPost, "/api/admin/reconcile", gin.H{
		"holder_id": "alice", "date": "2025-06-15",
	})
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestListDispatchesFilters(t *testing.T) {
	ts := setupTestServer(t)

	records := []models.DispatchRecord{
		{ID: "d1", Recipient: "+15550001", Category: models.CategorySlotReminder, LogicalKey: "reminder:2025-06-15:10", Status: models.DispatchStatusSent},
		{ID: "d2", Recipient: "+15550001", Category: models.CategorySlotReminder, LogicalKey: "reminder:2025-06-16:10", Status: models.DispatchStatusFailed},
		{ID: "d3", Recipient: "+15550002", Category: models.CategoryBroadcast, LogicalKey: "note-1", Status: models.DispatchStatusSent},
	}
	require.NoError(t, ts.db.Create(&records).Error)

	recorder := ts.doJSON(t, http.MethodGet, "/api/admin/dispatches", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(3), gjson.Get(recorder.Body.String(), "data.pagination.total_items").Int())

	recorder = ts.doJSON(t, http.MethodGet, "/api/admin/dispatches?status=failed", nil)
	items := gjson.Get(recorder.Body.String(), "data.items").Array()
	require.Len(t, items, 1)
	assert.Equal(t, "d2", items[0].Get("id").String())

	recorder = ts.doJSON(t, http.MethodGet,
		"/api/admin/dispatches?recipient=%2B15550002&category=broadcast", nil)
	assert.Equal(t, int64(1), gjson.Get(recorder.Body.String(), "data.pagination.total_items").Int())
}

func TestBroadcastEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	// alice opts in, bob registers but never consents
	recorder := ts.doJSON(t, http.MethodPut, "/api/holders/alice/contact", gin.H{
		"email": "alice@example.com", "recipient": "+15550001",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	recorder = ts.doJSON(t, http.MethodPost, "/api/holders/alice/opt-in", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	recorder = ts.doJSON(t, http.MethodPut, "/api/holders/bob/contact", gin.H{
		"email": "bob@example.com", "recipient": "+15550002",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.doJSON(t, http.MethodPost, "/api/admin/broadcast", gin.H{
		"id": "note-1", "category": "broadcast", "subject": "Schedule change",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(1), gjson.Get(recorder.Body.String(), "data.sent").Int())
	assert.Equal(t, 1, ts.sender.sentCount())

	// Same broadcast id is idempotent
	recorder = ts.doJSON(t, http.MethodPost, "/api/admin/broadcast", gin.H{
		"id": "note-1", "category": "broadcast", "subject": "Schedule change",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Zero(t, gjson.Get(recorder.Body.String(), "data.sent").Int())

	recorder = ts.doJSON(t, http.MethodPost, "/api/admin/broadcast", gin.H{
		"category": "reminder", "subject": "nope",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}
