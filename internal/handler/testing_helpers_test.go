package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"vigil/internal/clock"
	"vigil/internal/config"
	"vigil/internal/i18n"
	"vigil/internal/meeting"
	"vigil/internal/models"
	"vigil/internal/services"
	"vigil/internal/store"
	"vigil/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeSender captures outbound messages.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, recipient, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recipient+": "+body)
	return nil
}

func (f *fakeSender) SendTemplate(_ context.Context, recipient, template string, _ ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recipient+": ["+template+"]")
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeRoster is a meeting.Provider stub without history.
type fakeRoster struct{}

func (fakeRoster) Participants(_ context.Context, _ string, _, _ time.Time) ([]meeting.Participant, error) {
	return nil, meeting.ErrNoData
}

type testServer struct {
	engine *gin.Engine
	server *Server
	db     *gorm.DB
	sender *fakeSender
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, i18n.Init())

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.SystemSetting{},
		&models.Slot{},
		&models.Assignment{},
		&models.HolderContact{},
		&models.PauseWindow{},
		&models.AttendanceRecord{},
		&models.ReminderPreference{},
		&models.ComplianceState{},
		&models.DispatchRecord{},
	))

	mockConfig := &config.MockConfig{
		AuthKeyValue: "test-key",
		Messenger:    types.MessengerConfig{WebhookSecret: "hook-secret", TimeoutSeconds: 5},
		Meeting:      types.MeetingConfig{MeetingID: "room-1", TimeoutSeconds: 5},
	}

	settingsManager := config.NewSystemSettingsManager(db)
	require.NoError(t, settingsManager.EnsureSettingsInitialized())

	clk := clock.New()
	memStore := store.NewMemoryStore()
	t.Cleanup(func() { memStore.Close() })

	registry := services.NewSlotRegistry(db)
	require.NoError(t, registry.SeedSlots())
	pauses := services.NewPauseTracker(db, clk)
	directory := services.NewDirectory(db)
	gate := services.NewComplianceGate(db, clk)
	prefs := services.NewPreferenceService(db, settingsManager.GetSettings)
	dispatch := services.NewDispatchLog(db, clk, func() int {
		return settingsManager.GetSettings().SendRetryCap
	})
	lifecycle := services.NewLifecycle(db, memStore, pauses, clk, func() int {
		return settingsManager.GetSettings().MissThreshold
	})
	reconciler := services.NewReconciler(db, fakeRoster{}, registry, pauses, lifecycle,
		directory, memStore, mockConfig, settingsManager.GetSettings, clk)
	sender := &fakeSender{}
	scheduler := services.NewReminderScheduler(registry, prefs, gate, dispatch, directory,
		sender, memStore, settingsManager.GetSettings, clk)

	server := NewServer(ServerParams{
		DB:              db,
		Config:          mockConfig,
		SettingsManager: settingsManager,
		Storage:         memStore,
		Registry:        registry,
		Pauses:          pauses,
		Directory:       directory,
		Preferences:     prefs,
		Gate:            gate,
		Reconciler:      reconciler,
		Scheduler:       scheduler,
		Sender:          sender,
	})

	engine := gin.New()
	engine.Use(i18n.Middleware())
	registerTestRoutes(engine, server)

	return &testServer{engine: engine, server: server, db: db, sender: sender}
}

// registerTestRoutes mirrors the production route table without the auth layer,
// which has its own tests.
func registerTestRoutes(engine *gin.Engine, server *Server) {
	engine.GET("/health", server.Health)
	engine.POST("/webhook/messages", server.InboundWebhook)

	api := engine.Group("/api")

	slots := api.Group("/slots")
	slots.GET("", server.ListSlots)
	slots.POST("/claim", server.ClaimSlot)
	slots.POST("/release", server.ReleaseSlot)
	slots.POST("/transfer", server.TransferSlot)

	holders := api.Group("/holders/:holder_id")
	holders.GET("/assignment", server.GetAssignment)
	holders.GET("/attendance", server.ListAttendance)
	holders.GET("/pauses", server.ListPauses)
	holders.POST("/pauses", server.CreatePause)
	holders.DELETE("/pauses/:pause_id", server.CancelPause)
	holders.GET("/preferences", server.GetPreferences)
	holders.PUT("/preferences", server.UpdatePreferences)
	holders.GET("/contact", server.GetContact)
	holders.PUT("/contact", server.UpsertContact)
	holders.POST("/opt-in", server.OptIn)
	holders.GET("/compliance", server.GetComplianceState)

	admin := api.Group("/admin")
	admin.GET("/assignments", server.ListAssignments)
	admin.POST("/assignments/:holder_id/force-release", server.ForceRelease)
	admin.POST("/assignments/:holder_id/reset-missed", server.ResetMissed)
	admin.GET("/attendance", server.AdminListAttendance)
	admin.POST("/reconcile", server.TriggerReconcile)
	admin.GET("/dispatches", server.ListDispatches)
	admin.POST("/broadcast", server.Broadcast)

	api.GET("/settings", server.GetSettings)
	api.PUT("/settings", server.UpdateSettings)
}

// doJSON performs a request with an optional JSON body and returns the recorder.
func (ts *testServer) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	ts.engine.ServeHTTP(recorder, req)
	return recorder
}

func (ts *testServer) doRaw(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	ts.engine.ServeHTTP(recorder, req)
	return recorder
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }
