package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"vigil/internal/clock"
	"vigil/internal/config"
	"vigil/internal/meeting"
	"vigil/internal/models"
	"vigil/internal/types"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing (pure Go, no CGO)
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.SystemSetting{},
		&models.Slot{},
		&models.Assignment{},
		&models.HolderContact{},
		&models.PauseWindow{},
		&models.AttendanceRecord{},
		&models.ReminderPreference{},
		&models.ComplianceState{},
		&models.DispatchRecord{},
	)
	require.NoError(t, err)

	return db
}

// testSettings returns a settings accessor with the struct tag defaults.
func testSettings() func() types.SystemSettings {
	settings := config.DefaultSystemSettings()
	return func() types.SystemSettings { return settings }
}

// seededRegistry creates a registry with all 48 windows present.
func seededRegistry(t *testing.T, db *gorm.DB) *SlotRegistry {
	t.Helper()
	registry := NewSlotRegistry(db)
	require.NoError(t, registry.SeedSlots())
	return registry
}

// fakeProvider is a scripted meeting.Provider.
type fakeProvider struct {
	mu     sync.Mutex
	roster []meeting.Participant
	err    error
	calls  int
}

func (f *fakeProvider) Participants(_ context.Context, _ string, _, _ time.Time) ([]meeting.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.roster, nil
}

// sentMessage records one outbound send captured by fakeMessenger.
type sentMessage struct {
	Recipient string
	Mode      string
	Template  string
	Body      string
	Params    []string
}

// fakeMessenger captures sends and can fail on demand.
type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) SendText(_ context.Context, recipient, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{Recipient: recipient, Mode: "text", Body: body})
	return nil
}

func (f *fakeMessenger) SendTemplate(_ context.Context, recipient, template string, params ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{Recipient: recipient, Mode: "template", Template: template, Params: params})
	return nil
}

func (f *fakeMessenger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// testClock returns a fake clock frozen at a known instant: 2025-06-15 10:00 UTC.
func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC))
}
