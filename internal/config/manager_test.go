package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_KEY", "test-key")
	t.Setenv("DATABASE_DSN", ":memory:")
}

func TestNewManagerDefaults(t *testing.T) {
	setRequiredEnv(t)

	manager, err := NewManager()
	require.NoError(t, err)

	server := manager.GetEffectiveServerConfig()
	assert.Equal(t, 3001, server.Port)
	assert.Equal(t, "0.0.0.0", server.Host)
	assert.True(t, manager.IsMaster())
	assert.False(t, manager.IsDebugMode())
	assert.Equal(t, "test-key", manager.GetAuthConfig().Key)
	assert.Equal(t, ":memory:", manager.GetDatabaseConfig().DSN)
	assert.Equal(t, 10, manager.GetMeetingConfig().TimeoutSeconds)
}

func TestNewManagerMissingAuthKey(t *testing.T) {
	t.Setenv("AUTH_KEY", "")
	t.Setenv("DATABASE_DSN", ":memory:")

	_, err := NewManager()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_KEY")
}

func TestNewManagerInvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "70000")

	_, err := NewManager()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestSlaveMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("IS_SLAVE", "true")

	manager, err := NewManager()
	require.NoError(t, err)
	assert.False(t, manager.IsMaster())
}

func TestProviderConfigFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MEETING_API_BASE_URL", "https://meet.example.com/api")
	t.Setenv("MEETING_ID", "room-1")
	t.Setenv("MESSENGER_API_BASE_URL", "https://msg.example.com/api")
	t.Setenv("MESSENGER_SENDER_ID", "vigil")
	t.Setenv("MESSENGER_WEBHOOK_SECRET", "hook-secret")

	manager, err := NewManager()
	require.NoError(t, err)

	meeting := manager.GetMeetingConfig()
	assert.Equal(t, "https://meet.example.com/api", meeting.BaseURL)
	assert.Equal(t, "room-1", meeting.MeetingID)

	messenger := manager.GetMessengerConfig()
	assert.Equal(t, "vigil", messenger.SenderID)
	assert.Equal(t, "hook-secret", messenger.WebhookSecret)
}

func TestSanitizeDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/vigil", sanitizeDSN("postgres://user:pass@db:5432/vigil"))
	assert.Equal(t, "***@tcp(db:3306)/vigil", sanitizeDSN("user:pass@tcp(db:3306)/vigil"))
	assert.Equal(t, "./data/vigil.db", sanitizeDSN("./data/vigil.db"))
}
