// Package config provides environment configuration and runtime system settings.
package config

import (
	"fmt"
	"os"
	"strings"

	"vigil/internal/types"
	"vigil/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Constants for configuration validation
const (
	minPort = 1
	maxPort = 65535
)

// Manager implements types.ConfigManager backed by environment variables.
type Manager struct {
	config *Config
}

// Config aggregates all static configuration sections.
type Config struct {
	Server      types.ServerConfig
	Auth        types.AuthConfig
	CORS        types.CORSConfig
	Performance types.PerformanceConfig
	Log         types.LogConfig
	Database    types.DatabaseConfig
	Meeting     types.MeetingConfig
	Messenger   types.MessengerConfig
	RedisDSN    string
	DebugMode   bool
}

// NewManager creates a new configuration manager, loading .env when present.
func NewManager() (types.ConfigManager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	manager := &Manager{}
	if err := manager.ReloadConfig(); err != nil {
		return nil, err
	}

	return manager, nil
}

// ReloadConfig re-reads configuration from the environment and validates it.
func (m *Manager) ReloadConfig() error {
	config := &Config{
		Server: types.ServerConfig{
			Port:                    utils.ParseInteger(os.Getenv("PORT"), 3001),
			Host:                    utils.GetEnvOrDefault("HOST", "0.0.0.0"),
			IsMaster:                !utils.ParseBoolean(os.Getenv("IS_SLAVE"), false),
			ReadTimeout:             utils.ParseInteger(os.Getenv("SERVER_READ_TIMEOUT"), 60),
			WriteTimeout:            utils.ParseInteger(os.Getenv("SERVER_WRITE_TIMEOUT"), 60),
			IdleTimeout:             utils.ParseInteger(os.Getenv("SERVER_IDLE_TIMEOUT"), 120),
			GracefulShutdownTimeout: utils.ParseInteger(os.Getenv("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT"), 10),
		},
		Auth: types.AuthConfig{
			Key: os.Getenv("AUTH_KEY"),
		},
		CORS: types.CORSConfig{
			Enabled:          utils.ParseBoolean(os.Getenv("ENABLE_CORS"), false),
			AllowedOrigins:   parseList(utils.GetEnvOrDefault("ALLOWED_ORIGINS", "*")),
			AllowedMethods:   parseList(utils.GetEnvOrDefault("ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")),
			AllowedHeaders:   parseList(utils.GetEnvOrDefault("ALLOWED_HEADERS", "*")),
			AllowCredentials: utils.ParseBoolean(os.Getenv("ALLOW_CREDENTIALS"), false),
		},
		Performance: types.PerformanceConfig{
			MaxConcurrentRequests: utils.ParseInteger(os.Getenv("MAX_CONCURRENT_REQUESTS"), 100),
		},
		Log: types.LogConfig{
			Level:      strings.ToLower(utils.GetEnvOrDefault("LOG_LEVEL", "info")),
			Format:     strings.ToLower(utils.GetEnvOrDefault("LOG_FORMAT", "text")),
			EnableFile: utils.ParseBoolean(os.Getenv("LOG_ENABLE_FILE"), false),
			FilePath:   utils.GetEnvOrDefault("LOG_FILE_PATH", "./data/logs/app.log"),
		},
		Database: types.DatabaseConfig{
			DSN: utils.GetEnvOrDefault("DATABASE_DSN", "./data/vigil.db"),
		},
		Meeting: types.MeetingConfig{
			BaseURL:        utils.GetEnvOrDefault("MEETING_API_BASE_URL", ""),
			APIToken:       os.Getenv("MEETING_API_TOKEN"),
			MeetingID:      os.Getenv("MEETING_ID"),
			TimeoutSeconds: utils.ParseInteger(os.Getenv("MEETING_API_TIMEOUT_SECONDS"), 10),
		},
		Messenger: types.MessengerConfig{
			BaseURL:        utils.GetEnvOrDefault("MESSENGER_API_BASE_URL", ""),
			APIToken:       os.Getenv("MESSENGER_API_TOKEN"),
			SenderID:       os.Getenv("MESSENGER_SENDER_ID"),
			WebhookSecret:  os.Getenv("MESSENGER_WEBHOOK_SECRET"),
			TimeoutSeconds: utils.ParseInteger(os.Getenv("MESSENGER_API_TIMEOUT_SECONDS"), 10),
		},
		RedisDSN:  os.Getenv("REDIS_DSN"),
		DebugMode: utils.ParseBoolean(os.Getenv("DEBUG_MODE"), false),
	}

	m.config = config
	return m.Validate()
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks the loaded configuration for fatal misconfiguration.
func (m *Manager) Validate() error {
	var errs []string

	if m.config.Server.Port < minPort || m.config.Server.Port > maxPort {
		errs = append(errs, fmt.Sprintf("port must be between %d and %d", minPort, maxPort))
	}

	if strings.TrimSpace(m.config.Auth.Key) == "" {
		errs = append(errs, "AUTH_KEY is required")
	}

	if m.config.Performance.MaxConcurrentRequests < 1 {
		errs = append(errs, "max concurrent requests cannot be less than 1")
	}

	if m.config.Meeting.TimeoutSeconds < 1 || m.config.Messenger.TimeoutSeconds < 1 {
		errs = append(errs, "provider timeouts must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsMaster returns whether this instance runs the background services.
func (m *Manager) IsMaster() bool {
	return m.config.Server.IsMaster
}

// IsDebugMode returns whether debug mode is enabled.
func (m *Manager) IsDebugMode() bool {
	return m.config.DebugMode
}

// GetAuthConfig returns authentication configuration.
func (m *Manager) GetAuthConfig() types.AuthConfig {
	return m.config.Auth
}

// GetCORSConfig returns CORS configuration.
func (m *Manager) GetCORSConfig() types.CORSConfig {
	return m.config.CORS
}

// GetPerformanceConfig returns performance configuration.
func (m *Manager) GetPerformanceConfig() types.PerformanceConfig {
	return m.config.Performance
}

// GetLogConfig returns logging configuration.
func (m *Manager) GetLogConfig() types.LogConfig {
	return m.config.Log
}

// GetDatabaseConfig returns database configuration.
func (m *Manager) GetDatabaseConfig() types.DatabaseConfig {
	return m.config.Database
}

// GetMeetingConfig returns the meeting provider configuration.
func (m *Manager) GetMeetingConfig() types.MeetingConfig {
	return m.config.Meeting
}

// GetMessengerConfig returns the messaging channel configuration.
func (m *Manager) GetMessengerConfig() types.MessengerConfig {
	return m.config.Messenger
}

// GetRedisDSN returns the Redis DSN.
func (m *Manager) GetRedisDSN() string {
	return m.config.RedisDSN
}

// GetEffectiveServerConfig returns the server configuration.
func (m *Manager) GetEffectiveServerConfig() types.ServerConfig {
	return m.config.Server
}

// DisplayServerConfig logs a configuration summary at startup.
func (m *Manager) DisplayServerConfig() {
	cfg := m.config
	logrus.Info("")
	logrus.Info("=== Server Configuration ===")
	logrus.Infof("  Listen: %s:%d (master=%v)", cfg.Server.Host, cfg.Server.Port, cfg.Server.IsMaster)
	logrus.Infof("  Database: %s", sanitizeDSN(cfg.Database.DSN))
	if cfg.RedisDSN != "" {
		logrus.Info("  Store: redis")
	} else {
		logrus.Info("  Store: memory")
	}
	if cfg.Meeting.BaseURL != "" {
		logrus.Infof("  Meeting provider: %s", cfg.Meeting.BaseURL)
	} else {
		logrus.Warn("  Meeting provider: not configured, reconciliation disabled")
	}
	if cfg.Messenger.BaseURL != "" {
		logrus.Infof("  Messenger: %s", cfg.Messenger.BaseURL)
	} else {
		logrus.Warn("  Messenger: not configured, reminders will be logged only")
	}
	logrus.Infof("  Log level: %s", cfg.Log.Level)
	logrus.Info("")
}

// sanitizeDSN strips credentials from a DSN for logging.
func sanitizeDSN(dsn string) string {
	if idx := strings.Index(dsn, "@"); idx > 0 {
		if schemeIdx := strings.Index(dsn, "://"); schemeIdx > 0 && schemeIdx < idx {
			return dsn[:schemeIdx+3] + "***" + dsn[idx:]
		}
		return "***" + dsn[idx:]
	}
	return dsn
}
