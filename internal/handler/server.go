// Package handler provides HTTP handlers for the application
package handler

import (
	"net/http"
	"time"

	"vigil/internal/config"
	"vigil/internal/messenger"
	"vigil/internal/services"
	"vigil/internal/store"
	"vigil/internal/types"
	"vigil/internal/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

// Server aggregates the dependencies shared by all HTTP handlers.
type Server struct {
	DB              *gorm.DB
	config          types.ConfigManager
	SettingsManager *config.SystemSettingsManager
	Storage         store.Store
	Registry        *services.SlotRegistry
	Pauses          *services.PauseTracker
	Directory       *services.Directory
	Preferences     *services.PreferenceService
	Gate            *services.ComplianceGate
	Reconciler      *services.Reconciler
	Scheduler       *services.ReminderScheduler
	Sender          messenger.Messenger

	startTime time.Time
}

// ServerParams contains the dependencies for the Server.
type ServerParams struct {
	dig.In

	DB              *gorm.DB
	Config          types.ConfigManager
	SettingsManager *config.SystemSettingsManager
	Storage         store.Store
	Registry        *services.SlotRegistry
	Pauses          *services.PauseTracker
	Directory       *services.Directory
	Preferences     *services.PreferenceService
	Gate            *services.ComplianceGate
	Reconciler      *services.Reconciler
	Scheduler       *services.ReminderScheduler
	Sender          messenger.Messenger
}

// NewServer creates a new Server instance.
func NewServer(params ServerParams) *Server {
	return &Server{
		DB:              params.DB,
		config:          params.Config,
		SettingsManager: params.SettingsManager,
		Storage:         params.Storage,
		Registry:        params.Registry,
		Pauses:          params.Pauses,
		Directory:       params.Directory,
		Preferences:     params.Preferences,
		Gate:            params.Gate,
		Reconciler:      params.Reconciler,
		Scheduler:       params.Scheduler,
		Sender:          params.Sender,
		startTime:       time.Now(),
	}
}

// Health handles the GET /health request.
func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	scheduler := "idle"
	if s.Storage != nil {
		if alive, storeErr := s.Storage.Exists(services.HeartbeatKey); storeErr == nil && alive {
			scheduler = "running"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   version.Version,
		"uptime":    time.Since(s.startTime).String(),
		"scheduler": scheduler,
	})
}
