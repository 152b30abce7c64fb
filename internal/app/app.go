// Package app provides the main application logic and lifecycle management.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"vigil/internal/config"
	"vigil/internal/i18n"
	"vigil/internal/models"
	"vigil/internal/services"
	"vigil/internal/store"
	"vigil/internal/types"
	"vigil/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

// App holds all services and manages the application lifecycle.
type App struct {
	engine          *gin.Engine
	configManager   types.ConfigManager
	settingsManager *config.SystemSettingsManager
	registry        *services.SlotRegistry
	lifecycle       *services.Lifecycle
	reconciler      *services.Reconciler
	scheduler       *services.ReminderScheduler
	cleanupService  *services.DispatchCleanupService
	storage         store.Store
	db              *gorm.DB
	httpServer      *http.Server
}

// AppParams defines the dependencies for the App.
type AppParams struct {
	dig.In
	Engine          *gin.Engine
	ConfigManager   types.ConfigManager
	SettingsManager *config.SystemSettingsManager
	Registry        *services.SlotRegistry
	Lifecycle       *services.Lifecycle
	Reconciler      *services.Reconciler
	Scheduler       *services.ReminderScheduler
	CleanupService  *services.DispatchCleanupService
	Storage         store.Store
	DB              *gorm.DB
}

// NewApp is the constructor for App, with dependencies injected by dig.
func NewApp(params AppParams) *App {
	return &App{
		engine:          params.Engine,
		configManager:   params.ConfigManager,
		settingsManager: params.SettingsManager,
		registry:        params.Registry,
		lifecycle:       params.Lifecycle,
		reconciler:      params.Reconciler,
		scheduler:       params.Scheduler,
		cleanupService:  params.CleanupService,
		storage:         params.Storage,
		db:              params.DB,
	}
}

// Start runs the application, it is a non-blocking call.
func (a *App) Start() error {
	if err := i18n.Init(); err != nil {
		return fmt.Errorf("failed to initialize i18n: %w", err)
	}
	logrus.Info("i18n initialized successfully.")

	if a.configManager.IsMaster() {
		logrus.Info("Starting as Master Node.")

		if err := a.storage.Clear(); err != nil {
			return fmt.Errorf("cache cleanup failed: %w", err)
		}

		if err := a.db.AutoMigrate(
			&models.SystemSetting{},
			&models.Slot{},
			&models.Assignment{},
			&models.HolderContact{},
			&models.PauseWindow{},
			&models.AttendanceRecord{},
			&models.ReminderPreference{},
			&models.ComplianceState{},
			&models.DispatchRecord{},
		); err != nil {
			return fmt.Errorf("database auto-migration failed: %w", err)
		}
		logrus.Info("Database auto-migration completed.")

		if err := a.registry.SeedSlots(); err != nil {
			return fmt.Errorf("failed to seed slot windows: %w", err)
		}

		if err := a.settingsManager.EnsureSettingsInitialized(); err != nil {
			return fmt.Errorf("failed to initialize system settings: %w", err)
		}
		logrus.Info("System settings initialized in DB.")

		if err := a.settingsManager.Initialize(a.storage); err != nil {
			return fmt.Errorf("failed to load system settings: %w", err)
		}

		// Background engines only run on the master node
		a.lifecycle.Start()
		a.reconciler.Start()
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start reminder scheduler: %w", err)
		}
		a.cleanupService.Start()
	} else {
		logrus.Info("Starting as Slave Node.")
		if err := a.settingsManager.Initialize(a.storage); err != nil {
			return fmt.Errorf("failed to load system settings: %w", err)
		}
	}

	a.configManager.DisplayServerConfig()

	serverConfig := a.configManager.GetEffectiveServerConfig()
	a.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:        a.engine,
		ReadTimeout:    time.Duration(serverConfig.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(serverConfig.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(serverConfig.IdleTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.Infof("Vigil started successfully on Version: %s", version.Version)
		logrus.Infof("Server address: http://%s:%d", serverConfig.Host, serverConfig.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server startup failed: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application.
func (a *App) Stop(ctx context.Context) {
	logrus.Info("Shutting down server...")

	serverConfig := a.configManager.GetEffectiveServerConfig()
	totalTimeout := time.Duration(serverConfig.GracefulShutdownTimeout) * time.Second

	// Reserve a share of the budget for background services
	httpShutdownTimeout := totalTimeout - 5*time.Second
	if httpShutdownTimeout <= 0 {
		httpShutdownTimeout = time.Second
	}
	httpShutdownCtx, cancelHTTPShutdown := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancelHTTPShutdown()

	httpShutdownStart := time.Now()
	if err := a.httpServer.Shutdown(httpShutdownCtx); err != nil {
		logrus.Debug("HTTP server graceful shutdown timed out, forcing remaining connections to close.")
		if closeErr := a.httpServer.Close(); closeErr != nil {
			logrus.Errorf("Error forcing HTTP server to close: %v", closeErr)
		}
	}
	logrus.Infof("HTTP server has been shut down. (took %v)", time.Since(httpShutdownStart))

	stoppableServices := []func(context.Context){
		a.settingsManager.Stop,
	}
	if serverConfig.IsMaster {
		stoppableServices = append(stoppableServices,
			a.lifecycle.Stop,
			a.reconciler.Stop,
			a.scheduler.Stop,
			a.cleanupService.Stop,
		)
	}

	var wg sync.WaitGroup
	wg.Add(len(stoppableServices))
	for _, stopFunc := range stoppableServices {
		go func(stop func(context.Context)) {
			defer wg.Done()
			stop(ctx)
		}(stopFunc)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("All background services stopped.")
	case <-ctx.Done():
		logrus.Warn("Shutdown timed out, some services may not have stopped gracefully.")
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			logrus.Errorf("Error closing storage: %v", err)
		}
	}
	closeDBConnection(a.db, "Main database")
	logrus.Info("Server exited gracefully")
}

// closeDBConnection gracefully closes a GORM database connection with a
// short timeout so a stuck pool cannot block process exit.
func closeDBConnection(gormDB *gorm.DB, name string) {
	if gormDB == nil {
		return
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		logrus.Errorf("Error getting sql.DB for %s: %v", name, err)
		return
	}

	sqlDB.SetMaxIdleConns(0)
	sqlDB.SetConnMaxIdleTime(0)
	sqlDB.SetConnMaxLifetime(0)

	done := make(chan error, 1)
	go func() {
		done <- sqlDB.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			logrus.Errorf("[%s] Error closing connection: %v", name, err)
		}
	case <-time.After(time.Second):
		logrus.Warnf("[%s] Connection close timed out after 1s, proceeding anyway", name)
	}
}
