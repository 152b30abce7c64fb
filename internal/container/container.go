// Package container builds the dependency injection container.
package container

import (
	"vigil/internal/app"
	"vigil/internal/clock"
	"vigil/internal/config"
	"vigil/internal/db"
	"vigil/internal/handler"
	"vigil/internal/meeting"
	"vigil/internal/messenger"
	"vigil/internal/router"
	"vigil/internal/services"
	"vigil/internal/store"
	"vigil/internal/types"

	"go.uber.org/dig"
	"gorm.io/gorm"
)

// BuildContainer creates and configures the dig container with all providers.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		// Infrastructure
		config.NewManager,
		db.NewDB,
		config.NewSystemSettingsManager,
		store.NewStore,
		clock.New,

		// External boundaries
		func(cm types.ConfigManager) meeting.Provider { return meeting.NewClient(cm) },
		func(cm types.ConfigManager) messenger.Messenger { return messenger.NewClient(cm) },

		// Engine services
		services.NewSlotRegistry,
		services.NewPauseTracker,
		services.NewDirectory,
		services.NewComplianceGate,
		newLifecycle,
		newReconciler,
		newPreferenceService,
		newDispatchLog,
		newCleanupService,
		newReminderScheduler,

		// HTTP layer
		handler.NewServer,
		router.NewRouter,
		app.NewApp,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

// The settings-dependent services take accessor funcs so runtime settings
// changes apply without restart; the closures are bound here.

func newLifecycle(database *gorm.DB, s store.Store, pauses *services.PauseTracker, clk clock.Clock, sm *config.SystemSettingsManager) *services.Lifecycle {
	return services.NewLifecycle(database, s, pauses, clk, func() int {
		return sm.GetSettings().MissThreshold
	})
}

func newReconciler(
	database *gorm.DB,
	provider meeting.Provider,
	registry *services.SlotRegistry,
	pauses *services.PauseTracker,
	lifecycle *services.Lifecycle,
	directory *services.Directory,
	s store.Store,
	cm types.ConfigManager,
	sm *config.SystemSettingsManager,
	clk clock.Clock,
) *services.Reconciler {
	return services.NewReconciler(database, provider, registry, pauses, lifecycle, directory, s, cm, sm.GetSettings, clk)
}

func newPreferenceService(database *gorm.DB, sm *config.SystemSettingsManager) *services.PreferenceService {
	return services.NewPreferenceService(database, sm.GetSettings)
}

func newDispatchLog(database *gorm.DB, clk clock.Clock, sm *config.SystemSettingsManager) *services.DispatchLog {
	return services.NewDispatchLog(database, clk, func() int {
		return sm.GetSettings().SendRetryCap
	})
}

func newCleanupService(database *gorm.DB, sm *config.SystemSettingsManager, clk clock.Clock) *services.DispatchCleanupService {
	return services.NewDispatchCleanupService(database, sm.GetSettings, clk)
}

func newReminderScheduler(
	registry *services.SlotRegistry,
	prefs *services.PreferenceService,
	gate *services.ComplianceGate,
	dispatch *services.DispatchLog,
	directory *services.Directory,
	sender messenger.Messenger,
	s store.Store,
	sm *config.SystemSettingsManager,
	clk clock.Clock,
) *services.ReminderScheduler {
	return services.NewReminderScheduler(registry, prefs, gate, dispatch, directory, sender, s, sm.GetSettings, clk)
}
