// Package commands implements the CLI subcommands.
package commands

import (
	"fmt"
	"os"

	"vigil/internal/container"
	"vigil/internal/models"
	"vigil/internal/services"
	"vigil/internal/types"
	"vigil/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RunSeedSlots creates the 48 fixed slot windows without starting the server.
// Useful for provisioning a fresh database ahead of first deployment.
func RunSeedSlots(args []string) {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Println("Usage: vigil seed-slots")
		fmt.Println()
		fmt.Println("Creates the 48 half-hour slot windows in the configured database.")
		fmt.Println("Existing windows are left untouched; the command is idempotent.")
		return
	}

	c, err := container.BuildContainer()
	if err != nil {
		logrus.Fatalf("Failed to build container: %v", err)
	}

	if err := c.Invoke(func(cm types.ConfigManager) {
		utils.SetupLogger(cm)
	}); err != nil {
		logrus.Fatalf("Failed to setup logger: %v", err)
	}

	err = c.Invoke(func(db *gorm.DB, registry *services.SlotRegistry) {
		if err := db.AutoMigrate(&models.Slot{}); err != nil {
			logrus.Fatalf("Slot table migration failed: %v", err)
		}
		if err := registry.SeedSlots(); err != nil {
			logrus.Fatalf("Failed to seed slot windows: %v", err)
		}
		logrus.Infof("Seeded %d slot windows.", models.SlotsPerDay)
	})
	if err != nil {
		logrus.Errorf("seed-slots failed: %v", err)
		os.Exit(1)
	}
}
