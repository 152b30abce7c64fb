// Package main provides the entry point for the vigil coordination server
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vigil/internal/app"
	"vigil/internal/commands"
	"vigil/internal/container"
	"vigil/internal/types"
	"vigil/internal/utils"

	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) > 1 {
		runCommand()
	} else {
		runServer()
	}
}

// runCommand dispatches to the appropriate command handler
func runCommand() {
	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "seed-slots":
		commands.RunSeedSlots(args)
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Run 'vigil help' for usage.")
		os.Exit(1)
	}
}

// printHelp displays the general help information
func printHelp() {
	fmt.Println("Vigil - Slot, attendance and reminder coordination engine.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  vigil                    Start the server")
	fmt.Println("  vigil <command> [args]   Execute a command")
	fmt.Println()
	fmt.Println("Available Commands:")
	fmt.Println("  seed-slots      Create the 48 slot windows in the database")
	fmt.Println("  help            Display this help message")
	fmt.Println()
	fmt.Println("Use 'vigil <command> --help' for more information about a command.")
}

// runServer run App Server
func runServer() {
	c, err := container.BuildContainer()
	if err != nil {
		logrus.Fatalf("Failed to build container: %v", err)
	}

	// Initialize global logger
	if err := c.Invoke(func(configManager types.ConfigManager) {
		utils.SetupLogger(configManager)
	}); err != nil {
		logrus.Fatalf("Failed to setup logger: %v", err)
	}
	defer utils.CloseLogger()

	// Create and run the application
	if err := c.Invoke(func(application *app.App, configManager types.ConfigManager) {
		if err := application.Start(); err != nil {
			logrus.Fatalf("Failed to start application: %v", err)
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		sig := <-quit
		logrus.Infof("Received signal: %v, initiating graceful shutdown...", sig)

		serverConfig := configManager.GetEffectiveServerConfig()
		shutdownTimeout := time.Duration(serverConfig.GracefulShutdownTimeout) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			application.Stop(shutdownCtx)
			close(done)
		}()

		// A second signal forces immediate exit
		select {
		case <-done:
		case <-quit:
			logrus.Warn("Received second signal, forcing exit.")
		}
	}); err != nil {
		logrus.Fatalf("Application failed: %v", err)
	}
}
