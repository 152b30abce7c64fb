// Package router wires HTTP routes to their handlers.
package router

import (
	"vigil/internal/handler"
	"vigil/internal/i18n"
	"vigil/internal/middleware"
	"vigil/internal/types"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with all middleware and routes registered.
func NewRouter(serverHandler *handler.Server, configManager types.ConfigManager) *gin.Engine {
	if !configManager.IsDebugMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger(configManager.GetLogConfig()))
	router.Use(middleware.CORS(configManager.GetCORSConfig()))
	router.Use(middleware.RateLimiter(configManager.GetPerformanceConfig()))
	router.Use(middleware.SecurityHeaders())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerSystemRoutes(router, serverHandler)
	registerWebhookRoutes(router, serverHandler)
	registerAPIRoutes(router, serverHandler, configManager)

	return router
}

// registerSystemRoutes registers system-level routes
func registerSystemRoutes(router *gin.Engine, serverHandler *handler.Server) {
	router.GET("/health", serverHandler.Health)
}

// registerWebhookRoutes registers the channel webhook. It authenticates with
// its own HMAC signature, not the management auth key.
func registerWebhookRoutes(router *gin.Engine, serverHandler *handler.Server) {
	webhook := router.Group("/webhook")
	webhook.Use(i18n.Middleware())
	webhook.POST("/messages", serverHandler.InboundWebhook)
}

// registerAPIRoutes registers the management API routes
func registerAPIRoutes(router *gin.Engine, serverHandler *handler.Server, configManager types.ConfigManager) {
	api := router.Group("/api")
	api.Use(i18n.Middleware())
	api.Use(middleware.Auth(configManager.GetAuthConfig()))

	slots := api.Group("/slots")
	{
		slots.GET("", serverHandler.ListSlots)
		slots.POST("/claim", serverHandler.ClaimSlot)
		slots.POST("/release", serverHandler.ReleaseSlot)
		slots.POST("/transfer", serverHandler.TransferSlot)
	}

	holders := api.Group("/holders/:holder_id")
	{
		holders.GET("/assignment", serverHandler.GetAssignment)
		holders.GET("/attendance", serverHandler.ListAttendance)
		holders.GET("/pauses", serverHandler.ListPauses)
		holders.POST("/pauses", serverHandler.CreatePause)
		holders.DELETE("/pauses/:pause_id", serverHandler.CancelPause)
		holders.GET("/preferences", serverHandler.GetPreferences)
		holders.PUT("/preferences", serverHandler.UpdatePreferences)
		holders.GET("/contact", serverHandler.GetContact)
		holders.PUT("/contact", serverHandler.UpsertContact)
		holders.POST("/opt-in", serverHandler.OptIn)
		holders.GET("/compliance", serverHandler.GetComplianceState)
	}

	admin := api.Group("/admin")
	{
		admin.GET("/assignments", serverHandler.ListAssignments)
		admin.POST("/assignments/:holder_id/force-release", serverHandler.ForceRelease)
		admin.POST("/assignments/:holder_id/reset-missed", serverHandler.ResetMissed)
		admin.GET("/attendance", serverHandler.AdminListAttendance)
		admin.POST("/reconcile", serverHandler.TriggerReconcile)
		admin.GET("/dispatches", serverHandler.ListDispatches)
		admin.POST("/broadcast", serverHandler.Broadcast)
	}

	api.GET("/settings", serverHandler.GetSettings)
	api.PUT("/settings", serverHandler.UpdateSettings)
}
