package api

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/api/handlers"
	"github.com/yourusername/mc-server-manager/internal/api/middleware"
	"github.com/yourusername/mc-server-manager/internal/auth"
	"github.com/yourusername/mc-server-manager/internal/backup"
	"github.com/yourusername/mc-server-manager/internal/config"
	"github.com/yourusername/mc-server-manager/internal/console"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/logging"
	"github.com/yourusername/mc-server-manager/internal/metrics"
	"github.com/yourusername/mc-server-manager/internal/server"
	"github.com/yourusername/mc-server-manager/internal/websocket"
)

// Services are the collaborators exposed over HTTP. Status, Activity,
// Collector, Scheduler, Backups and Tokens may be nil; a nil Tokens
// disables authentication.
type Services struct {
	Registry  handlers.Registry
	Budget    admission.Budget
	Resolver  server.RuntimeResolver
	Status    *database.StatusStore
	Activity  *logging.ActivityLogger
	Consoles  *console.Manager
	Hub       *websocket.Hub
	Collector *metrics.Collector
	Scheduler handlers.JobLister
	Backups   *backup.Manager
	Tokens    *auth.TokenManager
}

// SetupRouter configures and returns the HTTP router
func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.Security.CORS))
	router.Use(middleware.RateLimit(cfg.Security.RateLimit.Enabled, cfg.Security.RateLimit.RequestsPerMinute))
	router.Use(middleware.SecurityHeaders())

	authEnabled := svc.Tokens != nil
	read := middleware.RequireScope(authEnabled, auth.ScopeRead)
	control := middleware.RequireScope(authEnabled, auth.ScopeControl)

	var auditor middleware.AuditRecorder
	if svc.Activity != nil {
		auditor = svc.Activity
	}

	serverHandler := handlers.NewServerHandler(svc.Registry, svc.Budget, svc.Status, svc.Resolver)
	consoleHandler := handlers.NewConsoleHandler(svc.Registry, svc.Hub, svc.Consoles, wsOrigins(cfg), authEnabled)
	activityHandler := handlers.NewActivityHandler(svc.Registry, svc.Activity)
	systemHandler := handlers.NewSystemHandler(svc.Registry, svc.Budget, svc.Collector, svc.Scheduler)
	backupHandler := handlers.NewBackupHandler(svc.Registry, svc.Backups)
	if svc.Backups != nil {
		serverHandler.SetBusyCheck(svc.Backups.Busy)
	}

	protected := router.Group("/api/v1")
	protected.Use(middleware.Auth(svc.Tokens))
	protected.Use(middleware.Audit(auditor))
	{
		servers := protected.Group("/servers")
		{
			servers.GET("", read, serverHandler.ListServers)
			servers.POST("/refresh", control, serverHandler.RefreshServers)
			servers.GET("/:name", read, serverHandler.GetServer)
			servers.GET("/:name/status", read, serverHandler.GetStatus)
			servers.GET("/:name/runtime", read, serverHandler.GetRuntime)
			servers.POST("/:name/start", control, serverHandler.StartServer)
			servers.POST("/:name/stop", control, serverHandler.StopServer)
			servers.POST("/:name/command", control, serverHandler.SendCommand)
			servers.GET("/:name/commands", read, serverHandler.GetCommandHistory)
			servers.GET("/:name/logs", read, consoleHandler.GetLogs)
			servers.GET("/:name/activity", read, activityHandler.GetServerActivity)

			servers.GET("/:name/backups", read, backupHandler.ListBackups)
			servers.POST("/:name/backups", control, backupHandler.CreateBackup)
			servers.GET("/:name/backups/retention", read, backupHandler.GetRetention)
			servers.POST("/:name/backups/retention/enforce", control, backupHandler.EnforceRetention)
			servers.GET("/:name/backups/:backupId", read, backupHandler.GetBackup)
			servers.GET("/:name/backups/:backupId/download", read, backupHandler.DownloadBackup)
			servers.POST("/:name/backups/:backupId/restore", control, backupHandler.RestoreBackup)
			servers.DELETE("/:name/backups/:backupId", control, backupHandler.DeleteBackup)
		}

		protected.GET("/backups/files", read, backupHandler.ListDestinationFiles)

		protected.GET("/activity", read, activityHandler.ListActivity)
		protected.GET("/activity/stats", read, activityHandler.GetActivityStats)
		protected.GET("/memory", read, systemHandler.GetMemory)
		protected.GET("/memory/history", read, systemHandler.GetMemoryHistory)
		protected.GET("/schedules", read, systemHandler.ListSchedules)

		// commands over the socket are checked against the token's scopes
		protected.GET("/ws/servers/:name/console", read, consoleHandler.HandleConsoleWebSocket)
	}

	router.GET("/health", systemHandler.Health)

	return router
}

// wsOrigins prefers the console allowlist and falls back to CORS.
func wsOrigins(cfg *config.Config) []string {
	if len(cfg.Console.AllowedOrigins) > 0 {
		return cfg.Console.AllowedOrigins
	}
	return cfg.Security.CORS.AllowedOrigins
}
