package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/api"
	"github.com/yourusername/mc-server-manager/internal/auth"
	"github.com/yourusername/mc-server-manager/internal/backup"
	"github.com/yourusername/mc-server-manager/internal/config"
	"github.com/yourusername/mc-server-manager/internal/console"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/logging"
	"github.com/yourusername/mc-server-manager/internal/metrics"
	"github.com/yourusername/mc-server-manager/internal/registry"
	"github.com/yourusername/mc-server-manager/internal/scheduler"
	"github.com/yourusername/mc-server-manager/internal/server"
	"github.com/yourusername/mc-server-manager/internal/websocket"
)

// runServe wires every component and blocks until SIGINT or SIGTERM. Game
// servers started by this manager keep running after it exits.
func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logging.Close()

	log.Println("Running database migrations...")
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	statusStore := database.NewStatusStore(db)

	activityLogger, err := logging.NewActivityLogger(db.DB, cfg.ActivityLogDir())
	if err != nil {
		return fmt.Errorf("failed to initialize activity logger: %w", err)
	}
	defer activityLogger.Close()

	budget, err := admission.ResolveBudget(cfg.Memory.TotalGB, cfg.Memory.ReserveGB)
	if err != nil {
		return fmt.Errorf("failed to determine host memory (set memory.total_gb): %w", err)
	}
	log.Printf("[Main] Heap budget: %dG total, %dG reserved", budget.TotalGB, budget.ReserveGB)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Initializing WebSocket hub...")
	hub := websocket.NewHub()
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go hub.Run(hubCtx)

	consoles := console.NewManager(hub, cfg.Console.HistoryLines, cfg.PollInterval())
	defer consoles.StopAll()

	resolver := newResolver(cfg)
	reg := registry.New(cfg.Storage.ServersRoot, registryDefaults(cfg), statusStore,
		server.WithResolver(resolver),
		server.WithEventSink(statusStore, activityLogger, consoles),
	)
	log.Printf("[Main] Discovered %d server installs under %s", len(reg.All()), cfg.Storage.ServersRoot)
	resumeConsoles(reg, consoles)

	var backups *backup.Manager
	schedOpts := scheduler.Options{
		Status:            statusStore,
		Activity:          activityLogger,
		Hub:               hub,
		LogRetention:      days(cfg.Console.LogRetentionDays),
		ActivityRetention: days(cfg.Logging.ActivityRetentionDays),
	}
	if cfg.Backup.Enabled {
		backups = newBackupManager(cfg, db, reg, activityLogger, hub)
		schedOpts.Backups = backups
		log.Printf("[Main] Backups enabled: %s destination", cfg.Backup.Destination.Type)
	}

	sched := scheduler.New(reg, schedOpts)
	sched.AddCommands(cfg.Schedules)
	sched.Start()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(db, reg, budget, time.Duration(cfg.Metrics.Interval)*time.Second, cfg.Metrics.RetentionDays)
		collector.Start()
	}

	var tokens *auth.TokenManager
	if cfg.Auth.JWTSecret != "" {
		duration, err := cfg.TokenDuration()
		if err != nil {
			return err
		}
		tokens = newTokenManager(cfg, duration)
	} else {
		log.Println("[Main] WARNING: auth.jwt_secret is empty, the API is unauthenticated")
	}

	router := api.SetupRouter(cfg, api.Services{
		Registry:  reg,
		Budget:    budget,
		Resolver:  resolver,
		Status:    statusStore,
		Activity:  activityLogger,
		Consoles:  consoles,
		Hub:       hub,
		Collector: collector,
		Scheduler: sched,
		Backups:   backups,
		Tokens:    tokens,
	})

	writeTimeout := 15 * time.Second
	if backups != nil {
		// backup create and download hold the response for the whole transfer
		writeTimeout = 0
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[Main] Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("[Main] Shutting down...")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] HTTP server forced to shut down: %v", err)
	}

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		log.Println("[Main] Scheduled jobs still running at shutdown")
	}
	if collector != nil {
		collector.Stop()
	}

	if running := reg.Running(); len(running) > 0 {
		names := make([]string, 0, len(running))
		for _, inst := range running {
			names = append(names, inst.Name())
		}
		log.Printf("[Main] Leaving %d servers running: %s", len(running), strings.Join(names, ", "))
	}

	log.Println("[Main] Server exited")
	return runErr
}

// resumeConsoles tails the newest run log of servers that are still alive
// from a previous manager run, so viewers see their output.
func resumeConsoles(reg *registry.Registry, consoles *console.Manager) {
	for _, inst := range reg.Running() {
		path, err := console.LatestRunLog(inst.Path())
		if err != nil {
			log.Printf("[Main] %s is running (pid %d) without a run log: %v", inst.Name(), inst.PID(), err)
			continue
		}
		consoles.Follow(inst.Name(), path)
	}
}

func newBackupManager(cfg *config.Config, db *database.DB, reg *registry.Registry, activity *logging.ActivityLogger, hub *websocket.Hub) *backup.Manager {
	opts := backup.OptionsFromConfig(cfg)
	opts.Activity = activity
	opts.Hub = hub
	return backup.NewManager(db, reg, cfg.Backup.Destination, opts)
}

func setupLogging(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Logging.File) == "" {
		cfg.Logging.File = filepath.Join(cfg.Storage.DataDir, "logs", "manager.log")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
		return err
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

func days(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * 24 * time.Hour
}
