// Package main is the entry point for the crowd tick server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MRamiBalles/CrowdCombat/server/internal/engine"
	"github.com/MRamiBalles/CrowdCombat/server/internal/events"
	"github.com/MRamiBalles/CrowdCombat/server/internal/infra/storage"
	"github.com/MRamiBalles/CrowdCombat/server/internal/network"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/config"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/metrics"
)

const (
	persistTimeout  = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	preset := flag.String("preset", "default", "Config preset: default, stress or low")
	configPath := flag.String("config", "", "Optional TOML or YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*preset, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	appLogger := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel))
	appLogger.Info("Initializing crowd tick server...")

	appLogger.Info(fmt.Sprintf("Initializing SQLite database '%s'...", cfg.DBPath))
	db, err := storage.InitSQLite(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to initialize SQLite: " + err.Error())
		os.Exit(1)
	}
	defer db.Close()
	eventRepo := storage.NewSQLiteEventRepository(db)

	appLogger.Info("Bootstrapping EventLog...")
	eventLog := events.NewEventLog(storage.NewJournalPersister(eventRepo, persistTimeout))
	journalLogger := appLogger.With("journal")
	eventLog.OnPersistError(func(err error) {
		journalLogger.Warn("Failed to persist event: " + err.Error())
	})

	collector := metrics.NewCollector()

	appLogger.Info("Bootstrapping Engine...")
	crowdEngine, err := engine.NewEngine(cfg, eventLog, collector, appLogger.With("engine"))
	if err != nil {
		appLogger.Error("Failed to build engine: " + err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hub := network.NewHub(appLogger.With("hub"), collector, cfg.BroadcastBuffer)
	go hub.Run(ctx)
	crowdEngine.OnFrame(hub.Broadcast)

	crowdEngine.Start(ctx)

	api := network.NewAPI(crowdEngine, hub, eventRepo, appLogger.With("api"), cfg.ClientSendBuffer)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           network.NewRouter(api, cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP API & WS Server listening on " + cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down...")
	case err := <-serverErr:
		appLogger.Error("Server failed: " + err.Error())
	}

	crowdEngine.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP shutdown: " + err.Error())
	}
	appLogger.Info("Server stopped")
}

func loadConfig(preset, path string) (*config.ServerConfig, error) {
	cfg, err := config.Preset(preset)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if cfg, err = config.Load(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
