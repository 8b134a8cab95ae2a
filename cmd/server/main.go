package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/liveconcierge/concierge/internal/api"
	"github.com/liveconcierge/concierge/internal/ai/gemini"
	"github.com/liveconcierge/concierge/internal/concierge"
	"github.com/liveconcierge/concierge/internal/config"
	"github.com/liveconcierge/concierge/internal/storage/sqlite"
	"github.com/liveconcierge/concierge/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Optional .env for local development; the real environment wins.
	_ = godotenv.Load()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Live Concierge server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Agent store
	dbDir := filepath.Dir(cfg.Storage.SQLitePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dbDir))
		os.Exit(1)
	}
	store, err := sqlite.NewAgentStore(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create agent store", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Storage.SeedDefaults {
		if err := store.SeedDefaults(); err != nil {
			log.Error("Failed to seed default agents", logger.Error(err))
			os.Exit(1)
		}
	}

	// Gemini client serves both the realtime voice path and the text chat path.
	geminiClient, err := gemini.NewClient(context.Background(), cfg.Gemini.APIKey, cfg.Gemini.ChatModel, log)
	if err != nil {
		log.Error("Failed to create Gemini client", logger.Error(err))
		os.Exit(1)
	}

	// Session service
	service := concierge.NewService(store, geminiClient, geminiClient, cfg, log)

	// API router
	router := api.NewRouter(service, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	log.Info("Stopping concierge service...")
	service.Shutdown()
	log.Info("Concierge service stopped.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server stopped.")
}
