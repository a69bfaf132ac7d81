// Package main is the entry point for the fixjam HTTP server.
//
// MAIN PACKAGE IN GO:
// main stays minimal: read configuration, build the logger, start the
// server. All logic lives in internal/ packages.
//
// Usage:
//
//	server            # serve on $PORT
//	server -migrate   # create or update the schema, then exit
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/fixjam/internal/config"
	sqliteRepo "github.com/sakif/fixjam/internal/repository/sqlite"
	"github.com/sakif/fixjam/internal/server"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "create or update the database schema and exit")
	flag.Parse()

	// === 1. READ CONFIGURATION ===
	// .env first (if present), then the process environment.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll is `mkdir -p`; SQLite will not create parent directories.
	if cfg.Server.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.Server.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if *migrateOnly {
		db, err := sqliteRepo.New(cfg.Server.DBPath)
		if err != nil {
			logger.Error("migration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		db.Close()
		logger.Info("schema is up to date", slog.String("database", cfg.Server.DBPath))
		return
	}

	if err := cfg.ValidateServer(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
