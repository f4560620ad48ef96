package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/BradenHooton/registrar/internal/config"
	"github.com/BradenHooton/registrar/internal/database"
)

func main() {
	command := flag.String("command", "up", "migration command (up/down/status/version/reset)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	migrator, err := database.NewMigrator(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to create migrator", slog.Any("error", err))
		os.Exit(1)
	}
	defer migrator.Close()

	switch *command {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down()
	case "status":
		err = migrator.Status()
	case "reset":
		err = migrator.Reset()
	case "version":
		var version int64
		if version, err = migrator.Version(); err == nil {
			logger.Info("current migration version", slog.Int64("version", version))
		}
	default:
		logger.Error("unknown command", slog.String("command", *command))
		os.Exit(1)
	}

	if err != nil {
		logger.Error("migration command failed",
			slog.String("command", *command),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
