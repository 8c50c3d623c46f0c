package main

import (
	"context"
	"os"

	"github.com/chirper/feedsync/internal/app"
	"github.com/chirper/feedsync/internal/config"
	"github.com/chirper/feedsync/internal/db"
	"github.com/chirper/feedsync/internal/logger"
)

func main() {
	// Load configuration
	cfg := config.New()
	logger.InitFromConfig(cfg)
	log := logger.L()

	ctx := context.Background()
	appCtx, err := app.Open(ctx, cfg, log, nil)
	if err != nil {
		log.Error("failed to init app", "err", err)
		os.Exit(1)
	}
	defer appCtx.Close()

	if appCtx.DB == nil {
		log.Error("seeding needs the accounts database; use STORE_DRIVER=sql or memory", "driver", cfg.Store.Driver)
		os.Exit(1)
	}

	if err := db.SeedDemoData(ctx, appCtx.DB, appCtx.Store, db.SeedOptions{Logger: log}); err != nil {
		log.Error("failed to seed", "err", err)
		appCtx.Close()
		os.Exit(1)
	}

	log.Info("Seeding completed.")
}
