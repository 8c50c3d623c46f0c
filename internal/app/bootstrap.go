package app

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/chirper/feedsync/internal/auth"
	"github.com/chirper/feedsync/internal/cache"
	"github.com/chirper/feedsync/internal/config"
	"github.com/chirper/feedsync/internal/db"
	"github.com/chirper/feedsync/internal/docstore/firestore"
	"github.com/chirper/feedsync/internal/docstore/memstore"
	"github.com/chirper/feedsync/internal/docstore/sqlstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/metrics"
)

const (
	DriverMemory    = "memory"
	DriverSQL       = "sql"
	DriverFirestore = "firestore"
)

// Open wires the store and auth provider selected by cfg.Store.Driver.
//
// Behavior:
//   - memory: in-process store; accounts live in SQLITE_PATH when set,
//     otherwise in a private in-memory database.
//   - sql: documents and accounts share the configured database. Change
//     notices go over Redis; when Redis is unreachable only this process
//     sees live updates.
//   - firestore: Cloud Firestore documents and Firebase Auth sign-in.
//
// Close releases everything Open acquired.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, m metrics.Recorder) (*AppContext, error) {
	if cfg == nil {
		cfg = config.New()
	}
	a := New(nil, logger, m)
	a.Config = cfg

	var err error
	switch cfg.Store.Driver {
	case DriverMemory, "":
		err = a.openMemory()
	case DriverSQL:
		err = a.openSQL(ctx)
	case DriverFirestore:
		err = a.openFirestore(ctx)
	default:
		err = fmt.Errorf("%w: unknown store driver %q", svcErr.ErrInvalidArgument, cfg.Store.Driver)
	}
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Logger.Info("App context ready", "driver", cfg.Store.Driver)
	return a, nil
}

func (a *AppContext) openMemory() error {
	var (
		database *gorm.DB
		err      error
	)
	if a.Config.DB.SQLitePath != "" {
		database, err = db.NewDB(a.Config)
	} else {
		database, err = db.OpenMemory()
	}
	if err != nil {
		return err
	}
	a.useDB(database)

	store := memstore.New(a.Logger)
	a.OnClose(store.Close)
	a.Store = store
	return nil
}

func (a *AppContext) openSQL(ctx context.Context) error {
	database, err := db.NewDB(a.Config)
	if err != nil {
		return err
	}
	a.useDB(database)

	var opts []sqlstore.Option
	if a.Config.Redis.Addr != "" {
		rc := cache.NewRedisCache(a.Config)
		if err := rc.Ping(ctx); err != nil {
			a.Logger.Warn("Redis unreachable, live updates stay local", "addr", a.Config.Redis.Addr, "err", err)
			_ = rc.Close()
		} else {
			a.RedisCache = rc
			a.OnClose(func() { _ = rc.Close() })
			opts = append(opts, sqlstore.WithBus(rc))
		}
	}

	store, err := sqlstore.New(ctx, database, a.Logger, opts...)
	if err != nil {
		return err
	}
	a.OnClose(store.Close)
	a.Store = store
	return nil
}

func (a *AppContext) openFirestore(ctx context.Context) error {
	fbApp, err := firestore.NewApp(ctx, a.Config)
	if err != nil {
		return err
	}
	store, err := firestore.Open(ctx, fbApp, a.Logger)
	if err != nil {
		return err
	}
	a.OnClose(func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn("Closing firestore client failed", "err", err)
		}
	})
	a.Store = store

	provider, err := auth.NewFirebaseProvider(ctx, fbApp, a.Logger)
	if err != nil {
		return err
	}
	a.Auth = provider
	return nil
}

// useDB adopts database for accounts and signs in against it.
func (a *AppContext) useDB(database *gorm.DB) {
	a.DB = database
	a.OnClose(func() {
		if sqlDB, err := database.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	a.Auth = auth.NewLocalProvider(database, a.Logger, 0)
}
