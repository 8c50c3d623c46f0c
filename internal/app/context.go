package app

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/chirper/feedsync/internal/auth"
	"github.com/chirper/feedsync/internal/cache"
	"github.com/chirper/feedsync/internal/config"
	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/metrics"
)

// AppContext holds shared dependencies (store, auth, DB, Redis, Logger, etc.)
type AppContext struct {
	Config     *config.Config
	Store      docstore.Store
	Auth       auth.Provider
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Metrics    metrics.Recorder

	closers []func()
}

// New creates a new AppContext around an already opened store. Config falls
// back to the environment defaults.
func New(store docstore.Store, logger *slog.Logger, m metrics.Recorder) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Config:  config.New(),
		Store:   store,
		Logger:  logger,
		Metrics: metrics.OrNoop(m),
	}
}

// OnClose registers fn to run on Close, in reverse order of registration.
func (a *AppContext) OnClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *AppContext) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
