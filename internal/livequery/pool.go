package livequery

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/metrics"
)

// Pool shares caches between consumers of the same target, so each distinct
// target is subscribed once no matter how many screens watch it.
type Pool struct {
	store   docstore.Store
	logger  *slog.Logger
	metrics metrics.Recorder
	lookups singleflight.Group

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	cache *Cache
	refs  int
}

// NewPool creates an empty pool over store.
func NewPool(store docstore.Store, logger *slog.Logger, m metrics.Recorder) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:   store,
		logger:  logger,
		metrics: metrics.OrNoop(m),
		entries: make(map[string]*poolEntry),
	}
}

// Acquire returns the shared cache for t and a release function. The cache
// is closed when its last holder releases it. Callers must not call
// SetTarget or Close on a pooled cache.
func (p *Pool) Acquire(t Target) (*Cache, func()) {
	key := t.Key()

	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		e = &poolEntry{cache: New(p.store, t,
			WithLogger(p.logger),
			WithMetrics(p.metrics),
			WithLookupGroup(&p.lookups),
		)}
		p.entries[key] = e
	}
	e.refs++

	var once sync.Once
	return e.cache, func() {
		once.Do(func() { p.release(key, e) })
	}
}

func (p *Pool) release(key string, e *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	if p.entries[key] == e {
		delete(p.entries, key)
	}
	e.cache.Close()
}

// Len reports the number of distinct live targets.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close closes every cache regardless of outstanding holders.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		e.cache.Close()
		delete(p.entries, key)
	}
}
