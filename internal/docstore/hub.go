package docstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FetchFunc evaluates a query against the current store contents.
type FetchFunc func(ctx context.Context, q Query) ([]Document, error)

// Hub drives live listeners for stores that do not push deltas themselves.
// Writers mark collections dirty; each listener re-evaluates its query on
// its own goroutine and delivers the diff against what it last delivered.
// Notifications coalesce, so a burst of writes may arrive as one snapshot.
type Hub struct {
	fetch  FetchFunc
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[uint64]*listener
	nextID    uint64
	closed    bool
}

type listener struct {
	id     uint64
	q      Query
	fn     ListenFunc
	dirty  chan struct{}
	cancel context.CancelFunc
}

func NewHub(fetch FetchFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		fetch:     fetch,
		logger:    logger,
		listeners: make(map[uint64]*listener),
	}
}

// Listen registers a listener and schedules its initial snapshot.
func (h *Hub) Listen(ctx context.Context, q Query, fn ListenFunc) (StopFunc, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, context.Canceled
	}
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.nextID++
	l := &listener{
		id:     h.nextID,
		q:      q,
		fn:     fn,
		dirty:  make(chan struct{}, 1),
		cancel: cancel,
	}
	h.listeners[l.id] = l
	h.mu.Unlock()

	l.dirty <- struct{}{}
	go h.run(lctx, l)

	// the caller's context bounds the subscription lifetime too
	stopOnDone := context.AfterFunc(ctx, func() { h.remove(l.id) })

	var once sync.Once
	return func() {
		once.Do(func() {
			stopOnDone()
			h.remove(l.id)
		})
	}, nil
}

// Notify marks every listener on one of the collections as dirty.
func (h *Hub) Notify(collections ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners {
		for _, c := range collections {
			if l.q.Collection == c {
				select {
				case l.dirty <- struct{}{}:
				default:
				}
				break
			}
		}
	}
}

// Active returns the number of registered listeners.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Close stops every listener and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, l := range h.listeners {
		l.cancel()
		delete(h.listeners, id)
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.listeners[id]; ok {
		l.cancel()
		delete(h.listeners, id)
	}
}

func (h *Hub) run(ctx context.Context, l *listener) {
	var last []Document
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.dirty:
		}

		docs, err := h.fetch(ctx, l.q)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.logger.Error("live query failed", "collection", l.q.Collection, "err", err)
			h.remove(l.id)
			l.fn(Snapshot{}, err)
			return
		}

		changes := Diff(last, docs)
		if !first && len(changes) == 0 {
			continue
		}
		first = false
		last = docs
		l.fn(Snapshot{Docs: docs, Changes: changes, ReadTime: time.Now().UTC()}, nil)
	}
}
