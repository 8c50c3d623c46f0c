// Package livequery mirrors a remote query or document into local state that
// stays consistent with the deltas the store pushes.
package livequery

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/metrics"
)

// State is the lifecycle of a Cache result.
type State int

const (
	Loading State = iota
	Ready
	NotFound
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Row is one result record. Joined is set when the target has a join.
type Row struct {
	Doc    docstore.Document
	Joined *docstore.Document
}

// Result is a snapshot of the cache. Fetched counts the documents the store
// delivered, including rows dropped for an unresolved join.
type Result struct {
	State   State
	Rows    []Row
	Fetched int
	Err     error
}

// First returns the single row of a document target.
func (r Result) First() (Row, bool) {
	if len(r.Rows) == 0 {
		return Row{}, false
	}
	return r.Rows[0], true
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics records subscription counts on m.
func WithMetrics(m metrics.Recorder) Option {
	return func(c *Cache) { c.metrics = metrics.OrNoop(m) }
}

// WithLookupGroup shares join lookups between caches: concurrent reads of the
// same joined document collapse into one.
func WithLookupGroup(g *singleflight.Group) Option {
	return func(c *Cache) { c.lookups = g }
}

// Cache holds the live result of one Target. Snapshots are applied in the
// order the store delivers them; snapshots from a previous target or from
// after Close are discarded.
type Cache struct {
	store   docstore.Store
	logger  *slog.Logger
	metrics metrics.Recorder
	lookups *singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	target  Target
	key     string
	gen     uint64
	stop    docstore.StopFunc
	rows    []docstore.Document
	joined  map[docstore.Ref]*docstore.Document // nil value: missing at last lookup
	result  Result
	changed chan struct{}
	closed  bool
}

// New creates the cache and subscribes unless the target is disabled.
func New(store docstore.Store, target Target, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		store:   store,
		logger:  slog.Default(),
		metrics: metrics.Noop{},
		lookups: &singleflight.Group{},
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.SetTarget(target)
	return c
}

// Result returns the current result. Rows are shared; do not modify them.
func (c *Cache) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Changes returns a channel that is closed at the next result change.
func (c *Cache) Changes() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// WaitFor blocks until pred holds for the current result, the context ends,
// or the cache is closed.
func (c *Cache) WaitFor(ctx context.Context, pred func(Result) bool) (Result, error) {
	for {
		c.mu.Lock()
		r, ch, closed := c.result, c.changed, c.closed
		c.mu.Unlock()

		if pred(r) {
			return r, nil
		}
		if closed {
			return r, svcErr.ErrClosed
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-ch:
		}
	}
}

// Target returns the current target.
func (c *Cache) Target() Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SetTarget switches the cache to t. A target with the same key is a no-op;
// otherwise the old subscription is torn down, the result resets to Loading
// and a new subscription starts (unless t is disabled).
func (c *Cache) SetTarget(t Target) {
	key := t.Key()

	c.mu.Lock()
	if c.closed || (key == c.key && c.gen > 0) {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.gen++
	gen := c.gen
	c.target = t
	c.key = key
	c.rows = nil
	c.joined = make(map[docstore.Ref]*docstore.Document)
	c.setResultLocked(Result{State: Loading})
	c.mu.Unlock()

	if t.Disabled {
		c.logger.Debug("live query disabled", "key", key)
		return
	}

	stop, err := c.store.Listen(c.ctx, t.Query, func(snap docstore.Snapshot, err error) {
		c.onSnapshot(gen, snap, err)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if gen == c.gen && !c.closed {
			c.logger.Error("live query subscribe failed", "key", key, "err", err)
			c.setResultLocked(Result{State: Failed, Err: err})
		}
		return
	}
	if gen != c.gen || c.closed {
		stop()
		return
	}
	c.stop = stop
	c.metrics.IncSubscriptions()
	c.logger.Debug("live query subscribed", "key", key)
}

// Close tears the subscription down. The result keeps its last value.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopLocked()
	c.cancel()
	close(c.changed)
}

func (c *Cache) stopLocked() {
	if c.stop == nil {
		return
	}
	c.stop()
	c.stop = nil
	c.metrics.DecSubscriptions()
}

func (c *Cache) setResultLocked(r Result) {
	c.result = r
	if !c.closed {
		close(c.changed)
		c.changed = make(chan struct{})
	}
}

func (c *Cache) onSnapshot(gen uint64, snap docstore.Snapshot, err error) {
	c.mu.Lock()
	if gen != c.gen || c.closed || c.result.State == Failed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Error("live query failed", "key", c.key, "err", err)
		c.stopLocked()
		c.setResultLocked(Result{State: Failed, Err: err})
		c.mu.Unlock()
		return
	}
	target := c.target
	var missing []docstore.Ref
	if target.Join.Enabled() {
		missing = c.missingJoinsLocked(snap.Changes)
	}
	c.mu.Unlock()

	// lookups run outside the lock; this listener's deliveries are sequential
	// so no later snapshot can overtake this one
	fetched, lookupErr := c.lookup(missing)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed || c.result.State == Failed {
		return
	}
	if lookupErr != nil {
		c.logger.Error("join lookup failed", "key", c.key, "err", lookupErr)
		c.stopLocked()
		c.setResultLocked(Result{State: Failed, Err: lookupErr})
		return
	}
	for ref, d := range fetched {
		c.joined[ref] = d
	}
	for _, ch := range snap.Changes {
		c.applyLocked(ch)
	}
	c.setResultLocked(c.buildLocked())
}

func (c *Cache) missingJoinsLocked(changes []docstore.Change) []docstore.Ref {
	var out []docstore.Ref
	seen := make(map[docstore.Ref]bool)
	for _, ch := range changes {
		if ch.Kind == docstore.Removed {
			continue
		}
		ref, ok := c.target.Join.ref(ch.Doc)
		if !ok || seen[ref] {
			continue
		}
		// a target that was missing last time is looked up again
		if d := c.joined[ref]; d == nil {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// lookup fetches joined documents through the lookup group.
func (c *Cache) lookup(refs []docstore.Ref) (map[docstore.Ref]*docstore.Document, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make(map[docstore.Ref]*docstore.Document, len(refs))
	for _, ref := range refs {
		v, err, _ := c.lookups.Do(ref.Path(), func() (any, error) {
			return c.store.Get(c.ctx, ref)
		})
		switch {
		case err == nil:
			out[ref] = v.(*docstore.Document)
		case errors.Is(err, svcErr.ErrNotFound):
			out[ref] = nil
		default:
			return nil, err
		}
	}
	return out, nil
}

// applyLocked removes the document by id and, unless the change is a
// removal, reinserts it at its sorted position. An Added for an id already
// present therefore replaces it.
func (c *Cache) applyLocked(ch docstore.Change) {
	id := ch.Doc.ID()
	if i := slices.IndexFunc(c.rows, func(d docstore.Document) bool { return d.ID() == id }); i >= 0 {
		c.rows = slices.Delete(c.rows, i, i+1)
	}
	if ch.Kind == docstore.Removed {
		return
	}
	q := c.target.Query
	pos, _ := slices.BinarySearchFunc(c.rows, ch.Doc, q.Compare)
	c.rows = slices.Insert(c.rows, pos, ch.Doc)
	if q.Limit > 0 && len(c.rows) > q.Limit {
		c.rows = c.rows[:q.Limit]
	}
}

func (c *Cache) buildLocked() Result {
	rows := make([]Row, 0, len(c.rows))
	for _, d := range c.rows {
		row := Row{Doc: d}
		if c.target.Join.Enabled() {
			ref, ok := c.target.Join.ref(d)
			joined := c.joined[ref]
			if !ok || joined == nil {
				c.logger.Warn("dropping row with unresolved join", "key", c.key, "doc", d.Ref.String())
				continue
			}
			row.Joined = joined
		}
		rows = append(rows, row)
	}

	switch {
	case c.target.Doc != nil && len(rows) == 0:
		return Result{State: NotFound}
	case c.target.AllowNull && len(rows) == 0:
		return Result{State: NotFound}
	}
	return Result{State: Ready, Rows: rows, Fetched: len(c.rows)}
}
