// Package feed pages through an unbounded ordered query while the newest
// page stays live.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/livequery"
	"github.com/chirper/feedsync/internal/metrics"
	"github.com/chirper/feedsync/internal/utils/pagination"
)

const DefaultPageSize = 20

// Options configures a Cursor. Zero values fall back to DefaultPageSize,
// slog.Default and no metrics.
type Options struct {
	PageSize int
	// After resumes static paging from a token returned by Token. The
	// newest page is then not subscribed.
	After   string
	Join    livequery.Join
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Cursor accumulates pages of q. The first page is a live subscription
// limited to the page size; each LoadMore appends one static page anchored
// after the oldest accumulated row.
type Cursor struct {
	store   docstore.Store
	query   docstore.Query
	join    livequery.Join
	size    int
	logger  *slog.Logger
	metrics metrics.Recorder

	head *livequery.Cache
	done chan struct{}
	wg   sync.WaitGroup

	mu          sync.Mutex
	rows        []livequery.Row
	resume      []any
	tail        []any // cursor values of the oldest document fetched by LoadMore
	state       livequery.State
	err         error
	started     bool
	loading     bool
	reachingEnd bool
	closed      bool
	changed     chan struct{}
}

// New starts a cursor over q. Unless opts.After is set the newest page is
// subscribed right away. A malformed token yields ErrInvalidArgument.
func New(store docstore.Store, q docstore.Query, opts Options) (*Cursor, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Cursor{
		store:   store,
		query:   q.WithLimit(0),
		join:    opts.Join,
		size:    opts.PageSize,
		logger:  opts.Logger,
		metrics: metrics.OrNoop(opts.Metrics),
		done:    make(chan struct{}),
		state:   livequery.Loading,
		changed: make(chan struct{}),
	}

	if opts.After != "" {
		tok, err := pagination.Decode(opts.After)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", svcErr.ErrInvalidArgument, err)
		}
		c.resume = tok.Values()
		c.started = true
		return c, nil
	}

	target := livequery.QueryTarget(c.query.WithLimit(c.size)).WithJoin(c.join)
	c.head = livequery.New(store, target,
		livequery.WithLogger(c.logger),
		livequery.WithMetrics(c.metrics),
	)
	c.wg.Add(1)
	go c.watch()
	return c, nil
}

// Result returns the accumulated rows, newest first.
func (c *Cursor) Result() livequery.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return livequery.Result{State: c.state, Rows: slices.Clone(c.rows), Err: c.err}
}

// Changes returns a channel that is closed at the next result change.
func (c *Cursor) Changes() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// WaitFor blocks until pred holds, the context ends, or the cursor closes.
func (c *Cursor) WaitFor(ctx context.Context, pred func(livequery.Result) bool) (livequery.Result, error) {
	for {
		r := c.Result()
		if pred(r) {
			return r, nil
		}
		c.mu.Lock()
		ch, closed := c.changed, c.closed
		c.mu.Unlock()
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

// ReachingEnd reports whether a page came back shorter than the page size.
func (c *Cursor) ReachingEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachingEnd
}

// Loading reports whether a LoadMore page is in flight.
func (c *Cursor) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// LoadMore fetches the next page. It returns immediately when a page is
// already in flight, the end was reached, or the first page has not
// arrived yet.
func (c *Cursor) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return svcErr.ErrClosed
	}
	if c.loading || c.reachingEnd || !c.started {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	anchor := c.anchorLocked()
	c.mu.Unlock()

	q := c.query.WithLimit(c.size)
	if len(anchor) > 0 {
		q = q.After(anchor...)
	}
	docs, err := c.store.Query(ctx, q)
	var rows []livequery.Row
	if err == nil {
		rows, err = livequery.ResolveJoin(ctx, c.store, c.join, docs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if c.closed {
		c.logger.Debug("discarding page after close", "collection", c.query.Collection)
		return nil
	}
	if err != nil {
		c.logger.Error("page fetch failed", "collection", c.query.Collection, "err", err)
		return fmt.Errorf("load page: %w", err)
	}
	c.metrics.IncPageFetches("static")
	if len(docs) < c.size {
		c.reachingEnd = true
	}
	if len(docs) > 0 {
		c.tail = c.query.CursorValues(docs[len(docs)-1])
	}
	for _, row := range rows {
		if c.indexLocked(row.Doc.ID()) < 0 {
			c.rows = append(c.rows, row)
		}
	}
	if c.head == nil {
		c.state = livequery.Ready
	}
	c.notifyLocked()
	return nil
}

// Token returns a resumable token anchored after the oldest fetched document,
// or "" when nothing is loaded.
func (c *Cursor) Token() (string, error) {
	c.mu.Lock()
	anchor := c.anchorLocked()
	c.mu.Unlock()
	if len(anchor) == 0 {
		return "", nil
	}
	tok, err := pagination.FromValues(anchor)
	if err != nil {
		return "", err
	}
	return pagination.Encode(tok)
}

// Close stops the live page. Pages still in flight are discarded when they
// arrive.
func (c *Cursor) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	close(c.changed)
	c.mu.Unlock()

	if c.head != nil {
		c.head.Close()
	}
	c.wg.Wait()
}

func (c *Cursor) watch() {
	defer c.wg.Done()
	for {
		ch := c.head.Changes()
		c.mergeHead(c.head.Result())
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case <-c.done:
			return
		case <-ch:
		}
	}
}

// mergeHead folds the live page into the accumulated rows: rows already
// present are replaced in place, new rows go to the top in live order.
// Rows that slide out of the live window stay where they are.
func (c *Cursor) mergeHead(r livequery.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	switch r.State {
	case livequery.Loading:
		return
	case livequery.Failed:
		c.state = livequery.Failed
		c.err = r.Err
		c.notifyLocked()
		return
	}

	if !c.started {
		c.started = true
		c.metrics.IncPageFetches("live")
		// rows dropped by the join still count towards a full page
		if r.Fetched < c.size {
			c.reachingEnd = true
		}
	}

	var fresh []livequery.Row
	for _, row := range r.Rows {
		if i := c.indexLocked(row.Doc.ID()); i >= 0 {
			c.rows[i] = row
			continue
		}
		fresh = append(fresh, row)
	}
	if len(fresh) > 0 {
		c.rows = append(fresh, c.rows...)
	}
	c.state = livequery.Ready
	c.notifyLocked()
}

func (c *Cursor) anchorLocked() []any {
	if c.tail != nil {
		return c.tail
	}
	if len(c.rows) == 0 {
		return c.resume
	}
	return c.query.CursorValues(c.rows[len(c.rows)-1].Doc)
}

func (c *Cursor) indexLocked(id string) int {
	return slices.IndexFunc(c.rows, func(r livequery.Row) bool { return r.Doc.ID() == id })
}

func (c *Cursor) notifyLocked() {
	if c.closed {
		return
	}
	close(c.changed)
	c.changed = make(chan struct{})
}
