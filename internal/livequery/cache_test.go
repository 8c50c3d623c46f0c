package livequery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/docstore/memstore"
	"github.com/chirper/feedsync/internal/livequery"
	"github.com/chirper/feedsync/internal/logger"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// scriptedStore hands listener callbacks to the test so snapshots can be
// delivered by hand, including redeliveries a real store would not produce.
type scriptedStore struct {
	*memstore.Store

	mu        sync.Mutex
	listeners []docstore.ListenFunc
	stops     int
}

func newScripted(t *testing.T) *scriptedStore {
	s := &scriptedStore{Store: memstore.New(logger.Discard())}
	t.Cleanup(s.Store.Close)
	return s
}

func (s *scriptedStore) Listen(_ context.Context, _ docstore.Query, fn docstore.ListenFunc) (docstore.StopFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	return func() {
		s.mu.Lock()
		s.stops++
		s.mu.Unlock()
	}, nil
}

func (s *scriptedStore) deliver(i int, changes ...docstore.Change) {
	s.mu.Lock()
	fn := s.listeners[i]
	s.mu.Unlock()
	fn(docstore.Snapshot{Changes: changes}, nil)
}

func (s *scriptedStore) fail(i int, err error) {
	s.mu.Lock()
	fn := s.listeners[i]
	s.mu.Unlock()
	fn(docstore.Snapshot{}, err)
}

func (s *scriptedStore) listenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func tweet(id string, minute int, extra ...string) docstore.Document {
	data := docstore.Data{"createdAt": base.Add(time.Duration(minute) * time.Minute), "createdBy": "u1"}
	if len(extra) > 0 {
		data["text"] = extra[0]
	}
	return docstore.Document{Ref: docstore.NewRef("tweets", id), Data: docstore.CloneData(data)}
}

func added(d docstore.Document) docstore.Change {
	return docstore.Change{Kind: docstore.Added, Doc: d, OldIndex: -1}
}

func modified(d docstore.Document) docstore.Change {
	return docstore.Change{Kind: docstore.Modified, Doc: d}
}

func removed(d docstore.Document) docstore.Change {
	return docstore.Change{Kind: docstore.Removed, Doc: d, NewIndex: -1}
}

func rowIDs(r livequery.Result) []string {
	out := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Doc.ID()
	}
	return out
}

var newest = livequery.QueryTarget(docstore.From("tweets").OrderBy("createdAt", docstore.Desc))

func TestRedeliveredAddKeepsSingleRow(t *testing.T) {
	s := newScripted(t)
	c := livequery.New(s, newest)
	defer c.Close()

	s.deliver(0, added(tweet("a", 1)), added(tweet("b", 2)))
	s.deliver(0, added(tweet("a", 1, "edited")))

	r := c.Result()
	assert.Equal(t, livequery.Ready, r.State)
	assert.Equal(t, []string{"b", "a"}, rowIDs(r))
	assert.Equal(t, "edited", r.Rows[1].Doc.String("text"))
}

func TestModifiedRowIsRelocatedBySortKey(t *testing.T) {
	s := newScripted(t)
	c := livequery.New(s, newest)
	defer c.Close()

	s.deliver(0, added(tweet("a", 1)), added(tweet("b", 2)), added(tweet("c", 3)))
	assert.Equal(t, []string{"c", "b", "a"}, rowIDs(c.Result()))

	s.deliver(0, modified(tweet("a", 4)))
	assert.Equal(t, []string{"a", "c", "b"}, rowIDs(c.Result()))

	s.deliver(0, modified(tweet("b", 2, "same slot")))
	assert.Equal(t, []string{"a", "c", "b"}, rowIDs(c.Result()))

	s.deliver(0, removed(tweet("c", 3)))
	assert.Equal(t, []string{"a", "b"}, rowIDs(c.Result()))
}

func TestSetTargetSameKeyIsNoop(t *testing.T) {
	s := newScripted(t)
	c := livequery.New(s, newest)
	defer c.Close()

	c.SetTarget(livequery.QueryTarget(docstore.From("tweets").OrderBy("createdAt", docstore.Desc)))
	assert.Equal(t, 1, s.listenCount())

	c.SetTarget(newest.AllowingNull())
	assert.Equal(t, 2, s.listenCount())
	assert.Equal(t, 1, s.stops)
}

func TestSnapshotsForPreviousTargetAreDiscarded(t *testing.T) {
	s := newScripted(t)
	c := livequery.New(s, newest)
	defer c.Close()

	c.SetTarget(livequery.QueryTarget(docstore.From("tweets").Where("createdBy", docstore.OpEqual, "u9")))
	s.deliver(0, added(tweet("late", 1)))
	assert.Equal(t, livequery.Loading, c.Result().State)

	s.deliver(1)
	assert.Equal(t, livequery.Ready, c.Result().State)
	assert.Empty(t, c.Result().Rows)
}

func TestSnapshotAfterCloseIsDiscarded(t *testing.T) {
	s := newScripted(t)
	c := livequery.New(s, newest)
	s.deliver(0, added(tweet("a", 1)))
	c.Close()

	s.deliver(0, added(tweet("b", 2)))
	assert.Equal(t, []string{"a"}, rowIDs(c.Result()))
	assert.Equal(t, 1, s.stops)
}

func TestSubscriptionErrorIsTerminal(t *testing.T) {
	s := newScripted(t)
	c := livequery.New(s, newest)
	defer c.Close()

	boom := errors.New("permission denied")
	s.fail(0, boom)
	r := c.Result()
	assert.Equal(t, livequery.Failed, r.State)
	assert.ErrorIs(t, r.Err, boom)

	// no retry and nothing applied afterwards
	s.deliver(0, added(tweet("a", 1)))
	assert.Equal(t, livequery.Failed, c.Result().State)
	assert.Equal(t, 1, s.listenCount())
}

func TestDisabledCacheStaysLoading(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(logger.Discard())
	defer store.Close()

	c := livequery.New(store, newest.DisabledIf(true))
	defer c.Close()

	require.NoError(t, store.Set(ctx, docstore.NewRef("tweets", "t1"), docstore.Data{"createdAt": base}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, livequery.Loading, c.Result().State)
	assert.Equal(t, 0, store.Listeners())

	c.SetTarget(newest)
	r, err := c.WaitFor(waitCtx(t), isReady)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, rowIDs(r))
}

func TestLiveUpdatesFromStore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(logger.Discard())
	defer store.Close()

	c := livequery.New(store, newest)
	defer c.Close()
	_, err := c.WaitFor(waitCtx(t), isReady)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, docstore.NewRef("tweets", "t1"), docstore.Data{"createdAt": base}))
	require.NoError(t, store.Set(ctx, docstore.NewRef("tweets", "t2"), docstore.Data{"createdAt": base.Add(time.Minute)}))

	r, err := c.WaitFor(waitCtx(t), func(r livequery.Result) bool { return len(r.Rows) == 2 })
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t1"}, rowIDs(r))
}

func TestDocTargetAndAllowNull(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(logger.Discard())
	defer store.Close()

	missing := livequery.New(store, livequery.DocTarget(docstore.NewRef("users", "ghost")))
	defer missing.Close()
	r, err := missing.WaitFor(waitCtx(t), settled)
	require.NoError(t, err)
	assert.Equal(t, livequery.NotFound, r.State)

	emptyList := livequery.New(store, livequery.QueryTarget(docstore.From("notifications")))
	defer emptyList.Close()
	r, err = emptyList.WaitFor(waitCtx(t), settled)
	require.NoError(t, err)
	assert.Equal(t, livequery.Ready, r.State)

	nullable := livequery.New(store, livequery.QueryTarget(docstore.From("notifications")).AllowingNull())
	defer nullable.Close()
	r, err = nullable.WaitFor(waitCtx(t), settled)
	require.NoError(t, err)
	assert.Equal(t, livequery.NotFound, r.State)

	require.NoError(t, store.Set(ctx, docstore.NewRef("users", "ghost"), docstore.Data{"username": "ghost"}))
	r, err = missing.WaitFor(waitCtx(t), isReady)
	require.NoError(t, err)
	row, ok := r.First()
	require.True(t, ok)
	assert.Equal(t, "ghost", row.Doc.String("username"))
}

func TestJoinDropsRowsWithMissingTarget(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(logger.Discard())
	defer store.Close()

	require.NoError(t, store.Set(ctx, docstore.NewRef("tweets", "t1"), docstore.Data{"text": "still here"}))
	require.NoError(t, store.Set(ctx, docstore.NewRef("users/u1/bookmarks", "t1"), docstore.Data{"id": "t1", "createdAt": base}))
	require.NoError(t, store.Set(ctx, docstore.NewRef("users/u1/bookmarks", "t2"), docstore.Data{"id": "t2", "createdAt": base.Add(time.Minute)}))

	target := livequery.QueryTarget(docstore.From("users/u1/bookmarks").OrderBy("createdAt", docstore.Desc)).
		WithJoin(livequery.ByForeignKey("id", "tweets"))
	c := livequery.New(store, target)
	defer c.Close()

	r, err := c.WaitFor(waitCtx(t), isReady)
	require.NoError(t, err)
	require.Len(t, r.Rows, 1)
	assert.Equal(t, "t1", r.Rows[0].Doc.ID())
	require.NotNil(t, r.Rows[0].Joined)
	assert.Equal(t, "still here", r.Rows[0].Joined.String("text"))
}

func TestWaitForReturnsOnClose(t *testing.T) {
	s := newScripted(t)
	c := livequery.New(s, newest)
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Close()
	}()
	_, err := c.WaitFor(waitCtx(t), isReady)
	assert.Error(t, err)
}

func isReady(r livequery.Result) bool { return r.State == livequery.Ready }

func settled(r livequery.Result) bool { return r.State != livequery.Loading }

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestJoinTargetCreatedLaterIsPickedUp(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(logger.Discard())
	defer store.Close()

	ref := docstore.NewRef("tweets", "t1")
	require.NoError(t, store.Set(ctx, ref, docstore.Data{"createdAt": base, "createdBy": "u1", "text": "first"}))

	target := livequery.QueryTarget(docstore.From("tweets").OrderBy("createdAt", docstore.Desc)).
		WithJoin(livequery.ByForeignKey("createdBy", "users"))
	c := livequery.New(store, target, livequery.WithLogger(logger.Discard()))
	defer c.Close()

	r, err := c.WaitFor(waitCtx(t), isReady)
	require.NoError(t, err)
	assert.Empty(t, r.Rows)
	assert.Equal(t, 1, r.Fetched)

	require.NoError(t, store.Set(ctx, docstore.NewRef("users", "u1"), docstore.Data{"username": "ada"}))
	require.NoError(t, store.Update(ctx, ref, docstore.FieldUpdate{Field: "text", Value: "edited"}))

	r, err = c.WaitFor(waitCtx(t), func(r livequery.Result) bool { return len(r.Rows) == 1 })
	require.NoError(t, err)
	assert.Equal(t, "edited", r.Rows[0].Doc.String("text"))
	require.NotNil(t, r.Rows[0].Joined)
	assert.Equal(t, "ada", r.Rows[0].Joined.String("username"))
}
