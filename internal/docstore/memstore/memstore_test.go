package memstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/docstore/memstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/logger"
)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New(logger.Discard())
	t.Cleanup(s.Close)
	return s
}

func TestCreateGetAndAlreadyExists(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ref := docstore.NewRef("users", "u1")

	require.NoError(t, s.Create(ctx, ref, docstore.Data{"username": "alice"}))
	err := s.Create(ctx, ref, docstore.Data{"username": "bob"})
	assert.ErrorIs(t, err, svcErr.ErrAlreadyExists)

	doc, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.String("username"))

	_, err = s.Get(ctx, docstore.NewRef("users", "missing"))
	assert.ErrorIs(t, err, svcErr.ErrNotFound)
}

func TestUpdateMissingDocument(t *testing.T) {
	err := newStore(t).Update(context.Background(), docstore.NewRef("tweets", "nope"),
		docstore.FieldUpdate{Field: "userLikes", Value: docstore.ArrayUnion("u1")})
	assert.ErrorIs(t, err, svcErr.ErrNotFound)
}

// A commit that fails on one write must not apply any of the others.
func TestCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	existing := docstore.NewRef("usernames", "alice")
	require.NoError(t, s.Create(ctx, existing, docstore.Data{"uid": "u0"}))

	err := s.Commit(ctx,
		docstore.CreateWrite(docstore.NewRef("users", "u1"), docstore.Data{"username": "alice"}),
		docstore.CreateWrite(docstore.NewRef("users/u1/stats", "stats"), docstore.Data{"likes": []string{}}),
		docstore.CreateWrite(existing, docstore.Data{"uid": "u1"}),
	)
	require.ErrorIs(t, err, svcErr.ErrAlreadyExists)

	_, err = s.Get(ctx, docstore.NewRef("users", "u1"))
	assert.ErrorIs(t, err, svcErr.ErrNotFound)
	_, err = s.Get(ctx, docstore.NewRef("users/u1/stats", "stats"))
	assert.ErrorIs(t, err, svcErr.ErrNotFound)

	owner, err := s.Get(ctx, existing)
	require.NoError(t, err)
	assert.Equal(t, "u0", owner.String("uid"))
}

func TestConcurrentArrayUnionIsCommutative(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ref := docstore.NewRef("tweets", "t1")
	require.NoError(t, s.Create(ctx, ref, docstore.Data{"userLikes": []string{}}))

	var wg sync.WaitGroup
	for _, actor := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, ref, docstore.FieldUpdate{Field: "userLikes", Value: docstore.ArrayUnion(actor)}))
		}(actor)
	}
	wg.Wait()

	doc, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, doc.Strings("userLikes"))
}

func TestListenDeliversInitialSnapshotThenDeltas(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Set(ctx, docstore.NewRef("tweets", "t1"), docstore.Data{"createdAt": time.Unix(100, 0)}))

	snaps := make(chan docstore.Snapshot, 8)
	stop, err := s.Listen(ctx, docstore.From("tweets").OrderBy("createdAt", docstore.Desc), func(snap docstore.Snapshot, err error) {
		assert.NoError(t, err)
		snaps <- snap
	})
	require.NoError(t, err)
	defer stop()

	first := receive(t, snaps)
	require.Len(t, first.Changes, 1)
	assert.Equal(t, docstore.Added, first.Changes[0].Kind)

	require.NoError(t, s.Set(ctx, docstore.NewRef("tweets", "t2"), docstore.Data{"createdAt": time.Unix(200, 0)}))
	second := receive(t, snaps)
	require.Len(t, second.Changes, 1)
	assert.Equal(t, "t2", second.Changes[0].Doc.ID())
	assert.Equal(t, 0, second.Changes[0].NewIndex)
	assert.Equal(t, []string{"t2", "t1"}, []string{second.Docs[0].ID(), second.Docs[1].ID()})

	require.NoError(t, s.Delete(ctx, docstore.NewRef("tweets", "t1")))
	third := receive(t, snaps)
	require.Len(t, third.Changes, 1)
	assert.Equal(t, docstore.Removed, third.Changes[0].Kind)
}

func TestStopEndsSubscription(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	snaps := make(chan docstore.Snapshot, 8)
	stop, err := s.Listen(ctx, docstore.From("tweets"), func(snap docstore.Snapshot, _ error) { snaps <- snap })
	require.NoError(t, err)
	receive(t, snaps)
	assert.Equal(t, 1, s.Listeners())

	stop()
	stop()
	assert.Equal(t, 0, s.Listeners())
}

func TestAddGeneratesIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r1, err := s.Add(ctx, "messages", docstore.Data{"text": "hi"})
	require.NoError(t, err)
	r2, err := s.Add(ctx, "messages", docstore.Data{"text": "hi"})
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID)

	docs, err := s.Query(ctx, docstore.From("messages"))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func receive(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return docstore.Snapshot{}
}
